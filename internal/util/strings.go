// Package util provides small string helpers shared by the step engine and
// terminal output.
package util

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// TruncateString shortens s to at most maxLen runes, ending it with "..."
// when anything was cut.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

var printer = message.NewPrinter(language.English)

// FormatCount renders n with thousands separators, e.g. 12,345.
func FormatCount(n int64) string {
	return printer.Sprintf("%d", n)
}

// FormatPercent renders a 0..1 ratio as a percentage with one decimal.
func FormatPercent(ratio float64) string {
	return printer.Sprintf("%.1f%%", ratio*100)
}
