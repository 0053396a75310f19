package step

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Iron-Ham/ppline/internal/variant"
)

const whitespace = " \t\r\n"

func trim(v variant.Value, chars string, fn func(string, string) string) (variant.Value, error) {
	s, err := v.ToStr()
	if err != nil {
		return v, err
	}
	if chars == "" {
		chars = whitespace
	}
	return variant.Str(fn(s.String(), chars)), nil
}

func (e *Engine) regsub(v variant.Value, params string) (variant.Value, error) {
	p := splitParams(params, 2)
	re, err := e.regexp(p[0])
	if err != nil {
		return v, err
	}

	s := v.String()
	m := re.FindStringSubmatchIndex(s)
	if m == nil {
		return v, errors.New("cannot perform regular expression match: pattern does not match")
	}
	return variant.Str(expandTemplate(p[1], s, m)), nil
}

// expandTemplate replaces \0..\9 in tmpl with the corresponding submatch.
// Missing groups expand to "".
func expandTemplate(tmpl, s string, m []int) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '\\' || i+1 == len(tmpl) {
			b.WriteByte(c)
			continue
		}
		next := tmpl[i+1]
		switch {
		case next >= '0' && next <= '9':
			g := int(next - '0')
			if 2*g+1 < len(m) && m[2*g] >= 0 {
				b.WriteString(s[m[2*g]:m[2*g+1]])
			}
			i++
		case next == '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var escapes = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r", `\t`, "\t", `\s`, " ")

func strReplace(v variant.Value, params string) (variant.Value, error) {
	p := splitParams(params, 2)
	search := escapes.Replace(p[0])
	if search == "" {
		return v, errors.New("search string cannot be empty")
	}
	s, err := v.ToStr()
	if err != nil {
		return v, err
	}
	return variant.Str(strings.ReplaceAll(s.String(), search, escapes.Replace(p[1]))), nil
}

func (e *Engine) validateRegex(v variant.Value, pattern string, mustMatch bool) (variant.Value, error) {
	re, err := e.regexp(pattern)
	if err != nil {
		return v, err
	}
	matched := re.MatchString(v.String())
	switch {
	case mustMatch && !matched:
		return v, fmt.Errorf("value %q does not match regular expression %q", v.String(), pattern)
	case !mustMatch && matched:
		return v, fmt.Errorf("value %q matches regular expression %q", v.String(), pattern)
	}
	return v, nil
}

// validateNotSupported fails when the incoming value is an error, so the
// step's error handler decides what an unsupported item reports. Params
// select which errors trigger it: "" or "any", "match\n<regex>" or
// "not_match\n<regex>".
func (e *Engine) validateNotSupported(v variant.Value, params string) (variant.Value, error) {
	if !v.IsError() {
		return v, nil
	}

	p := splitParams(params, 2)
	switch strings.TrimSpace(p[0]) {
	case "", "any":
		return v, errors.New(v.Err())
	case "match", "not_match":
		re, err := e.regexp(p[1])
		if err != nil {
			return v, err
		}
		if re.MatchString(v.Err()) == (strings.TrimSpace(p[0]) == "match") {
			return v, errors.New(v.Err())
		}
		return v, nil
	default:
		return v, fmt.Errorf("invalid match type %q", p[0])
	}
}
