// Package logging provides structured logging for the preprocessing pipeline.
// It wraps Go's log/slog package to write JSON records, with per-component
// levels that can be raised or lowered at runtime (one per worker).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelTrace = "TRACE"
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// SlogTrace sits below slog.LevelDebug and is used for per-item dumps.
const SlogTrace = slog.Level(-8)

// levelSteps orders the levels used by IncreaseLevel/DecreaseLevel, most
// verbose first.
var levelSteps = []slog.Level{SlogTrace, slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

// Config selects the log destination and level.
type Config struct {
	// Level is one of ValidLevels; unknown values mean INFO.
	Level string
	// File is the log file path. Empty means stderr.
	File string
	// Rotation applies when File is set.
	Rotation RotationConfig
}

// Logger provides structured logging. It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	out    io.Writer
	closer io.Closer
	mu     *sync.Mutex
	level  *slog.LevelVar
	attrs  []slog.Attr
}

// NewLogger creates a Logger from cfg.
func NewLogger(cfg Config) (*Logger, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer
	)

	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = rw, rw
	}

	return New(out, cfg.Level).withCloser(closer), nil
}

// New creates a Logger writing JSON records to w.
func New(w io.Writer, level string) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(parseLevel(level))
	return &Logger{
		logger: slog.New(newHandler(w, lv)),
		out:    w,
		mu:     &sync.Mutex{},
		level:  lv,
	}
}

func (l *Logger) withCloser(c io.Closer) *Logger {
	l.closer = c
	return l
}

func newHandler(w io.Writer, lv *slog.LevelVar) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lv,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(lvl))
				}
			}
			return a
		},
	})
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelTrace:
		return SlogTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelName(lvl slog.Level) string {
	switch {
	case lvl <= SlogTrace:
		return LevelTrace
	case lvl <= slog.LevelDebug:
		return LevelDebug
	case lvl <= slog.LevelInfo:
		return LevelInfo
	case lvl <= slog.LevelWarn:
		return LevelWarn
	default:
		return LevelError
	}
}

// Component returns a child logger tagged with the component name whose
// level can be changed independently of its parent. It starts at the
// parent's current level.
func (l *Logger) Component(name string) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(l.level.Level())

	attrs := make([]slog.Attr, 0, len(l.attrs)+1)
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, slog.String("component", name))

	return &Logger{
		logger: slog.New(newHandler(l.out, lv)),
		out:    l.out,
		closer: l.closer,
		mu:     l.mu,
		level:  lv,
		attrs:  attrs,
	}
}

// WithWorker returns a new Logger with the worker number added to all entries.
func (l *Logger) WithWorker(num int) *Logger {
	return l.withAttr(slog.Int("worker", num))
}

// WithItem returns a new Logger with the item identifier added to all entries.
func (l *Logger) WithItem(itemID uint64) *Logger {
	return l.withAttr(slog.Uint64("itemid", itemID))
}

// With returns a new Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	newAttrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	newAttrs = append(newAttrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		newAttrs = append(newAttrs, slog.Any(key, args[i+1]))
	}

	child := *l
	child.attrs = newAttrs
	return &child
}

// withAttr creates a new Logger with an additional attribute.
func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs)+1)
	copy(newAttrs, l.attrs)
	newAttrs[len(l.attrs)] = attr

	child := *l
	child.attrs = newAttrs
	return &child
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return levelName(l.level.Level())
}

// SetLevel changes the level of this logger and every logger derived from
// it with With, sharing the same level.
func (l *Logger) SetLevel(level string) {
	l.level.Set(parseLevel(level))
}

// IncreaseLevel makes the logger more verbose by one step. It reports false
// when the logger is already at TRACE.
func (l *Logger) IncreaseLevel() bool {
	return l.stepLevel(-1)
}

// DecreaseLevel makes the logger less verbose by one step. It reports false
// when the logger is already at ERROR.
func (l *Logger) DecreaseLevel() bool {
	return l.stepLevel(1)
}

func (l *Logger) stepLevel(delta int) bool {
	cur := l.level.Level()
	idx := len(levelSteps) - 1
	for i, lvl := range levelSteps {
		if cur <= lvl {
			idx = i
			break
		}
	}
	next := idx + delta
	if next < 0 || next >= len(levelSteps) {
		return false
	}
	l.level.Set(levelSteps[next])
	return true
}

// Enabled reports whether records at the named level would be written.
func (l *Logger) Enabled(level string) bool {
	return l.logger.Enabled(context.Background(), parseLevel(level))
}

// Trace logs a message at TRACE level with optional key-value pairs.
func (l *Logger) Trace(msg string, args ...any) {
	l.log(SlogTrace, msg, args...)
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

// log combines persistent attributes with per-call arguments.
func (l *Logger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(ctx, level, msg, allArgs...)
}

// Close flushes and closes the log file. Loggers writing to stderr or an
// arbitrary writer do nothing.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer != nil {
		if err := l.closer.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		l.closer = nil
	}
	return nil
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return New(io.Discard, LevelError)
}

// ParseLevel converts a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	return levelName(parseLevel(level))
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError}
}
