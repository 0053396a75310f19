package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/preproc"
)

const (
	// DefaultBatchSize is the number of values handed over at once.
	DefaultBatchSize = 256

	maxLineSize = 1 << 20
)

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger receiving skipped lines.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reader) { r.logger = l.Component("ingest") }
}

// WithClock sets the clock stamping values without a timestamp.
func WithClock(c clock.Clock) Option {
	return func(r *Reader) { r.clock = c }
}

// WithStrict makes malformed lines fail the read instead of being skipped.
func WithStrict() Option {
	return func(r *Reader) { r.strict = true }
}

// Reader decodes values from a stream of JSON lines. Blank lines are
// ignored. Malformed lines are logged and skipped unless the reader is
// strict.
type Reader struct {
	scanner *bufio.Scanner
	logger  *logging.Logger
	clock   clock.Clock
	strict  bool

	line    int
	skipped int
}

// NewReader creates a reader over r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	rd := &Reader{
		scanner: scanner,
		logger:  logging.NopLogger(),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Next returns the next value, or io.EOF at the end of the stream.
func (r *Reader) Next() (preproc.ItemValue, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		v, err := Decode(line, r.clock.Now())
		if err != nil {
			if r.strict {
				return preproc.ItemValue{}, fmt.Errorf("line %d: %w", r.line, err)
			}
			r.skipped++
			r.logger.Warn("skipping malformed value", "line", r.line, "error", err)
			continue
		}
		return v, nil
	}
	if err := r.scanner.Err(); err != nil {
		return preproc.ItemValue{}, fmt.Errorf("line %d: %w", r.line+1, err)
	}
	return preproc.ItemValue{}, io.EOF
}

// ReadBatch returns up to n values. A short batch with a nil error means
// more may follow; io.EOF is returned together with the final values.
func (r *Reader) ReadBatch(n int) ([]preproc.ItemValue, error) {
	if n <= 0 {
		n = DefaultBatchSize
	}
	batch := make([]preproc.ItemValue, 0, n)
	for len(batch) < n {
		v, err := r.Next()
		if err != nil {
			return batch, err
		}
		batch = append(batch, v)
	}
	return batch, nil
}

// Feed reads the stream to its end, handing values to fn in batches of up
// to n. It stops early when ctx is done; a blocked read is not interrupted.
func (r *Reader) Feed(ctx context.Context, n int, fn func([]preproc.ItemValue)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := r.ReadBatch(n)
		if len(batch) > 0 {
			fn(batch)
		}
		if err == io.EOF {
			r.logger.Debug("input finished", "lines", r.line, "skipped", r.skipped)
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Skipped returns the number of malformed lines skipped so far.
func (r *Reader) Skipped() int { return r.skipped }
