package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

// Record is the JSON form of an ItemResult.
type Record struct {
	ItemID    uint64            `json:"itemid"`
	ValueType string            `json:"value_type"`
	Flags     uint8             `json:"flags,omitempty"`
	TS        time.Time         `json:"ts"`
	Kind      string            `json:"kind"`
	Value     *string           `json:"value,omitempty"`
	Error     string            `json:"error,omitempty"`
	Meta      *preproc.ValueOpt `json:"meta,omitempty"`
}

// NewRecord converts r to its JSON form.
func NewRecord(r ItemResult) Record {
	rec := Record{
		ItemID:    r.ItemID,
		ValueType: r.ValueType.String(),
		Flags:     r.Flags,
		TS:        r.TS,
		Kind:      r.Value.Kind().String(),
		Meta:      r.Opt,
	}
	switch r.Value.Kind() {
	case variant.KindNone:
	case variant.KindError:
		rec.Error = r.Value.Err()
	default:
		s := r.Value.String()
		rec.Value = &s
	}
	return rec
}

// JSONLines writes one JSON object per result. It is safe for concurrent
// use.
type JSONLines struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLines writes records to w.
func NewJSONLines(w io.Writer) *JSONLines {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	j := &JSONLines{buf: buf, enc: enc}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	return j
}

// OpenJSONLines appends records to the file at path, creating it and its
// directory when missing. "-" writes to stdout.
func OpenJSONLines(path string) (*JSONLines, error) {
	if path == "-" {
		return NewJSONLines(nopCloser{os.Stdout}), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	return NewJSONLines(f), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Flush encodes r. Output is buffered until Sync or Close.
func (j *JSONLines) Flush(r ItemResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(NewRecord(r)); err != nil {
		return fmt.Errorf("failed to encode item %d: %w", r.ItemID, err)
	}
	return nil
}

// Sync writes buffered records to the underlying writer.
func (j *JSONLines) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buf.Flush()
}

// Close flushes buffered records and closes the underlying writer.
func (j *JSONLines) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.buf.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
