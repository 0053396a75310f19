package preproc

import (
	"time"

	"github.com/Iron-Ham/ppline/internal/variant"
)

// HistoryEntry is the value a step left for its next run.
type HistoryEntry struct {
	Index     int
	Value     variant.Value
	Timestamp time.Time
}

// History holds previous step outputs keyed by step index, at most one entry
// per index. It is not safe for concurrent use; a run owns the history it
// acquired until it publishes the result.
type History struct {
	entries []HistoryEntry
}

// NewHistory returns an empty history with room for n entries.
func NewHistory(n int) *History {
	return &History{entries: make([]HistoryEntry, 0, n)}
}

// Get returns the entry recorded for the step index.
func (h *History) Get(index int) (HistoryEntry, bool) {
	if h == nil {
		return HistoryEntry{}, false
	}
	for _, e := range h.entries {
		if e.Index == index {
			return e, true
		}
	}
	return HistoryEntry{}, false
}

// Add records value for the step index, replacing any previous entry.
func (h *History) Add(index int, value variant.Value, ts time.Time) {
	for i := range h.entries {
		if h.entries[i].Index == index {
			h.entries[i].Value = value
			h.entries[i].Timestamp = ts
			return
		}
	}
	h.entries = append(h.entries, HistoryEntry{Index: index, Value: value, Timestamp: ts})
}

// Remove drops the entry for the step index.
func (h *History) Remove(index int) {
	for i := range h.entries {
		if h.entries[i].Index == index {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Entries returns a copy of the entries in insertion order.
func (h *History) Entries() []HistoryEntry {
	if h == nil {
		return nil
	}
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clone returns an independent copy. Cloning nil returns nil.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	return &History{entries: h.Entries()}
}

// Reset removes all entries.
func (h *History) Reset() {
	h.entries = h.entries[:0]
}
