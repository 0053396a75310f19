package export

import "sync"

// Memory collects results in memory. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	results []ItemResult
	notify  chan struct{}
}

// NewMemory returns an empty sink.
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

// Flush appends r.
func (m *Memory) Flush(r ItemResult) error {
	m.mu.Lock()
	m.results = append(m.results, r)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Results returns a copy of the collected results in flush order.
func (m *Memory) Results() []ItemResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ItemResult(nil), m.results...)
}

// ForItem returns the collected results of one item in flush order.
func (m *Memory) ForItem(itemID uint64) []ItemResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ItemResult
	for _, r := range m.results {
		if r.ItemID == itemID {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of collected results.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// Flushed is signaled after every Flush. Signals coalesce: a receiver must
// re-check Len after waking.
func (m *Memory) Flushed() <-chan struct{} { return m.notify }

// Reset drops all collected results.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.results = nil
	m.mu.Unlock()
}
