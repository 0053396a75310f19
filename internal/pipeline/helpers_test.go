package pipeline

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/taskqueue"
	"github.com/Iron-Ham/ppline/internal/variant"
)

type result struct {
	itemID uint64
	value  variant.Value
}

type countingTracker struct {
	created atomic.Int32
	freed   atomic.Int32
}

func (c *countingTracker) CacheCreated() { c.created.Add(1) }
func (c *countingTracker) CacheFreed()   { c.freed.Add(1) }

func newManager(t *testing.T, n int, opts ...Option) *Manager {
	t.Helper()
	m, err := New(n, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func addItem(m *Manager, cfg preproc.DefinitionConfig) {
	if cfg.HostID == 0 {
		cfg.HostID = 1
	}
	m.Items().Set(&preproc.Item{ID: cfg.ItemID, Revision: 1, Def: preproc.NewDefinition(cfg)})
}

func steps(types ...preproc.StepType) []preproc.Step {
	out := make([]preproc.Step, 0, len(types))
	for _, t := range types {
		out = append(out, preproc.Step{Type: t})
	}
	return out
}

func submit(t *testing.T, m *Manager, itemID uint64, values ...string) {
	t.Helper()
	for _, v := range values {
		if m.Submit(itemID, variant.Str(v), time.Now(), nil) == nil {
			t.Fatalf("Submit(%d, %q) created no task", itemID, v)
		}
	}
}

// collect polls the manager until want value results have finished. Test
// tasks are ignored. Every returned task is released.
func collect(t *testing.T, m *Manager, want int) []result {
	t.Helper()

	var out []result
	deadline := time.After(5 * time.Second)
	for len(out) < want {
		tasks, _ := m.ProcessFinished(0)
		for _, task := range tasks {
			if vt, ok := task.(*taskqueue.ValueTask); ok {
				out = append(out, result{itemID: vt.ItemID(), value: vt.Result})
			}
			task.Release()
		}
		if len(tasks) > 0 {
			continue
		}
		select {
		case <-m.Finished():
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out with %d of %d results", len(out), want)
		}
	}
	return out
}

func valuesOf(results []result, itemID uint64) []string {
	var out []string
	for _, r := range results {
		if r.itemID == itemID {
			out = append(out, r.value.String())
		}
	}
	return out
}
