package pipeline

import (
	"fmt"
	"sort"

	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/preproc"
)

// DiagStats is a snapshot of the pipeline state.
type DiagStats struct {
	Items      int `json:"items"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Finished   int `json:"finished"`
	Sequences  int `json:"sequences"`
	Workers    int `json:"workers"`
}

// TopStat ranks an item by a task count.
type TopStat struct {
	ItemID uint64 `json:"itemid"`
	Tasks  int    `json:"tasks"`
}

// LogLevelDirection selects how ChangeWorkerLogLevel moves the level.
type LogLevelDirection int

const (
	LogLevelDecrease LogLevelDirection = -1
	LogLevelIncrease LogLevelDirection = 1
)

// GetDiagStats returns the item count and queue counters.
func (m *Manager) GetDiagStats() DiagStats {
	m.queue.Lock()
	s := m.queue.Stats()
	m.queue.Unlock()

	return DiagStats{
		Items:      m.items.Len(),
		Pending:    s.Pending,
		Processing: s.Processing,
		Finished:   s.Finished,
		Sequences:  s.Sequences,
		Workers:    s.Workers,
	}
}

// QueueSize returns the number of tasks waiting to run.
func (m *Manager) QueueSize() int {
	m.queue.Lock()
	defer m.queue.Unlock()
	return m.queue.PendingNum()
}

// GetTopSequences returns up to n serial items with the deepest backlog.
// n <= 0 returns all of them.
func (m *Manager) GetTopSequences(n int) []TopStat {
	m.queue.Lock()
	seqs := m.queue.SequenceStats()
	m.queue.Unlock()

	out := make([]TopStat, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, TopStat{ItemID: s.ItemID, Tasks: s.Tasks})
	}
	return limitStats(out, n)
}

// GetTopPeaks returns up to n items whose definitions were held by the most
// tasks at once since the last ResetPeaks. Items that never had more than
// one task in flight are left out.
func (m *Manager) GetTopPeaks(n int) []TopStat {
	var out []TopStat
	m.items.Range(func(item *preproc.Item) bool {
		// The table itself holds one reference.
		if tasks := int(item.Def.Peak()) - 1; tasks > 1 {
			out = append(out, TopStat{ItemID: item.ID, Tasks: tasks})
		}
		return true
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].Tasks > out[j].Tasks })
	return limitStats(out, n)
}

// ResetPeaks restarts peak tracking for every item.
func (m *Manager) ResetPeaks() {
	m.items.Range(func(item *preproc.Item) bool {
		item.Def.ResetPeak()
		return true
	})
}

func limitStats(stats []TopStat, n int) []TopStat {
	if n > 0 && len(stats) > n {
		return stats[:n]
	}
	return stats
}

// GetWorkerUsage returns the busy ratio of every worker over the last
// minute, indexed by worker number minus one.
func (m *Manager) GetWorkerUsage() []float64 {
	return m.tk.Usage()
}

// ChangeWorkerLogLevel raises or lowers the log level of one worker, or of
// all workers when worker is 0.
func (m *Manager) ChangeWorkerLogLevel(worker int, dir LogLevelDirection) error {
	if worker < 0 || worker > len(m.workers) {
		m.logger.Info("cannot change worker log level", "worker", worker, "error", "no such instance")
		return errors.NewManagerError("change log level", errors.ErrNoSuchWorker).WithWorker(worker)
	}
	if dir != LogLevelIncrease && dir != LogLevelDecrease {
		return fmt.Errorf("invalid log level direction %d", dir)
	}

	for _, w := range m.workers {
		if worker != 0 && w.id != worker {
			continue
		}

		var changed bool
		if dir == LogLevelIncrease {
			changed = w.logger.IncreaseLevel()
		} else {
			changed = w.logger.DecreaseLevel()
		}

		level := w.logger.Level()
		if changed {
			m.logger.Info("worker log level changed", "worker", w.id, "level", level)
		} else {
			m.logger.Info("worker log level unchanged", "worker", w.id, "level", level)
		}
		m.bus.Publish(event.NewWorkerLogLevelChangedEvent(w.id, level))
	}
	return nil
}

// DumpItems logs the configuration of every item at trace level.
func (m *Manager) DumpItems() {
	if !m.logger.Enabled(logging.LevelTrace) {
		return
	}

	m.items.Range(func(item *preproc.Item) bool {
		def := item.Def
		m.logger.Trace("item",
			"itemid", item.ID,
			"hostid", def.HostID(),
			"revision", item.Revision,
			"value_type", def.ValueType().String(),
			"mode", def.Mode().String(),
			"flags", def.Flags(),
		)
		for i, st := range def.Steps() {
			m.logger.Trace("  preprocessing step",
				"itemid", item.ID,
				"index", i+1,
				"type", st.Type.String(),
				"params", st.Params,
				"error_handler", st.ErrorHandler.String(),
				"error_handler_params", st.ErrorHandlerParams,
			)
		}
		if deps := def.Dependents(); len(deps) > 0 {
			m.logger.Trace("  dependent items", "itemid", item.ID, "dependents", deps)
		}
		return true
	})
}
