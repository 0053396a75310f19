package pipeline

import (
	"context"
	"time"

	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/taskqueue"
	"github.com/Iron-Ham/ppline/internal/variant"
)

// passthrough is the engine used when none is configured: values, or the
// cached master value, are returned unchanged.
var passthrough = preproc.EngineFunc(func(_ *preproc.Definition, cache *preproc.Cache, value variant.Value,
	_ time.Time, _ *preproc.History, _ bool) preproc.Outcome {
	if value.IsNone() && cache != nil {
		value = cache.Value()
	}
	return preproc.Outcome{Value: value}
})

type startResult struct {
	worker int
	err    error
}

// worker executes runnable tasks. Workers are numbered from 1.
type worker struct {
	id     int
	queue  *taskqueue.Queue
	engine preproc.Engine
	tk     *Timekeeper
	logger *logging.Logger
	notify func()

	// stop is guarded by the queue lock.
	stop bool
}

func newWorker(id int, o *options, q *taskqueue.Queue, tk *Timekeeper) *worker {
	return &worker{
		id:     id,
		queue:  q,
		engine: o.engine,
		tk:     tk,
		logger: o.logger.Component("worker").WithWorker(id),
		notify: o.notify,
	}
}

// run initializes the worker, registers it with the queue and processes
// tasks until stopped.
func (w *worker) run(ctx context.Context, init WorkerInit, started chan<- startResult) {
	if init != nil {
		if err := init(ctx, w.id); err != nil {
			started <- startResult{worker: w.id, err: err}
			return
		}
	}

	q := w.queue
	q.Lock()
	if w.stop {
		q.Unlock()
		return
	}
	q.RegisterWorker()
	q.Unlock()

	started <- startResult{worker: w.id}
	w.logger.Debug("worker started")

	w.loop()
	w.logger.Debug("worker stopped")
}

func (w *worker) loop() {
	q := w.queue
	q.Lock()
	defer q.Unlock()

	for !w.stop {
		t := q.PopRunnable()
		if t == nil {
			q.Wait()
			if q.PendingNum() > 1 {
				q.Notify()
			}
			continue
		}

		// The head must be read under the lock: the manager appends to the
		// sequence concurrently.
		work := t
		if seq, ok := t.(*taskqueue.SequenceTask); ok {
			work = seq.Head()
		}

		q.Unlock()
		w.process(work)
		q.Lock()

		q.PushFinished(t)
		if w.notify != nil {
			w.notify()
		}
	}

	q.DeregisterWorker()
}

func (w *worker) process(t taskqueue.Task) {
	w.tk.Busy(w.id - 1)
	defer w.tk.Idle(w.id - 1)

	switch t := t.(type) {
	case *taskqueue.TestTask:
		out := w.engine.Execute(t.Def, nil, t.Value, t.TS, t.History, true)
		t.Result, t.Results, t.HistoryOut = out.Value, out.Results, out.History
	case *taskqueue.ValueTask:
		w.processValue(t)
	case *taskqueue.DependentTask:
		if t.Primary == nil {
			w.logger.Error("dependent task without primary", "itemid", t.ItemID())
			return
		}
		w.processValue(t.Primary)
	case nil:
		w.logger.Error("sequence task without queued tasks")
	default:
		w.logger.Error("unknown task kind", "kind", t.Kind().String(), "itemid", t.ItemID())
	}
}

func (w *worker) processValue(t *taskqueue.ValueTask) {
	history := t.Def.AcquireHistory()
	out := w.engine.Execute(t.Def, t.Cache, t.Value, t.TS, history, false)
	t.Def.SetHistory(out.History)
	t.Result = out.Value

	if w.logger.Enabled(logging.LevelTrace) {
		w.logger.Trace("value processed",
			"itemid", t.ItemID(), "value", t.Value.Describe(), "result", out.Value.Describe())
	}
}
