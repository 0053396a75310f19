package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/taskqueue"
	"github.com/Iron-Ham/ppline/internal/variant"
)

// Manager owns the task queue, the worker pool and the item table.
//
// Configuration sync writes the item table returned by Items; the manager
// reads it while holding the queue lock (queue lock first, then the table's
// read lock).
type Manager struct {
	queue   *taskqueue.Queue
	items   *preproc.ItemTable
	workers []*worker
	wg      conc.WaitGroup
	cancel  context.CancelFunc
	tk      *Timekeeper

	// finished is signaled, without blocking, each time a worker finishes a
	// task.
	finished chan struct{}

	clock     clock.Clock
	logger    *logging.Logger
	bus       *event.Bus
	tracker   preproc.CacheTracker
	batchSize int

	// lastCollect is guarded by the queue lock.
	lastCollect time.Time

	reloadSub string

	closeOnce sync.Once
}

// New starts a manager with n workers. It fails when a worker init hook
// fails or when not all workers register within the startup timeout; the
// workers started so far are stopped before it returns.
func New(n int, opts ...Option) (*Manager, error) {
	if n <= 0 {
		return nil, errors.NewManagerError("start workers", fmt.Errorf("invalid worker count %d", n))
	}

	o := buildOptions(opts)
	m := &Manager{
		queue:     taskqueue.New(o.logger.Component("queue")),
		items:     o.items,
		tk:        NewTimekeeper(n, o.clock),
		finished:  make(chan struct{}, 1),
		clock:     o.clock,
		logger:    o.logger.Component("manager"),
		bus:       o.bus,
		tracker:   o.tracker,
		batchSize: o.batchSize,
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	notify := o.notify
	o.notify = func() {
		select {
		case m.finished <- struct{}{}:
		default:
		}
		if notify != nil {
			notify()
		}
	}

	started := make(chan startResult, n)
	for i := 1; i <= n; i++ {
		w := newWorker(i, &o, m.queue, m.tk)
		m.workers = append(m.workers, w)
		m.wg.Go(func() { w.run(ctx, o.workerInit, started) })
	}

	if err := m.waitStarted(started, n, o.startupTimeout); err != nil {
		m.shutdown()
		return nil, err
	}

	if m.bus != nil {
		m.reloadSub = m.bus.Subscribe(event.TypeItemsReloaded, func(event.Event) { m.DumpItems() })
	}

	m.logger.Info("preprocessing manager started", "workers", n)
	m.bus.Publish(event.NewManagerStartedEvent(n))
	return m, nil
}

func (m *Manager) waitStarted(started <-chan startResult, n int, timeout time.Duration) error {
	timer := m.clock.Timer(timeout)
	defer timer.Stop()

	for registered := 0; registered < n; {
		select {
		case res := <-started:
			if res.err != nil {
				return errors.NewManagerError("start workers",
					fmt.Errorf("%w: %w", errors.ErrWorkerInit, res.err)).WithWorker(res.worker)
			}
			registered++
		case <-timer.C:
			return errors.NewManagerError("start workers",
				errors.NewTimeoutError("worker registration", timeout)).WithWorkers(registered, n)
		}
	}

	m.queue.Lock()
	live := m.queue.Workers()
	m.queue.Unlock()
	if live != n {
		return errors.NewManagerError("start workers",
			fmt.Errorf("%d workers registered", live)).WithWorkers(live, n)
	}
	return nil
}

// Close stops every worker, waits for them and releases queued tasks. It is
// safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.reloadSub != "" {
			m.bus.Unsubscribe(m.reloadSub)
		}
		dropped := m.shutdown()
		m.logger.Info("preprocessing manager stopped", "dropped_tasks", dropped)
		m.bus.Publish(event.NewManagerStoppedEvent())
	})
}

func (m *Manager) shutdown() int {
	m.queue.Lock()
	for _, w := range m.workers {
		w.stop = true
	}
	m.queue.NotifyAll()
	m.queue.Unlock()

	m.cancel()
	m.wg.Wait()

	m.queue.Lock()
	defer m.queue.Unlock()
	return m.queue.Drain()
}

// Items returns the item table.
func (m *Manager) Items() *preproc.ItemTable { return m.items }

// Workers returns the number of workers.
func (m *Manager) Workers() int { return len(m.workers) }

// Finished is signaled when tasks have finished since the last receive.
// Signals coalesce.
func (m *Manager) Finished() <-chan struct{} { return m.finished }

// CreateTask builds the task preprocessing value for item itemID. It returns
// nil when the value should be delivered as is: the value is empty, the item
// is unknown, or it has neither steps nor dependents.
func (m *Manager) CreateTask(itemID uint64, value variant.Value, ts time.Time, opt *preproc.ValueOpt) taskqueue.Task {
	if value.IsNone() {
		return nil
	}
	item, ok := m.items.Get(itemID)
	if !ok {
		m.logger.Trace("value for unknown item", "itemid", itemID)
		return nil
	}
	def := item.Def
	if len(def.Steps()) == 0 && len(def.Dependents()) == 0 {
		return nil
	}
	return taskqueue.NewValueTask(itemID, def, value, ts, opt, nil)
}

// QueueValue queues value tasks behind the current backlog.
func (m *Manager) QueueValue(tasks ...taskqueue.Task) {
	if len(tasks) == 0 {
		return
	}

	m.queue.Lock()
	defer m.queue.Unlock()

	for _, t := range tasks {
		m.queue.PushPending(t)
	}
	if len(tasks) == 1 {
		m.queue.Notify()
	} else {
		m.queue.NotifyAll()
	}
}

// Submit creates and queues a task for a collected value. It returns nil
// when the value needs no preprocessing.
func (m *Manager) Submit(itemID uint64, value variant.Value, ts time.Time, opt *preproc.ValueOpt) taskqueue.Task {
	t := m.CreateTask(itemID, value, ts, opt)
	if t != nil {
		m.QueueValue(t)
	}
	return t
}

// QueueTest queues a test of def over value ahead of the backlog. The
// caller's history is cloned, so the test never alters it. The result is
// delivered to client once the task is processed.
func (m *Manager) QueueTest(def *preproc.Definition, value variant.Value, ts time.Time,
	client taskqueue.TestClient, history *preproc.History) *taskqueue.TestTask {
	t := taskqueue.NewTestTask(def, value, ts, client, history.Clone())

	m.queue.Lock()
	m.queue.PushImmediate(t)
	m.queue.Notify()
	m.queue.Unlock()
	return t
}

// ProcessFinished handles up to limit finished tasks (the configured batch
// size when limit is not positive). Dependent and sequence tasks are
// resolved into follow-up work; the returned tasks are test and value tasks
// whose results are ready for delivery. The caller owns them and must
// Release them.
func (m *Manager) ProcessFinished(limit int) ([]taskqueue.Task, taskqueue.Stats) {
	if limit <= 0 {
		limit = m.batchSize
	}

	m.queue.Lock()
	defer m.queue.Unlock()

	out := make([]taskqueue.Task, 0, min(limit, 16))
	for len(out) < limit {
		t := m.queue.PopFinished()
		if t == nil {
			break
		}
		if t = m.handleFinished(t); t != nil {
			out = append(out, t)
		}
	}

	if now := m.clock.Now(); now.Sub(m.lastCollect) >= time.Second {
		m.tk.Collect()
		m.lastCollect = now
	}
	return out, m.queue.Stats()
}

func (m *Manager) handleFinished(t taskqueue.Task) taskqueue.Task {
	switch t := t.(type) {
	case *taskqueue.TestTask:
		return t
	case *taskqueue.ValueTask:
		m.valueFinished(t)
		return t
	case *taskqueue.DependentTask:
		return m.dependentFinished(t)
	case *taskqueue.SequenceTask:
		return m.sequenceFinished(t)
	default:
		m.logger.Error("unknown finished task kind", "kind", t.Kind().String(), "itemid", t.ItemID())
		t.Release()
		return nil
	}
}

// valueFinished queues the dependents of a computed value. Empty and error
// results are not propagated.
func (m *Manager) valueFinished(t *taskqueue.ValueTask) {
	if t.Result.IsNone() || t.Result.IsError() {
		return
	}
	deps := t.Def.Dependents()
	if len(deps) == 0 {
		return
	}

	if dep := m.cacheableDependent(deps); dep != nil {
		cache := preproc.NewCache(dep.Def, t.Result, m.tracker)
		primary := taskqueue.NewValueTask(dep.ID, dep.Def, variant.None(), t.TS, nil, cache.Copy())
		m.queue.PushImmediate(taskqueue.NewDependentTask(t.ItemID(), t.Def, primary, cache))
		m.queue.Notify()
		return
	}

	m.queueDependents(t.Def, 0, t.Result, t.TS, nil)
}

// cacheableDependent returns the first live dependent whose steps can share
// a parsed master value.
func (m *Manager) cacheableDependent(ids []uint64) *preproc.Item {
	for _, id := range ids {
		item, ok := m.items.Get(id)
		if ok && item.Def.Cacheable() {
			return item
		}
	}
	return nil
}

// queueDependents queues a task for every live dependent of def except
// exclude. Tasks share cache, or a new cache over value when cache is nil.
func (m *Manager) queueDependents(def *preproc.Definition, exclude uint64, value variant.Value, ts time.Time,
	cache *preproc.Cache) {
	deps := def.Dependents()
	if len(deps) == 0 {
		return
	}

	if cache = cache.Copy(); cache == nil {
		cache = preproc.NewCache(def, value, m.tracker)
	}
	defer cache.Release()

	queued := 0
	for _, id := range deps {
		if id == exclude {
			continue
		}
		item, ok := m.items.Get(id)
		if !ok {
			m.logger.Trace("skipping removed dependent item", "itemid", id, "master", def.ItemID())
			continue
		}
		m.queue.PushImmediate(taskqueue.NewValueTask(id, item.Def, variant.None(), ts, nil, cache.Copy()))
		queued++
	}

	if queued > 0 {
		m.queue.Notify()
	}
}

// dependentFinished fans out the primary's own dependents, then the master's
// remaining dependents, and surfaces the primary as the finished task.
func (m *Manager) dependentFinished(d *taskqueue.DependentTask) taskqueue.Task {
	primary := d.Primary
	if primary == nil {
		m.logger.Error("finished dependent task without primary", "itemid", d.ItemID())
		d.Release()
		return nil
	}

	m.valueFinished(primary)
	m.queueDependents(d.Def, primary.ItemID(), d.Cache.Value(), primary.TS, d.Cache)

	d.Primary = nil
	d.ReleaseWrapper()
	return primary
}

// sequenceFinished resolves the executed head of a sequence and requeues the
// sequence while it still has tasks.
func (m *Manager) sequenceFinished(seq *taskqueue.SequenceTask) taskqueue.Task {
	var done taskqueue.Task
	switch t := seq.Pop().(type) {
	case *taskqueue.ValueTask:
		m.valueFinished(t)
		done = t
	case *taskqueue.DependentTask:
		done = m.dependentFinished(t)
	case nil:
		m.logger.Error("finished sequence without tasks", "itemid", seq.ItemID())
	default:
		m.logger.Error("unexpected task in sequence", "kind", t.Kind().String(), "itemid", seq.ItemID())
		t.Release()
	}

	if seq.Len() > 0 {
		m.queue.PushImmediate(seq)
		m.queue.Notify()
		return done
	}

	if cur, ok := m.queue.Sequence(seq.ItemID()); !ok || cur != seq {
		m.logger.Error("finished sequence missing from registry", "itemid", seq.ItemID())
	} else {
		m.queue.RemoveSequence(seq.ItemID())
	}
	return done
}
