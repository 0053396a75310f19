package taskqueue

import (
	"sort"
	"sync"

	"github.com/eapache/queue"

	"github.com/Iron-Ham/ppline/internal/logging"
)

// Queue holds the immediate, pending and finished task lists and the
// sequence registry. Except for Lock, Unlock and PublishDepth, every method
// must be called with the queue lock held.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	immediate *queue.Queue
	pending   *queue.Queue
	finished  *queue.Queue
	sequences map[uint64]*SequenceTask

	workers       int
	pendingNum    int
	processingNum int
	finishedNum   int

	logger *logging.Logger
}

// Stats is a snapshot of queue counters. Pending counts work tasks waiting
// to run, including those queued inside sequences.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Finished   int `json:"finished"`
	Sequences  int `json:"sequences"`
	Workers    int `json:"workers"`
}

// SequenceStat is the backlog of one Serial item.
type SequenceStat struct {
	ItemID uint64 `json:"itemid"`
	Tasks  int    `json:"tasks"`
}

// New creates an empty queue.
func New(logger *logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NopLogger()
	}
	q := &Queue{
		immediate: queue.New(),
		pending:   queue.New(),
		finished:  queue.New(),
		sequences: make(map[uint64]*SequenceTask),
		logger:    logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Lock acquires the queue lock.
func (q *Queue) Lock() { q.mu.Lock() }

// Unlock releases the queue lock.
func (q *Queue) Unlock() { q.mu.Unlock() }

// Wait atomically releases the lock and blocks until notified.
func (q *Queue) Wait() { q.cond.Wait() }

// Notify wakes one waiting worker.
func (q *Queue) Notify() { q.cond.Signal() }

// NotifyAll wakes every waiting worker.
func (q *Queue) NotifyAll() { q.cond.Broadcast() }

// RegisterWorker records a started worker.
func (q *Queue) RegisterWorker() { q.workers++ }

// DeregisterWorker records a stopped worker.
func (q *Queue) DeregisterWorker() {
	if q.workers == 0 {
		q.logger.Error("worker deregistered more times than registered")
		return
	}
	q.workers--
}

// Workers returns the number of registered workers.
func (q *Queue) Workers() int { return q.workers }

// PushPending queues new work behind the existing backlog. Serial tasks are
// folded into their item's sequence instead; a newly created sequence is
// made immediately runnable.
func (q *Queue) PushPending(t Task) {
	if _, ok := t.(*SequenceTask); ok {
		q.logger.Error("sequence task pushed to pending list", "itemid", t.ItemID())
		q.immediate.Add(t)
		return
	}

	q.pendingNum++
	if IsSerial(t) {
		q.fold(t)
		return
	}
	q.pending.Add(t)
}

// PushImmediate queues work ahead of the pending backlog. Serial tasks are
// folded into their item's sequence; a sequence being continued is queued
// as is.
func (q *Queue) PushImmediate(t Task) {
	if _, ok := t.(*SequenceTask); ok {
		q.immediate.Add(t)
		return
	}

	q.pendingNum++
	if IsSerial(t) {
		q.fold(t)
		return
	}
	q.immediate.Add(t)
}

// fold appends t to its item's sequence, creating the sequence and queueing
// it as immediate when the item has none.
func (q *Queue) fold(t Task) {
	itemID, hostID := sequenceKey(t)
	if seq, ok := q.sequences[itemID]; ok {
		seq.push(t)
		return
	}

	seq := newSequenceTask(itemID, hostID)
	seq.push(t)
	q.sequences[itemID] = seq
	q.immediate.Add(seq)
}

// PopRunnable returns the next task to execute, or nil when nothing is
// runnable. Immediate tasks come first. Serial tasks found at the head of
// the pending list are folded into their sequence; the first directly
// runnable task or newly created sequence is returned.
func (q *Queue) PopRunnable() Task {
	if q.immediate.Length() > 0 {
		t := q.immediate.Remove().(Task)
		q.startProcessing()
		return t
	}

	for q.pending.Length() > 0 {
		t := q.pending.Remove().(Task)
		if !IsSerial(t) {
			q.startProcessing()
			return t
		}

		itemID, hostID := sequenceKey(t)
		if seq, ok := q.sequences[itemID]; ok {
			seq.push(t)
			continue
		}
		seq := newSequenceTask(itemID, hostID)
		seq.push(t)
		q.sequences[itemID] = seq
		q.startProcessing()
		return seq
	}

	return nil
}

func (q *Queue) startProcessing() {
	if q.pendingNum == 0 {
		q.logger.Error("pending task counter underflow")
	} else {
		q.pendingNum--
	}
	q.processingNum++
}

// PushFinished hands an executed task to the manager.
func (q *Queue) PushFinished(t Task) {
	if q.processingNum == 0 {
		q.logger.Error("processing task counter underflow", "itemid", t.ItemID())
	} else {
		q.processingNum--
	}
	q.finishedNum++
	q.finished.Add(t)
}

// PopFinished returns the oldest finished task, or nil.
func (q *Queue) PopFinished() Task {
	if q.finished.Length() == 0 {
		return nil
	}
	q.finishedNum--
	return q.finished.Remove().(Task)
}

// Sequence returns the active sequence of an item.
func (q *Queue) Sequence(itemID uint64) (*SequenceTask, bool) {
	seq, ok := q.sequences[itemID]
	return seq, ok
}

// RemoveSequence drops an item's sequence from the registry.
func (q *Queue) RemoveSequence(itemID uint64) {
	delete(q.sequences, itemID)
}

// Stats returns the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pending:    q.pendingNum,
		Processing: q.processingNum,
		Finished:   q.finishedNum,
		Sequences:  len(q.sequences),
		Workers:    q.workers,
	}
}

// PendingNum returns the number of work tasks waiting to run.
func (q *Queue) PendingNum() int { return q.pendingNum }

// SequenceStats returns the backlog of every active sequence, deepest first.
func (q *Queue) SequenceStats() []SequenceStat {
	out := make([]SequenceStat, 0, len(q.sequences))
	for id, seq := range q.sequences {
		out = append(out, SequenceStat{ItemID: id, Tasks: seq.Len()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tasks != out[j].Tasks {
			return out[i].Tasks > out[j].Tasks
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

// Drain removes and releases every queued task. It is used at shutdown,
// after all workers have stopped.
func (q *Queue) Drain() int {
	n := 0
	for _, l := range []*queue.Queue{q.immediate, q.pending, q.finished} {
		for l.Length() > 0 {
			t := l.Remove().(Task)
			if seq, ok := t.(*SequenceTask); ok {
				n += seq.Len()
				delete(q.sequences, seq.ItemID())
			} else {
				n++
			}
			t.Release()
		}
	}
	for id, seq := range q.sequences {
		n += seq.Len()
		seq.Release()
		delete(q.sequences, id)
	}
	q.pendingNum, q.processingNum, q.finishedNum = 0, 0, 0
	return n
}
