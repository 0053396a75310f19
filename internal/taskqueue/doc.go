// Package taskqueue provides the shared scheduling structure of the
// preprocessing pipeline: the immediate, pending and finished task lists and
// the per-item registry of Sequence tasks that keeps Serial items to one task
// in flight.
//
// A single mutex guards all queue state. Callers take it with [Queue.Lock],
// perform any number of pushes and pops, then release it. Workers without
// runnable work block in [Queue.Wait], which releases the lock until a
// producer calls [Queue.Notify] or [Queue.NotifyAll].
//
// Scheduling rules:
//
//   - Immediate tasks (tests, dependents, sequence continuations) always run
//     before pending ones.
//   - A Serial task is folded into its item's [SequenceTask]; only the
//     sequence head is ever handed to a worker, and only a newly created
//     sequence becomes runnable by itself.
//   - Finished tasks wait in FIFO order for the manager.
//
// Usage:
//
//	q := taskqueue.New(logger)
//
//	q.Lock()
//	q.PushPending(task)
//	q.Notify()
//	q.Unlock()
//
//	// worker loop
//	q.Lock()
//	for {
//	    t := q.PopRunnable()
//	    if t == nil {
//	        q.Wait()
//	        continue
//	    }
//	    q.Unlock()
//	    // ... execute ...
//	    q.Lock()
//	    q.PushFinished(t)
//	}
package taskqueue
