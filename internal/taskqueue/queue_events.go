package taskqueue

import "github.com/Iron-Ham/ppline/internal/event"

// Event converts the counters to a depth event.
func (s Stats) Event() event.QueueDepthChangedEvent {
	return event.NewQueueDepthChangedEvent(s.Pending, s.Processing, s.Finished, s.Sequences)
}

// PublishDepth snapshots the counters and publishes them on bus. It takes the
// queue lock itself and publishes after releasing it, so handlers may read
// the queue.
func (q *Queue) PublishDepth(bus *event.Bus) Stats {
	q.Lock()
	s := q.Stats()
	q.Unlock()

	bus.Publish(s.Event())
	return s
}
