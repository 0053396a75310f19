package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "queue.depth_changed").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type names.
const (
	TypeQueueDepthChanged     = "queue.depth_changed"
	TypeManagerStarted        = "manager.started"
	TypeManagerStopped        = "manager.stopped"
	TypeWorkerLogLevelChanged = "worker.loglevel_changed"
	TypeThroughput            = "pipeline.throughput"
	TypeItemsReloaded         = "items.reloaded"
	TypeItemsReloadFailed     = "items.reload_failed"
)

// -----------------------------------------------------------------------------
// Queue Events
// -----------------------------------------------------------------------------

// QueueDepthChangedEvent reports task queue counters.
type QueueDepthChangedEvent struct {
	baseEvent
	Pending    int
	Processing int
	Finished   int
	Sequences  int
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(pending, processing, finished, sequences int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent:  newBaseEvent(TypeQueueDepthChanged),
		Pending:    pending,
		Processing: processing,
		Finished:   finished,
		Sequences:  sequences,
	}
}

// -----------------------------------------------------------------------------
// Manager Events
// -----------------------------------------------------------------------------

// ManagerStartedEvent is emitted once every worker has registered.
type ManagerStartedEvent struct {
	baseEvent
	Workers int
}

// NewManagerStartedEvent creates a ManagerStartedEvent.
func NewManagerStartedEvent(workers int) ManagerStartedEvent {
	return ManagerStartedEvent{baseEvent: newBaseEvent(TypeManagerStarted), Workers: workers}
}

// ManagerStoppedEvent is emitted after all workers have been joined.
type ManagerStoppedEvent struct {
	baseEvent
}

// NewManagerStoppedEvent creates a ManagerStoppedEvent.
func NewManagerStoppedEvent() ManagerStoppedEvent {
	return ManagerStoppedEvent{baseEvent: newBaseEvent(TypeManagerStopped)}
}

// WorkerLogLevelChangedEvent reports a runtime log level change.
type WorkerLogLevelChangedEvent struct {
	baseEvent
	Worker int
	Level  string
}

// NewWorkerLogLevelChangedEvent creates a WorkerLogLevelChangedEvent.
func NewWorkerLogLevelChangedEvent(worker int, level string) WorkerLogLevelChangedEvent {
	return WorkerLogLevelChangedEvent{
		baseEvent: newBaseEvent(TypeWorkerLogLevelChanged),
		Worker:    worker,
		Level:     level,
	}
}

// ThroughputEvent carries the manager's periodic processing statistics.
// Counts cover the period since the previous event.
type ThroughputEvent struct {
	baseEvent
	Queued    int
	Direct    int
	Finished  int
	Processed int
	Pending   int
	Period    time.Duration
}

// NewThroughputEvent creates a ThroughputEvent.
func NewThroughputEvent(queued, direct, finished, processed, pending int, period time.Duration) ThroughputEvent {
	return ThroughputEvent{
		baseEvent: newBaseEvent(TypeThroughput),
		Queued:    queued,
		Direct:    direct,
		Finished:  finished,
		Processed: processed,
		Pending:   pending,
		Period:    period,
	}
}

// -----------------------------------------------------------------------------
// Configuration Events
// -----------------------------------------------------------------------------

// ItemsReloadedEvent is emitted after item configuration was applied.
type ItemsReloadedEvent struct {
	baseEvent
	Path     string
	Revision uint64
	Added    int
	Updated  int
	Removed  int
}

// NewItemsReloadedEvent creates an ItemsReloadedEvent.
func NewItemsReloadedEvent(path string, revision uint64, added, updated, removed int) ItemsReloadedEvent {
	return ItemsReloadedEvent{
		baseEvent: newBaseEvent(TypeItemsReloaded),
		Path:      path,
		Revision:  revision,
		Added:     added,
		Updated:   updated,
		Removed:   removed,
	}
}

// ItemsReloadFailedEvent is emitted when a changed configuration file could
// not be applied. The previous configuration stays active.
type ItemsReloadFailedEvent struct {
	baseEvent
	Path string
	Err  error
}

// NewItemsReloadFailedEvent creates an ItemsReloadFailedEvent.
func NewItemsReloadFailedEvent(path string, err error) ItemsReloadFailedEvent {
	return ItemsReloadFailedEvent{baseEvent: newBaseEvent(TypeItemsReloadFailed), Path: path, Err: err}
}
