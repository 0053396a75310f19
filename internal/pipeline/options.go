package pipeline

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/preproc"
)

// Defaults used when no option overrides them.
const (
	DefaultStartupTimeout = 10 * time.Second
	DefaultBatchSize      = 100
)

// WorkerInit runs in a worker's goroutine before it joins the pool. A
// non-nil error aborts manager construction. ctx is canceled when startup
// fails or the manager closes, so hooks must not block past it.
type WorkerInit func(ctx context.Context, worker int) error

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger         *logging.Logger
	engine         preproc.Engine
	clock          clock.Clock
	items          *preproc.ItemTable
	tracker        preproc.CacheTracker
	bus            *event.Bus
	workerInit     WorkerInit
	notify         func()
	startupTimeout time.Duration
	batchSize      int
}

// WithLogger sets the manager logger. Workers log through component loggers
// derived from it.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEngine sets the step engine. Without it values pass through unchanged.
func WithEngine(e preproc.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithClock sets the clock used for startup and usage accounting.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithItems uses an existing item table instead of an empty one.
func WithItems(t *preproc.ItemTable) Option {
	return func(o *options) { o.items = t }
}

// WithCacheTracker observes value cache creation and release.
func WithCacheTracker(t preproc.CacheTracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithBus publishes manager lifecycle events on bus.
func WithBus(bus *event.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithWorkerInit runs fn in every worker before it registers.
func WithWorkerInit(fn WorkerInit) Option {
	return func(o *options) { o.workerInit = fn }
}

// WithFinishedNotify sets a callback invoked by workers, under the queue
// lock, each time a task finishes. It must not block.
func WithFinishedNotify(fn func()) Option {
	return func(o *options) { o.notify = fn }
}

// WithStartupTimeout bounds the wait for all workers to register.
func WithStartupTimeout(d time.Duration) Option {
	return func(o *options) { o.startupTimeout = d }
}

// WithBatchSize sets how many finished tasks ProcessFinished handles per call
// when called with a non-positive limit.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

func buildOptions(opts []Option) options {
	o := options{
		startupTimeout: DefaultStartupTimeout,
		batchSize:      DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.items == nil {
		o.items = preproc.NewItemTable()
	}
	if o.engine == nil {
		o.engine = passthrough
	}
	if o.startupTimeout <= 0 {
		o.startupTimeout = DefaultStartupTimeout
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	return o
}
