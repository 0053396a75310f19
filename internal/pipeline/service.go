package pipeline

import (
	"context"
	"time"

	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/export"
	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/taskqueue"
)

// Service defaults.
const (
	DefaultManagerDelay = 500 * time.Millisecond
	DefaultStatInterval = 5 * time.Second
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithManagerDelay sets how long Run waits for a finished notification
// before polling the queue anyway.
func WithManagerDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithStatInterval sets how often Run logs and publishes throughput.
func WithStatInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.statInterval = d
		}
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = l.Component("service") }
}

// WithServiceBus publishes throughput and queue depth on bus.
func WithServiceBus(bus *event.Bus) ServiceOption {
	return func(s *Service) { s.bus = bus }
}

// Throughput counts the work done by a service since the last report.
type Throughput struct {
	Queued    int           `json:"queued"`
	Direct    int           `json:"direct"`
	Finished  int           `json:"finished"`
	Processed int           `json:"processed"`
	Idle      time.Duration `json:"idle_ns"`
}

// Service feeds collected values to a Manager and delivers finished results
// to a sink. Run must be running for results to be delivered.
type Service struct {
	m    *Manager
	sink export.Sink

	delay        time.Duration
	statInterval time.Duration
	logger       *logging.Logger
	bus          *event.Bus

	// stats is shared by AddValues callers and Run.
	stats   chan Throughput
	current Throughput
}

// NewService creates a service over m delivering to sink.
func NewService(m *Manager, sink export.Sink, opts ...ServiceOption) *Service {
	s := &Service{
		m:            m,
		sink:         sink,
		delay:        DefaultManagerDelay,
		statInterval: DefaultStatInterval,
		logger:       logging.NopLogger(),
		bus:          m.bus,
		stats:        make(chan Throughput, 1),
	}
	s.stats <- Throughput{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddValues submits collected values. Values that need no preprocessing are
// flushed to the sink right away; the rest are queued in one batch.
func (s *Service) AddValues(values []preproc.ItemValue) {
	tasks := make([]taskqueue.Task, 0, len(values))
	direct := 0
	for _, v := range values {
		t := s.m.CreateTask(v.ItemID, v.Value, v.TS, v.Opt)
		if t != nil {
			tasks = append(tasks, t)
			continue
		}
		s.flushDirect(v)
		direct++
	}
	s.m.QueueValue(tasks...)

	st := <-s.stats
	st.Queued += len(tasks)
	st.Direct += direct
	s.stats <- st
}

func (s *Service) flushDirect(v preproc.ItemValue) {
	res := export.ItemResult{ItemID: v.ItemID, Value: v.Value, TS: v.TS, Opt: v.Opt}
	if item, ok := s.m.Items().Get(v.ItemID); ok {
		res.ValueType = item.Def.ValueType()
		res.Flags = item.Def.Flags()
		res.Value = export.Prepare(res.ValueType, v.Value)
	}
	if res.Value.IsNone() && !export.HasMeta(res.Opt) {
		return
	}
	if err := s.sink.Flush(res); err != nil {
		s.logger.Warn("cannot flush value", "itemid", v.ItemID, "error", err)
	}
}

// Run delivers finished results until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	clk := s.m.clock
	ticker := clk.Ticker(s.delay)
	defer ticker.Stop()

	s.logger.Info("preprocessing service started")
	defer s.logger.Info("preprocessing service stopped")

	lastStat := clk.Now()
	for {
		waitStart := clk.Now()
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case <-s.m.Finished():
		case <-ticker.C:
		}
		idle := clk.Since(waitStart)

		processed, finished := s.processFinished()

		st := <-s.stats
		st.Finished += finished
		st.Processed += processed
		st.Idle += idle
		s.stats <- st

		if now := clk.Now(); now.Sub(lastStat) >= s.statInterval {
			s.report(now.Sub(lastStat))
			lastStat = now
		}
	}
}

// processFinished delivers finished tasks until the queue has none left. It
// returns the number of delivered results and of tasks handed back by the
// manager.
func (s *Service) processFinished() (delivered, finished int) {
	for {
		tasks, stats := s.m.ProcessFinished(0)
		for _, t := range tasks {
			if s.deliver(t) {
				delivered++
			}
			t.Release()
		}
		finished += len(tasks)
		if stats.Finished == 0 {
			return delivered, finished
		}
	}
}

func (s *Service) deliver(t taskqueue.Task) bool {
	switch t := t.(type) {
	case *taskqueue.TestTask:
		t.Reply()
		return true
	case *taskqueue.ValueTask:
		def := t.Def
		res := export.ItemResult{
			ItemID:    t.ItemID(),
			ValueType: def.ValueType(),
			Flags:     def.Flags(),
			Value:     export.Prepare(def.ValueType(), t.Result),
			TS:        t.TS,
			Opt:       t.Opt,
		}
		if res.Value.IsNone() && !export.HasMeta(res.Opt) {
			return false
		}
		if err := s.sink.Flush(res); err != nil {
			s.logger.Warn("cannot flush value", "itemid", res.ItemID, "error", err)
			return false
		}
		return true
	default:
		s.logger.Error("unexpected finished task", "kind", t.Kind().String(), "itemid", t.ItemID())
		return false
	}
}

// drain delivers what has already finished before Run returns.
func (s *Service) drain() {
	delivered, finished := s.processFinished()
	if finished > 0 {
		s.logger.Debug("delivered finished tasks on stop", "tasks", finished, "results", delivered)
	}
}

func (s *Service) report(period time.Duration) {
	st := <-s.stats
	s.current = st
	s.stats <- Throughput{}

	depth := s.m.queue.PublishDepth(s.bus)
	s.logger.Info("preprocessing throughput",
		"queued", st.Queued,
		"direct", st.Direct,
		"finished", st.Finished,
		"processed", st.Processed,
		"pending", depth.Pending,
		"idle", st.Idle.Round(time.Millisecond).String(),
		"period", period.Round(time.Millisecond).String(),
	)
	s.bus.Publish(event.NewThroughputEvent(st.Queued, st.Direct, st.Finished, st.Processed, depth.Pending, period))
}

// LastThroughput returns the counters of the most recent report.
func (s *Service) LastThroughput() Throughput {
	st := <-s.stats
	cur := s.current
	s.stats <- st
	return cur
}
