package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/preproc/step"
	"github.com/Iron-Ham/ppline/internal/taskqueue"
	"github.com/Iron-Ham/ppline/internal/variant"
)

func TestTrimmedValue(t *testing.T) {
	m := newManager(t, 2, WithEngine(step.New()))
	addItem(m, preproc.DefinitionConfig{ItemID: 1, ValueType: preproc.ValueTypeStr, Steps: steps(preproc.StepTrim)})

	submit(t, m, 1, "  5 ")

	got := collect(t, m, 1)
	if got[0].itemID != 1 || !got[0].value.Equal(variant.Str("5")) {
		t.Errorf("result = %d %s, want 1 str:\"5\"", got[0].itemID, got[0].value.Describe())
	}
}

func TestDependentAfterMaster(t *testing.T) {
	m := newManager(t, 2, WithEngine(step.New()))
	addItem(m, preproc.DefinitionConfig{
		ItemID:     1,
		ValueType:  preproc.ValueTypeStr,
		Mode:       preproc.ModeSerial,
		Dependents: []uint64{2},
	})
	addItem(m, preproc.DefinitionConfig{
		ItemID:    2,
		ValueType: preproc.ValueTypeUint64,
		Steps:     []preproc.Step{{Type: preproc.StepMultiplier, Params: "2"}},
	})

	submit(t, m, 1, "3")

	got := collect(t, m, 2)
	if got[0].itemID != 1 || got[0].value.String() != "3" {
		t.Errorf("first result = %d %s, want master value 3", got[0].itemID, got[0].value.Describe())
	}
	if got[1].itemID != 2 || got[1].value.String() != "6" {
		t.Errorf("second result = %d %s, want dependent value 6", got[1].itemID, got[1].value.Describe())
	}
}

func TestSerialOrder(t *testing.T) {
	m := newManager(t, 4, WithEngine(step.New()))
	addItem(m, preproc.DefinitionConfig{
		ItemID:    1,
		ValueType: preproc.ValueTypeStr,
		Mode:      preproc.ModeSerial,
		Steps:     steps(preproc.StepTrim),
	})

	submit(t, m, 1, "1", "2")

	got := valuesOf(collect(t, m, 2), 1)
	if !slices.Equal(got, []string{"1", "2"}) {
		t.Errorf("results = %v, want [1 2]", got)
	}
}

// trackingEngine records the maximum number of concurrent runs per item and
// the order in which values were processed.
type trackingEngine struct {
	mu      sync.Mutex
	running map[uint64]int
	maxRun  map[uint64]int
	order   map[uint64][]string
	delay   time.Duration
}

func newTrackingEngine(delay time.Duration) *trackingEngine {
	return &trackingEngine{
		running: make(map[uint64]int),
		maxRun:  make(map[uint64]int),
		order:   make(map[uint64][]string),
		delay:   delay,
	}
}

func (e *trackingEngine) Execute(def *preproc.Definition, cache *preproc.Cache, value variant.Value, _ time.Time,
	_ *preproc.History, _ bool) preproc.Outcome {
	if value.IsNone() && cache != nil {
		value = cache.Value()
	}
	id := def.ItemID()

	e.mu.Lock()
	e.running[id]++
	e.maxRun[id] = max(e.maxRun[id], e.running[id])
	e.order[id] = append(e.order[id], value.String())
	e.mu.Unlock()

	time.Sleep(e.delay)

	e.mu.Lock()
	e.running[id]--
	e.mu.Unlock()
	return preproc.Outcome{Value: value}
}

func (e *trackingEngine) maxConcurrent(id uint64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxRun[id]
}

func TestSerialExclusivity(t *testing.T) {
	eng := newTrackingEngine(time.Millisecond)
	m := newManager(t, 4, WithEngine(eng))
	addItem(m, preproc.DefinitionConfig{ItemID: 7, Mode: preproc.ModeSerial, Steps: steps(preproc.StepTrim)})

	want := make([]string, 30)
	for i := range want {
		want[i] = fmt.Sprint(i)
	}
	submit(t, m, 7, want...)

	got := valuesOf(collect(t, m, len(want)), 7)
	if !slices.Equal(got, want) {
		t.Errorf("results out of order: %v", got)
	}
	if n := eng.maxConcurrent(7); n != 1 {
		t.Errorf("serial item ran %d values concurrently", n)
	}
}

// barrierEngine blocks every run until n runs are in flight at once, or a
// timeout passes.
type barrierEngine struct {
	n       int
	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	reached atomic.Bool
}

func newBarrierEngine(n int) *barrierEngine {
	e := &barrierEngine{n: n}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *barrierEngine) Execute(_ *preproc.Definition, _ *preproc.Cache, value variant.Value, _ time.Time,
	_ *preproc.History, _ bool) preproc.Outcome {
	timeout := time.AfterFunc(2*time.Second, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer timeout.Stop()

	start := time.Now()
	e.mu.Lock()
	e.arrived++
	if e.arrived >= e.n {
		e.reached.Store(true)
		e.cond.Broadcast()
	}
	for !e.reached.Load() && time.Since(start) < 2*time.Second {
		e.cond.Wait()
	}
	e.mu.Unlock()
	return preproc.Outcome{Value: value}
}

func TestParallelIndependence(t *testing.T) {
	eng := newBarrierEngine(2)
	m := newManager(t, 2, WithEngine(eng))
	addItem(m, preproc.DefinitionConfig{ItemID: 1, Mode: preproc.ModeParallel, Steps: steps(preproc.StepTrim)})

	tasks := []taskqueue.Task{
		m.CreateTask(1, variant.Str("a"), time.Now(), nil),
		m.CreateTask(1, variant.Str("b"), time.Now(), nil),
	}
	m.QueueValue(tasks...)

	collect(t, m, 2)
	if !eng.reached.Load() {
		t.Error("values of a parallel item did not run concurrently")
	}
}

func TestFanOutSkipsRemovedDependents(t *testing.T) {
	m := newManager(t, 2, WithEngine(step.New()))
	addItem(m, preproc.DefinitionConfig{ItemID: 1, Dependents: []uint64{2, 3, 4}})
	addItem(m, preproc.DefinitionConfig{ItemID: 2})
	addItem(m, preproc.DefinitionConfig{ItemID: 3})
	addItem(m, preproc.DefinitionConfig{ItemID: 4})
	m.Items().Delete(4)

	submit(t, m, 1, "v")

	got := collect(t, m, 3)
	seen := map[uint64]string{}
	for _, r := range got {
		seen[r.itemID] = r.value.String()
	}
	for _, id := range []uint64{1, 2, 3} {
		if seen[id] != "v" {
			t.Errorf("item %d result = %q, want v", id, seen[id])
		}
	}
	if _, ok := seen[4]; ok {
		t.Error("removed dependent received a value")
	}

	// Nothing else may finish for the removed item.
	time.Sleep(20 * time.Millisecond)
	if extra, _ := m.ProcessFinished(0); len(extra) != 0 {
		for _, task := range extra {
			task.Release()
		}
		t.Errorf("unexpected %d extra tasks", len(extra))
	}
}

func TestFanOutSkipsDependentRemovedWhileMasterRuns(t *testing.T) {
	base := step.New()
	var m *Manager
	eng := preproc.EngineFunc(func(def *preproc.Definition, cache *preproc.Cache, value variant.Value, ts time.Time,
		history *preproc.History, withResults bool) preproc.Outcome {
		if def.ItemID() == 1 {
			m.Items().Delete(3)
		}
		return base.Execute(def, cache, value, ts, history, withResults)
	})
	m = newManager(t, 2, WithEngine(eng))
	addItem(m, preproc.DefinitionConfig{ItemID: 1, Dependents: []uint64{2, 3}})
	addItem(m, preproc.DefinitionConfig{ItemID: 2})
	addItem(m, preproc.DefinitionConfig{ItemID: 3})

	// The task is created while item 3 still exists.
	submit(t, m, 1, "v")

	got := collect(t, m, 2)
	if vals := valuesOf(got, 2); !slices.Equal(vals, []string{"v"}) {
		t.Errorf("item 2 results = %v, want [v]", vals)
	}
	if vals := valuesOf(got, 3); len(vals) != 0 {
		t.Errorf("removed dependent received %v", vals)
	}

	time.Sleep(20 * time.Millisecond)
	if extra, _ := m.ProcessFinished(0); len(extra) != 0 {
		for _, task := range extra {
			task.Release()
		}
		t.Errorf("unexpected %d extra tasks", len(extra))
	}
}

func TestNoFanOutOfErrors(t *testing.T) {
	m := newManager(t, 1, WithEngine(step.New()))
	addItem(m, preproc.DefinitionConfig{
		ItemID:     1,
		Steps:      []preproc.Step{{Type: preproc.StepMultiplier, Params: "2"}},
		Dependents: []uint64{2},
	})
	addItem(m, preproc.DefinitionConfig{ItemID: 2})

	submit(t, m, 1, "abc")

	got := collect(t, m, 1)
	if !got[0].value.IsError() {
		t.Fatalf("master result = %s, want error", got[0].value.Describe())
	}

	time.Sleep(20 * time.Millisecond)
	if extra, _ := m.ProcessFinished(0); len(extra) != 0 {
		for _, task := range extra {
			task.Release()
		}
		t.Error("dependent queued for an error value")
	}
}

func TestSharedCacheFanOut(t *testing.T) {
	tracker := &countingTracker{}
	m := newManager(t, 3, WithEngine(step.New()), WithCacheTracker(tracker))
	addItem(m, preproc.DefinitionConfig{ItemID: 1, Dependents: []uint64{2, 3, 4}})
	addItem(m, preproc.DefinitionConfig{ItemID: 2, Steps: []preproc.Step{{Type: preproc.StepJSONPath, Params: "$.a"}}})
	addItem(m, preproc.DefinitionConfig{ItemID: 3, Steps: []preproc.Step{{Type: preproc.StepJSONPath, Params: "$.b"}}})
	addItem(m, preproc.DefinitionConfig{ItemID: 4})

	submit(t, m, 1, `{"a":1,"b":"x"}`)

	got := collect(t, m, 4)
	want := map[uint64]string{1: `{"a":1,"b":"x"}`, 2: "1", 3: "x", 4: `{"a":1,"b":"x"}`}
	for _, r := range got {
		if want[r.itemID] != r.value.String() {
			t.Errorf("item %d = %s, want %q", r.itemID, r.value.Describe(), want[r.itemID])
		}
	}

	created, freed := tracker.created.Load(), tracker.freed.Load()
	if created == 0 {
		t.Fatal("no cache created for cacheable dependents")
	}
	if created != freed {
		t.Errorf("caches created = %d, freed = %d", created, freed)
	}
}

func TestDependentChain(t *testing.T) {
	m := newManager(t, 2, WithEngine(step.New()))
	addItem(m, preproc.DefinitionConfig{ItemID: 1, Dependents: []uint64{2}})
	addItem(m, preproc.DefinitionConfig{
		ItemID:     2,
		Steps:      []preproc.Step{{Type: preproc.StepJSONPath, Params: "$.inner"}},
		Dependents: []uint64{3},
	})
	addItem(m, preproc.DefinitionConfig{ItemID: 3, Steps: []preproc.Step{{Type: preproc.StepJSONPath, Params: "$.v"}}})

	submit(t, m, 1, `{"inner":{"v":42}}`)

	got := collect(t, m, 3)
	if v := valuesOf(got, 3); !slices.Equal(v, []string{"42"}) {
		t.Errorf("grandchild results = %v, want [42]", v)
	}
}

func TestCreateTaskDirect(t *testing.T) {
	m := newManager(t, 1)
	addItem(m, preproc.DefinitionConfig{ItemID: 1})
	addItem(m, preproc.DefinitionConfig{ItemID: 2, Steps: steps(preproc.StepTrim)})

	tests := []struct {
		name   string
		itemID uint64
		value  variant.Value
		task   bool
	}{
		{"no steps or dependents", 1, variant.Str("x"), false},
		{"unknown item", 99, variant.Str("x"), false},
		{"empty value", 2, variant.None(), false},
		{"with steps", 2, variant.Str("x"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := m.CreateTask(tt.itemID, tt.value, time.Now(), nil)
			if (task != nil) != tt.task {
				t.Fatalf("CreateTask() = %v, want task: %v", task, tt.task)
			}
			if task != nil {
				task.Release()
			}
		})
	}
}

func TestQueueTestReplies(t *testing.T) {
	m := newManager(t, 1, WithEngine(step.New()))

	def := preproc.NewDefinition(preproc.DefinitionConfig{
		ItemID: 100,
		Steps: []preproc.Step{
			{Type: preproc.StepTrim},
			{Type: preproc.StepMultiplier, Params: "10"},
		},
	})
	defer def.Release()

	replies := make(chan taskqueue.TestResult, 1)
	client := taskqueue.TestClientFunc(func(r taskqueue.TestResult) { replies <- r })
	history := preproc.NewHistory(1)
	history.Add(5, variant.Str("keep"), time.Now())

	m.QueueTest(def, variant.Str(" 4 "), time.Now(), client, history)

	deadline := time.After(5 * time.Second)
	for {
		tasks, _ := m.ProcessFinished(0)
		for _, task := range tasks {
			if tt, ok := task.(*taskqueue.TestTask); ok {
				tt.Reply()
			}
			task.Release()
		}
		select {
		case r := <-replies:
			if r.Value.String() != "40" {
				t.Errorf("test value = %s, want 40", r.Value.Describe())
			}
			if len(r.Results) != 2 {
				t.Errorf("got %d step results, want 2", len(r.Results))
			}
			if history.Len() != 1 {
				t.Error("caller history modified by test")
			}
			return
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("no test reply")
		}
	}
}

func TestStartupTimeout(t *testing.T) {
	mock := clock.NewMock()
	stuck := func(ctx context.Context, worker int) error {
		if worker == 1 {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		m, err := New(3, WithClock(mock), WithWorkerInit(stuck), WithStartupTimeout(5*time.Second))
		if m != nil {
			m.Close()
		}
		done <- err
	}()

	for {
		select {
		case err := <-done:
			if !errors.Is(err, errors.ErrStartupTimeout) {
				t.Fatalf("New() error = %v, want startup timeout", err)
			}
			var merr *errors.ManagerError
			if !errors.As(err, &merr) || merr.Wanted != 3 || merr.Started != 1 {
				t.Errorf("error = %v, want 1 of 3 workers started", err)
			}
			return
		default:
			mock.Add(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestWorkerInitFailure(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(3, WithWorkerInit(func(_ context.Context, worker int) error {
		if worker == 2 {
			return boom
		}
		return nil
	}))

	if !errors.Is(err, errors.ErrWorkerInit) {
		t.Fatalf("New() error = %v, want worker init failure", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("New() error = %v, want cause preserved", err)
	}
	var merr *errors.ManagerError
	if errors.As(err, &merr) && merr.Worker != 2 {
		t.Errorf("failing worker = %d, want 2", merr.Worker)
	}
}

func TestNewInvalidWorkerCount(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) succeeded")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := event.NewBus(nil)
	var stopped atomic.Int32
	bus.Subscribe(event.TypeManagerStopped, func(event.Event) { stopped.Add(1) })

	m, err := New(2, WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}
	addItem(m, preproc.DefinitionConfig{ItemID: 1, Steps: steps(preproc.StepTrim)})
	m.Close()
	m.Close()

	if stopped.Load() != 1 {
		t.Errorf("stopped events = %d, want 1", stopped.Load())
	}
}
