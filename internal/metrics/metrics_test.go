package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/pipeline"
)

type fakeSource struct {
	stats pipeline.DiagStats
	usage []float64
}

func (f *fakeSource) GetDiagStats() pipeline.DiagStats { return f.stats }
func (f *fakeSource) GetWorkerUsage() []float64        { return f.usage }

func TestCollectorGauges(t *testing.T) {
	src := &fakeSource{
		stats: pipeline.DiagStats{Items: 12, Pending: 3, Processing: 2, Finished: 1, Sequences: 1, Workers: 2},
		usage: []float64{0.25, 1},
	}
	c := NewCollector(src)

	expected := `
# HELP ppline_items Configured items.
# TYPE ppline_items gauge
ppline_items 12
# HELP ppline_queue_sequences Serial items with queued tasks.
# TYPE ppline_queue_sequences gauge
ppline_queue_sequences 1
# HELP ppline_queue_tasks Tasks in the preprocessing queue by state.
# TYPE ppline_queue_tasks gauge
ppline_queue_tasks{state="finished"} 1
ppline_queue_tasks{state="pending"} 3
ppline_queue_tasks{state="processing"} 2
# HELP ppline_worker_usage_ratio Share of time the worker spent processing over the last minute.
# TYPE ppline_worker_usage_ratio gauge
ppline_worker_usage_ratio{worker="1"} 0.25
ppline_worker_usage_ratio{worker="2"} 1
# HELP ppline_workers Registered preprocessing workers.
# TYPE ppline_workers gauge
ppline_workers 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"ppline_items", "ppline_queue_sequences", "ppline_queue_tasks",
		"ppline_worker_usage_ratio", "ppline_workers")
	if err != nil {
		t.Error(err)
	}
}

func TestCollectorReadsOnScrape(t *testing.T) {
	src := &fakeSource{}
	c := NewCollector(src)

	if n := testutil.CollectAndCount(c, "ppline_worker_usage_ratio"); n != 0 {
		t.Errorf("usage series = %d, want 0", n)
	}

	src.usage = []float64{0, 0, 0}
	src.stats.Items = 4
	if n := testutil.CollectAndCount(c, "ppline_worker_usage_ratio"); n != 3 {
		t.Errorf("usage series = %d, want 3", n)
	}
}

func TestCollectorEvents(t *testing.T) {
	c := NewCollector(&fakeSource{})
	bus := event.NewBus(nil)
	c.Subscribe(bus)

	bus.Publish(event.NewThroughputEvent(10, 2, 9, 8, 1, 0))
	bus.Publish(event.NewThroughputEvent(5, 0, 5, 5, 0, 0))
	bus.Publish(event.NewItemsReloadedEvent("items.yaml", 1, 3, 0, 0))
	bus.Publish(event.NewItemsReloadFailedEvent("items.yaml", errors.New("broken")))
	bus.Publish(event.NewWorkerLogLevelChangedEvent(1, "DEBUG"))

	checks := []struct {
		path string
		want float64
	}{
		{"queued", 15},
		{"direct", 2},
		{"processed", 13},
		{"finished", 14},
	}
	for _, tc := range checks {
		if got := testutil.ToFloat64(c.values.WithLabelValues(tc.path)); got != tc.want {
			t.Errorf("values_total{path=%q} = %v, want %v", tc.path, got, tc.want)
		}
	}
	if got := testutil.ToFloat64(c.reloads.WithLabelValues("ok")); got != 1 {
		t.Errorf("reloads ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.reloads.WithLabelValues("failed")); got != 1 {
		t.Errorf("reloads failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.logLevels); got != 1 {
		t.Errorf("log level changes = %v, want 1", got)
	}

	c.Unsubscribe(bus)
	bus.Publish(event.NewItemsReloadedEvent("items.yaml", 2, 0, 0, 0))
	if got := testutil.ToFloat64(c.reloads.WithLabelValues("ok")); got != 1 {
		t.Errorf("reloads ok after unsubscribe = %v, want 1", got)
	}
	if n := bus.SubscriptionCount(); n != 0 {
		t.Errorf("subscriptions left = %d", n)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry(NewCollector(&fakeSource{usage: []float64{0.5}}))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"ppline_items", "ppline_worker_usage_ratio", "go_goroutines"} {
		if !names[want] {
			t.Errorf("registry is missing %s", want)
		}
	}
}
