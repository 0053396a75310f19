// Package metrics exports pipeline diagnostics as Prometheus metrics.
//
// Queue counters and worker usage are read from the pipeline when scraped.
// Value throughput and item reloads are accumulated from bus events.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/pipeline"
)

const namespace = "ppline"

// Source is the part of the pipeline manager read on every scrape.
type Source interface {
	GetDiagStats() pipeline.DiagStats
	GetWorkerUsage() []float64
}

// Collector implements prometheus.Collector over a pipeline manager.
type Collector struct {
	src Source

	items     *prometheus.Desc
	tasks     *prometheus.Desc
	sequences *prometheus.Desc
	workers   *prometheus.Desc
	usage     *prometheus.Desc

	values    *prometheus.CounterVec
	reloads   *prometheus.CounterVec
	logLevels prometheus.Counter

	mu   sync.Mutex
	subs []string
}

// NewCollector creates a collector reading src.
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		items: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "items"),
			"Configured items.",
			nil, nil,
		),
		tasks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "tasks"),
			"Tasks in the preprocessing queue by state.",
			[]string{"state"}, nil,
		),
		sequences: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "sequences"),
			"Serial items with queued tasks.",
			nil, nil,
		),
		workers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "workers"),
			"Registered preprocessing workers.",
			nil, nil,
		),
		usage: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "worker", "usage_ratio"),
			"Share of time the worker spent processing over the last minute.",
			[]string{"worker"}, nil,
		),
		values: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_total",
			Help:      "Values handled by the preprocessing manager by path.",
		}, []string{"path"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_reloads_total",
			Help:      "Item configuration reloads by result.",
		}, []string{"result"}),
		logLevels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_log_level_changes_total",
			Help:      "Runtime worker log level changes.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.tasks
	ch <- c.sequences
	ch <- c.workers
	ch <- c.usage
	c.values.Describe(ch)
	c.reloads.Describe(ch)
	c.logLevels.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.GetDiagStats()

	ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(st.Items))
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.GaugeValue, float64(st.Pending), "pending")
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.GaugeValue, float64(st.Processing), "processing")
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.GaugeValue, float64(st.Finished), "finished")
	ch <- prometheus.MustNewConstMetric(c.sequences, prometheus.GaugeValue, float64(st.Sequences))
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(st.Workers))

	for i, u := range c.src.GetWorkerUsage() {
		ch <- prometheus.MustNewConstMetric(c.usage, prometheus.GaugeValue, u, strconv.Itoa(i+1))
	}

	c.values.Collect(ch)
	c.reloads.Collect(ch)
	c.logLevels.Collect(ch)
}

// Subscribe feeds the event counters from bus until Unsubscribe.
func (c *Collector) Subscribe(bus *event.Bus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs = append(c.subs,
		bus.Subscribe(event.TypeThroughput, func(e event.Event) {
			if te, ok := e.(event.ThroughputEvent); ok {
				c.values.WithLabelValues("queued").Add(float64(te.Queued))
				c.values.WithLabelValues("direct").Add(float64(te.Direct))
				c.values.WithLabelValues("processed").Add(float64(te.Processed))
				c.values.WithLabelValues("finished").Add(float64(te.Finished))
			}
		}),
		bus.Subscribe(event.TypeItemsReloaded, func(event.Event) {
			c.reloads.WithLabelValues("ok").Inc()
		}),
		bus.Subscribe(event.TypeItemsReloadFailed, func(event.Event) {
			c.reloads.WithLabelValues("failed").Inc()
		}),
		bus.Subscribe(event.TypeWorkerLogLevelChanged, func(event.Event) {
			c.logLevels.Inc()
		}),
	)
}

// Unsubscribe removes the subscriptions made on bus.
func (c *Collector) Unsubscribe(bus *event.Bus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.subs {
		bus.Unsubscribe(id)
	}
	c.subs = nil
}

// NewRegistry returns a registry holding c and the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
