// Package metrics exports bus statistics to Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

// Namespace prefixes every exported metric.
const Namespace = "nilebus"

// Source supplies bus statistics. *event.Bus satisfies it.
type Source interface {
	Metrics() event.Metrics
}

// Collector reads a fresh snapshot from its source on every scrape.
type Collector struct {
	src Source

	published     *prometheus.Desc
	processed     *prometheus.Desc
	failed        *prometheus.Desc
	dropped       *prometheus.Desc
	avgProcessing *prometheus.Desc
	queueDepth    *prometheus.Desc
	historySize   *prometheus.Desc
	subscriptions *prometheus.Desc
	rules         *prometheus.Desc
}

// NewCollector returns a collector over src.
func NewCollector(src Source) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, nil, nil)
	}
	return &Collector{
		src:           src,
		published:     desc("events_published_total", "Events accepted by Publish."),
		processed:     desc("events_processed_total", "Events that completed their rule and subscription pass."),
		failed:        desc("handler_failures_total", "Rule actions and handlers that failed."),
		dropped:       desc("events_dropped_total", "Events lost to the queue overflow policy."),
		avgProcessing: desc("processing_time_avg_milliseconds", "Running mean processing time per event."),
		queueDepth:    desc("queue_depth", "Events waiting to be processed."),
		historySize:   desc("history_size", "Events held in the history buffer."),
		subscriptions: desc("subscriptions", "Registered subscriptions."),
		rules:         desc("rules", "Registered rules."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.published
	ch <- c.processed
	ch <- c.failed
	ch <- c.dropped
	ch <- c.avgProcessing
	ch <- c.queueDepth
	ch <- c.historySize
	ch <- c.subscriptions
	ch <- c.rules
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.published, m.Published)
	counter(c.processed, m.Processed)
	counter(c.failed, m.Failed)
	counter(c.dropped, m.Dropped)
	gauge(c.avgProcessing, m.AvgProcessingTime)
	gauge(c.queueDepth, float64(m.QueueDepth))
	gauge(c.historySize, float64(m.HistorySize))
	gauge(c.subscriptions, float64(m.Subscriptions))
	gauge(c.rules, float64(m.Rules))
}

// NewRegistry returns a registry holding the bus collector plus the Go
// runtime and process collectors.
func NewRegistry(src Source) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return reg, nil
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
