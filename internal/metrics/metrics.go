// Package metrics exposes Prometheus instrumentation on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omc"

// Collector groups every metric the server records.
type Collector struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	records       *prometheus.GaugeVec
	commitRetries prometheus.Counter
	eventsDropped *prometheus.CounterVec
	wsClients     prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Maintenance operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time spent in maintenance operations, store round trips included.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "records",
				Help:      "Records per derived status as of the last listing.",
			},
			[]string{"status"},
		),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_retries_total",
			Help:      "Completion commits retried after losing a booking race.",
		}),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events a slow subscriber could not take.",
			},
			[]string{"type"},
		),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}

	c.registry.MustRegister(
		c.operations, c.duration, c.records, c.commitRetries, c.eventsDropped, c.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Observe records one finished operation. outcome is "ok" or an error kind.
func (c *Collector) Observe(operation, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SetStatusCounts replaces the per-status record gauges.
func (c *Collector) SetStatusCounts(counts map[maintenance.Status]int) {
	if c == nil {
		return
	}
	for _, s := range []maintenance.Status{maintenance.StatusPending, maintenance.StatusScheduled, maintenance.StatusCompleted} {
		c.records.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func (c *Collector) CommitRetried() {
	if c == nil {
		return
	}
	c.commitRetries.Inc()
}

func (c *Collector) EventDropped(eventType string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(eventType).Inc()
}

func (c *Collector) SetWebsocketClients(n int) {
	if c == nil {
		return
	}
	c.wsClients.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry is exposed for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
