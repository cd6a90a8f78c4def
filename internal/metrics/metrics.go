// Package metrics exposes the sync engine's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	EventsReceived  *prometheus.CounterVec // by topic
	EventsDuplicate prometheus.Counter
	EventsFailed    *prometheus.CounterVec // by topic
	EventsExhausted prometheus.Counter
	EchoesDropped   prometheus.Counter
	CentralUpdates  prometheus.Counter
	Pushes          *prometheus.CounterVec // by status
	PushLatencySec  prometheus.Histogram
	Conflicts       *prometheus.CounterVec // by type
	QueueDepth      prometheus.Gauge
	LedgerCleaned   prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	received := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stocksync_events_received_total"}, []string{"topic"})
	duplicate := prometheus.NewCounter(prometheus.CounterOpts{Name: "stocksync_events_duplicate_total"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stocksync_events_failed_total"}, []string{"topic"})
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{Name: "stocksync_events_exhausted_total"})
	echoes := prometheus.NewCounter(prometheus.CounterOpts{Name: "stocksync_echoes_dropped_total"})
	central := prometheus.NewCounter(prometheus.CounterOpts{Name: "stocksync_central_updates_total"})
	pushes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stocksync_pushes_total"}, []string{"status"})
	pushLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stocksync_push_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stocksync_conflicts_total"}, []string{"type"})
	depth := prometheus.NewGauge(prometheus.GaugeOpts{Name: "stocksync_queue_depth"})
	cleaned := prometheus.NewCounter(prometheus.CounterOpts{Name: "stocksync_ledger_cleaned_total"})

	r.MustRegister(received, duplicate, failed, exhausted, echoes, central, pushes, pushLatency, conflicts, depth, cleaned)
	return &Registry{
		reg:             r,
		EventsReceived:  received,
		EventsDuplicate: duplicate,
		EventsFailed:    failed,
		EventsExhausted: exhausted,
		EchoesDropped:   echoes,
		CentralUpdates:  central,
		Pushes:          pushes,
		PushLatencySec:  pushLatency,
		Conflicts:       conflicts,
		QueueDepth:      depth,
		LedgerCleaned:   cleaned,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
