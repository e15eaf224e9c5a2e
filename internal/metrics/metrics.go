package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StagePublished is the stage label counted by the outbox relay once the
// broker acknowledged an event.
const StagePublished = "PUBLISHED"

type Registry struct {
	reg *prometheus.Registry

	// Pipeline
	Stages         *prometheus.CounterVec
	HandlerRetries prometheus.Counter
	DeadLettered   prometheus.Counter
	Duplicates     prometheus.Counter
	PersistSec     prometheus.Histogram

	// Outbox relay
	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter
	OutboxRejected  prometheus.Counter

	// Connection supervisor
	ConnectAttempts prometheus.Counter
	BrokerReady     prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_pipeline_stage_total",
		Help: "Messages that reached a processing stage.",
	}, []string{"stage"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{Name: "order_pipeline_handler_retries_total"})
	dlq := prometheus.NewCounter(prometheus.CounterOpts{Name: "order_pipeline_dead_lettered_total"})
	dups := prometheus.NewCounter(prometheus.CounterOpts{Name: "order_pipeline_duplicates_total"})
	persist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_pipeline_persist_seconds",
		Buckets: prometheus.DefBuckets,
	})
	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "order_outbox_published_total"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{Name: "order_outbox_publish_failed_total"})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_outbox_rejected_total",
		Help: "Outbox records the broker refused for good and that were parked.",
	})
	attempts := prometheus.NewCounter(prometheus.CounterOpts{Name: "order_broker_connect_attempts_total"})
	ready := prometheus.NewGauge(prometheus.GaugeOpts{Name: "order_broker_ready"})

	r.MustRegister(stages, retries, dlq, dups, persist, published, failed, rejected, attempts, ready)
	return &Registry{
		reg:             r,
		Stages:          stages,
		HandlerRetries:  retries,
		DeadLettered:    dlq,
		Duplicates:      dups,
		PersistSec:      persist,
		OutboxPublished: published,
		OutboxFailed:    failed,
		OutboxRejected:  rejected,
		ConnectAttempts: attempts,
		BrokerReady:     ready,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
