package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "creatorledger"

// Outcomes of a processor callback
const (
	EventApplied   = "applied"
	EventDuplicate = "duplicate"
	EventIgnored   = "ignored"
	EventAnomaly   = "anomaly"
	EventRejected  = "rejected"
	EventError     = "error"
)

// Metrics of the ledger. A nil *Metrics records nothing
type Metrics struct {
	registry *prometheus.Registry

	webhookEvents     *prometheus.CounterVec
	payoutTransitions *prometheus.CounterVec
	processorCalls    *prometheus.CounterVec
	processorLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Processor callbacks segmented by processor, event type and outcome.",
		}, []string{"processor", "type", "outcome"}),
		payoutTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "transitions_total",
			Help:      "Payout request status changes segmented by the new status.",
		}, []string{"status"}),
		processorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "calls_total",
			Help:      "Outbound processor call attempts segmented by processor and outcome.",
		}, []string{"processor", "outcome"}),
		processorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "call_duration_seconds",
			Help:      "Latency distribution of outbound processor call attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookEvents,
		m.payoutTransitions,
		m.processorCalls,
		m.processorLatency,
	)

	return m
}

// Handler exposes the registry in prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) WebhookEvent(processor string, eventType string, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(processor, eventType, outcome).Inc()
}

func (m *Metrics) PayoutTransition(status string) {
	if m == nil {
		return
	}
	m.payoutTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ProcessorCall(processor string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.processorCalls.WithLabelValues(processor, outcome).Inc()
	m.processorLatency.WithLabelValues(processor).Observe(duration.Seconds())
}
