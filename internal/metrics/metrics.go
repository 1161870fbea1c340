// Package metrics exposes engine counters on a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slot_ledger"

// Slot outcomes recorded per processor
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeContended = "contended"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	ticks           *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec
	slotsProcessed  *prometheus.CounterVec
	integrityAlerts *prometheus.CounterVec
	wsConnections   prometheus.Gauge
	droppedEvents   *prometheus.CounterVec
	claimRequests   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_ticks_total",
			Help:      "Processor ticks by processor and result.",
		}, []string{"processor", "result"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_tick_duration_seconds",
			Help:      "Wall time of a processor tick.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"processor"}),
		slotsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_processed_total",
			Help:      "Slots handled by a processor, by outcome.",
		}, []string{"processor", "outcome"}),
		integrityAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_alerts_total",
			Help:      "Clamped or rejected accrual steps, by kind.",
		}, []string{"kind"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket client connections.",
		}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events or messages dropped because a buffer was full.",
		}, []string{"subscriber"}),
		claimRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manual_claims_total",
			Help:      "Manual claim requests by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks,
		m.tickDuration,
		m.slotsProcessed,
		m.integrityAlerts,
		m.wsConnections,
		m.droppedEvents,
		m.claimRequests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(processor string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ticks.WithLabelValues(processor, result).Inc()
	m.tickDuration.WithLabelValues(processor).Observe(took.Seconds())
}

func (m *Metrics) ObserveTickSkipped(processor string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(processor, "skipped").Inc()
}

func (m *Metrics) CountSlot(processor, outcome string) {
	if m == nil {
		return
	}
	m.slotsProcessed.WithLabelValues(processor, outcome).Inc()
}

func (m *Metrics) CountAlert(kind string) {
	if m == nil {
		return
	}
	m.integrityAlerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

func (m *Metrics) CountDropped(subscriber string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) CountClaimRequest(result string) {
	if m == nil {
		return
	}
	m.claimRequests.WithLabelValues(result).Inc()
}
