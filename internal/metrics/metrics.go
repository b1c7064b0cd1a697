// Package metrics exposes relay counters on a private prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaybot"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry   *prometheus.Registry
	events     *prometheus.CounterVec
	rejected   prometheus.Counter
	aiDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by route and outcome status.",
		}, []string{"route", "status"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_rejected_total",
			Help:      "Events refused because the worker pool was saturated.",
		}),
		aiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Latency of AI backend calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"capability", "result"}),
	}
	m.registry.MustRegister(
		m.events,
		m.rejected,
		m.aiDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveEvent counts one dispatched event.
func (m *Metrics) ObserveEvent(route, status string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(route, status).Inc()
}

func (m *Metrics) SchedulerRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// ObserveAI records one backend call. capability is "text" or "vision".
func (m *Metrics) ObserveAI(capability string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.aiDuration.WithLabelValues(capability, result).Observe(time.Since(start).Seconds())
}

// TrackSessions exports the live session count read from fn at scrape time.
func (m *Metrics) TrackSessions(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Live conversation sessions held in memory.",
	}, func() float64 { return float64(fn()) }))
}

// TrackPending exports the scheduler backlog read from fn at scrape time.
func (m *Metrics) TrackPending(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_pending",
		Help:      "Jobs accepted by the scheduler and not yet finished.",
	}, func() float64 { return float64(fn()) }))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
