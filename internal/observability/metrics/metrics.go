package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters, gauges and histograms for live assessment sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionsActive prometheus.Gauge
	eventsTotal    *prometheus.CounterVec
	aiCallsTotal   *prometheus.CounterVec
	aiCallSeconds  *prometheus.HistogramVec
	partAdvances   *prometheus.CounterVec
	archiveSaves   *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "examroom",
			Name:      "sessions_active",
			Help:      "Live websocket sessions",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examroom",
			Name:      "events_total",
			Help:      "Inbound client events by name",
		}, []string{"event"}),
		aiCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examroom",
			Name:      "ai_calls_total",
			Help:      "Upstream AI calls by operation and outcome",
		}, []string{"op", "outcome"}),
		aiCallSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "examroom",
			Name:      "ai_call_seconds",
			Help:      "Latency of upstream AI calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		partAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examroom",
			Name:      "part_advances_total",
			Help:      "Part transitions by trigger",
		}, []string{"reason"}),
		archiveSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examroom",
			Name:      "archive_saves_total",
			Help:      "Session archive writes by status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sessionsActive, m.eventsTotal, m.aiCallsTotal, m.aiCallSeconds, m.partAdvances, m.archiveSaves)
	return m
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// ObserveEvent counts one inbound event.
func (m *Metrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event).Inc()
}

// ObserveAICall records one upstream call. outcome is "ok" or "fallback".
func (m *Metrics) ObserveAICall(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.aiCallsTotal.WithLabelValues(op, outcome).Inc()
	m.aiCallSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObservePartAdvance records a transition; reason is "scheduled" or "requested".
func (m *Metrics) ObservePartAdvance(reason string) {
	if m == nil {
		return
	}
	m.partAdvances.WithLabelValues(reason).Inc()
}

// ObserveArchiveSave counts a save by outcome.
func (m *Metrics) ObserveArchiveSave(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.archiveSaves.WithLabelValues(status).Inc()
}
