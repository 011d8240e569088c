package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit trail. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Recorded        *prometheus.CounterVec
	WriteFailures   prometheus.Counter
	Redelivered     prometheus.Counter
	BufferDropped   prometheus.Counter
	BufferDepth     prometheus.Gauge
	AlertsPublished prometheus.Counter
	AlertsFallback  prometheus.Counter
	AlertBreaker    prometheus.Gauge
}

// NewMetrics registers audit metrics on reg. A nil reg builds unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_audit_records_total",
			Help: "Audit records persisted, by outcome",
		}, []string{"outcome"}),
		WriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_audit_write_failures_total",
			Help: "Audit appends that failed and were queued for redelivery",
		}),
		Redelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_audit_redelivered_total",
			Help: "Queued audit records persisted by the redelivery worker",
		}),
		BufferDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_audit_buffer_dropped_total",
			Help: "Queued audit records lost because the redelivery buffer was full",
		}),
		BufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "docket_audit_buffer_depth",
			Help: "Audit records waiting for redelivery",
		}),
		AlertsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_audit_alerts_published_total",
			Help: "Audit failure alerts published to the alert topic",
		}),
		AlertsFallback: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_audit_alerts_fallback_total",
			Help: "Audit failure alerts written to the log because the broker was unavailable",
		}),
		AlertBreaker: f.NewGauge(prometheus.GaugeOpts{
			Name: "docket_audit_alert_breaker_state",
			Help: "Alert publisher circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncRecorded(outcome Outcome) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) IncWriteFailures() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}

func (m *Metrics) IncRedelivered(n int) {
	if m == nil {
		return
	}
	m.Redelivered.Add(float64(n))
}

func (m *Metrics) IncBufferDropped() {
	if m == nil {
		return
	}
	m.BufferDropped.Inc()
}

func (m *Metrics) SetBufferDepth(n int) {
	if m == nil {
		return
	}
	m.BufferDepth.Set(float64(n))
}

func (m *Metrics) IncAlertsPublished() {
	if m == nil {
		return
	}
	m.AlertsPublished.Inc()
}

func (m *Metrics) IncAlertsFallback() {
	if m == nil {
		return
	}
	m.AlertsFallback.Inc()
}

func (m *Metrics) SetAlertBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.AlertBreaker.Set(1)
		return
	}
	m.AlertBreaker.Set(0)
}
