package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the workflow engine. A nil *Metrics records nothing.
type Metrics struct {
	Executions       *prometheus.CounterVec
	ExecuteDuration  *prometheus.HistogramVec
	CascadeRetries   prometheus.Counter
	CascadeFailures  prometheus.Counter
	CasesClosed      prometheus.Counter
	DecisionsSigned  prometheus.Counter
	ProjectionErrors prometheus.Counter
}

// New registers workflow metrics on reg. A nil reg builds unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_workflow_executions_total",
			Help: "Workflow engine calls by operation and outcome",
		}, []string{"op", "outcome"}),
		ExecuteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docket_workflow_execute_duration_seconds",
			Help:    "Duration of workflow engine calls, audit write included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
		CascadeRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_workflow_tx_retries_total",
			Help: "Transactions replayed after a serialization failure or cascade failure",
		}),
		CascadeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_workflow_cascade_failures_total",
			Help: "Cascades surfaced as failed after all attempts",
		}),
		CasesClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_workflow_cases_closed_total",
			Help: "Cases moved out of the open status",
		}),
		DecisionsSigned: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_workflow_decisions_signed_total",
			Help: "Decisions signed",
		}),
		ProjectionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "docket_workflow_projection_errors_total",
			Help: "Read projections that failed on a storage error",
		}),
	}
}

// ObserveExecute records one engine call. Call with time.Now() taken at the start.
func (m *Metrics) ObserveExecute(op, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(op, outcome).Inc()
	m.ExecuteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRetry() {
	if m == nil {
		return
	}
	m.CascadeRetries.Inc()
}

func (m *Metrics) IncrementCascadeFailure() {
	if m == nil {
		return
	}
	m.CascadeFailures.Inc()
}

func (m *Metrics) IncrementCaseClosed() {
	if m == nil {
		return
	}
	m.CasesClosed.Inc()
}

func (m *Metrics) IncrementDecisionSigned() {
	if m == nil {
		return
	}
	m.DecisionsSigned.Inc()
}

func (m *Metrics) IncrementProjectionError() {
	if m == nil {
		return
	}
	m.ProjectionErrors.Inc()
}
