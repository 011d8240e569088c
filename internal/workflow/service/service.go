// Package service is the workflow engine: the only entry point that mutates complaints,
// cases, assignments and decisions. Every Execute call runs authorize, state-machine
// validation, cascade and persistence in one transaction and writes exactly one audit
// record, whatever the outcome.
package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"docket/internal/platform/tracing"
	"docket/internal/workflow/directory"
	"docket/internal/workflow/machine"
	"docket/internal/workflow/metrics"
	"docket/internal/workflow/models"
	"docket/internal/workflow/policy"
	id "docket/pkg/domain"
	"docket/pkg/platform/audit"
)

const defaultAttempts = 3

// Store is the persistence collaborator. Lock* methods take row locks and are only called
// inside RunInTx.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	FindUser(ctx context.Context, userID id.UserID) (*models.User, error)

	CreateComplaint(ctx context.Context, c *models.Complaint) error
	FindComplaint(ctx context.Context, complaintID id.ComplaintID) (*models.Complaint, error)
	LockComplaint(ctx context.Context, complaintID id.ComplaintID) (*models.Complaint, error)
	SaveComplaint(ctx context.Context, c *models.Complaint) error
	DeleteComplaint(ctx context.Context, complaintID id.ComplaintID) error
	ListComplaints(ctx context.Context, scope models.Scope) ([]*models.Complaint, error)

	CreateCase(ctx context.Context, c *models.Case) error
	FindCase(ctx context.Context, caseID id.CaseID) (*models.Case, error)
	LockCase(ctx context.Context, caseID id.CaseID) (*models.Case, error)
	SaveCase(ctx context.Context, c *models.Case) error
	ListCases(ctx context.Context, scope models.Scope) ([]*models.Case, error)

	CreateDecision(ctx context.Context, d *models.Decision) error
	FindDecision(ctx context.Context, decisionID id.DecisionID) (*models.Decision, error)
	LockDecision(ctx context.Context, decisionID id.DecisionID) (*models.Decision, error)
	SaveDecision(ctx context.Context, d *models.Decision) error
	DeleteDecision(ctx context.Context, decisionID id.DecisionID) error
	ListDecisionsByCase(ctx context.Context, caseID id.CaseID) ([]*models.Decision, error)

	CreateAssignment(ctx context.Context, a *models.Assignment) error
	SaveAssignment(ctx context.Context, a *models.Assignment) error
	FindActiveAssignment(ctx context.Context, caseID id.CaseID, userID id.UserID, role models.FunctionalRole) (*models.Assignment, error)
	ListActiveAssignments(ctx context.Context, caseID id.CaseID, userID id.UserID) ([]*models.Assignment, error)
	ListActiveAssignmentsForUser(ctx context.Context, userID id.UserID) ([]*models.Assignment, error)
	ListCaseAssignments(ctx context.Context, caseID id.CaseID) ([]*models.Assignment, error)
}

// AuditRecorder writes the one audit record of a call. It never fails the call.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// AuditReader serves the admin audit listing.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Record, error)
	ListByActor(ctx context.Context, actor id.UserID, limit int) ([]audit.Record, error)
}

// Engine is the workflow façade.
type Engine struct {
	store      Store
	table      *policy.Table
	evaluator  *policy.Evaluator
	complaints *machine.ComplaintMachine
	cases      *machine.CaseMachine
	directory  *directory.Directory
	recorder   AuditRecorder
	auditLog   AuditReader
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	attempts   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithAuditRecorder sets where call outcomes are recorded.
func WithAuditRecorder(r AuditRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithAuditReader enables the admin audit listing.
func WithAuditReader(r AuditReader) Option {
	return func(e *Engine) {
		e.auditLog = r
	}
}

// WithDirectory replaces the directory built over the store.
func WithDirectory(d *directory.Directory) Option {
	return func(e *Engine) {
		e.directory = d
	}
}

// WithAttempts sets how many times a transaction is run before a retryable failure is
// surfaced. Values below one are ignored.
func WithAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// New builds an engine over store and the procedural table.
func New(store Store, table *policy.Table, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		table:      table,
		evaluator:  policy.NewEvaluator(table),
		complaints: machine.NewComplaintMachine(table),
		cases:      machine.NewCaseMachine(table),
		logger:     slog.Default(),
		tracer:     tracing.Tracer("docket/workflow"),
		attempts:   defaultAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.directory == nil {
		e.directory = directory.New(store)
	}
	if e.recorder == nil {
		e.recorder = discardRecorder{}
	}
	return e
}

type discardRecorder struct{}

func (discardRecorder) Record(context.Context, audit.Entry) {}
