package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docket/internal/platform/tracing"
	"docket/internal/workflow/directory"
	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	"docket/internal/workflow/policy"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/audit"
	"docket/pkg/platform/sentinel"
	"docket/pkg/requestcontext"
)

// Result is the state a successful call left behind. Only the entities the operation
// touched are set.
type Result struct {
	Op         op.Kind
	Complaint  *models.Complaint
	Case       *models.Case
	Decision   *models.Decision
	Assignment *models.Assignment
	Deleted    bool
	// NoOp is set when the target was already in the requested state.
	NoOp bool
}

// Execute runs o for actor against target and records the outcome. target is the id of
// the entity named by o.Target(); it must be uuid.Nil for operations without a target.
func (e *Engine) Execute(ctx context.Context, actor id.UserID, target uuid.UUID, o op.Op) (*Result, error) {
	start := time.Now()
	kind, label := "unknown", "unknown"
	if o != nil {
		kind, label = string(o.Kind()), o.Label()
	}

	ctx, span := e.tracer.Start(ctx, "workflow.Execute", trace.WithAttributes(
		attribute.String(tracing.AttrOp, kind),
		attribute.String(tracing.AttrActorID, actor.String()),
	))
	defer span.End()

	res, err := e.execute(ctx, actor, target, o)
	outcome, reason := classify(err)
	ref := reference(o, target, res)

	e.record(ctx, actor, label, ref, outcome, reason)

	span.SetAttributes(
		attribute.String(tracing.AttrOutcome, string(outcome)),
		attribute.String(tracing.AttrTarget, ref),
	)
	e.metrics.ObserveExecute(kind, string(outcome), start)
	e.logOutcome(ctx, actor, label, ref, outcome, err)

	if err != nil {
		if outcome == audit.OutcomeError {
			tracing.RecordError(span, err)
		}
		return nil, err
	}
	e.observeCommitted(res)
	return res, nil
}

// Reject records a request refused before it could reach Execute, such as one with no
// valid token or one naming two different targets, and returns cause. The body of such
// a request is not trusted, so the audit action is the bare operation kind.
func (e *Engine) Reject(ctx context.Context, actor id.UserID, target uuid.UUID, o op.Op, cause error) error {
	if cause == nil {
		return nil
	}
	kind := "unknown"
	if o != nil {
		kind = string(o.Kind())
	}
	outcome, reason := classify(cause)
	ref := reference(o, target, nil)

	e.record(ctx, actor, kind, ref, outcome, reason)
	e.metrics.ObserveExecute(kind, string(outcome), time.Now())
	e.logOutcome(ctx, actor, kind, ref, outcome, cause)
	return cause
}

func (e *Engine) record(ctx context.Context, actor id.UserID, action, ref string, outcome audit.Outcome, reason string) {
	var actorID *id.UserID
	if !actor.IsNil() {
		actorID = &actor
	}
	e.recorder.Record(ctx, audit.Entry{
		ActorID: actorID,
		Action:  action,
		Target:  ref,
		Outcome: outcome,
		Reason:  reason,
	})
}

func (e *Engine) execute(ctx context.Context, actor id.UserID, target uuid.UUID, o op.Op) (*Result, error) {
	if o == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "operation is required")
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	switch {
	case o.Target() == op.TargetNone && target != uuid.Nil:
		return nil, dErrors.New(dErrors.CodeBadRequest, "operation takes no target id")
	case o.Target() != op.TargetNone && target == uuid.Nil:
		return nil, dErrors.New(dErrors.CodeBadRequest, string(o.Target())+" id is required")
	}

	now := requestcontext.Now(ctx)
	if actor.IsNil() {
		return nil, policy.Deny(policy.ReasonNoActor).Err()
	}

	call := e.directory.ForCall()
	user, err := call.User(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := e.evaluator.Authenticate(policy.Actor{User: user}, now).Err(); err != nil {
		return nil, err
	}

	var res *Result
	for attempt := 1; ; attempt++ {
		res, err = e.attempt(ctx, call, user, target, o, now)
		if err == nil || !retryable(err) || attempt >= e.attempts {
			break
		}
		e.metrics.IncrementRetry()
		tracing.AddEvent(trace.SpanFromContext(ctx), "retry",
			attribute.Int(tracing.AttrAttempt, attempt))
		e.logger.WarnContext(ctx, "retrying workflow transaction",
			"op", string(o.Kind()),
			"attempt", attempt,
			"error", err,
		)
	}
	if err != nil && retryable(err) {
		return nil, e.exhausted(o, err)
	}
	return res, err
}

// attempt runs one transaction. Only the actor's user record outlives an attempt; case
// roles are read under the case lock on every attempt.
func (e *Engine) attempt(ctx context.Context, call *directory.Call, user *models.User, target uuid.UUID, o op.Op, now time.Time) (*Result, error) {
	var res *Result
	err := e.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.apply(ctx, call, user, target, o, now)
		return err
	})
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	res.Op = o.Kind()
	return res, nil
}

func retryable(err error) bool {
	return errors.Is(err, sentinel.ErrRetryable) || dErrors.CodeOf(err) == dErrors.CodeCascadeFailed
}

func (e *Engine) exhausted(o op.Op, err error) error {
	if dErrors.CodeOf(err) == dErrors.CodeCascadeFailed {
		e.metrics.IncrementCascadeFailure()
		return err
	}
	if o.Kind() == op.KindSignDecision {
		e.metrics.IncrementCascadeFailure()
		return dErrors.Wrap(err, dErrors.CodeCascadeFailed, "decision signature could not be applied")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "transaction could not be completed")
}

func (e *Engine) observeCommitted(res *Result) {
	switch res.Op {
	case op.KindSignDecision:
		e.metrics.IncrementDecisionSigned()
		e.metrics.IncrementCaseClosed()
	case op.KindCloseCase, op.KindArchiveCase:
		if !res.NoOp {
			e.metrics.IncrementCaseClosed()
		}
	}
}

// classify maps a call's error onto the audit outcome. Reason is the error code.
func classify(err error) (audit.Outcome, string) {
	if err == nil {
		return audit.OutcomeAllowed, ""
	}
	code := dErrors.CodeOf(err)
	switch code {
	case dErrors.CodeInternal, dErrors.CodeTimeout, dErrors.CodeCascadeFailed, dErrors.CodeInvariantViolation:
		return audit.OutcomeError, string(code)
	}
	return audit.OutcomeDenied, string(code)
}

// reference renders the audited target as "<kind>:<id>".
func reference(o op.Op, target uuid.UUID, res *Result) string {
	if o == nil {
		return ""
	}
	if o.Target() == op.TargetNone {
		if res != nil && res.Complaint != nil {
			return string(op.TargetComplaint) + ":" + res.Complaint.ID.String()
		}
		return ""
	}
	if target == uuid.Nil {
		return ""
	}
	return string(o.Target()) + ":" + target.String()
}

func (e *Engine) logOutcome(ctx context.Context, actor id.UserID, label, ref string, outcome audit.Outcome, err error) {
	attrs := []any{
		"op", label,
		"actor_id", actor.String(),
		"target", ref,
		"request_id", requestcontext.RequestID(ctx),
	}
	switch outcome {
	case audit.OutcomeAllowed:
		e.logger.InfoContext(ctx, "workflow operation committed", attrs...)
	case audit.OutcomeDenied:
		if de, ok := dErrors.As(err); ok && de.Details["reason"] != nil {
			attrs = append(attrs, "reason", de.Details["reason"])
		}
		e.logger.InfoContext(ctx, "workflow operation denied", append(attrs, "error", err)...)
	default:
		e.logger.ErrorContext(ctx, "workflow operation failed", append(attrs, "error", err)...)
	}
}

// storeErr translates store sentinels into domain errors. Errors that already carry a
// code, such as a transaction timeout, pass through.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" conflicts with an existing record")
	case errors.Is(err, sentinel.ErrRetryable):
		return dErrors.Wrap(err, dErrors.CodeInternal, "transaction conflict")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeInternal, "storage unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+what)
}
