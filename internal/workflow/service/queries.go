package service

import (
	"context"
	"time"

	"docket/internal/workflow/models"
	"docket/internal/workflow/policy"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/audit"
	"docket/pkg/requestcontext"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// viewer is the actor of a read projection with every case role they hold.
type viewer struct {
	user  *models.User
	roles map[id.CaseID]models.RoleSet
	now   time.Time
}

func (v viewer) actor(caseID *id.CaseID) policy.Actor {
	a := policy.Actor{User: v.user, Roles: models.NewRoleSet()}
	if caseID != nil {
		if roles, ok := v.roles[*caseID]; ok {
			a.Roles = roles
		}
	}
	return a
}

func (e *Engine) viewer(ctx context.Context, actor id.UserID) (viewer, error) {
	now := requestcontext.Now(ctx)
	if actor.IsNil() {
		return viewer{}, policy.Deny(policy.ReasonNoActor).Err()
	}
	profile, err := e.directory.ForCall().Profile(ctx, actor)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			e.metrics.IncrementProjectionError()
		}
		return viewer{}, err
	}
	if err := e.evaluator.Authenticate(policy.Actor{User: profile.User}, now).Err(); err != nil {
		return viewer{}, err
	}
	return viewer{user: profile.User, roles: profile.Roles, now: now}, nil
}

func (e *Engine) canView(v viewer, complaint *models.Complaint) bool {
	return e.evaluator.CanView(v.actor(complaint.CaseID), complaint, v.now)
}

// projectionErr counts storage failures on the read path. Invisible rows are reported
// as not found so a projection never confirms that a record exists.
func (e *Engine) projectionErr(ctx context.Context, err error, what string) error {
	mapped := storeErr(err, what)
	if !dErrors.HasCode(mapped, dErrors.CodeNotFound) {
		e.metrics.IncrementProjectionError()
		e.logger.ErrorContext(ctx, "workflow projection failed", "what", what, "error", err)
	}
	return mapped
}

// GetComplaint returns a complaint the actor may see.
func (e *Engine) GetComplaint(ctx context.Context, actor id.UserID, complaintID id.ComplaintID) (*models.Complaint, error) {
	v, err := e.viewer(ctx, actor)
	if err != nil {
		return nil, err
	}
	complaint, err := e.store.FindComplaint(ctx, complaintID)
	if err != nil {
		return nil, e.projectionErr(ctx, err, "complaint")
	}
	if !e.canView(v, complaint) {
		return nil, dErrors.New(dErrors.CodeNotFound, "complaint not found")
	}
	return complaint, nil
}

// ListComplaints returns the complaints the actor may see.
func (e *Engine) ListComplaints(ctx context.Context, actor id.UserID) ([]*models.Complaint, error) {
	v, err := e.viewer(ctx, actor)
	if err != nil {
		return nil, err
	}
	scoped, err := e.store.ListComplaints(ctx, e.evaluator.ListingScope(v.user))
	if err != nil {
		return nil, e.projectionErr(ctx, err, "complaints")
	}
	out := make([]*models.Complaint, 0, len(scoped))
	for _, c := range scoped {
		if e.canView(v, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetCase returns a case the actor may see through its complaint.
func (e *Engine) GetCase(ctx context.Context, actor id.UserID, caseID id.CaseID) (*models.Case, error) {
	v, err := e.viewer(ctx, actor)
	if err != nil {
		return nil, err
	}
	kase, err := e.visibleCase(ctx, v, caseID)
	if err != nil {
		return nil, err
	}
	return kase, nil
}

func (e *Engine) visibleCase(ctx context.Context, v viewer, caseID id.CaseID) (*models.Case, error) {
	kase, err := e.store.FindCase(ctx, caseID)
	if err != nil {
		return nil, e.projectionErr(ctx, err, "case")
	}
	complaint, err := e.store.FindComplaint(ctx, kase.ComplaintID)
	if err != nil {
		return nil, e.projectionErr(ctx, err, "case")
	}
	if !e.canView(v, complaint) {
		return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	return kase, nil
}

// ListCases returns the cases the actor may see.
func (e *Engine) ListCases(ctx context.Context, actor id.UserID) ([]*models.Case, error) {
	v, err := e.viewer(ctx, actor)
	if err != nil {
		return nil, err
	}
	scope := e.evaluator.ListingScope(v.user)
	complaints, err := e.store.ListComplaints(ctx, scope)
	if err != nil {
		return nil, e.projectionErr(ctx, err, "complaints")
	}
	visible := make(map[id.ComplaintID]bool, len(complaints))
	for _, c := range complaints {
		visible[c.ID] = e.canView(v, c)
	}
	cases, err := e.store.ListCases(ctx, scope)
	if err != nil {
		return nil, e.projectionErr(ctx, err, "cases")
	}
	out := make([]*models.Case, 0, len(cases))
	for _, c := range cases {
		if visible[c.ComplaintID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetDecision returns a decision on a case the actor may see.
func (e *Engine) GetDecision(ctx context.Context, actor id.UserID, decisionID id.DecisionID) (*models.Decision, error) {
	v, err := e.viewer(ctx, actor)
	if err != nil {
		return nil, err
	}
	d, err := e.store.FindDecision(ctx, decisionID)
	if err != nil {
		return nil, e.projectionErr(ctx, err, "decision")
	}
	if _, err := e.visibleCase(ctx, v, d.CaseID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "decision not found")
		}
		return nil, err
	}
	return d, nil
}

// ListDecisions returns the decisions of a case the actor may see.
func (e *Engine) ListDecisions(ctx context.Context, actor id.UserID, caseID id.CaseID) ([]*models.Decision, error) {
	v, err := e.viewer(ctx, actor)
	if err != nil {
		return nil, err
	}
	if _, err := e.visibleCase(ctx, v, caseID); err != nil {
		return nil, err
	}
	decisions, err := e.store.ListDecisionsByCase(ctx, caseID)
	if err != nil {
		return nil, e.projectionErr(ctx, err, "decisions")
	}
	return decisions, nil
}

// ListAssignments returns every assignment, active or ended, of a case the actor may see.
func (e *Engine) ListAssignments(ctx context.Context, actor id.UserID, caseID id.CaseID) ([]*models.Assignment, error) {
	v, err := e.viewer(ctx, actor)
	if err != nil {
		return nil, err
	}
	if _, err := e.visibleCase(ctx, v, caseID); err != nil {
		return nil, err
	}
	assignments, err := e.store.ListCaseAssignments(ctx, caseID)
	if err != nil {
		return nil, e.projectionErr(ctx, err, "assignments")
	}
	return assignments, nil
}

// ListAudit returns the newest audit records, optionally for one actor. Admin only.
func (e *Engine) ListAudit(ctx context.Context, actor id.UserID, of *id.UserID, limit int) ([]audit.Record, error) {
	v, err := e.viewer(ctx, actor)
	if err != nil {
		return nil, err
	}
	if v.user.Role != models.RoleAdmin {
		return nil, policy.Deny(policy.ReasonRoleNotPermitted).Err()
	}
	if e.auditLog == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "audit log is not configured")
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditLimit)

	var records []audit.Record
	if of != nil {
		records, err = e.auditLog.ListByActor(ctx, *of, limit)
	} else {
		records, err = e.auditLog.ListRecent(ctx, limit)
	}
	if err != nil {
		e.metrics.IncrementProjectionError()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit records")
	}
	return records, nil
}
