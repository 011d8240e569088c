package policy

import (
	"time"

	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	dErrors "docket/pkg/domain-errors"
)

// DenyReason explains a denial. It is recorded verbatim in the audit trail.
type DenyReason string

const (
	ReasonNoActor          DenyReason = "no_actor"
	ReasonActorLocked      DenyReason = "actor_locked"
	ReasonAmbiguousRole    DenyReason = "ambiguous_role"
	ReasonMissingTarget    DenyReason = "missing_target"
	ReasonRoleNotPermitted DenyReason = "role_not_permitted"
	ReasonNotAssigned      DenyReason = "not_assigned"
	ReasonNotAuthor        DenyReason = "not_author"
	ReasonAdminAuthorship  DenyReason = "admin_cannot_author"
	ReasonUnknownOp        DenyReason = "unknown_operation"
)

// Result is the evaluator's answer. The zero value denies.
type Result struct {
	Allowed bool
	Reason  DenyReason
}

// Allow grants the request.
func Allow() Result { return Result{Allowed: true} }

// Deny refuses the request for reason.
func Deny(reason DenyReason) Result { return Result{Reason: reason} }

// Err converts a denial into the domain error the engine returns. Unauthorized means the
// request has no usable actor; every other denial is Forbidden.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	switch r.Reason {
	case ReasonNoActor, ReasonActorLocked:
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required").
			WithDetail("reason", string(r.Reason))
	default:
		return dErrors.New(dErrors.CodeForbidden, "operation not permitted").
			WithDetail("reason", string(r.Reason))
	}
}

// Actor is what the directory knows about the caller for one request.
type Actor struct {
	User  *models.User
	Roles models.RoleSet // active functional roles on the target case
}

// Request bundles everything the evaluator needs. Targets are nil when absent.
type Request struct {
	Actor     Actor
	Op        op.Op
	Complaint *models.Complaint
	Case      *models.Case
	Decision  *models.Decision
	Now       time.Time
}

// Evaluator decides allow/deny from the actor's global role and case-scoped roles.
// It fails closed: anything it cannot positively match is denied.
type Evaluator struct {
	table *Table
}

// NewEvaluator builds an evaluator over table.
func NewEvaluator(table *Table) *Evaluator {
	return &Evaluator{table: table}
}

// Authorize evaluates req.
func (e *Evaluator) Authorize(req Request) Result {
	if res, ok := e.checkActor(req.Actor, req.Now); !ok {
		return res
	}
	if req.Op == nil {
		return Deny(ReasonUnknownOp)
	}
	if !hasTarget(req) {
		return Deny(ReasonMissingTarget)
	}

	user := req.Actor.User
	roles := req.Actor.Roles

	if user.Role == models.RoleAdmin {
		switch req.Op.(type) {
		case op.SignDecision, op.DraftDecision, op.AmendDecision:
			return Deny(ReasonAdminAuthorship)
		case op.FileComplaint:
			return Deny(ReasonRoleNotPermitted)
		default:
			return Allow()
		}
	}

	switch o := req.Op.(type) {
	case op.FileComplaint:
		return allowIf(user.Role == models.RoleCitizen, ReasonRoleNotPermitted)

	case op.CreateCase:
		_, ok := e.table.Opening(user.Role)
		return allowIf(ok, ReasonRoleNotPermitted)

	case op.UpdateComplaintStatus:
		if !e.table.DrivesComplaints(user.Role) {
			return Deny(ReasonRoleNotPermitted)
		}
		// Moves outside the table are left to the state machine, which reports them as
		// invalid transitions whatever the role.
		if rule, ok := e.table.ComplaintRule(req.Complaint.Status, o.To); ok && !rule.Permits(user.Role) {
			return Deny(ReasonRoleNotPermitted)
		}
		return Allow()

	case op.AdvanceCaseStage:
		return allowIf(!roles.Empty(), ReasonNotAssigned)

	case op.CloseCase:
		return allowIf(roles.HasAny(e.table.CloseRoles()...), ReasonNotAssigned)

	case op.ArchiveCase, op.DeleteComplaint, op.DeleteDecision:
		return Deny(ReasonRoleNotPermitted)

	case op.CreateAssignment, op.EndAssignment:
		if e.table.IsGlobalGrantor(user.Role) {
			return Allow()
		}
		return allowIf(roles.HasAny(e.table.GrantorRoles()...), ReasonNotAssigned)

	case op.DraftDecision:
		if user.Role != models.RoleJudge {
			return Deny(ReasonRoleNotPermitted)
		}
		return allowIf(roles.HasAny(e.table.AuthorRoles()...), ReasonNotAssigned)

	case op.AmendDecision:
		if user.Role != models.RoleJudge {
			return Deny(ReasonRoleNotPermitted)
		}
		return allowIf(req.Decision.IsAuthoredBy(user.ID), ReasonNotAuthor)

	case op.SignDecision:
		if user.Role != models.RoleJudge {
			return Deny(ReasonRoleNotPermitted)
		}
		// A signed decision is reported as already signed to every judge, so a losing
		// concurrent signer sees the idempotency error rather than a role error.
		if req.Decision.IsSigned() {
			return Allow()
		}
		return allowIf(req.Decision.IsAuthoredBy(user.ID), ReasonNotAuthor)
	}

	return Deny(ReasonUnknownOp)
}

// CanView applies the "my records" rule to a complaint and, through it, to its case and
// decisions. roles are the actor's active roles on the complaint's case.
func (e *Evaluator) CanView(actor Actor, complaint *models.Complaint, now time.Time) bool {
	if _, ok := e.checkActor(actor, now); !ok || complaint == nil {
		return false
	}
	switch actor.User.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCitizen:
		return complaint.CitizenID == actor.User.ID
	}
	if !actor.Roles.Empty() {
		return true
	}
	// Unassigned intake queue: complaints nobody has opened a case for yet are visible
	// to the roles able to open one.
	if !complaint.HasCase() {
		_, opens := e.table.Opening(actor.User.Role)
		return opens
	}
	return false
}

// ListingScope is the widest set of complaints and cases CanView could accept for user.
// Stores narrow listings by it; CanView still decides each row.
func (e *Evaluator) ListingScope(user *models.User) models.Scope {
	switch user.Role {
	case models.RoleAdmin:
		return models.Scope{All: true}
	case models.RoleCitizen:
		return models.Scope{CitizenID: &user.ID}
	}
	_, opens := e.table.Opening(user.Role)
	return models.Scope{AssigneeID: &user.ID, Unopened: opens}
}

// Authenticate checks only the actor: present, not locked, with a known role. It lets
// callers refuse an unusable actor before touching any target.
func (e *Evaluator) Authenticate(actor Actor, now time.Time) Result {
	if res, ok := e.checkActor(actor, now); !ok {
		return res
	}
	return Allow()
}

func (e *Evaluator) checkActor(actor Actor, now time.Time) (Result, bool) {
	if actor.User == nil || actor.User.ID.IsNil() {
		return Deny(ReasonNoActor), false
	}
	if actor.User.IsLocked(now) {
		return Deny(ReasonActorLocked), false
	}
	if !actor.User.Role.IsValid() {
		return Deny(ReasonAmbiguousRole), false
	}
	return Result{}, true
}

func hasTarget(req Request) bool {
	switch req.Op.Target() {
	case op.TargetNone:
		return true
	case op.TargetComplaint:
		return req.Complaint != nil
	case op.TargetCase:
		return req.Case != nil
	case op.TargetDecision:
		return req.Decision != nil
	}
	return false
}

func allowIf(ok bool, reason DenyReason) Result {
	if ok {
		return Allow()
	}
	return Deny(reason)
}
