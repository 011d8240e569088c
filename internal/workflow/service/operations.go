package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docket/internal/workflow/directory"
	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	"docket/internal/workflow/policy"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/sentinel"
)

// apply runs inside the transaction: lock the target, authorize against its locked
// state, validate through the state machine, persist.
func (e *Engine) apply(ctx context.Context, call *directory.Call, user *models.User, target uuid.UUID, o op.Op, now time.Time) (*Result, error) {
	switch o := o.(type) {
	case op.FileComplaint:
		return e.fileComplaint(ctx, user, o, now)
	case op.CreateCase:
		return e.createCase(ctx, user, id.ComplaintID(target), o, now)
	case op.UpdateComplaintStatus:
		return e.updateComplaintStatus(ctx, user, id.ComplaintID(target), o, now)
	case op.DeleteComplaint:
		return e.deleteComplaint(ctx, user, id.ComplaintID(target), o, now)
	case op.AdvanceCaseStage:
		return e.advanceCaseStage(ctx, call, user, id.CaseID(target), o, now)
	case op.CloseCase:
		return e.closeCase(ctx, call, user, id.CaseID(target), o, now)
	case op.ArchiveCase:
		return e.archiveCase(ctx, call, user, id.CaseID(target), o, now)
	case op.CreateAssignment:
		return e.createAssignment(ctx, call, user, id.CaseID(target), o, now)
	case op.EndAssignment:
		return e.endAssignment(ctx, call, user, id.CaseID(target), o, now)
	case op.DraftDecision:
		return e.draftDecision(ctx, call, user, id.CaseID(target), o, now)
	case op.AmendDecision:
		return e.amendDecision(ctx, user, id.DecisionID(target), o, now)
	case op.SignDecision:
		return e.signDecision(ctx, user, id.DecisionID(target), o, now)
	case op.DeleteDecision:
		return e.deleteDecision(ctx, user, id.DecisionID(target), o, now)
	}
	return nil, policy.Deny(policy.ReasonUnknownOp).Err()
}

func (e *Engine) authorize(req policy.Request) error {
	return e.evaluator.Authorize(req).Err()
}

// Complaints

func (e *Engine) fileComplaint(ctx context.Context, user *models.User, o op.FileComplaint, now time.Time) (*Result, error) {
	if err := e.authorize(policy.Request{Actor: policy.Actor{User: user}, Op: o, Now: now}); err != nil {
		return nil, err
	}
	c, err := models.NewComplaint(id.ComplaintID(uuid.New()), user.ID, o.Facts, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateComplaint(ctx, c); err != nil {
		return nil, storeErr(err, "complaint")
	}
	return &Result{Complaint: c}, nil
}

func (e *Engine) createCase(ctx context.Context, user *models.User, complaintID id.ComplaintID, o op.CreateCase, now time.Time) (*Result, error) {
	complaint, err := e.store.LockComplaint(ctx, complaintID)
	if err != nil {
		return nil, storeErr(err, "complaint")
	}
	if err := e.authorize(policy.Request{Actor: policy.Actor{User: user}, Op: o, Complaint: complaint, Now: now}); err != nil {
		return nil, err
	}
	if err := e.complaints.CanOpenCase(complaint); err != nil {
		return nil, err
	}

	// Admin has no opening rule: the case starts at the first stage with nobody assigned.
	opening, ok := e.table.Opening(user.Role)
	if !ok {
		opening = policy.CaseOpening{Stage: models.StagePoliceInvestigation}
	}
	kase, err := models.NewCase(id.CaseID(uuid.New()), complaint.ID, opening.Stage, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateCase(ctx, kase); err != nil {
		return nil, storeErr(err, "case")
	}
	complaint.ApplyCase(kase.ID, now)
	if err := e.store.SaveComplaint(ctx, complaint); err != nil {
		return nil, storeErr(err, "complaint")
	}

	res := &Result{Complaint: complaint, Case: kase}
	if opening.Assignment != "" {
		a := &models.Assignment{
			ID:         id.AssignmentID(uuid.New()),
			CaseID:     kase.ID,
			UserID:     user.ID,
			Role:       opening.Assignment,
			AssignedAt: now,
		}
		if err := e.store.CreateAssignment(ctx, a); err != nil {
			return nil, storeErr(err, "assignment")
		}
		res.Assignment = a
	}
	return res, nil
}

func (e *Engine) updateComplaintStatus(ctx context.Context, user *models.User, complaintID id.ComplaintID, o op.UpdateComplaintStatus, now time.Time) (*Result, error) {
	complaint, err := e.store.LockComplaint(ctx, complaintID)
	if err != nil {
		return nil, storeErr(err, "complaint")
	}
	if err := e.authorize(policy.Request{Actor: policy.Actor{User: user}, Op: o, Complaint: complaint, Now: now}); err != nil {
		return nil, err
	}
	if err := e.complaints.Transition(complaint, o.To, now); err != nil {
		return nil, err
	}
	if err := e.store.SaveComplaint(ctx, complaint); err != nil {
		return nil, storeErr(err, "complaint")
	}
	return &Result{Complaint: complaint}, nil
}

func (e *Engine) deleteComplaint(ctx context.Context, user *models.User, complaintID id.ComplaintID, o op.DeleteComplaint, now time.Time) (*Result, error) {
	complaint, err := e.store.LockComplaint(ctx, complaintID)
	if err != nil {
		return nil, storeErr(err, "complaint")
	}
	if err := e.authorize(policy.Request{Actor: policy.Actor{User: user}, Op: o, Complaint: complaint, Now: now}); err != nil {
		return nil, err
	}
	if complaint.HasCase() {
		return nil, dErrors.New(dErrors.CodeConflict, "complaint has a case and cannot be deleted")
	}
	if err := e.store.DeleteComplaint(ctx, complaint.ID); err != nil {
		return nil, storeErr(err, "complaint")
	}
	return &Result{Complaint: complaint, Deleted: true}, nil
}

// Cases

// lockCase locks the case and authorizes o with the actor's roles on it.
func (e *Engine) lockCase(ctx context.Context, call *directory.Call, user *models.User, caseID id.CaseID, o op.Op, now time.Time) (*models.Case, models.RoleSet, error) {
	kase, err := e.store.LockCase(ctx, caseID)
	if err != nil {
		return nil, nil, storeErr(err, "case")
	}
	roles, err := call.Roles(ctx, caseID, user.ID)
	if err != nil {
		return nil, nil, err
	}
	req := policy.Request{Actor: policy.Actor{User: user, Roles: roles}, Op: o, Case: kase, Now: now}
	if err := e.authorize(req); err != nil {
		return nil, nil, err
	}
	return kase, roles, nil
}

func (e *Engine) advanceCaseStage(ctx context.Context, call *directory.Call, user *models.User, caseID id.CaseID, o op.AdvanceCaseStage, now time.Time) (*Result, error) {
	kase, roles, err := e.lockCase(ctx, call, user, caseID, o, now)
	if err != nil {
		return nil, err
	}
	override := user.Role == models.RoleAdmin
	if err := e.cases.Advance(kase, o.To, roles, override, now); err != nil {
		return nil, err
	}
	if err := e.store.SaveCase(ctx, kase); err != nil {
		return nil, storeErr(err, "case")
	}
	return &Result{Case: kase}, nil
}

func (e *Engine) closeCase(ctx context.Context, call *directory.Call, user *models.User, caseID id.CaseID, o op.CloseCase, now time.Time) (*Result, error) {
	kase, _, err := e.lockCase(ctx, call, user, caseID, o, now)
	if err != nil {
		return nil, err
	}
	noop, err := e.cases.Close(kase, now)
	if err != nil {
		return nil, err
	}
	if !noop {
		if err := e.store.SaveCase(ctx, kase); err != nil {
			return nil, storeErr(err, "case")
		}
	}
	return &Result{Case: kase, NoOp: noop}, nil
}

func (e *Engine) archiveCase(ctx context.Context, call *directory.Call, user *models.User, caseID id.CaseID, o op.ArchiveCase, now time.Time) (*Result, error) {
	kase, _, err := e.lockCase(ctx, call, user, caseID, o, now)
	if err != nil {
		return nil, err
	}
	noop, err := e.cases.Archive(kase, now)
	if err != nil {
		return nil, err
	}
	if !noop {
		if err := e.store.SaveCase(ctx, kase); err != nil {
			return nil, storeErr(err, "case")
		}
	}
	return &Result{Case: kase, NoOp: noop}, nil
}

// Assignments

func (e *Engine) createAssignment(ctx context.Context, call *directory.Call, user *models.User, caseID id.CaseID, o op.CreateAssignment, now time.Time) (*Result, error) {
	kase, _, err := e.lockCase(ctx, call, user, caseID, o, now)
	if err != nil {
		return nil, err
	}
	if kase.Status == models.CaseArchived {
		return nil, dErrors.New(dErrors.CodeAlreadyClosed, "case is archived")
	}

	assignee, err := e.store.FindUser(ctx, o.UserID)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	if !e.table.Eligible(o.Role, assignee.Role) {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("a %s cannot hold the %s role", assignee.Role, o.Role))
	}
	_, err = e.store.FindActiveAssignment(ctx, kase.ID, o.UserID, o.Role)
	switch {
	case err == nil:
		return nil, dErrors.New(dErrors.CodeConflict, "assignment is already active")
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, storeErr(err, "assignment")
	}

	a := &models.Assignment{
		ID:         id.AssignmentID(uuid.New()),
		CaseID:     kase.ID,
		UserID:     o.UserID,
		Role:       o.Role,
		AssignedAt: now,
	}
	if err := e.store.CreateAssignment(ctx, a); err != nil {
		return nil, storeErr(err, "assignment")
	}
	return &Result{Case: kase, Assignment: a}, nil
}

func (e *Engine) endAssignment(ctx context.Context, call *directory.Call, user *models.User, caseID id.CaseID, o op.EndAssignment, now time.Time) (*Result, error) {
	kase, _, err := e.lockCase(ctx, call, user, caseID, o, now)
	if err != nil {
		return nil, err
	}
	a, err := e.store.FindActiveAssignment(ctx, kase.ID, o.UserID, o.Role)
	if err != nil {
		return nil, storeErr(err, "active assignment")
	}
	a.ApplyEnd(now)
	if err := e.store.SaveAssignment(ctx, a); err != nil {
		return nil, storeErr(err, "assignment")
	}
	return &Result{Case: kase, Assignment: a}, nil
}

// Decisions

func (e *Engine) draftDecision(ctx context.Context, call *directory.Call, user *models.User, caseID id.CaseID, o op.DraftDecision, now time.Time) (*Result, error) {
	kase, _, err := e.lockCase(ctx, call, user, caseID, o, now)
	if err != nil {
		return nil, err
	}
	if err := e.cases.CanDraft(kase); err != nil {
		return nil, err
	}
	d, err := models.NewDecision(id.DecisionID(uuid.New()), kase.ID, user.ID, o.Verdict, o.DecisionNumber, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateDecision(ctx, d); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "decision number is already used")
		}
		return nil, storeErr(err, "decision")
	}
	return &Result{Case: kase, Decision: d}, nil
}

func (e *Engine) amendDecision(ctx context.Context, user *models.User, decisionID id.DecisionID, o op.AmendDecision, now time.Time) (*Result, error) {
	d, err := e.store.LockDecision(ctx, decisionID)
	if err != nil {
		return nil, storeErr(err, "decision")
	}
	if err := e.authorize(policy.Request{Actor: policy.Actor{User: user}, Op: o, Decision: d, Now: now}); err != nil {
		return nil, err
	}
	if err := d.CanMutate(); err != nil {
		return nil, err
	}
	d.ApplyVerdict(o.Verdict, now)
	if err := e.store.SaveDecision(ctx, d); err != nil {
		return nil, storeErr(err, "decision")
	}
	return &Result{Decision: d}, nil
}

func (e *Engine) deleteDecision(ctx context.Context, user *models.User, decisionID id.DecisionID, o op.DeleteDecision, now time.Time) (*Result, error) {
	d, err := e.store.LockDecision(ctx, decisionID)
	if err != nil {
		return nil, storeErr(err, "decision")
	}
	if err := e.authorize(policy.Request{Actor: policy.Actor{User: user}, Op: o, Decision: d, Now: now}); err != nil {
		return nil, err
	}
	if err := d.CanMutate(); err != nil {
		return nil, err
	}
	if err := e.store.DeleteDecision(ctx, d.ID); err != nil {
		return nil, storeErr(err, "decision")
	}
	return &Result{Decision: d, Deleted: true}, nil
}
