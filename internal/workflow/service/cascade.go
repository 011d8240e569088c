package service

import (
	"cmp"
	"context"
	"time"

	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	"docket/internal/workflow/policy"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

// signDecision signs the decision and closes its case in the calling transaction. Locks
// are taken decision first, then case; no other operation locks in the opposite order.
func (e *Engine) signDecision(ctx context.Context, user *models.User, decisionID id.DecisionID, o op.SignDecision, now time.Time) (*Result, error) {
	d, err := e.store.LockDecision(ctx, decisionID)
	if err != nil {
		return nil, storeErr(err, "decision")
	}
	kase, err := e.store.LockCase(ctx, d.CaseID)
	if err != nil {
		return nil, storeErr(err, "case")
	}
	req := policy.Request{Actor: policy.Actor{User: user}, Op: o, Case: kase, Decision: d, Now: now}
	if err := e.authorize(req); err != nil {
		return nil, err
	}
	if err := d.CanMutate(); err != nil {
		return nil, err
	}
	if err := e.cases.Seal(kase, now); err != nil {
		return nil, err
	}

	d.ApplySignature(cmp.Or(user.DisplayName, user.ID.String()), now)
	if err := e.store.SaveDecision(ctx, d); err != nil {
		return nil, cascadeErr(err, "failed to sign decision")
	}
	if err := e.store.SaveCase(ctx, kase); err != nil {
		return nil, cascadeErr(err, "failed to close case after signature")
	}
	return &Result{Case: kase, Decision: d}, nil
}

// cascadeErr reports a failed cascade step. The transaction rolls back and the engine
// replays it; a timeout is not worth replaying and keeps its code.
func cascadeErr(err error, msg string) error {
	if dErrors.HasCode(err, dErrors.CodeTimeout) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeCascadeFailed, msg)
}
