package models

import (
	"strings"
	"time"

	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

// Decision is a judge's ruling on a Case. SignedBy nil means draft; once set the
// decision is immutable.
type Decision struct {
	ID             id.DecisionID
	CaseID         id.CaseID
	JudgeID        id.UserID
	Verdict        string
	DecisionNumber string
	SignedBy       *string
	SignedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewDecision drafts a decision authored by judge.
func NewDecision(decisionID id.DecisionID, caseID id.CaseID, judge id.UserID, verdict, number string, now time.Time) (*Decision, error) {
	verdict = strings.TrimSpace(verdict)
	number = strings.TrimSpace(number)
	if verdict == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "verdict is required")
	}
	if number == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "decision_number is required")
	}
	return &Decision{
		ID:             decisionID,
		CaseID:         caseID,
		JudgeID:        judge,
		Verdict:        verdict,
		DecisionNumber: number,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsSigned reports whether the decision is terminal.
func (d *Decision) IsSigned() bool { return d.SignedBy != nil }

// CanMutate rejects any change to a signed decision.
func (d *Decision) CanMutate() error {
	if d.IsSigned() {
		return dErrors.New(dErrors.CodeAlreadySigned, "decision is already signed")
	}
	return nil
}

// IsAuthoredBy reports whether judge drafted this decision.
func (d *Decision) IsAuthoredBy(judge id.UserID) bool {
	return !judge.IsNil() && d.JudgeID == judge
}

// ApplyVerdict amends a draft verdict.
func (d *Decision) ApplyVerdict(verdict string, now time.Time) {
	d.Verdict = strings.TrimSpace(verdict)
	d.UpdatedAt = now
}

// ApplySignature is the decision half of the signature cascade.
func (d *Decision) ApplySignature(signer string, now time.Time) {
	d.SignedBy = &signer
	t := now
	d.SignedAt = &t
	d.UpdatedAt = now
}

// Clone returns a deep copy.
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	cp := *d
	if d.SignedBy != nil {
		s := *d.SignedBy
		cp.SignedBy = &s
	}
	if d.SignedAt != nil {
		t := *d.SignedAt
		cp.SignedAt = &t
	}
	return &cp
}
