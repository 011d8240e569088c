package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

// Stage is the Case's position in the judicial procedure.
type Stage string

const (
	StagePoliceInvestigation Stage = "police_investigation"
	StageProsecutionReview   Stage = "prosecution_review"
	StageTrial               Stage = "trial"
	StageAppeal              Stage = "appeal"
	StageExecution           Stage = "execution"
	StageArchived            Stage = "archived"
)

var stages = map[Stage]struct{}{
	StagePoliceInvestigation: {}, StageProsecutionReview: {}, StageTrial: {},
	StageAppeal: {}, StageExecution: {}, StageArchived: {},
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	_, ok := stages[s]
	return ok
}

func (s Stage) String() string { return string(s) }

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.TrimSpace(s))
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown stage: "+s)
	}
	return st, nil
}

// CaseStatus is the lifecycle flag of a Case, orthogonal to its stage.
type CaseStatus string

const (
	CaseOpen     CaseStatus = "open"
	CaseClosed   CaseStatus = "closed"
	CaseArchived CaseStatus = "archived"
)

// Case is the judicial file opened against one Complaint.
type Case struct {
	ID          id.CaseID
	ComplaintID id.ComplaintID
	Reference   string
	Stage       Stage
	Status      CaseStatus
	OpenedAt    time.Time
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

// NewReference generates the immutable human-facing case reference.
func NewReference(now time.Time) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("AFF-%d-%s", now.Year(), raw[:10])
}

// NewCase opens a case for a complaint at the given initial stage.
func NewCase(caseID id.CaseID, complaintID id.ComplaintID, stage Stage, now time.Time) (*Case, error) {
	if !stage.IsValid() || stage == StageArchived {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid initial stage")
	}
	return &Case{
		ID:          caseID,
		ComplaintID: complaintID,
		Reference:   NewReference(now),
		Stage:       stage,
		Status:      CaseOpen,
		OpenedAt:    now,
		UpdatedAt:   now,
	}, nil
}

// IsClosed reports whether the case left the open status. A closed case accepts no stage change.
func (c *Case) IsClosed() bool {
	return c.Status != CaseOpen || c.ClosedAt != nil
}

// IsSealed reports whether a decision signature closed the case.
func (c *Case) IsSealed() bool {
	return c.Status == CaseClosed && c.Stage == StageArchived
}

// ApplyStage records a validated stage transition.
func (c *Case) ApplyStage(to Stage, now time.Time) {
	c.Stage = to
	c.UpdatedAt = now
}

// ApplyClose moves an open case to closed. closedAt is set exactly once.
func (c *Case) ApplyClose(now time.Time) {
	c.Status = CaseClosed
	c.markClosedAt(now)
	c.UpdatedAt = now
}

// ApplyArchive is the terminal move: status and stage become archived.
func (c *Case) ApplyArchive(now time.Time) {
	c.Status = CaseArchived
	c.Stage = StageArchived
	c.markClosedAt(now)
	c.UpdatedAt = now
}

// ApplyDecisionSigned is the case half of the decision-signature cascade.
func (c *Case) ApplyDecisionSigned(now time.Time) {
	c.Status = CaseClosed
	c.Stage = StageArchived
	c.markClosedAt(now)
	c.UpdatedAt = now
}

func (c *Case) markClosedAt(now time.Time) {
	if c.ClosedAt == nil {
		t := now
		c.ClosedAt = &t
	}
}

// Clone returns a deep copy.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	cp := *c
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}
