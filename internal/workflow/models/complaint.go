package models

import (
	"strings"
	"time"

	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

// ComplaintStatus is the procedural status of a Complaint.
type ComplaintStatus string

const (
	ComplaintSubmitted             ComplaintStatus = "soumise"
	ComplaintUnderInvestigation    ComplaintStatus = "en_cours_OPJ"
	ComplaintReferredToProsecutor  ComplaintStatus = "transmise_procur"
	ComplaintDismissedByPolice     ComplaintStatus = "classée_sans_suite_par_OPJ"
	ComplaintDismissedByProsecutor ComplaintStatus = "classée_sans_suite_par_procureur"
	ComplaintProsecuted            ComplaintStatus = "poursuite"
	ComplaintJudicialInquiry       ComplaintStatus = "instruction"
	ComplaintHearingScheduled      ComplaintStatus = "audience_programmée"
	ComplaintJudged                ComplaintStatus = "jugée"
	ComplaintNoCase                ComplaintStatus = "non_lieu"
)

var complaintStatuses = map[ComplaintStatus]struct{}{
	ComplaintSubmitted: {}, ComplaintUnderInvestigation: {}, ComplaintReferredToProsecutor: {},
	ComplaintDismissedByPolice: {}, ComplaintDismissedByProsecutor: {}, ComplaintProsecuted: {},
	ComplaintJudicialInquiry: {}, ComplaintHearingScheduled: {}, ComplaintJudged: {}, ComplaintNoCase: {},
}

// IsValid reports whether s is a known complaint status.
func (s ComplaintStatus) IsValid() bool {
	_, ok := complaintStatuses[s]
	return ok
}

func (s ComplaintStatus) String() string { return string(s) }

// ParseComplaintStatus validates a status name.
func ParseComplaintStatus(s string) (ComplaintStatus, error) {
	st := ComplaintStatus(strings.TrimSpace(s))
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown complaint status: "+s)
	}
	return st, nil
}

// Complaint is a citizen's report. It owns at most one Case.
type Complaint struct {
	ID        id.ComplaintID
	CitizenID id.UserID
	Facts     string
	Status    ComplaintStatus
	CaseID    *id.CaseID
	FiledAt   time.Time
	UpdatedAt time.Time
}

// NewComplaint files a complaint in the initial status.
func NewComplaint(complaintID id.ComplaintID, citizen id.UserID, facts string, now time.Time) (*Complaint, error) {
	facts = strings.TrimSpace(facts)
	if facts == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "facts are required")
	}
	if citizen.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "complaint requires a citizen")
	}
	return &Complaint{
		ID:        complaintID,
		CitizenID: citizen,
		Facts:     facts,
		Status:    ComplaintSubmitted,
		FiledAt:   now,
		UpdatedAt: now,
	}, nil
}

// HasCase reports whether a Case has been opened for this complaint.
func (c *Complaint) HasCase() bool { return c.CaseID != nil }

// CanAttachCase checks the set-at-most-once rule for the Case link.
func (c *Complaint) CanAttachCase() error {
	if c.HasCase() {
		return dErrors.New(dErrors.CodeInvariantViolation, "complaint already has a case")
	}
	return nil
}

// ApplyCase links the complaint to its case. Callers check CanAttachCase first.
func (c *Complaint) ApplyCase(caseID id.CaseID, now time.Time) {
	c.CaseID = &caseID
	c.UpdatedAt = now
}

// ApplyStatus records a validated status transition.
func (c *Complaint) ApplyStatus(to ComplaintStatus, now time.Time) {
	c.Status = to
	c.UpdatedAt = now
}

// Clone returns a deep copy so store snapshots are never aliased.
func (c *Complaint) Clone() *Complaint {
	if c == nil {
		return nil
	}
	cp := *c
	if c.CaseID != nil {
		caseID := *c.CaseID
		cp.CaseID = &caseID
	}
	return &cp
}
