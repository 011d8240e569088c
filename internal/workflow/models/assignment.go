package models

import (
	"time"

	id "docket/pkg/domain"
)

// Assignment attaches a User to a Case in a functional role. Assignments are ended,
// never deleted, so the history of who acted on a case survives.
type Assignment struct {
	ID         id.AssignmentID
	CaseID     id.CaseID
	UserID     id.UserID
	Role       FunctionalRole
	AssignedAt time.Time
	EndedAt    *time.Time
}

// IsActive reports whether the assignment has not been ended.
func (a *Assignment) IsActive() bool { return a.EndedAt == nil }

// ApplyEnd ends the assignment.
func (a *Assignment) ApplyEnd(now time.Time) {
	t := now
	a.EndedAt = &t
}

// Clone returns a deep copy.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	cp := *a
	if a.EndedAt != nil {
		t := *a.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
