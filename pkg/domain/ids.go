// Package domain holds primitive domain types shared across modules.
package domain

import (
	"github.com/google/uuid"

	dErrors "docket/pkg/domain-errors"
)

// Typed identifiers. Each is a distinct type so a CaseID can never be passed where a
// DecisionID is expected.
type (
	UserID       uuid.UUID
	ComplaintID  uuid.UUID
	CaseID       uuid.UUID
	DecisionID   uuid.UUID
	AssignmentID uuid.UUID
	AuditID      uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return u, nil
}

// ParseUserID parses and validates a user identifier.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user_id", s)
	return UserID(u), err
}

// ParseComplaintID parses and validates a complaint identifier.
func ParseComplaintID(s string) (ComplaintID, error) {
	u, err := parseUUID("complaint_id", s)
	return ComplaintID(u), err
}

// ParseCaseID parses and validates a case identifier.
func ParseCaseID(s string) (CaseID, error) {
	u, err := parseUUID("case_id", s)
	return CaseID(u), err
}

// ParseDecisionID parses and validates a decision identifier.
func ParseDecisionID(s string) (DecisionID, error) {
	u, err := parseUUID("decision_id", s)
	return DecisionID(u), err
}

// ParseAssignmentID parses and validates an assignment identifier.
func ParseAssignmentID(s string) (AssignmentID, error) {
	u, err := parseUUID("assignment_id", s)
	return AssignmentID(u), err
}

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id ComplaintID) String() string  { return uuid.UUID(id).String() }
func (id CaseID) String() string       { return uuid.UUID(id).String() }
func (id DecisionID) String() string   { return uuid.UUID(id).String() }
func (id AssignmentID) String() string { return uuid.UUID(id).String() }
func (id AuditID) String() string      { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ComplaintID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id CaseID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id DecisionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id AssignmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
