package models

import id "docket/pkg/domain"

// Scope narrows a complaint or case listing to the rows one actor could see. A row is
// kept when it matches any of the set criteria; the zero value keeps nothing.
type Scope struct {
	All bool
	// CitizenID keeps the complaints filed by this citizen, and their cases.
	CitizenID *id.UserID
	// AssigneeID keeps the complaints and cases this user is actively assigned to.
	AssigneeID *id.UserID
	// Unopened keeps complaints no case has been opened for yet.
	Unopened bool
}

// Empty reports whether the scope can match no row at all.
func (s Scope) Empty() bool {
	return !s.All && s.CitizenID == nil && s.AssigneeID == nil && !s.Unopened
}

// MatchComplaint applies the scope to a complaint, given whether the assignee holds an
// active assignment on its case.
func (s Scope) MatchComplaint(c *Complaint, assigned bool) bool {
	switch {
	case s.All:
		return true
	case s.CitizenID != nil && c.CitizenID == *s.CitizenID:
		return true
	case s.AssigneeID != nil && assigned:
		return true
	case s.Unopened && !c.HasCase():
		return true
	}
	return false
}
