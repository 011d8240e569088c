// Package op defines the closed set of operations the workflow engine accepts.
//
// Each variant carries only the fields it needs and validates them before the
// engine consults the authorization evaluator. The unexported marker method keeps
// the set closed to this package.
package op

import (
	"strings"

	"docket/internal/workflow/models"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

// Kind names an operation. It doubles as the audit action label.
type Kind string

const (
	KindFileComplaint         Kind = "file_complaint"
	KindCreateCase            Kind = "create_case"
	KindUpdateComplaintStatus Kind = "update_complaint_status"
	KindAdvanceCaseStage      Kind = "advance_case_stage"
	KindCloseCase             Kind = "close_case"
	KindArchiveCase           Kind = "archive_case"
	KindCreateAssignment      Kind = "create_assignment"
	KindEndAssignment         Kind = "end_assignment"
	KindDraftDecision         Kind = "draft_decision"
	KindAmendDecision         Kind = "amend_decision"
	KindSignDecision          Kind = "sign_decision"
	KindDeleteComplaint       Kind = "delete_complaint"
	KindDeleteDecision        Kind = "delete_decision"
)

// TargetKind is the entity an operation's target id refers to.
type TargetKind string

const (
	TargetNone      TargetKind = "none"
	TargetComplaint TargetKind = "complaint"
	TargetCase      TargetKind = "case"
	TargetDecision  TargetKind = "decision"
)

// Op is one engine operation.
type Op interface {
	Kind() Kind
	Target() TargetKind
	// Label is the audit action label, including the requested target state if any.
	Label() string
	Validate() error
	isOp()
}

// FileComplaint records a new complaint by a citizen.
type FileComplaint struct {
	Facts string
}

// CreateCase opens the Case for a Complaint.
type CreateCase struct{}

// UpdateComplaintStatus moves a Complaint through its status machine.
type UpdateComplaintStatus struct {
	To models.ComplaintStatus
}

// AdvanceCaseStage moves a Case through its stage machine.
type AdvanceCaseStage struct {
	To models.Stage
}

// CloseCase moves a Case from open to closed.
type CloseCase struct{}

// ArchiveCase is the administrative override to the terminal archived state.
type ArchiveCase struct{}

// CreateAssignment attaches a user to a case in a functional role.
type CreateAssignment struct {
	UserID id.UserID
	Role   models.FunctionalRole
}

// EndAssignment ends an active assignment.
type EndAssignment struct {
	UserID id.UserID
	Role   models.FunctionalRole
}

// DraftDecision creates an unsigned decision on a case.
type DraftDecision struct {
	Verdict        string
	DecisionNumber string
}

// AmendDecision changes the verdict of an unsigned decision.
type AmendDecision struct {
	Verdict string
}

// SignDecision signs a decision and triggers the case-closing cascade.
type SignDecision struct{}

// DeleteComplaint removes a complaint. Admin only.
type DeleteComplaint struct{}

// DeleteDecision removes an unsigned decision. Admin only.
type DeleteDecision struct{}

func (FileComplaint) Kind() Kind         { return KindFileComplaint }
func (CreateCase) Kind() Kind            { return KindCreateCase }
func (UpdateComplaintStatus) Kind() Kind { return KindUpdateComplaintStatus }
func (AdvanceCaseStage) Kind() Kind      { return KindAdvanceCaseStage }
func (CloseCase) Kind() Kind             { return KindCloseCase }
func (ArchiveCase) Kind() Kind           { return KindArchiveCase }
func (CreateAssignment) Kind() Kind      { return KindCreateAssignment }
func (EndAssignment) Kind() Kind         { return KindEndAssignment }
func (DraftDecision) Kind() Kind         { return KindDraftDecision }
func (AmendDecision) Kind() Kind         { return KindAmendDecision }
func (SignDecision) Kind() Kind          { return KindSignDecision }
func (DeleteComplaint) Kind() Kind       { return KindDeleteComplaint }
func (DeleteDecision) Kind() Kind        { return KindDeleteDecision }

func (FileComplaint) Target() TargetKind         { return TargetNone }
func (CreateCase) Target() TargetKind            { return TargetComplaint }
func (UpdateComplaintStatus) Target() TargetKind { return TargetComplaint }
func (AdvanceCaseStage) Target() TargetKind      { return TargetCase }
func (CloseCase) Target() TargetKind             { return TargetCase }
func (ArchiveCase) Target() TargetKind           { return TargetCase }
func (CreateAssignment) Target() TargetKind      { return TargetCase }
func (EndAssignment) Target() TargetKind         { return TargetCase }
func (DraftDecision) Target() TargetKind         { return TargetCase }
func (AmendDecision) Target() TargetKind         { return TargetDecision }
func (SignDecision) Target() TargetKind          { return TargetDecision }
func (DeleteComplaint) Target() TargetKind       { return TargetComplaint }
func (DeleteDecision) Target() TargetKind        { return TargetDecision }

func (o FileComplaint) Label() string         { return string(o.Kind()) }
func (o CreateCase) Label() string            { return string(o.Kind()) }
func (o UpdateComplaintStatus) Label() string { return string(o.Kind()) + ":" + string(o.To) }
func (o AdvanceCaseStage) Label() string      { return string(o.Kind()) + ":" + string(o.To) }
func (o CloseCase) Label() string             { return string(o.Kind()) }
func (o ArchiveCase) Label() string           { return string(o.Kind()) }
func (o CreateAssignment) Label() string      { return string(o.Kind()) + ":" + string(o.Role) }
func (o EndAssignment) Label() string         { return string(o.Kind()) + ":" + string(o.Role) }
func (o DraftDecision) Label() string         { return string(o.Kind()) }
func (o AmendDecision) Label() string         { return string(o.Kind()) }
func (o SignDecision) Label() string          { return string(o.Kind()) }
func (o DeleteComplaint) Label() string       { return string(o.Kind()) }
func (o DeleteDecision) Label() string        { return string(o.Kind()) }

const maxFactsLength = 20000

func (o FileComplaint) Validate() error {
	facts := strings.TrimSpace(o.Facts)
	if facts == "" {
		return dErrors.New(dErrors.CodeValidation, "facts are required")
	}
	if len(facts) > maxFactsLength {
		return dErrors.New(dErrors.CodeValidation, "facts are too long")
	}
	return nil
}

func (CreateCase) Validate() error { return nil }

func (o UpdateComplaintStatus) Validate() error {
	if !o.To.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown target status")
	}
	return nil
}

func (o AdvanceCaseStage) Validate() error {
	if !o.To.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown target stage")
	}
	return nil
}

func (CloseCase) Validate() error   { return nil }
func (ArchiveCase) Validate() error { return nil }

func (o CreateAssignment) Validate() error {
	return validateAssignee(o.UserID, o.Role)
}

func (o EndAssignment) Validate() error {
	return validateAssignee(o.UserID, o.Role)
}

func validateAssignee(userID id.UserID, role models.FunctionalRole) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if !role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown functional role")
	}
	return nil
}

func (o DraftDecision) Validate() error {
	if strings.TrimSpace(o.Verdict) == "" {
		return dErrors.New(dErrors.CodeValidation, "verdict is required")
	}
	if strings.TrimSpace(o.DecisionNumber) == "" {
		return dErrors.New(dErrors.CodeValidation, "decision_number is required")
	}
	return nil
}

func (o AmendDecision) Validate() error {
	if strings.TrimSpace(o.Verdict) == "" {
		return dErrors.New(dErrors.CodeValidation, "verdict is required")
	}
	return nil
}

func (SignDecision) Validate() error    { return nil }
func (DeleteComplaint) Validate() error { return nil }
func (DeleteDecision) Validate() error  { return nil }

func (FileComplaint) isOp()         {}
func (CreateCase) isOp()            {}
func (UpdateComplaintStatus) isOp() {}
func (AdvanceCaseStage) isOp()      {}
func (CloseCase) isOp()             {}
func (ArchiveCase) isOp()           {}
func (CreateAssignment) isOp()      {}
func (EndAssignment) isOp()         {}
func (DraftDecision) isOp()         {}
func (AmendDecision) isOp()         {}
func (SignDecision) isOp()          {}
func (DeleteComplaint) isOp()       {}
func (DeleteDecision) isOp()        {}
