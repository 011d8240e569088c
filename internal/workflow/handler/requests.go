package handler

import (
	"strings"

	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

const (
	maxTextLength   = 20000
	maxNumberLength = 64
)

// TargetRef lets a body name the entity it acts on. When present it must agree with
// the id in the path.
type TargetRef struct {
	ComplaintID string `json:"complaint_id,omitempty"`
	CaseID      string `json:"case_id,omitempty"`
	DecisionID  string `json:"decision_id,omitempty"`
}

func (t TargetRef) idFor(kind op.TargetKind) string {
	switch kind {
	case op.TargetComplaint:
		return t.ComplaintID
	case op.TargetCase:
		return t.CaseID
	case op.TargetDecision:
		return t.DecisionID
	default:
		return ""
	}
}

// TargetRequest is the optional body of operations that carry no other input.
type TargetRequest struct {
	TargetRef
}

func (r *TargetRequest) Validate() error { return nil }

// FileComplaintRequest is the body of POST /complaints.
type FileComplaintRequest struct {
	Facts string `json:"facts"`
}

func (r *FileComplaintRequest) Normalize() {
	r.Facts = strings.TrimSpace(r.Facts)
}

func (r *FileComplaintRequest) Validate() error {
	if len(r.Facts) > maxTextLength {
		return dErrors.New(dErrors.CodeValidation, "facts must be at most 20000 characters")
	}
	if r.Facts == "" {
		return dErrors.New(dErrors.CodeValidation, "facts is required")
	}
	return nil
}

// UpdateComplaintStatusRequest is the body of POST /complaints/{complaintID}/status.
type UpdateComplaintStatusRequest struct {
	TargetRef
	Status string `json:"status"`

	parsedStatus models.ComplaintStatus
}

func (r *UpdateComplaintStatusRequest) Validate() error {
	if strings.TrimSpace(r.Status) == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	status, err := models.ParseComplaintStatus(r.Status)
	if err != nil {
		return err
	}
	r.parsedStatus = status
	return nil
}

// AdvanceCaseStageRequest is the body of POST /cases/{caseID}/stage.
type AdvanceCaseStageRequest struct {
	TargetRef
	Stage string `json:"stage"`

	parsedStage models.Stage
}

func (r *AdvanceCaseStageRequest) Validate() error {
	if strings.TrimSpace(r.Stage) == "" {
		return dErrors.New(dErrors.CodeValidation, "stage is required")
	}
	stage, err := models.ParseStage(r.Stage)
	if err != nil {
		return err
	}
	r.parsedStage = stage
	return nil
}

// AssignmentRequest is the body of the assignment create and end endpoints.
type AssignmentRequest struct {
	TargetRef
	UserID string `json:"user_id"`
	Role   string `json:"role"`

	parsedUserID id.UserID
	parsedRole   models.FunctionalRole
}

func (r *AssignmentRequest) Validate() error {
	userID, err := id.ParseUserID(strings.TrimSpace(r.UserID))
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.Role) == "" {
		return dErrors.New(dErrors.CodeValidation, "role is required")
	}
	role, err := models.ParseFunctionalRole(r.Role)
	if err != nil {
		return err
	}
	r.parsedUserID = userID
	r.parsedRole = role
	return nil
}

// DraftDecisionRequest is the body of POST /cases/{caseID}/decisions.
type DraftDecisionRequest struct {
	TargetRef
	Verdict        string `json:"verdict"`
	DecisionNumber string `json:"decision_number"`
}

func (r *DraftDecisionRequest) Normalize() {
	r.Verdict = strings.TrimSpace(r.Verdict)
	r.DecisionNumber = strings.TrimSpace(r.DecisionNumber)
}

func (r *DraftDecisionRequest) Validate() error {
	if len(r.Verdict) > maxTextLength {
		return dErrors.New(dErrors.CodeValidation, "verdict must be at most 20000 characters")
	}
	if len(r.DecisionNumber) > maxNumberLength {
		return dErrors.New(dErrors.CodeValidation, "decision_number must be at most 64 characters")
	}
	if r.Verdict == "" {
		return dErrors.New(dErrors.CodeValidation, "verdict is required")
	}
	if r.DecisionNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "decision_number is required")
	}
	return nil
}

// AmendDecisionRequest is the body of PATCH /decisions/{decisionID}.
type AmendDecisionRequest struct {
	TargetRef
	Verdict string `json:"verdict"`
}

func (r *AmendDecisionRequest) Normalize() {
	r.Verdict = strings.TrimSpace(r.Verdict)
}

func (r *AmendDecisionRequest) Validate() error {
	if len(r.Verdict) > maxTextLength {
		return dErrors.New(dErrors.CodeValidation, "verdict must be at most 20000 characters")
	}
	if r.Verdict == "" {
		return dErrors.New(dErrors.CodeValidation, "verdict is required")
	}
	return nil
}
