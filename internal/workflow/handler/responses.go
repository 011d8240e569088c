package handler

import (
	"time"

	"docket/internal/workflow/models"
	"docket/internal/workflow/service"
	"docket/pkg/platform/audit"
)

type ComplaintResponse struct {
	ID        string    `json:"id"`
	CitizenID string    `json:"citizen_id"`
	Facts     string    `json:"facts"`
	Status    string    `json:"status"`
	CaseID    string    `json:"case_id,omitempty"`
	FiledAt   time.Time `json:"filed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CaseResponse struct {
	ID          string     `json:"id"`
	ComplaintID string     `json:"complaint_id"`
	Reference   string     `json:"reference"`
	Stage       string     `json:"stage"`
	Status      string     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type DecisionResponse struct {
	ID             string     `json:"id"`
	CaseID         string     `json:"case_id"`
	JudgeID        string     `json:"judge_id"`
	Verdict        string     `json:"verdict"`
	DecisionNumber string     `json:"decision_number"`
	SignedBy       *string    `json:"signed_by,omitempty"`
	SignedAt       *time.Time `json:"signed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type AssignmentResponse struct {
	ID         string     `json:"id"`
	CaseID     string     `json:"case_id"`
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"`
	AssignedAt time.Time  `json:"assigned_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Active     bool       `json:"active"`
}

type AuditRecordResponse struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	ActorID   string    `json:"actor_id,omitempty"`
	Action    string    `json:"action"`
	Method    string    `json:"method,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Client    string    `json:"client,omitempty"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
}

// ExecuteResponse is returned by every mutating endpoint. Only the entities the
// operation touched are set.
type ExecuteResponse struct {
	Op         string              `json:"op"`
	NoOp       bool                `json:"no_op,omitempty"`
	Deleted    bool                `json:"deleted,omitempty"`
	Complaint  *ComplaintResponse  `json:"complaint,omitempty"`
	Case       *CaseResponse       `json:"case,omitempty"`
	Decision   *DecisionResponse   `json:"decision,omitempty"`
	Assignment *AssignmentResponse `json:"assignment,omitempty"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listOf[S any, T any](items []S, convert func(S) T) ListResponse[T] {
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, convert(item))
	}
	return ListResponse[T]{Items: out, Count: len(out)}
}

func fromResult(res *service.Result) ExecuteResponse {
	return ExecuteResponse{
		Op:         string(res.Op),
		NoOp:       res.NoOp,
		Deleted:    res.Deleted,
		Complaint:  optional(res.Complaint, fromComplaint),
		Case:       optional(res.Case, fromCase),
		Decision:   optional(res.Decision, fromDecision),
		Assignment: optional(res.Assignment, fromAssignment),
	}
}

func optional[S any, T any](v *S, convert func(*S) T) *T {
	if v == nil {
		return nil
	}
	out := convert(v)
	return &out
}

func fromComplaint(c *models.Complaint) ComplaintResponse {
	resp := ComplaintResponse{
		ID:        c.ID.String(),
		CitizenID: c.CitizenID.String(),
		Facts:     c.Facts,
		Status:    c.Status.String(),
		FiledAt:   c.FiledAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.CaseID != nil {
		resp.CaseID = c.CaseID.String()
	}
	return resp
}

func fromCase(c *models.Case) CaseResponse {
	return CaseResponse{
		ID:          c.ID.String(),
		ComplaintID: c.ComplaintID.String(),
		Reference:   c.Reference,
		Stage:       c.Stage.String(),
		Status:      string(c.Status),
		OpenedAt:    c.OpenedAt,
		ClosedAt:    c.ClosedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func fromDecision(d *models.Decision) DecisionResponse {
	return DecisionResponse{
		ID:             d.ID.String(),
		CaseID:         d.CaseID.String(),
		JudgeID:        d.JudgeID.String(),
		Verdict:        d.Verdict,
		DecisionNumber: d.DecisionNumber,
		SignedBy:       d.SignedBy,
		SignedAt:       d.SignedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromAssignment(a *models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:         a.ID.String(),
		CaseID:     a.CaseID.String(),
		UserID:     a.UserID.String(),
		Role:       a.Role.String(),
		AssignedAt: a.AssignedAt,
		EndedAt:    a.EndedAt,
		Active:     a.IsActive(),
	}
}

func fromAuditRecord(r audit.Record) AuditRecordResponse {
	resp := AuditRecordResponse{
		ID:        r.ID.String(),
		Seq:       r.Seq,
		Action:    r.Action,
		Method:    r.Method,
		Endpoint:  r.Endpoint,
		IP:        r.IP,
		Client:    r.Client,
		Outcome:   string(r.Outcome),
		Reason:    r.Reason,
		RequestID: r.RequestID,
		Target:    r.Target,
		Timestamp: r.Timestamp,
		Hash:      r.Hash,
	}
	if r.ActorID != nil {
		resp.ActorID = r.ActorID.String()
	}
	return resp
}
