// Package handler exposes the workflow engine over HTTP. Every mutating endpoint maps
// to exactly one engine operation; GET endpoints serve the read projections.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	"docket/internal/workflow/service"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/audit"
	"docket/pkg/platform/httputil"
	"docket/pkg/platform/middleware/request"
	"docket/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/handler-mocks.go -package=mocks Service

// Service is the workflow engine as seen by the transport.
type Service interface {
	Execute(ctx context.Context, actor id.UserID, target uuid.UUID, o op.Op) (*service.Result, error)
	Reject(ctx context.Context, actor id.UserID, target uuid.UUID, o op.Op, cause error) error

	GetComplaint(ctx context.Context, actor id.UserID, complaintID id.ComplaintID) (*models.Complaint, error)
	ListComplaints(ctx context.Context, actor id.UserID) ([]*models.Complaint, error)
	GetCase(ctx context.Context, actor id.UserID, caseID id.CaseID) (*models.Case, error)
	ListCases(ctx context.Context, actor id.UserID) ([]*models.Case, error)
	GetDecision(ctx context.Context, actor id.UserID, decisionID id.DecisionID) (*models.Decision, error)
	ListDecisions(ctx context.Context, actor id.UserID, caseID id.CaseID) ([]*models.Decision, error)
	ListAssignments(ctx context.Context, actor id.UserID, caseID id.CaseID) ([]*models.Assignment, error)
	ListAudit(ctx context.Context, actor id.UserID, of *id.UserID, limit int) ([]audit.Record, error)
}

// Handler wires workflow endpoints to the engine.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a workflow handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the workflow endpoints. The router puts the actor on the context when
// the request carries a valid token; mutating endpoints reject and audit anonymous calls
// themselves.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.Route)

		r.Post("/complaints", h.HandleFileComplaint)
		r.Get("/complaints", h.HandleListComplaints)
		r.Get("/complaints/{complaintID}", h.HandleGetComplaint)
		r.Post("/complaints/{complaintID}/status", h.HandleUpdateComplaintStatus)
		r.Post("/complaints/{complaintID}/case", h.HandleCreateCase)
		r.Delete("/complaints/{complaintID}", h.HandleDeleteComplaint)

		r.Get("/cases", h.HandleListCases)
		r.Get("/cases/{caseID}", h.HandleGetCase)
		r.Post("/cases/{caseID}/stage", h.HandleAdvanceCaseStage)
		r.Post("/cases/{caseID}/close", h.HandleCloseCase)
		r.Post("/cases/{caseID}/archive", h.HandleArchiveCase)
		r.Get("/cases/{caseID}/assignments", h.HandleListAssignments)
		r.Post("/cases/{caseID}/assignments", h.HandleCreateAssignment)
		r.Post("/cases/{caseID}/assignments/end", h.HandleEndAssignment)
		r.Get("/cases/{caseID}/decisions", h.HandleListDecisions)
		r.Post("/cases/{caseID}/decisions", h.HandleDraftDecision)

		r.Get("/decisions/{decisionID}", h.HandleGetDecision)
		r.Patch("/decisions/{decisionID}", h.HandleAmendDecision)
		r.Post("/decisions/{decisionID}/sign", h.HandleSignDecision)
		r.Delete("/decisions/{decisionID}", h.HandleDeleteDecision)

		r.Get("/audit", h.HandleListAudit)
	})
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// HandleFileComplaint handles POST /complaints.
func (h *Handler) HandleFileComplaint(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[FileComplaintRequest](h, w, r, op.FileComplaint{})
	if !ok {
		return
	}
	h.execute(w, r, op.FileComplaint{Facts: req.Facts}, TargetRef{}, http.StatusCreated)
}

// HandleUpdateComplaintStatus handles POST /complaints/{complaintID}/status.
func (h *Handler) HandleUpdateComplaintStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[UpdateComplaintStatusRequest](h, w, r, op.UpdateComplaintStatus{})
	if !ok {
		return
	}
	h.execute(w, r, op.UpdateComplaintStatus{To: req.parsedStatus}, req.TargetRef, http.StatusOK)
}

// HandleCreateCase handles POST /complaints/{complaintID}/case.
func (h *Handler) HandleCreateCase(w http.ResponseWriter, r *http.Request) {
	h.executeBodyless(w, r, op.CreateCase{}, http.StatusCreated)
}

// HandleDeleteComplaint handles DELETE /complaints/{complaintID}.
func (h *Handler) HandleDeleteComplaint(w http.ResponseWriter, r *http.Request) {
	h.executeBodyless(w, r, op.DeleteComplaint{}, http.StatusOK)
}

// HandleAdvanceCaseStage handles POST /cases/{caseID}/stage.
func (h *Handler) HandleAdvanceCaseStage(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AdvanceCaseStageRequest](h, w, r, op.AdvanceCaseStage{})
	if !ok {
		return
	}
	h.execute(w, r, op.AdvanceCaseStage{To: req.parsedStage}, req.TargetRef, http.StatusOK)
}

// HandleCloseCase handles POST /cases/{caseID}/close.
func (h *Handler) HandleCloseCase(w http.ResponseWriter, r *http.Request) {
	h.executeBodyless(w, r, op.CloseCase{}, http.StatusOK)
}

// HandleArchiveCase handles POST /cases/{caseID}/archive.
func (h *Handler) HandleArchiveCase(w http.ResponseWriter, r *http.Request) {
	h.executeBodyless(w, r, op.ArchiveCase{}, http.StatusOK)
}

// HandleCreateAssignment handles POST /cases/{caseID}/assignments.
func (h *Handler) HandleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AssignmentRequest](h, w, r, op.CreateAssignment{})
	if !ok {
		return
	}
	h.execute(w, r, op.CreateAssignment{UserID: req.parsedUserID, Role: req.parsedRole}, req.TargetRef, http.StatusCreated)
}

// HandleEndAssignment handles POST /cases/{caseID}/assignments/end.
func (h *Handler) HandleEndAssignment(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AssignmentRequest](h, w, r, op.EndAssignment{})
	if !ok {
		return
	}
	h.execute(w, r, op.EndAssignment{UserID: req.parsedUserID, Role: req.parsedRole}, req.TargetRef, http.StatusOK)
}

// HandleDraftDecision handles POST /cases/{caseID}/decisions.
func (h *Handler) HandleDraftDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[DraftDecisionRequest](h, w, r, op.DraftDecision{})
	if !ok {
		return
	}
	h.execute(w, r, op.DraftDecision{Verdict: req.Verdict, DecisionNumber: req.DecisionNumber}, req.TargetRef, http.StatusCreated)
}

// HandleAmendDecision handles PATCH /decisions/{decisionID}.
func (h *Handler) HandleAmendDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AmendDecisionRequest](h, w, r, op.AmendDecision{})
	if !ok {
		return
	}
	h.execute(w, r, op.AmendDecision{Verdict: req.Verdict}, req.TargetRef, http.StatusOK)
}

// HandleSignDecision handles POST /decisions/{decisionID}/sign.
func (h *Handler) HandleSignDecision(w http.ResponseWriter, r *http.Request) {
	h.executeBodyless(w, r, op.SignDecision{}, http.StatusOK)
}

// HandleDeleteDecision handles DELETE /decisions/{decisionID}.
func (h *Handler) HandleDeleteDecision(w http.ResponseWriter, r *http.Request) {
	h.executeBodyless(w, r, op.DeleteDecision{}, http.StatusOK)
}

func decode[T any, PT interface {
	*T
	httputil.Validatable
}](h *Handler, w http.ResponseWriter, r *http.Request, o op.Op) (*T, bool) {
	ctx := r.Context()
	if requestcontext.UserID(ctx).IsNil() {
		err := dErrors.New(dErrors.CodeUnauthorized, "authentication required")
		httputil.WriteError(w, h.service.Reject(ctx, id.UserID{}, pathTarget(r, o), o, err))
		return nil, false
	}
	return httputil.DecodeAndPrepare[T, PT](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
}

// executeBodyless runs an operation whose body, if any, may only name its target.
func (h *Handler) executeBodyless(w http.ResponseWriter, r *http.Request, o op.Op, status int) {
	req, ok := decode[TargetRequest](h, w, r, o)
	if !ok {
		return
	}
	h.execute(w, r, o, req.TargetRef, status)
}

// execute runs o for the authenticated actor; callers have already decoded the body.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, o op.Op, ref TargetRef, status int) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	userID := requestcontext.UserID(ctx)

	target := uuid.Nil
	if kind := o.Target(); kind != op.TargetNone {
		var err error
		target, err = service.ResolveTarget(pathID(r, kind), ref.idFor(kind))
		if err != nil {
			h.logger.WarnContext(ctx, "workflow request names no single target",
				"request_id", requestID,
				"user_id", userID,
				"op", o.Label(),
				"error", err,
			)
			httputil.WriteError(w, h.service.Reject(ctx, userID, pathTarget(r, o), o, err))
			return
		}
	}

	res, err := h.service.Execute(ctx, userID, target, o)
	if err != nil {
		h.logger.WarnContext(ctx, "workflow operation rejected",
			"request_id", requestID,
			"user_id", userID,
			"op", o.Label(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "workflow operation applied",
		"request_id", requestID,
		"user_id", userID,
		"op", o.Label(),
		"no_op", res.NoOp,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if res.NoOp {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, fromResult(res))
}

// pathTarget is the target named by the path alone, or uuid.Nil when it does not parse.
func pathTarget(r *http.Request, o op.Op) uuid.UUID {
	if o.Target() == op.TargetNone {
		return uuid.Nil
	}
	u, err := uuid.Parse(pathID(r, o.Target()))
	if err != nil {
		return uuid.Nil
	}
	return u
}

func pathID(r *http.Request, kind op.TargetKind) string {
	switch kind {
	case op.TargetComplaint:
		return chi.URLParam(r, "complaintID")
	case op.TargetCase:
		return chi.URLParam(r, "caseID")
	case op.TargetDecision:
		return chi.URLParam(r, "decisionID")
	default:
		return ""
	}
}

// -----------------------------------------------------------------------------
// Projections
// -----------------------------------------------------------------------------

// HandleGetComplaint handles GET /complaints/{complaintID}.
func (h *Handler) HandleGetComplaint(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	complaintID, err := id.ParseComplaintID(chi.URLParam(r, "complaintID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := h.service.GetComplaint(r.Context(), actor, complaintID)
	if err != nil {
		h.projectionFailed(r, "get complaint", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromComplaint(c))
}

// HandleListComplaints handles GET /complaints.
func (h *Handler) HandleListComplaints(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListComplaints(r.Context(), actor)
	if err != nil {
		h.projectionFailed(r, "list complaints", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listOf(list, fromComplaint))
}

// HandleGetCase handles GET /cases/{caseID}.
func (h *Handler) HandleGetCase(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := h.actorAndCase(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCase(r.Context(), actor, caseID)
	if err != nil {
		h.projectionFailed(r, "get case", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromCase(c))
}

// HandleListCases handles GET /cases.
func (h *Handler) HandleListCases(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListCases(r.Context(), actor)
	if err != nil {
		h.projectionFailed(r, "list cases", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listOf(list, fromCase))
}

// HandleListAssignments handles GET /cases/{caseID}/assignments.
func (h *Handler) HandleListAssignments(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := h.actorAndCase(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListAssignments(r.Context(), actor, caseID)
	if err != nil {
		h.projectionFailed(r, "list assignments", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listOf(list, fromAssignment))
}

// HandleListDecisions handles GET /cases/{caseID}/decisions.
func (h *Handler) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := h.actorAndCase(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListDecisions(r.Context(), actor, caseID)
	if err != nil {
		h.projectionFailed(r, "list decisions", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listOf(list, fromDecision))
}

// HandleGetDecision handles GET /decisions/{decisionID}.
func (h *Handler) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	decisionID, err := id.ParseDecisionID(chi.URLParam(r, "decisionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.GetDecision(r.Context(), actor, decisionID)
	if err != nil {
		h.projectionFailed(r, "get decision", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromDecision(d))
}

// HandleListAudit handles GET /audit?actor_id=&limit=.
func (h *Handler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	var of *id.UserID
	if raw := query.Get("actor_id"); raw != "" {
		parsed, err := id.ParseUserID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		of = &parsed
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	records, err := h.service.ListAudit(r.Context(), actor, of, limit)
	if err != nil {
		h.projectionFailed(r, "list audit", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listOf(records, fromAuditRecord))
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := requestcontext.UserID(r.Context())
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) actorAndCase(w http.ResponseWriter, r *http.Request) (id.UserID, id.CaseID, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return id.UserID{}, id.CaseID{}, false
	}
	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.UserID{}, id.CaseID{}, false
	}
	return actor, caseID, true
}

// not_found is the normal answer for invisible records and is not worth a log line
func (h *Handler) projectionFailed(r *http.Request, what string, err error) {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return
	}
	ctx := r.Context()
	h.logger.WarnContext(ctx, what+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
