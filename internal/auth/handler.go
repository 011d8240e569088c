package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/httputil"
	"docket/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/auth-mocks.go -package=mocks Revoker

// Revoker denies a token id until it would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

// Handler exposes self-service token revocation (sign out).
type Handler struct {
	revoker  Revoker
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewHandler builds the auth handler. tokenTTL bounds how long a revoked id is kept.
func NewHandler(revoker Revoker, tokenTTL time.Duration, logger *slog.Logger) *Handler {
	return &Handler{revoker: revoker, tokenTTL: tokenTTL, logger: logger}
}

// Register mounts the auth endpoints. The router must already authenticate.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/revoke", h.HandleRevoke)
}

// HandleRevoke revokes the token the request was authenticated with.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID := requestcontext.UserID(ctx)
	jti := requestcontext.TokenID(ctx)
	if userID.IsNil() || jti == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	if err := h.revoker.Revoke(ctx, jti, h.tokenTTL); err != nil {
		h.logger.ErrorContext(ctx, "token revocation failed",
			"request_id", requestID,
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke token"))
		return
	}

	h.logger.InfoContext(ctx, "token revoked",
		"request_id", requestID,
		"user_id", userID,
		"jti", jti,
	)
	w.WriteHeader(http.StatusNoContent)
}
