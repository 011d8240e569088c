// Package auth authenticates bearer tokens and puts the actor on the request context.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/httputil"
	"docket/pkg/requestcontext"
)

// JWTValidator validates a raw bearer token.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// TokenRevocationChecker reports whether a token id has been revoked.
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// JWTClaims is the subset of token claims the middleware needs.
type JWTClaims struct {
	UserID string
	JTI    string // JWT ID for revocation tracking
}

// RequireAuth rejects requests without a valid, unrevoked bearer token. A nil
// revocationChecker skips the revocation lookup.
func RequireAuth(validator JWTValidator, revocationChecker TokenRevocationChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := authenticate(r, validator, revocationChecker, logger)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth puts the actor on the context when the request carries a valid token and
// otherwise lets it through anonymously, leaving the rejection to the handler. A failed
// revocation lookup still fails the request.
func OptionalAuth(validator JWTValidator, revocationChecker TokenRevocationChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := authenticate(r, validator, revocationChecker, logger)
			if err != nil {
				if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
					httputil.WriteError(w, err)
					return
				}
				ctx = r.Context()
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, validator JWTValidator, revocationChecker TokenRevocationChecker, logger *slog.Logger) (context.Context, error) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		logger.WarnContext(ctx, "unauthorized access - missing token",
			"request_id", requestID,
		)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header")
	}

	claims, err := validator.ValidateToken(token)
	if err != nil {
		logger.WarnContext(ctx, "unauthorized access - invalid token",
			"error", err,
			"request_id", requestID,
		)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	}

	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		logger.WarnContext(ctx, "unauthorized access - bad subject",
			"error", err,
			"request_id", requestID,
		)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	}

	if revocationChecker != nil {
		if claims.JTI == "" {
			logger.WarnContext(ctx, "unauthorized access - missing token jti",
				"request_id", requestID,
			)
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
		}
		revoked, err := revocationChecker.IsTokenRevoked(ctx, claims.JTI)
		if err != nil {
			logger.ErrorContext(ctx, "failed to check token revocation",
				"error", err,
				"request_id", requestID,
			)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate token")
		}
		if revoked {
			logger.WarnContext(ctx, "unauthorized access - token revoked",
				"jti", claims.JTI,
				"request_id", requestID,
			)
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has been revoked")
		}
	}

	ctx = requestcontext.WithUserID(ctx, userID)
	ctx = requestcontext.WithTokenID(ctx, claims.JTI)
	return ctx, nil
}
