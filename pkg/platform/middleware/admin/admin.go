// Package admin guards operator endpoints (metrics scraping) with a shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/httputil"
	"docket/pkg/requestcontext"
)

const HeaderOperatorToken = "X-Operator-Token"

// RequireOperatorToken rejects requests whose X-Operator-Token does not match expectedToken.
func RequireOperatorToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderOperatorToken)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "operator token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
