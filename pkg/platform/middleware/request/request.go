// Package request tags each request with an id and, once routing has happened, the
// matched route pattern.
package request

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"docket/pkg/requestcontext"
)

const HeaderRequestID = "X-Request-ID"

// RequestID reuses a caller supplied X-Request-ID or generates one, stores it on the
// context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), reqID)))
	})
}

// Route records the HTTP method and chi route pattern for the audit trail. Mount it
// inline (chi Group or With) so it runs after the route has been matched.
func Route(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				pattern = p
			}
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRoute(r.Context(), r.Method, pattern)))
	})
}
