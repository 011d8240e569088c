package testutil

import (
	"net/http"
	"time"

	id "docket/pkg/domain"
	"docket/pkg/requestcontext"
)

// WithActor puts an authenticated user on the request context, as the auth middleware
// would after validating a bearer token.
func WithActor(req *http.Request, userID id.UserID) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}

// WithRequestMeta sets the request id, client metadata and request time the audit
// trail reads.
func WithRequestMeta(req *http.Request, requestID, clientIP, userAgent string, now time.Time) *http.Request {
	ctx := requestcontext.WithRequestID(req.Context(), requestID)
	ctx = requestcontext.WithClientMetadata(ctx, clientIP, userAgent)
	ctx = requestcontext.WithTime(ctx, now)
	return req.WithContext(ctx)
}
