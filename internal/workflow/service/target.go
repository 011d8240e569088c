package service

import (
	"strings"

	"github.com/google/uuid"

	dErrors "docket/pkg/domain-errors"
)

// ResolveTarget returns the one target id a request names. A request may carry the id
// in several places (path, body); every non-empty candidate must agree.
func ResolveTarget(candidates ...string) (uuid.UUID, error) {
	var found uuid.UUID
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := uuid.Parse(raw)
		if err != nil || u == uuid.Nil {
			return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid target id")
		}
		if found != uuid.Nil && found != u {
			return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "request names more than one target id")
		}
		found = u
	}
	if found == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "target id is required")
	}
	return found, nil
}
