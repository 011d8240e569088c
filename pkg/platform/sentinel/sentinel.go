package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// and services translate them into domain errors:
//   - ErrNotFound: row does not exist
//   - ErrConflict: uniqueness constraint hit (case reference, decision number, active assignment)
//   - ErrRetryable: the transaction lost a serialization race and may be replayed
//   - ErrUnavailable: backend temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrRetryable   = errors.New("retryable transaction failure")
	ErrUnavailable = errors.New("unavailable")
)
