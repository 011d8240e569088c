// Package audit records one append-only, hash-chained entry per workflow call.
package audit

import (
	"context"
	"time"

	id "docket/pkg/domain"
)

// Outcome classifies how a workflow call ended.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeAllowed, OutcomeDenied, OutcomeError:
		return true
	}
	return false
}

// Record is a single audit log entry. Seq, PrevHash and Hash are assigned by the
// store on append; callers fill the rest.
type Record struct {
	ID        id.AuditID
	Seq       int64
	ActorID   *id.UserID // nil when the call carried no actor
	Action    string
	Method    string
	Endpoint  string
	IP        string
	Client    string
	Outcome   Outcome
	Reason    string // error code for denied and error outcomes
	RequestID string
	Target    string
	Timestamp time.Time
	PrevHash  string
	Hash      string
}

// Store is the append-only audit log.
type Store interface {
	// Append links rec to the current chain head and persists it.
	Append(ctx context.Context, rec *Record) error
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	ListByActor(ctx context.Context, actor id.UserID, limit int) ([]Record, error)
	// ListAll returns every record in chain order.
	ListAll(ctx context.Context) ([]Record, error)
}

// Alerter notifies operators that an audit write failed.
type Alerter interface {
	Alert(ctx context.Context, rec Record, cause error) error
}
