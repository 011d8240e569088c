package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	id "docket/pkg/domain"
	"docket/pkg/requestcontext"
)

// Recorder writes exactly one audit record per call and never fails the caller.
// A failed append is logged, counted, alerted and queued for redelivery.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	alerter Alerter
	buffer  *RingBuffer
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithAlerter sets the operational channel notified of failed appends.
func WithAlerter(a Alerter) Option {
	return func(r *Recorder) { r.alerter = a }
}

// WithBuffer sets the queue failed appends are parked in.
func WithBuffer(b *RingBuffer) Option {
	return func(r *Recorder) { r.buffer = b }
}

// NewRecorder builds a Recorder over store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.buffer == nil {
		r.buffer = NewRingBuffer(0)
	}
	return r
}

// Buffer exposes the redelivery queue so a worker can drain it.
func (r *Recorder) Buffer() *RingBuffer { return r.buffer }

// Entry is what a caller knows about a finished call. Request metadata is read from ctx.
type Entry struct {
	ActorID *id.UserID
	Action  string
	Target  string
	Outcome Outcome
	Reason  string
}

// Record persists one audit record for entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	rec := r.build(ctx, entry)

	// a cancelled request still gets its audit record
	writeCtx := context.WithoutCancel(ctx)
	if err := r.store.Append(writeCtx, &rec); err != nil {
		r.fail(writeCtx, rec, err)
		return
	}
	r.metrics.IncRecorded(rec.Outcome)
}

func (r *Recorder) build(ctx context.Context, entry Entry) Record {
	method, endpoint := requestcontext.Route(ctx)
	outcome := entry.Outcome
	if !outcome.IsValid() {
		outcome = OutcomeError
	}
	return Record{
		ID:        id.AuditID(uuid.New()),
		ActorID:   entry.ActorID,
		Action:    entry.Action,
		Method:    method,
		Endpoint:  endpoint,
		IP:        requestcontext.ClientIP(ctx),
		Client:    ClientLabel(requestcontext.UserAgent(ctx)),
		Outcome:   outcome,
		Reason:    entry.Reason,
		RequestID: requestcontext.RequestID(ctx),
		Target:    entry.Target,
		Timestamp: requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
	}
}

func (r *Recorder) fail(ctx context.Context, rec Record, cause error) {
	r.metrics.IncWriteFailures()
	r.logger.ErrorContext(ctx, "audit append failed",
		"audit_id", rec.ID.String(),
		"action", rec.Action,
		"outcome", string(rec.Outcome),
		"request_id", rec.RequestID,
		"error", cause,
	)
	if r.alerter != nil {
		if err := r.alerter.Alert(ctx, rec, cause); err != nil {
			r.logger.WarnContext(ctx, "audit failure alert not delivered", "audit_id", rec.ID.String(), "error", err)
		}
	}
	if r.buffer.Enqueue(rec) {
		r.metrics.IncBufferDropped()
		r.logger.ErrorContext(ctx, "audit redelivery buffer full, oldest record dropped")
	}
	r.metrics.SetBufferDepth(r.buffer.Len())
}
