// Package worker redelivers audit records whose first append failed.
package worker

import (
	"context"
	"log/slog"
	"time"

	audit "docket/pkg/platform/audit"
)

const defaultBatchSize = 100

// Worker drains the recorder's ring buffer into the store on a fixed interval.
type Worker struct {
	store    audit.Store
	buffer   *audit.RingBuffer
	interval time.Duration
	batch    int
	logger   *slog.Logger
	metrics  *audit.Metrics
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *audit.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func NewWorker(store audit.Store, buffer *audit.RingBuffer, interval time.Duration, opts ...Option) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	w := &Worker{
		store:    store,
		buffer:   buffer,
		interval: interval,
		batch:    defaultBatchSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run flushes on every tick until ctx is done, then makes one last attempt.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush appends queued records until the buffer is empty or the store fails again.
// Records not yet persisted go back into the buffer. It returns how many were delivered.
func (w *Worker) Flush(ctx context.Context) int {
	delivered := 0
	defer func() {
		w.metrics.IncRedelivered(delivered)
		w.metrics.SetBufferDepth(w.buffer.Len())
	}()

	for {
		batch := w.buffer.DequeueBatch(w.batch)
		if len(batch) == 0 {
			return delivered
		}
		for i := range batch {
			if err := w.store.Append(ctx, &batch[i]); err != nil {
				w.logger.WarnContext(ctx, "audit redelivery failed, will retry",
					"pending", len(batch)-i+w.buffer.Len(),
					"error", err,
				)
				for _, rec := range batch[i:] {
					if w.buffer.Enqueue(rec) {
						w.metrics.IncBufferDropped()
					}
				}
				return delivered
			}
			delivered++
		}
	}
}
