// Package alert publishes audit write failures to the operational alert topic.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "docket/pkg/platform/audit"
	"docket/pkg/platform/circuit"
)

// Producer is the slice of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher sends alerts to Kafka behind a circuit breaker. While the breaker is open,
// alerts are written to the log instead.
type Publisher struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *audit.Metrics
	timeout  time.Duration
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *audit.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) { p.breaker = b }
}

func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func New(producer Producer, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		logger:   slog.Default(),
		timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = circuit.New("audit-alerts", circuit.WithFailureThreshold(3))
	}
	return p
}

// message is the JSON payload on the alert topic.
type message struct {
	AuditID   string    `json:"audit_id"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// Alert never returns an error for broker trouble; the log fallback absorbs it.
func (p *Publisher) Alert(ctx context.Context, rec audit.Record, cause error) error {
	payload, err := json.Marshal(message{
		AuditID:   rec.ID.String(),
		Action:    rec.Action,
		Outcome:   string(rec.Outcome),
		Reason:    rec.Reason,
		RequestID: rec.RequestID,
		Target:    rec.Target,
		Error:     cause.Error(),
		At:        rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal audit alert: %w", err)
	}

	if !p.breaker.Allow() {
		p.fallback(ctx, rec, cause, "breaker open")
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	record := &kgo.Record{Topic: p.topic, Key: []byte(rec.ID.String()), Value: payload}
	if err := p.producer.ProduceSync(sendCtx, record).FirstErr(); err != nil {
		_, change := p.breaker.RecordFailure()
		if change.Opened {
			p.metrics.SetAlertBreakerOpen(true)
			p.logger.WarnContext(ctx, "audit alert breaker opened", "breaker", p.breaker.Name())
		}
		p.fallback(ctx, rec, cause, err.Error())
		return nil
	}

	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.metrics.SetAlertBreakerOpen(false)
		p.logger.InfoContext(ctx, "audit alert breaker closed", "breaker", p.breaker.Name())
	}
	p.metrics.IncAlertsPublished()
	return nil
}

func (p *Publisher) fallback(ctx context.Context, rec audit.Record, cause error, why string) {
	p.metrics.IncAlertsFallback()
	p.logger.ErrorContext(ctx, "AUDIT ALERT: audit record not persisted",
		"audit_id", rec.ID.String(),
		"action", rec.Action,
		"outcome", string(rec.Outcome),
		"request_id", rec.RequestID,
		"error", cause,
		"publish_error", why,
	)
}
