package auth

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const revokedTokenKeyPrefix = "docket:trl:jti:"

// RevocationList is a Redis-backed deny list of token ids. Entries expire with the
// token so the list never outgrows the set of live tokens.
type RevocationList struct {
	client  redis.Cmdable
	latency prometheus.Histogram
}

// RevocationOption configures a RevocationList.
type RevocationOption func(*RevocationList)

// WithRegisterer records lookup latency on reg.
func WithRegisterer(reg prometheus.Registerer) RevocationOption {
	return func(l *RevocationList) {
		l.latency = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "docket_token_revocation_check_duration_ms",
			Help:    "Latency of token revocation checks in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		})
	}
}

// NewRevocationList builds a revocation list on client.
func NewRevocationList(client redis.Cmdable, opts ...RevocationOption) *RevocationList {
	l := &RevocationList{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Revoke denies jti for ttl. Empty ids and non-positive ttls are ignored.
func (l *RevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	return l.client.Set(ctx, revokedTokenKeyPrefix+jti, "1", ttl).Err()
}

// IsTokenRevoked reports whether jti is on the list.
func (l *RevocationList) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if l.latency != nil {
		start := time.Now()
		defer func() {
			l.latency.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
		}()
	}
	if jti == "" {
		return false, nil
	}
	err := l.client.Get(ctx, revokedTokenKeyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
