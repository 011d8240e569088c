package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manual time source for cooldown tests.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// send drives b the way the alert publisher does: ask first, then report the broker
// result. tried is false when the breaker routed straight to the log fallback.
func send(b *Breaker, brokerUp bool) (tried bool, change Change) {
	if !b.Allow() {
		return false, Change{}
	}
	if brokerUp {
		_, change = b.RecordSuccess()
		return true, change
	}
	_, change = b.RecordFailure()
	return true, change
}

func TestBreaker_NewIsClosed(t *testing.T) {
	b := New("audit-alerts")
	assert.Equal(t, "audit-alerts", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())
	assert.True(t, b.Allow())
}

func TestBreaker_FailureThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		opensOn   int
	}{
		{name: "single failure trips", threshold: 1, opensOn: 1},
		{name: "publisher default", threshold: 3, opensOn: 3},
		{name: "non-positive keeps default", threshold: 0, opensOn: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("audit-alerts", WithFailureThreshold(tt.threshold))
			for i := 1; i < tt.opensOn; i++ {
				tried, change := send(b, false)
				require.True(t, tried)
				require.False(t, change.Opened, "failure %d must not open", i)
			}
			tried, change := send(b, false)
			assert.True(t, tried)
			assert.True(t, change.Opened)
			assert.True(t, b.IsOpen())
		})
	}
}

func TestBreaker_IntermittentFailuresStayClosed(t *testing.T) {
	b := New("audit-alerts", WithFailureThreshold(3))
	for range 5 {
		send(b, false)
		send(b, false)
		_, change := send(b, true)
		assert.False(t, change.Closed, "closed breaker reports no transition")
	}
	assert.False(t, b.IsOpen())
}

func TestBreaker_CooldownProbe(t *testing.T) {
	clk := newClock()
	b := New("audit-alerts",
		WithFailureThreshold(1),
		WithCooldown(30*time.Second),
		WithClock(clk.Now),
	)

	_, change := send(b, false)
	require.True(t, change.Opened)

	clk.Advance(29 * time.Second)
	tried, _ := send(b, true)
	assert.False(t, tried, "cooldown not over: alert goes to the log")

	clk.Advance(time.Second)
	tried, change = send(b, true)
	assert.True(t, tried, "first alert after the cooldown reaches the broker")
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())

	tried, _ = send(b, true)
	assert.True(t, tried)
}

func TestBreaker_FailedProbeRestartsCooldown(t *testing.T) {
	clk := newClock()
	b := New("audit-alerts",
		WithFailureThreshold(1),
		WithCooldown(30*time.Second),
		WithClock(clk.Now),
	)
	send(b, false)

	clk.Advance(30 * time.Second)
	tried, change := send(b, false)
	require.True(t, tried)
	assert.False(t, change.Opened, "already open")
	assert.True(t, b.IsOpen())

	clk.Advance(20 * time.Second)
	tried, _ = send(b, true)
	assert.False(t, tried, "cooldown counts from the failed probe")

	clk.Advance(10 * time.Second)
	tried, change = send(b, true)
	assert.True(t, tried)
	assert.True(t, change.Closed)
}

func TestBreaker_SuccessThresholdNeedsConsecutiveProbes(t *testing.T) {
	clk := newClock()
	b := New("audit-alerts",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithCooldown(time.Second),
		WithClock(clk.Now),
	)
	send(b, false)
	clk.Advance(time.Second)

	_, change := send(b, true)
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen())

	send(b, false)
	clk.Advance(time.Second)
	_, change = send(b, true)
	assert.False(t, change.Closed, "a failure in between restarts the success count")

	_, change = send(b, true)
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("audit-alerts", WithFailureThreshold(1), WithCooldown(time.Hour))
	send(b, false)
	require.False(t, b.Allow())

	b.Reset()
	assert.True(t, b.Allow())
	_, change := send(b, false)
	assert.True(t, change.Opened, "counters start over after a reset")
}

func TestBreaker_ConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("audit-alerts", WithFailureThreshold(3), WithCooldown(time.Hour))

	const senders = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, change := b.RecordFailure()
			if change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}
