// ABOUTME: Tests for the per-client handshake limiter
// ABOUTME: Uses a manual clock to check bucket isolation, refill and idle sweeping

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestClientLimiter_KeysAreIsolated(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	l := newClientLimiterWithClock(1, 2, clock.Now)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")

	assert.True(t, l.Allow("10.0.0.2"), "other clients keep their budget")

	clock.Advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refilled")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestClientLimiter_SweepDropsIdleBuckets(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	l := newClientLimiterWithClock(10, 1, clock.Now)

	l.Allow("a")
	clock.Advance(30 * time.Second)
	l.Allow("b")
	assert.Equal(t, 0, l.Sweep())
	assert.Equal(t, 2, l.Len())

	clock.Advance(minLimiterIdle - 30*time.Second)
	assert.Equal(t, 1, l.Sweep(), "only the bucket idle past the refill window goes")
	assert.Equal(t, 1, l.Len())
}

func TestClientLimiter_IdleCoversSlowRefill(t *testing.T) {
	l := newClientLimiterWithClock(0.001, 1, time.Now)
	assert.Equal(t, 1000*time.Second, l.idle)
}

func TestClientLimiter_CloseIdempotent(t *testing.T) {
	l := newClientLimiter(1, 1)
	l.Close()
	l.Close()
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"192.0.2.1:5000", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
		{"bufconn", "bufconn"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, clientKey(tt.addr))
		})
	}
}
