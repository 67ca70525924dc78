// ABOUTME: Per-client token buckets guarding the handshake on both transports
// ABOUTME: Buckets are keyed by remote host; idle ones are swept in the background

package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	// minLimiterIdle is the shortest time a bucket is kept after its last use.
	minLimiterIdle         = time.Minute
	limiterSweepInterval   = time.Minute
	handshakeServicePrefix = "/srpgate.v1.Handshake/"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// clientLimiter holds one token bucket per client so a single noisy caller
// cannot exhaust the handshake budget of everyone else.
type clientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// newClientLimiter starts the sweep goroutine. Call Close to stop it.
func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	l := newClientLimiterWithClock(perSecond, burst, time.Now)
	go l.cleanup(limiterSweepInterval)
	return l
}

func newClientLimiterWithClock(perSecond float64, burst int, now func() time.Time) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	// A bucket idle for this long has refilled, so dropping it loses nothing.
	idle := time.Duration(float64(burst) / perSecond * float64(time.Second))
	if idle < minLimiterIdle {
		idle = minLimiterIdle
	}
	return &clientLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Allow takes one token from the bucket of key.
func (l *clientLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (l *clientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *clientLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.done:
			return
		}
	}
}

// Sweep drops buckets idle for longer than their refill time.
func (l *clientLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Close stops the background sweep. It is safe to call multiple times.
func (l *clientLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}

// clientKey reduces a remote address to its host so every connection from
// one client shares a bucket.
func clientKey(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// rateLimit rejects handshake requests beyond the per-client rate.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	if g.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.Allow(clientKey(r.RemoteAddr)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests", codeTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitInterceptor applies the same per-client limit to the gRPC
// Handshake service.
func rateLimitInterceptor(l *clientLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if l == nil || !strings.HasPrefix(info.FullMethod, handshakeServicePrefix) {
			return handler(ctx, req)
		}
		key := "unknown"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			key = clientKey(p.Addr.String())
		}
		if !l.Allow(key) {
			return nil, status.Error(codes.ResourceExhausted, "too many requests")
		}
		return handler(ctx, req)
	}
}
