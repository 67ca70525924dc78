// ABOUTME: Thread-safe TTL store for in-flight handshake sessions keyed by identity
// ABOUTME: One mutex guards the map; a background sweep purges abandoned sessions

package sessions

import (
	"errors"
	"sync"
	"time"
)

// ErrInFlight is returned by Insert when a live session already exists for the key.
var ErrInFlight = errors.New("session already in flight")

const (
	DefaultTTL           = 2 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Store holds at most one session per identity. Sessions older than the TTL
// are invisible to readers and are purged by the sweep goroutine.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	sweep   time.Duration
	now     func() time.Time
	onEvict func(n int)
	done    chan struct{}
	closed  bool
}

// Option configures a Store.
type Option func(*options)

type options struct {
	sweep   time.Duration
	now     func() time.Time
	onEvict func(n int)
}

// WithSweepInterval sets how often expired sessions are purged.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweep = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEvictHook is called after each sweep that removed at least one session.
func WithEvictHook(fn func(n int)) Option {
	return func(o *options) { o.onEvict = fn }
}

// New creates a store and starts its sweep goroutine. Call Close to stop it.
func New[V any](ttl time.Duration, opts ...Option) *Store[V] {
	o := options{sweep: DefaultSweepInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if o.sweep <= 0 {
		o.sweep = DefaultSweepInterval
	}

	s := &Store[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		sweep:   o.sweep,
		now:     o.now,
		onEvict: o.onEvict,
		done:    make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Put stores the session for key, overwriting any existing one.
// It reports whether a live session was replaced.
func (s *Store[V]) Put(key string, v V) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	old, ok := s.entries[key]
	s.entries[key] = entry[V]{value: v, createdAt: now}
	return ok && s.liveLocked(old, now)
}

// Insert stores the session only if no live session exists for key.
func (s *Store[V]) Insert(key string, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if old, ok := s.entries[key]; ok && s.liveLocked(old, now) {
		return ErrInFlight
	}
	s.entries[key] = entry[V]{value: v, createdAt: now}
	return nil
}

// TakeAndRemove atomically removes and returns the session for key.
// An expired session is removed and reported as absent.
func (s *Store[V]) TakeAndRemove(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	delete(s.entries, key)
	if !s.liveLocked(e, s.now()) {
		return zero, false
	}
	return e.value, true
}

// Len returns the number of stored sessions, including expired ones not yet swept.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TTL returns the configured session lifetime.
func (s *Store[V]) TTL() time.Duration {
	return s.ttl
}

func (s *Store[V]) liveLocked(e entry[V], now time.Time) bool {
	return now.Sub(e.createdAt) < s.ttl
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (s *Store[V]) cleanup() {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.done:
			return
		}
	}
}

// Sweep removes every expired session and returns how many were removed.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !s.liveLocked(e, now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 && s.onEvict != nil {
		s.onEvict(removed)
	}
	return removed
}

// Close stops the background sweep. It is safe to call multiple times.
func (s *Store[V]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
