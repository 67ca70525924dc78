// ABOUTME: Server side of the two-step SRP-6a handshake
// ABOUTME: Step1 issues a challenge and parks a session; Step2 consumes it and checks M1

package handshake

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/2389/srpgate/internal/sessions"
	"github.com/2389/srpgate/internal/srp"
	"github.com/2389/srpgate/internal/store"
)

// Handshake errors. Transports must surface every one except ErrValidation
// as the same authentication failure.
var (
	ErrValidation         = errors.New("invalid request")
	ErrInvalidPublicValue = errors.New("invalid public value")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrEvidenceMismatch   = errors.New("evidence mismatch")
	ErrSessionInFlight    = errors.New("handshake already in flight")
	ErrLookupFailed       = errors.New("credential lookup failed")
)

// Policy decides what a second Step1 does while a session is in flight.
type Policy string

const (
	PolicyReplace Policy = "replace"
	PolicyReject  Policy = "reject"
)

// DefaultLookupTimeout bounds the credential fetch in Step1.
const DefaultLookupTimeout = 5 * time.Second

// Session is the state parked between Step1 and Step2. The private ephemeral
// b, the premaster secret S and the session key K never leave this package.
type Session struct {
	Identity  string
	A         *big.Int
	B         *big.Int
	U         *big.Int
	Salt      *big.Int
	CreatedAt time.Time

	b *big.Int
	s *big.Int
	k []byte
}

// Challenge is the Step1 result returned to the client.
type Challenge struct {
	Salt *big.Int
	B    *big.Int
}

// Config holds engine settings.
type Config struct {
	Group         *srp.Group
	LookupTimeout time.Duration
	Policy        Policy
}

// Engine runs handshakes against a credential store, parking in-flight
// state in an injected session store.
type Engine struct {
	group         *srp.Group
	credentials   store.CredentialStore
	sessions      *sessions.Store[*Session]
	lookupTimeout time.Duration
	policy        Policy
	logger        *slog.Logger
	now           func() time.Time
}

// NewEngine wires an engine. A nil logger discards output.
func NewEngine(creds store.CredentialStore, sess *sessions.Store[*Session], cfg Config, logger *slog.Logger) (*Engine, error) {
	if creds == nil || sess == nil {
		return nil, errors.New("handshake: credential store and session store are required")
	}
	if cfg.Group == nil {
		return nil, errors.New("handshake: group is required")
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyReplace
	case PolicyReplace, PolicyReject:
	default:
		return nil, fmt.Errorf("handshake: unknown concurrent login policy %q", cfg.Policy)
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		group:         cfg.Group,
		credentials:   creds,
		sessions:      sess,
		lookupTimeout: cfg.LookupTimeout,
		policy:        cfg.Policy,
		logger:        logger.With("component", "handshake"),
		now:           time.Now,
	}, nil
}

// Group returns the (N, g) pair this engine runs with.
func (e *Engine) Group() *srp.Group {
	return e.group
}

// Step1 validates A, looks up the credential, and returns (salt, B).
// The session store lock is only taken after the lookup completes.
func (e *Engine) Step1(ctx context.Context, identity string, A *big.Int) (*Challenge, error) {
	identity = store.NormalizeIdentity(identity)
	if identity == "" || A == nil {
		return nil, ErrValidation
	}
	if !e.group.IsValidPublic(A) {
		return nil, ErrInvalidPublicValue
	}

	rec, err := e.fetch(ctx, identity)
	if err != nil {
		return nil, err
	}

	sess, err := e.newSession(identity, rec, A)
	if err != nil {
		return nil, err
	}

	switch e.policy {
	case PolicyReject:
		if err := e.sessions.Insert(identity, sess); err != nil {
			return nil, ErrSessionInFlight
		}
	default:
		if replaced := e.sessions.Put(identity, sess); replaced {
			e.logger.Info("replaced in-flight handshake", "identity", identity)
		}
	}

	return &Challenge{
		Salt: new(big.Int).Set(rec.Salt),
		B:    new(big.Int).Set(sess.B),
	}, nil
}

// Step2 consumes the session and checks the client evidence M1. On success it
// returns M2 and the identity is proven.
func (e *Engine) Step2(ctx context.Context, identity string, m1 *big.Int) (*big.Int, error) {
	identity = store.NormalizeIdentity(identity)
	if identity == "" || m1 == nil {
		return nil, ErrValidation
	}

	sess, ok := e.sessions.TakeAndRemove(identity)
	if !ok {
		return nil, ErrSessionNotFound
	}

	got, ok := srp.EvidenceBytes(m1)
	if !ok {
		return nil, ErrEvidenceMismatch
	}
	want := e.group.ClientEvidence(sess.Identity, sess.Salt, sess.A, sess.B, sess.k)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return nil, ErrEvidenceMismatch
	}

	return srp.EvidenceInt(e.group.ServerEvidence(sess.A, got, sess.k)), nil
}

// fetch bounds the credential lookup and maps store errors.
func (e *Engine) fetch(ctx context.Context, identity string) (*store.CredentialRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	rec, err := e.credentials.FetchCredential(ctx, identity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrCredentialNotFound
	case err != nil:
		e.logger.Error("credential lookup failed", "identity", identity, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	case rec == nil || rec.Salt == nil || rec.Verifier == nil:
		return nil, ErrCredentialNotFound
	}
	return rec, nil
}

// newSession draws b and derives B, u, S and K for one attempt.
func (e *Engine) newSession(identity string, rec *store.CredentialRecord, A *big.Int) (*Session, error) {
	g := e.group
	v := rec.Verifier

	var b, B *big.Int
	for {
		var err error
		b, err = g.RandomExponent()
		if err != nil {
			return nil, fmt.Errorf("drawing ephemeral: %w", err)
		}
		B = g.ServerPublic(v, b)
		if B.Sign() != 0 {
			break
		}
	}

	u := g.Scrambler(A, B)
	if u.Sign() == 0 {
		return nil, ErrInvalidPublicValue
	}
	S := g.ServerPremaster(A, v, u, b)

	return &Session{
		Identity:  identity,
		A:         new(big.Int).Set(A),
		B:         B,
		U:         u,
		Salt:      new(big.Int).Set(rec.Salt),
		CreatedAt: e.now(),
		b:         b,
		s:         S,
		k:         g.SessionKey(S),
	}, nil
}

// InFlight reports how many sessions are parked, for metrics.
func (e *Engine) InFlight() int {
	return e.sessions.Len()
}
