// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows handshake, gateway, and oauth tests to run without a database

package store

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	profiles    map[string]*Profile
	credentials map[string]*CredentialRecord
	audit       []AuditEntry

	// FetchErr, when set, is returned by FetchCredential.
	FetchErr error
	// FetchDelay makes FetchCredential block (honoring ctx) before answering.
	FetchDelay time.Duration
	// FetchCalls counts FetchCredential invocations.
	FetchCalls int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		profiles:    make(map[string]*Profile),
		credentials: make(map[string]*CredentialRecord),
	}
}

// FetchCredential returns the stored credential for identity.
func (m *MockStore) FetchCredential(ctx context.Context, identity string) (*CredentialRecord, error) {
	m.mu.Lock()
	m.FetchCalls++
	delay, fetchErr := m.FetchDelay, m.FetchErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.credentials[NormalizeIdentity(identity)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// SetCredential stores a credential, creating a bare profile if needed.
func (m *MockStore) SetCredential(ctx context.Context, identity string, salt, verifier *big.Int) error {
	identity = NormalizeIdentity(identity)
	if identity == "" {
		return errors.New("identity is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.credentials[identity] = &CredentialRecord{
		Identity: identity,
		Salt:     new(big.Int).Set(salt),
		Verifier: new(big.Int).Set(verifier),
	}
	if p, ok := m.profiles[identity]; ok {
		p.HasVerifier = true
		p.UpdatedAt = now
	} else {
		m.profiles[identity] = &Profile{Identity: identity, LanguageID: 1, HasVerifier: true, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

// DeleteUser removes the profile and credential.
func (m *MockStore) DeleteUser(ctx context.Context, identity string) error {
	identity = NormalizeIdentity(identity)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[identity]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, identity)
	delete(m.credentials, identity)
	return nil
}

// InsertProfile stores a new profile.
func (m *MockStore) InsertProfile(ctx context.Context, p *Profile) (string, error) {
	identity := NormalizeIdentity(p.Identity)
	if identity == "" {
		return "", errors.New("identity is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[identity]; ok {
		return "", ErrDuplicate
	}
	cp := *p
	cp.Identity = identity
	if cp.LanguageID == 0 {
		cp.LanguageID = 1
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.profiles[identity] = &cp
	return identity, nil
}

// GetProfile returns a copy of the stored profile.
func (m *MockStore) GetProfile(ctx context.Context, identity string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[NormalizeIdentity(identity)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListProfiles returns profiles oldest first.
func (m *MockStore) ListProfiles(ctx context.Context, limit int) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendAuditLog records an entry in memory.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns entries newest first, honoring Action, Actor, and TargetID.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		out = append(out, e)
	}
	if limit := normalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLStore)(nil)
)
