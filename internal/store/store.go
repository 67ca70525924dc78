// ABOUTME: Store interface and data types for srpgate persistence
// ABOUTME: Credential records (salt + verifier), user profiles, and the audit log

package store

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting a profile whose identity already exists
var ErrDuplicate = errors.New("already exists")

// CredentialRecord is the server-side half of an SRP enrollment.
// It never contains the password.
type CredentialRecord struct {
	Identity string
	Salt     *big.Int
	Verifier *big.Int
}

// Profile is the user row keyed by identity (normalized email).
type Profile struct {
	Identity    string
	FirstName   string
	LastName    string
	PhoneNumber string
	LanguageID  int
	HasVerifier bool // set on reads; true once a credential has been enrolled
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CredentialStore is the lookup the handshake engine depends on.
type CredentialStore interface {
	FetchCredential(ctx context.Context, identity string) (*CredentialRecord, error)
}

// ProfileStore creates and reads user profiles.
type ProfileStore interface {
	InsertProfile(ctx context.Context, p *Profile) (string, error)
	GetProfile(ctx context.Context, identity string) (*Profile, error)
	ListProfiles(ctx context.Context, limit int) ([]*Profile, error)
}

// AuditStore appends and lists audit entries.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is everything srpgate persists.
type Store interface {
	CredentialStore
	ProfileStore
	AuditStore

	// SetCredential enrolls or rotates the salt/verifier for identity,
	// creating a bare profile if none exists.
	SetCredential(ctx context.Context, identity string, salt, verifier *big.Int) error

	// DeleteUser removes the profile and its credential.
	DeleteUser(ctx context.Context, identity string) error

	Ping(ctx context.Context) error
	Close() error
}

// NormalizeIdentity trims and lowercases an email so lookups are case-insensitive.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
