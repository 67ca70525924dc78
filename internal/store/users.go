// ABOUTME: User profile and SRP credential persistence
// ABOUTME: Salt and verifier are stored as decimal text next to the profile row

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// FetchCredential returns the salt and verifier for identity.
// Returns ErrNotFound if the user does not exist or has no credential enrolled.
func (s *SQLStore) FetchCredential(ctx context.Context, identity string) (*CredentialRecord, error) {
	identity = NormalizeIdentity(identity)

	var saltStr, verifierStr sql.NullString
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT salt, verifier FROM users WHERE identity = ?`),
		identity,
	).Scan(&saltStr, &verifierStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	if !saltStr.Valid || !verifierStr.Valid {
		return nil, ErrNotFound
	}

	salt, ok := new(big.Int).SetString(saltStr.String, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt salt for %q", identity)
	}
	verifier, ok := new(big.Int).SetString(verifierStr.String, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt verifier for %q", identity)
	}

	return &CredentialRecord{Identity: identity, Salt: salt, Verifier: verifier}, nil
}

// SetCredential enrolls or replaces the credential for identity.
func (s *SQLStore) SetCredential(ctx context.Context, identity string, salt, verifier *big.Int) error {
	identity = NormalizeIdentity(identity)
	if identity == "" {
		return errors.New("identity is required")
	}
	if salt == nil || verifier == nil || salt.Sign() <= 0 || verifier.Sign() <= 0 {
		return errors.New("salt and verifier must be positive")
	}

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (identity, salt, verifier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO UPDATE
		SET salt = excluded.salt, verifier = excluded.verifier, updated_at = excluded.updated_at
	`), identity, salt.String(), verifier.String(), now, now)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}

	s.logger.Debug("set credential", "identity", identity)
	return nil
}

// DeleteUser removes the user row. Returns ErrNotFound if nothing was deleted.
func (s *SQLStore) DeleteUser(ctx context.Context, identity string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE identity = ?`), NormalizeIdentity(identity))
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertProfile creates a profile without a credential and returns its identity.
// Returns ErrDuplicate if the identity is already taken.
func (s *SQLStore) InsertProfile(ctx context.Context, p *Profile) (string, error) {
	identity := NormalizeIdentity(p.Identity)
	if identity == "" {
		return "", errors.New("identity is required")
	}
	if p.LanguageID == 0 {
		p.LanguageID = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (identity, first_name, last_name, phone_number, language_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), identity, p.FirstName, p.LastName, p.PhoneNumber, p.LanguageID, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("inserting profile: %w", err)
	}

	p.Identity = identity
	s.logger.Debug("created profile", "identity", identity)
	return identity, nil
}

const profileColumns = `identity, first_name, last_name, phone_number, language_id, verifier IS NOT NULL, created_at, updated_at`

func scanProfile(scanner interface{ Scan(dest ...any) error }) (*Profile, error) {
	var p Profile
	var createdAt, updatedAt string
	if err := scanner.Scan(
		&p.Identity,
		&p.FirstName,
		&p.LastName,
		&p.PhoneNumber,
		&p.LanguageID,
		&p.HasVerifier,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile returns the profile for identity or ErrNotFound.
func (s *SQLStore) GetProfile(ctx context.Context, identity string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+profileColumns+` FROM users WHERE identity = ?`),
		NormalizeIdentity(identity),
	)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns profiles oldest first, capped at limit (default 100, max 1000).
func (s *SQLStore) ListProfiles(ctx context.Context, limit int) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+profileColumns+` FROM users ORDER BY created_at, identity LIMIT ?`),
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	profiles := []*Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}
	return profiles, nil
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
