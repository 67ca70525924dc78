// ABOUTME: Signed bearer token issuance and verification
// ABOUTME: HS256 JWTs carrying identity, session type and an optional provider access token

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the minimum signing key length (256 bits for HS256).
const MinSecretLength = 32

// DefaultTokenTTL is used when no lifetime is configured.
const DefaultTokenTTL = 24 * time.Hour

// Token errors
var (
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	ErrInvalidClaims  = errors.New("invalid claims")
)

// SessionType is the kind of session a token grants.
type SessionType uint8

const (
	SessionUnknown SessionType = iota
	SessionUser
	SessionGuest
	SessionSysadmin
)

var sessionTypeNames = map[SessionType]string{
	SessionUser:     "USER",
	SessionGuest:    "GUEST",
	SessionSysadmin: "SYSADMIN",
}

// ParseSessionType maps a wire name to a SessionType. Names are matched
// exactly; anything else, including a lower-case spelling, is an error.
func ParseSessionType(s string) (SessionType, error) {
	for st, name := range sessionTypeNames {
		if s == name {
			return st, nil
		}
	}
	return SessionUnknown, fmt.Errorf("unknown session type %q", s)
}

func (s SessionType) String() string {
	if name, ok := sessionTypeNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether s is one of the defined session types.
func (s SessionType) Valid() bool {
	_, ok := sessionTypeNames[s]
	return ok
}

func (s SessionType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid session type %d", s)
	}
	return []byte(s.String()), nil
}

func (s *SessionType) UnmarshalText(b []byte) error {
	st, err := ParseSessionType(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Claims is the verified content of a bearer token.
type Claims struct {
	JWTID       string
	Subject     string
	Issuer      string
	Audience    string
	SessionType SessionType
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// tokenClaims is the JWT body. Purpose is empty for bearer tokens.
type tokenClaims struct {
	SessionType SessionType `json:"session_type"`
	AccessToken string      `json:"access_token,omitempty"`
	Purpose     string      `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// PurposeOAuthState marks the signed state parameter of an OAuth round trip.
const PurposeOAuthState = "oauth_state"

// TokenVerifier checks a bearer token. It reports only success or failure.
type TokenVerifier interface {
	Verify(token string) (*Claims, bool)
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Issuer signs and verifies HS256 bearer tokens. The key is copied at
// construction and never changes.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer creates an Issuer. The secret must be at least MinSecretLength bytes.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Issuer{
		secret:   secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// TTL returns the default token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs the given claims. An empty JWTID is filled with a random UUID,
// and empty Issuer/Audience take the configured values.
func (i *Issuer) Issue(c Claims) (string, error) {
	return i.sign(c, "")
}

func (i *Issuer) sign(c Claims, purpose string) (string, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidClaims)
	}
	if !c.SessionType.Valid() {
		return "", fmt.Errorf("%w: session type is required", ErrInvalidClaims)
	}
	if !c.ExpiresAt.After(c.IssuedAt) {
		return "", fmt.Errorf("%w: expiry must be after issue time", ErrInvalidClaims)
	}
	if c.JWTID == "" {
		c.JWTID = uuid.NewString()
	}
	if c.Issuer == "" {
		c.Issuer = i.issuer
	}
	if c.Audience == "" {
		c.Audience = i.audience
	}

	body := tokenClaims{
		SessionType: c.SessionType,
		AccessToken: c.AccessToken,
		Purpose:     purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.JWTID,
			Subject:   c.Subject,
			Issuer:    c.Issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	if c.Audience != "" {
		body.Audience = jwt.ClaimStrings{c.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, body)
	return token.SignedString(i.secret)
}

// Mint issues a token for identity with the default lifetime.
func (i *Issuer) Mint(identity string, st SessionType, accessToken string) (string, *Claims, error) {
	return i.MintWithTTL(identity, st, accessToken, i.ttl)
}

// MintWithTTL issues a token for identity that expires after ttl.
func (i *Issuer) MintWithTTL(identity string, st SessionType, accessToken string, ttl time.Duration) (string, *Claims, error) {
	return i.mint(identity, st, accessToken, ttl, "")
}

// MintPurpose issues a GUEST token bound to purpose. Verify never accepts
// it, so it cannot be presented as a bearer credential; only VerifyPurpose
// with the same purpose does.
func (i *Issuer) MintPurpose(subject, purpose string, ttl time.Duration) (string, error) {
	if purpose == "" {
		return "", fmt.Errorf("%w: purpose is required", ErrInvalidClaims)
	}
	token, _, err := i.mint(subject, SessionGuest, "", ttl, purpose)
	return token, err
}

func (i *Issuer) mint(identity string, st SessionType, accessToken string, ttl time.Duration, purpose string) (string, *Claims, error) {
	now := i.now().Truncate(time.Second)
	c := Claims{
		JWTID:       uuid.NewString(),
		Subject:     identity,
		Issuer:      i.issuer,
		Audience:    i.audience,
		SessionType: st,
		AccessToken: accessToken,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	token, err := i.sign(c, purpose)
	if err != nil {
		return "", nil, err
	}
	return token, &c, nil
}

// Verify checks the signature, expiry, issuer, audience and session type
// of a bearer token. Purpose-bound tokens are rejected. Any failure yields
// (nil, false) without a reason.
func (i *Issuer) Verify(tokenString string) (*Claims, bool) {
	return i.verify(tokenString, "")
}

// VerifyPurpose accepts only tokens minted by MintPurpose for purpose.
func (i *Issuer) VerifyPurpose(tokenString, purpose string) (*Claims, bool) {
	if purpose == "" {
		return nil, false
	}
	return i.verify(tokenString, purpose)
}

func (i *Issuer) verify(tokenString, purpose string) (*Claims, bool) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}

	var body tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &body, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, false
	}
	if body.Subject == "" || !body.SessionType.Valid() || body.ExpiresAt == nil {
		return nil, false
	}
	if body.Purpose != purpose {
		return nil, false
	}

	c := &Claims{
		JWTID:       body.ID,
		Subject:     body.Subject,
		Issuer:      body.Issuer,
		SessionType: body.SessionType,
		AccessToken: body.AccessToken,
		ExpiresAt:   body.ExpiresAt.Time,
	}
	if len(body.Audience) > 0 {
		c.Audience = body.Audience[0]
	}
	if body.IssuedAt != nil {
		c.IssuedAt = body.IssuedAt.Time
	}
	return c, true
}
