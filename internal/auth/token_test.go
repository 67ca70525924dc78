// ABOUTME: Unit tests for bearer token issuance and verification
// ABOUTME: Covers round trip, tampering, expiry, wrong key, alg confusion and session types

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("token-test-secret-at-least-32-bytes!")

func newTestIssuer(t *testing.T, cfg IssuerConfig) *Issuer {
	t.Helper()
	if cfg.Secret == nil {
		cfg.Secret = testSecret
	}
	i, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return i
}

func TestIssuer_RoundTrip(t *testing.T) {
	i := newTestIssuer(t, IssuerConfig{Issuer: "srpgate", Audience: "api", TTL: time.Hour})

	token, minted, err := i.Mint("alice@example.com", SessionUser, "")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	got, ok := i.Verify(token)
	if !ok {
		t.Fatal("Verify() rejected a freshly minted token")
	}
	assert.Equal(t, "alice@example.com", got.Subject)
	assert.Equal(t, SessionUser, got.SessionType)
	assert.Equal(t, minted.JWTID, got.JWTID)
	assert.Equal(t, "srpgate", got.Issuer)
	assert.Equal(t, "api", got.Audience)
	assert.WithinDuration(t, minted.ExpiresAt, got.ExpiresAt, time.Second)
	assert.NotEmpty(t, got.JWTID)
}

func TestIssuer_PurposeTokensAreNotBearerTokens(t *testing.T) {
	i := newTestIssuer(t, IssuerConfig{Issuer: "srpgate", Audience: "api"})

	state, err := i.MintPurpose("oauth:facebook", PurposeOAuthState, time.Minute)
	require.NoError(t, err)

	_, ok := i.Verify(state)
	assert.False(t, ok, "a purpose-bound token must not pass as a bearer token")

	got, ok := i.VerifyPurpose(state, PurposeOAuthState)
	require.True(t, ok)
	assert.Equal(t, "oauth:facebook", got.Subject)
	assert.Equal(t, SessionGuest, got.SessionType)

	_, ok = i.VerifyPurpose(state, "password_reset")
	assert.False(t, ok, "purpose must match exactly")

	bearer, _, err := i.Mint("alice@example.com", SessionUser, "")
	require.NoError(t, err)
	_, ok = i.VerifyPurpose(bearer, PurposeOAuthState)
	assert.False(t, ok, "a bearer token must not pass as a purpose token")
	_, ok = i.VerifyPurpose(bearer, "")
	assert.False(t, ok)

	_, err = i.MintPurpose("oauth:facebook", "", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestIssuer_AccessTokenCarried(t *testing.T) {
	i := newTestIssuer(t, IssuerConfig{})
	token, _, err := i.Mint("bob@example.com", SessionUser, "fb-access-token")
	require.NoError(t, err)

	got, ok := i.Verify(token)
	require.True(t, ok)
	assert.Equal(t, "fb-access-token", got.AccessToken)
}

func TestIssuer_Tampered(t *testing.T) {
	i := newTestIssuer(t, IssuerConfig{})
	token, _, err := i.Mint("alice@example.com", SessionUser, "")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Swap the payload for one claiming SYSADMIN, keep the signature
	forged, _, err := i.Mint("alice@example.com", SessionSysadmin, "")
	require.NoError(t, err)
	forgedParts := strings.Split(forged, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"payload swapped", parts[0] + "." + forgedParts[1] + "." + parts[2]},
		{"signature truncated", parts[0] + "." + parts[1] + "." + parts[2][:len(parts[2])-2]},
		{"no signature", parts[0] + "." + parts[1] + "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := i.Verify(tt.token); ok {
				t.Errorf("Verify(%q) accepted a bad token", tt.name)
			}
		})
	}
}

func TestIssuer_Expired(t *testing.T) {
	i := newTestIssuer(t, IssuerConfig{TTL: time.Minute})
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	i.now = func() time.Time { return base }

	token, _, err := i.Mint("alice@example.com", SessionUser, "")
	require.NoError(t, err)

	i.now = func() time.Time { return base.Add(30 * time.Second) }
	_, ok := i.Verify(token)
	assert.True(t, ok, "token within lifetime")

	i.now = func() time.Time { return base.Add(time.Minute) }
	_, ok = i.Verify(token)
	assert.False(t, ok, "token at expiry")
}

func TestIssuer_WrongKey(t *testing.T) {
	a := newTestIssuer(t, IssuerConfig{})
	b := newTestIssuer(t, IssuerConfig{Secret: []byte("a-completely-different-secret-value!")})

	token, _, err := a.Mint("alice@example.com", SessionUser, "")
	require.NoError(t, err)

	_, ok := b.Verify(token)
	assert.False(t, ok)
}

func TestIssuer_RejectsOtherAlgorithms(t *testing.T) {
	i := newTestIssuer(t, IssuerConfig{})
	now := time.Now()
	body := tokenClaims{
		SessionType: SessionSysadmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "mallory@example.com",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, body).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, ok := i.Verify(none)
	assert.False(t, ok, "alg=none must be refused")

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, body).SignedString(testSecret)
	require.NoError(t, err)
	_, ok = i.Verify(hs512)
	assert.False(t, ok, "only HS256 is accepted")
}

func TestIssuer_IssuerAndAudienceChecked(t *testing.T) {
	mint := newTestIssuer(t, IssuerConfig{Issuer: "other", Audience: "elsewhere"})
	check := newTestIssuer(t, IssuerConfig{Issuer: "srpgate", Audience: "api"})

	token, _, err := mint.Mint("alice@example.com", SessionUser, "")
	require.NoError(t, err)

	_, ok := check.Verify(token)
	assert.False(t, ok)
}

func TestIssuer_MissingExpiry(t *testing.T) {
	i := newTestIssuer(t, IssuerConfig{})
	body := tokenClaims{
		SessionType:      SessionUser,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice@example.com"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, body).SignedString(testSecret)
	require.NoError(t, err)

	_, ok := i.Verify(token)
	assert.False(t, ok, "exp is required")
}

func TestIssuer_IssueValidation(t *testing.T) {
	i := newTestIssuer(t, IssuerConfig{})
	now := time.Now()

	tests := []struct {
		name   string
		claims Claims
	}{
		{"empty subject", Claims{SessionType: SessionUser, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}},
		{"unknown session type", Claims{Subject: "a", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}},
		{"expiry equals issue", Claims{Subject: "a", SessionType: SessionUser, IssuedAt: now, ExpiresAt: now}},
		{"expiry before issue", Claims{Subject: "a", SessionType: SessionUser, IssuedAt: now, ExpiresAt: now.Add(-time.Minute)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := i.Issue(tt.claims)
			assert.ErrorIs(t, err, ErrInvalidClaims)
		})
	}
}

func TestNewIssuer_ShortSecret(t *testing.T) {
	_, err := NewIssuer(IssuerConfig{Secret: []byte("too-short")})
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestNewIssuer_SecretCopied(t *testing.T) {
	secret := []byte("mutable-secret-that-is-32-bytes-long")
	i := newTestIssuer(t, IssuerConfig{Secret: secret})
	token, _, err := i.Mint("alice@example.com", SessionUser, "")
	require.NoError(t, err)

	secret[0] = 'X'
	_, ok := i.Verify(token)
	assert.True(t, ok, "changing the caller's slice must not change the key")
}

func TestSessionType(t *testing.T) {
	tests := []struct {
		in      string
		want    SessionType
		wantErr bool
	}{
		{"USER", SessionUser, false},
		{"GUEST", SessionGuest, false},
		{"SYSADMIN", SessionSysadmin, false},
		{"guest", SessionUnknown, true},
		{"Sysadmin", SessionUnknown, true},
		{"ADMIN", SessionUnknown, true},
		{"", SessionUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSessionType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSessionType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSessionType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	text, err := SessionGuest.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "GUEST", string(text))

	_, err = SessionUnknown.MarshalText()
	assert.Error(t, err)

	var st SessionType
	require.NoError(t, st.UnmarshalText([]byte("SYSADMIN")))
	assert.Equal(t, SessionSysadmin, st)
	assert.Error(t, st.UnmarshalText([]byte("ROOT")))
}
