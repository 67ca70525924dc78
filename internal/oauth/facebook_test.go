// ABOUTME: Tests for the Facebook login flow against a fake provider
// ABOUTME: Covers login URL state, callback success, bad state, exchange and profile failures

package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/store"
)

// fakeProvider serves a token endpoint and a profile endpoint.
type fakeProvider struct {
	*httptest.Server
	profile       map[string]string
	profileStatus int
	tokenStatus   int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{
		profile: map[string]string{
			"id":         "1234",
			"email":      "Fan@Example.com",
			"first_name": "Fan",
			"last_name":  "Tastic",
		},
		profileStatus: http.StatusOK,
		tokenStatus:   http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" || fp.tokenStatus != http.StatusOK {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fb-access","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fb-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(fp.profileStatus)
		_ = json.NewEncoder(w).Encode(fp.profile)
	})

	fp.Server = httptest.NewServer(mux)
	t.Cleanup(fp.Close)
	return fp
}

func newTestFacebook(t *testing.T, fp *fakeProvider, profiles store.ProfileStore) (*Facebook, *auth.Issuer) {
	t.Helper()
	issuer, err := auth.NewIssuer(auth.IssuerConfig{Secret: []byte("oauth-test-secret-that-is-32-bytes"), TTL: time.Hour})
	require.NoError(t, err)

	fb, err := NewFacebook(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://gate.example.com/oauth/facebook/callback",
		Scopes:       []string{"email"},
		AuthURL:      fp.URL + "/dialog/oauth",
		TokenURL:     fp.URL + "/oauth/access_token",
		ProfileURL:   fp.URL + "/me",
		StateTTL:     time.Minute,
		HTTPClient:   fp.Client(),
	}, issuer, profiles, nil)
	require.NoError(t, err)
	return fb, issuer
}

func stateFromLoginURL(t *testing.T, fb *Facebook) string {
	t.Helper()
	raw, err := fb.LoginURL()
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestFacebook_LoginURL(t *testing.T) {
	fp := newFakeProvider(t)
	fb, issuer := newTestFacebook(t, fp, store.NewMockStore())

	raw, err := fb.LoginURL()
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "/dialog/oauth", u.Path)
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "https://gate.example.com/oauth/facebook/callback", q.Get("redirect_uri"))
	assert.Equal(t, "email", q.Get("scope"))

	claims, ok := issuer.VerifyPurpose(q.Get("state"), auth.PurposeOAuthState)
	require.True(t, ok, "state must be a token signed by the gateway")
	assert.Equal(t, auth.SessionGuest, claims.SessionType)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt, 2*time.Second)

	_, ok = issuer.Verify(q.Get("state"))
	assert.False(t, ok, "state must not verify as a bearer token")
}

func TestFacebook_CallbackSuccess(t *testing.T) {
	fp := newFakeProvider(t)
	profiles := store.NewMockStore()
	fb, issuer := newTestFacebook(t, fp, profiles)

	res, err := fb.Callback(context.Background(), "good-code", stateFromLoginURL(t, fb))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "fb-access", res.Account.AccessToken)

	claims, ok := issuer.Verify(res.Token)
	require.True(t, ok)
	assert.Equal(t, "fan@example.com", claims.Subject)
	assert.Equal(t, auth.SessionUser, claims.SessionType)
	assert.Equal(t, "fb-access", claims.AccessToken)

	p, err := profiles.GetProfile(context.Background(), "fan@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Fan", p.FirstName)
	assert.Equal(t, "Tastic", p.LastName)

	// A second login finds the existing profile
	res, err = fb.Callback(context.Background(), "good-code", stateFromLoginURL(t, fb))
	require.NoError(t, err)
	assert.False(t, res.Created)
}

func TestFacebook_CallbackInvalidState(t *testing.T) {
	fp := newFakeProvider(t)
	fb, issuer := newTestFacebook(t, fp, store.NewMockStore())

	userToken, _, err := issuer.Mint("someone@example.com", auth.SessionUser, "")
	require.NoError(t, err)
	guestToken, _, err := issuer.Mint(stateSubject, auth.SessionGuest, "")
	require.NoError(t, err)
	otherPurpose, err := issuer.MintPurpose(stateSubject, "password_reset", time.Minute)
	require.NoError(t, err)

	for name, state := range map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"user token":    userToken,
		"guest bearer":  guestToken,
		"other purpose": otherPurpose,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := fb.Callback(context.Background(), "good-code", state)
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestFacebook_CallbackExchangeFails(t *testing.T) {
	fp := newFakeProvider(t)
	fb, _ := newTestFacebook(t, fp, store.NewMockStore())

	_, err := fb.Callback(context.Background(), "bad-code", stateFromLoginURL(t, fb))
	assert.ErrorIs(t, err, ErrExchange)

	_, err = fb.Callback(context.Background(), "", stateFromLoginURL(t, fb))
	assert.ErrorIs(t, err, ErrExchange)
}

func TestFacebook_CallbackProfileFails(t *testing.T) {
	fp := newFakeProvider(t)
	fb, _ := newTestFacebook(t, fp, store.NewMockStore())

	fp.profileStatus = http.StatusInternalServerError
	_, err := fb.Callback(context.Background(), "good-code", stateFromLoginURL(t, fb))
	assert.ErrorIs(t, err, ErrProfile)

	fp.profileStatus = http.StatusOK
	fp.profile["email"] = ""
	_, err = fb.Callback(context.Background(), "good-code", stateFromLoginURL(t, fb))
	assert.ErrorIs(t, err, ErrNoEmail)
}

func TestNewFacebook_Validation(t *testing.T) {
	issuer, err := auth.NewIssuer(auth.IssuerConfig{Secret: []byte("oauth-test-secret-that-is-32-bytes")})
	require.NoError(t, err)

	_, err = NewFacebook(Config{}, issuer, store.NewMockStore(), nil)
	assert.Error(t, err)
	_, err = NewFacebook(Config{ClientID: "a", ClientSecret: "b"}, issuer, store.NewMockStore(), nil)
	assert.Error(t, err)
	_, err = NewFacebook(Config{ClientID: "a", ClientSecret: "b", AuthURL: "x", TokenURL: "y", ProfileURL: "z"}, nil, store.NewMockStore(), nil)
	assert.Error(t, err)
}
