// ABOUTME: End-to-end tests for the HTTP API and ops listener
// ABOUTME: Runs real handshakes through the client package against an in-process gateway

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/client"
	"github.com/2389/srpgate/internal/config"
	"github.com/2389/srpgate/internal/srp"
	"github.com/2389/srpgate/internal/store"
)

const (
	testIdentity = "alice@example.com"
	testPassword = "correct horse battery staple"
)

const baseTestConfig = `
database:
  path: ":memory:"
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
handshake:
  group: rfc5054-1024
kdf:
  algorithm: sha256
cors:
  allowed_origins:
    - "https://app.example.com"
metrics:
  enabled: true
`

type testGateway struct {
	gw    *Gateway
	store *store.MockStore
	srv   *httptest.Server
	group *srp.Group
}

func newTestGateway(t *testing.T, mutate func(*config.Config)) *testGateway {
	t.Helper()
	cfg, err := config.Parse("gateway.yaml", []byte(baseTestConfig))
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	ms := store.NewMockStore()
	gw, err := NewWithStore(cfg, ms, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.sessions.Close()
		if gw.limiter != nil {
			gw.limiter.Close()
		}
	})

	group, err := srp.LookupGroup(cfg.Handshake.Group)
	require.NoError(t, err)

	salt, verifier, err := srp.NewVerifier(group, srp.SHA256KDF{}, testIdentity, testPassword)
	require.NoError(t, err)
	require.NoError(t, ms.SetCredential(context.Background(), testIdentity, salt, verifier))

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	return &testGateway{gw: gw, store: ms, srv: srv, group: group}
}

func (tg *testGateway) client(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(tg.srv.URL,
		client.WithGroup(tg.group),
		client.WithKDF(srp.SHA256KDF{}),
		client.WithHTTPClient(tg.srv.Client()),
		client.WithRetryWindow(0),
	)
	require.NoError(t, err)
	return c
}

func (tg *testGateway) do(t *testing.T, method, path, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, tg.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := tg.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"bearer " + token}}
}

func TestHTTP_LoginAndMe(t *testing.T) {
	tg := newTestGateway(t, nil)
	c := tg.client(t)
	ctx := context.Background()

	token, err := c.Login(ctx, "  Alice@Example.com ", testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	me, err := c.Me(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, me.Identity)
	assert.Equal(t, auth.SessionUser, me.SessionType)
	assert.NotEmpty(t, me.TokenID)

	entries, err := tg.store.ListAuditLog(ctx, store.AuditFilter{Actor: testIdentity})
	require.NoError(t, err)
	var actions []store.AuditAction
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, store.AuditLoginSucceeded)
	assert.Contains(t, actions, store.AuditTokenIssued)
	assert.Equal(t, 0, tg.gw.engine.InFlight(), "session must be consumed")
}

func TestHTTP_Step2TokenInHeaderOnly(t *testing.T) {
	tg := newTestGateway(t, nil)
	session, err := srp.NewClient(tg.group, srp.SHA256KDF{}, testIdentity, testPassword)
	require.NoError(t, err)

	resp := tg.do(t, http.MethodPost, "/srp/1", `{"identity":"`+testIdentity+`","publicA":"`+session.PublicA().String()+`"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var challenge struct{ Salt, PublicB string }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&challenge))

	salt, _ := new(big.Int).SetString(challenge.Salt, 10)
	B, _ := new(big.Int).SetString(challenge.PublicB, 10)
	m1, err := session.ProcessChallenge(salt, B)
	require.NoError(t, err)

	resp = tg.do(t, http.MethodPost, "/srp/2", `{"identity":"`+testIdentity+`","m1":"`+m1.String()+`"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Authorization"), "bearer "))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"m2"`)
	assert.NotContains(t, string(raw), "token")
}

func TestHTTP_AuthFailuresAreUniform(t *testing.T) {
	tg := newTestGateway(t, nil)
	c := tg.client(t)
	ctx := context.Background()

	var wrongPassword, unknownIdentity *client.APIError
	_, err := c.Login(ctx, testIdentity, "wrong password")
	require.True(t, errors.As(err, &wrongPassword), "got %v", err)
	_, err = c.Login(ctx, "nobody@example.com", testPassword)
	require.True(t, errors.As(err, &unknownIdentity), "got %v", err)

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Status)
	assert.Equal(t, *wrongPassword, *unknownIdentity)
	assert.Equal(t, authFailedMessage, wrongPassword.Message)
	assert.Equal(t, codeUnauthorized, wrongPassword.ErrorCode)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"zero public value", "/srp/1", `{"identity":"alice@example.com","publicA":"0"}`},
		{"public value equal to N", "/srp/1", `{"identity":"alice@example.com","publicA":"` + tg.group.N.String() + `"}`},
		{"step 2 without step 1", "/srp/2", `{"identity":"alice@example.com","m1":"12345"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tg.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, errorResponse{Message: authFailedMessage, ErrorCode: codeUnauthorized}, decodeError(t, resp))
		})
	}

	failed, err := tg.store.ListAuditLog(ctx, store.AuditFilter{Action: store.AuditLoginFailed})
	require.NoError(t, err)
	assert.NotEmpty(t, failed)
}

func TestHTTP_ValidationErrors(t *testing.T) {
	tg := newTestGateway(t, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/srp/1", `{"identity":`},
		{"missing identity", "/srp/1", `{"publicA":"5"}`},
		{"non-decimal public value", "/srp/1", `{"identity":"alice@example.com","publicA":"0x1f"}`},
		{"negative public value", "/srp/1", `{"identity":"alice@example.com","publicA":"-5"}`},
		{"missing m1", "/srp/2", `{"identity":"alice@example.com"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tg.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, codeBadRequest, decodeError(t, resp).ErrorCode)
		})
	}
}

func TestHTTP_GateRejectsBadTokens(t *testing.T) {
	tg := newTestGateway(t, nil)
	token, _, err := tg.gw.issuer.Mint(testIdentity, auth.SessionUser, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header http.Header
	}{
		{"missing header", nil},
		{"capitalized scheme", http.Header{"Authorization": {"Bearer " + token}}},
		{"no scheme", http.Header{"Authorization": {token}}},
		{"empty token", http.Header{"Authorization": {"bearer "}}},
		{"tampered token", bearer(token + "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tg.do(t, http.MethodGet, "/api/me", "", tt.header)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, errorResponse{Message: "unauthorized", ErrorCode: "unauthorized"}, decodeError(t, resp))
		})
	}

	resp := tg.do(t, http.MethodGet, "/api/me", "", bearer(token))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rec := httptest.NewRecorder()
	tg.gw.OpsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `srpgate_gate_rejections_total{reason="missing_header"} 1`)
}

func TestHTTP_CaseInsensitiveSchemeOption(t *testing.T) {
	tg := newTestGateway(t, func(c *config.Config) { c.Auth.CaseInsensitiveScheme = true })
	token, _, err := tg.gw.issuer.Mint(testIdentity, auth.SessionUser, "")
	require.NoError(t, err)

	resp := tg.do(t, http.MethodGet, "/api/me", "", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTP_ProfileAndEcho(t *testing.T) {
	tg := newTestGateway(t, nil)
	token, _, err := tg.gw.issuer.Mint(testIdentity, auth.SessionUser, "")
	require.NoError(t, err)

	resp := tg.do(t, http.MethodGet, "/api/profile", "", bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile profileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	assert.Equal(t, testIdentity, profile.Identity)
	assert.True(t, profile.HasVerifier)

	c := tg.client(t)
	for want := 1; want <= 2; want++ {
		out, err := c.Echo(context.Background(), token, "ping")
		require.NoError(t, err)
		assert.Equal(t, "ping", out["message"])
		assert.Equal(t, testIdentity, out["identity"])
		assert.EqualValues(t, want, out["count"])
	}

	stranger, _, err := tg.gw.issuer.Mint("stranger@example.com", auth.SessionUser, "")
	require.NoError(t, err)
	resp = tg.do(t, http.MethodGet, "/api/profile", "", bearer(stranger))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_AdminRoutesRequireSysadmin(t *testing.T) {
	tg := newTestGateway(t, nil)
	userToken, _, err := tg.gw.issuer.Mint(testIdentity, auth.SessionUser, "")
	require.NoError(t, err)
	adminToken, _, err := tg.gw.issuer.Mint("root@example.com", auth.SessionSysadmin, "")
	require.NoError(t, err)

	for _, path := range []string{"/api/admin/users", "/api/admin/audit"} {
		t.Run(path, func(t *testing.T) {
			resp := tg.do(t, http.MethodGet, path, "", bearer(userToken))
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)

			resp = tg.do(t, http.MethodGet, path, "", bearer(adminToken))
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}

	resp := tg.do(t, http.MethodGet, "/api/admin/users?limit=10", "", bearer(adminToken))
	var body struct {
		Users []profileResponse `json:"users"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Users, 1)
	assert.Equal(t, testIdentity, body.Users[0].Identity)

	resp = tg.do(t, http.MethodGet, "/api/admin/users?limit=abc", "", bearer(adminToken))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_CORS(t *testing.T) {
	tg := newTestGateway(t, nil)

	resp := tg.do(t, http.MethodOptions, "/api/me", "", http.Header{
		"Origin":                        {"https://app.example.com"},
		"Access-Control-Request-Method": {"GET"},
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, corsExposeHeaders, resp.Header.Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	resp = tg.do(t, http.MethodOptions, "/api/me", "", http.Header{"Origin": {"https://evil.example.com"}})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHTTP_RateLimit(t *testing.T) {
	tg := newTestGateway(t, func(c *config.Config) {
		c.Handshake.RateLimit = 0.001
		c.Handshake.RateBurst = 1
	})

	body := `{"identity":"alice@example.com","publicA":"0"}`
	resp := tg.do(t, http.MethodPost, "/srp/1", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = tg.do(t, http.MethodPost, "/srp/1", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, codeTooManyRequests, decodeError(t, resp).ErrorCode)
}

func TestHTTP_RateLimitIsPerClient(t *testing.T) {
	tg := newTestGateway(t, func(c *config.Config) {
		c.Handshake.RateLimit = 0.001
		c.Handshake.RateBurst = 1
	})

	body := `{"identity":"alice@example.com","publicA":"0"}`
	noisy := http.Header{"X-Real-Ip": {"203.0.113.7"}}
	quiet := http.Header{"X-Real-Ip": {"198.51.100.9"}}

	resp := tg.do(t, http.MethodPost, "/srp/1", body, noisy)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = tg.do(t, http.MethodPost, "/srp/1", body, noisy)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Another client still gets its own budget.
	resp = tg.do(t, http.MethodPost, "/srp/1", body, quiet)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err := tg.client(t).Login(context.Background(), testIdentity, testPassword)
	require.NoError(t, err, "a login from a third address must not be throttled")
}

func TestHTTP_OAuthStateIsNotABearerToken(t *testing.T) {
	tg := newTestGateway(t, func(c *config.Config) {
		c.OAuth.Facebook.Enabled = true
		c.OAuth.Facebook.ClientID = "client-id"
		c.OAuth.Facebook.ClientSecret = "client-secret"
		c.OAuth.Facebook.RedirectURL = "https://gate.example.com/oauth/facebook/callback"
	})

	resp := tg.do(t, http.MethodGet, "/oauth/facebook/login", "", http.Header{"Accept": {"application/json"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	loginURL, err := url.Parse(body.URL)
	require.NoError(t, err)
	state := loginURL.Query().Get("state")
	require.NotEmpty(t, state)

	for _, path := range []string{"/api/me", "/api/echo/hi", "/api/profile"} {
		t.Run(path, func(t *testing.T) {
			resp := tg.do(t, http.MethodGet, path, "", bearer(state))
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestHTTP_FacebookNotConfigured(t *testing.T) {
	tg := newTestGateway(t, nil)
	resp := tg.do(t, http.MethodGet, "/oauth/facebook/login", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, codeNotConfigured, decodeError(t, resp).ErrorCode)
}

func TestOps_HealthAndReady(t *testing.T) {
	tg := newTestGateway(t, nil)
	h := tg.gw.OpsHandler()

	tests := []struct {
		path string
		want string
	}{
		{"/health", "OK"},
		{"/health/ready", "READY"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "srpgate_sessions_in_flight")
}

func TestNewWithStore_UnknownGroup(t *testing.T) {
	cfg, err := config.Parse("gateway.yaml", []byte(baseTestConfig))
	require.NoError(t, err)
	cfg.Handshake.Group = "nope"

	_, err = NewWithStore(cfg, store.NewMockStore(), nil)
	assert.Error(t, err)
}
