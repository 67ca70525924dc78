// ABOUTME: HTTP API for the handshake, OAuth login, and authenticated account routes
// ABOUTME: chi router with CORS and the request gate in front of every handler

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/handshake"
	"github.com/2389/srpgate/internal/store"
)

// maxBodyBytes bounds handshake request bodies.
const maxBodyBytes = 64 << 10

// profileResponse is the wire shape of a stored profile.
type profileResponse struct {
	Identity    string    `json:"identity"`
	FirstName   string    `json:"firstName,omitempty"`
	LastName    string    `json:"lastName,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	LanguageID  int       `json:"languageId,omitempty"`
	HasVerifier bool      `json:"hasVerifier"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newProfileResponse(p *store.Profile) profileResponse {
	return profileResponse{
		Identity:    p.Identity,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		PhoneNumber: p.PhoneNumber,
		LanguageID:  p.LanguageID,
		HasVerifier: p.HasVerifier,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// auditResponse is the wire shape of an audit entry.
type auditResponse struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Timestamp  time.Time      `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// oauthLoginResponse is returned by the OAuth callback.
type oauthLoginResponse struct {
	Identity  string `json:"identity"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Created   bool   `json:"created"`
}

// Handler returns the HTTP API handler.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(g.config.CORS.AllowedOrigins))
	r.Use(g.gate.Middleware)

	r.With(g.rateLimit).Post("/srp/1", g.handleStep1)
	r.With(g.rateLimit).Post("/srp/2", g.handleStep2)

	r.Get("/oauth/facebook/login", g.handleFacebookLogin)
	r.Get("/oauth/facebook/callback", g.handleFacebookCallback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/me", g.handleMe)
		r.Get("/profile", g.handleProfile)
		r.Get("/echo/{message}", g.handleEcho)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSessionType(auth.SessionSysadmin))
			r.Get("/admin/users", g.handleAdminUsers)
			r.Get("/admin/audit", g.handleAdminAudit)
		})
	})

	return r
}

// decodeJSON reads a bounded JSON body into v. Any failure is a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", handshake.ErrValidation)
	}
	return nil
}

// audit appends an entry, logging instead of failing the request.
func (g *Gateway) audit(ctx context.Context, e *store.AuditEntry) {
	if err := g.store.AppendAuditLog(context.WithoutCancel(ctx), e); err != nil {
		g.logger.Warn("failed to append audit entry", "action", e.Action, "error", err)
	}
}

func (g *Gateway) auditLoginFailed(ctx context.Context, identity string, step int, err error) {
	if errors.Is(err, handshake.ErrValidation) {
		return
	}
	id := store.NormalizeIdentity(identity)
	g.audit(ctx, &store.AuditEntry{
		Actor:      id,
		Action:     store.AuditLoginFailed,
		TargetType: "user",
		TargetID:   id,
		Detail:     map[string]any{"step": step, "reason": err.Error()},
	})
}

// step1 runs handshake step 1 for either transport.
func (g *Gateway) step1(ctx context.Context, req handshake.Step1Request) (handshake.Step1Response, error) {
	challenge, err := g.parseAndStep1(ctx, req)
	g.metrics.ObserveHandshake("1", handshakeResult(err))
	if err != nil {
		g.logger.Debug("step 1 failed", "identity", req.Identity, "error", err)
		g.auditLoginFailed(ctx, req.Identity, 1, err)
		return handshake.Step1Response{}, err
	}
	return handshake.NewStep1Response(challenge), nil
}

func (g *Gateway) parseAndStep1(ctx context.Context, req handshake.Step1Request) (*handshake.Challenge, error) {
	identity, A, err := req.Parse()
	if err != nil {
		return nil, err
	}
	return g.engine.Step1(ctx, identity, A)
}

// step2 runs handshake step 2 and, on success, mints a USER token.
func (g *Gateway) step2(ctx context.Context, req handshake.Step2Request) (handshake.Step2Response, error) {
	identity, m2, err := g.parseAndStep2(ctx, req)
	g.metrics.ObserveHandshake("2", handshakeResult(err))
	if err != nil {
		g.logger.Info("login failed", "identity", req.Identity, "error", err)
		g.auditLoginFailed(ctx, req.Identity, 2, err)
		return handshake.Step2Response{}, err
	}

	identity = store.NormalizeIdentity(identity)
	token, claims, err := g.issuer.Mint(identity, auth.SessionUser, "")
	if err != nil {
		// The proof checked out but no token can be issued; fail closed.
		g.logger.Error("minting token failed", "identity", identity, "error", err)
		return handshake.Step2Response{}, err
	}
	g.metrics.TokenIssued(auth.SessionUser.String())
	g.logger.Info("login succeeded", "identity", identity)

	g.audit(ctx, &store.AuditEntry{
		Actor:      identity,
		Action:     store.AuditLoginSucceeded,
		TargetType: "user",
		TargetID:   identity,
	})
	g.audit(ctx, &store.AuditEntry{
		Actor:      identity,
		Action:     store.AuditTokenIssued,
		TargetType: "token",
		TargetID:   claims.JWTID,
		Detail:     map[string]any{"session_type": claims.SessionType.String(), "expires_at": claims.ExpiresAt},
	})

	return handshake.Step2Response{M2: m2.String(), Token: token}, nil
}

func (g *Gateway) parseAndStep2(ctx context.Context, req handshake.Step2Request) (string, *big.Int, error) {
	identity, m1, err := req.Parse()
	if err != nil {
		return "", nil, err
	}
	m2, err := g.engine.Step2(ctx, identity, m1)
	return identity, m2, err
}

// handleStep1 handles POST /srp/1.
func (g *Gateway) handleStep1(w http.ResponseWriter, r *http.Request) {
	var req handshake.Step1Request
	if err := decodeJSON(w, r, &req); err != nil {
		g.metrics.ObserveHandshake("1", handshakeResult(err))
		writeAuthError(w, err)
		return
	}

	resp, err := g.step1(r.Context(), req)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStep2 handles POST /srp/2. The token goes in the Authorization
// response header, not the body.
func (g *Gateway) handleStep2(w http.ResponseWriter, r *http.Request) {
	var req handshake.Step2Request
	if err := decodeJSON(w, r, &req); err != nil {
		g.metrics.ObserveHandshake("2", handshakeResult(err))
		writeAuthError(w, err)
		return
	}

	resp, err := g.step2(r.Context(), req)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	w.Header().Set("Authorization", "bearer "+resp.Token)
	resp.Token = ""
	writeJSON(w, http.StatusOK, resp)
}

// handleFacebookLogin starts the OAuth flow. Browsers are redirected;
// clients asking for JSON get the URL back.
func (g *Gateway) handleFacebookLogin(w http.ResponseWriter, r *http.Request) {
	if g.facebook == nil {
		writeError(w, http.StatusNotFound, "facebook login is not configured", codeNotConfigured)
		return
	}
	loginURL, err := g.facebook.LoginURL()
	if err != nil {
		g.logger.Error("building facebook login url", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", codeInternal)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, map[string]string{"url": loginURL})
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// handleFacebookCallback completes the OAuth flow and issues a USER token.
func (g *Gateway) handleFacebookCallback(w http.ResponseWriter, r *http.Request) {
	if g.facebook == nil {
		writeError(w, http.StatusNotFound, "facebook login is not configured", codeNotConfigured)
		return
	}
	q := r.URL.Query()
	res, err := g.facebook.Callback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		g.audit(r.Context(), &store.AuditEntry{
			Actor:      "oauth:facebook",
			Action:     store.AuditOAuthLoginError,
			TargetType: "user",
			Detail:     map[string]any{"reason": err.Error()},
		})
		writeError(w, http.StatusUnauthorized, authFailedMessage, codeUnauthorized)
		return
	}

	g.metrics.TokenIssued(res.Claims.SessionType.String())
	g.audit(r.Context(), &store.AuditEntry{
		Actor:      res.Claims.Subject,
		Action:     store.AuditOAuthLogin,
		TargetType: "user",
		TargetID:   res.Claims.Subject,
		Detail:     map[string]any{"provider": "facebook", "created": res.Created},
	})
	g.audit(r.Context(), &store.AuditEntry{
		Actor:      res.Claims.Subject,
		Action:     store.AuditTokenIssued,
		TargetType: "token",
		TargetID:   res.Claims.JWTID,
		Detail:     map[string]any{"session_type": res.Claims.SessionType.String(), "expires_at": res.Claims.ExpiresAt},
	})

	w.Header().Set("Authorization", "bearer "+res.Token)
	writeJSON(w, http.StatusOK, oauthLoginResponse{
		Identity:  res.Claims.Subject,
		FirstName: res.Account.FirstName,
		LastName:  res.Account.LastName,
		Created:   res.Created,
	})
}

// handleMe returns the authenticated principal.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, auth.MustPrincipal(r.Context()))
}

// handleProfile returns the stored profile of the principal.
func (g *Gateway) handleProfile(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	profile, err := g.store.GetProfile(r.Context(), p.Identity)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found", codeNotFound)
		return
	}
	if err != nil {
		g.logger.Error("loading profile", "identity", p.Identity, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(profile))
}

// handleEcho is a smoke-test route proving a token works end to end.
func (g *Gateway) handleEcho(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     chi.URLParam(r, "message"),
		"identity":    p.Identity,
		"sessionType": p.SessionType,
		"count":       g.echoCount.Add(1),
	})
}

// queryLimit parses the limit query parameter, returning 0 when absent.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

// handleAdminUsers lists profiles. SYSADMIN only.
func (g *Gateway) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeBadRequest)
		return
	}
	profiles, err := g.store.ListProfiles(r.Context(), limit)
	if err != nil {
		g.logger.Error("listing profiles", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", codeInternal)
		return
	}
	out := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, newProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

// handleAdminAudit lists audit entries, filtered by actor, action and target.
// SYSADMIN only.
func (g *Gateway) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeBadRequest)
		return
	}
	q := r.URL.Query()
	entries, err := g.store.ListAuditLog(r.Context(), store.AuditFilter{
		Actor:    q.Get("actor"),
		Action:   store.AuditAction(q.Get("action")),
		TargetID: q.Get("target"),
		Limit:    limit,
	})
	if err != nil {
		g.logger.Error("listing audit log", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": newAuditResponses(entries)})
}

func newAuditResponses(entries []store.AuditEntry) []auditResponse {
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			ID:         e.ID,
			Actor:      e.Actor,
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Timestamp:  e.Timestamp,
			Detail:     e.Detail,
		})
	}
	return out
}
