// ABOUTME: Request gate guarding every route except the allow-listed handshake paths
// ABOUTME: Extracts the bearer token, verifies it, and attaches the Principal to the context

package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode"
)

// Rejection reasons reported to logs and metrics.
const (
	ReasonMissingHeader   = "missing_header"
	ReasonMalformedHeader = "malformed_header"
	ReasonInvalidToken    = "invalid_token"
	ReasonMissingMetadata = "missing_metadata"
)

// DefaultAllowList holds the HTTP paths and gRPC methods reachable without a token.
var DefaultAllowList = []string{
	"/srp/1",
	"/srp/2",
	"/oauth/facebook/login",
	"/oauth/facebook/callback",
	"/srpgate.v1.Handshake/Step1",
	"/srpgate.v1.Handshake/Step2",
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
}

// GateConfig configures a Gate.
type GateConfig struct {
	// Allow lists exact paths or gRPC full method names that bypass the gate.
	// Nil means DefaultAllowList.
	Allow []string
	// CaseInsensitiveScheme accepts "Bearer" as well as "bearer".
	CaseInsensitiveScheme bool
	// OnReject is called with the rejection reason, for metrics.
	OnReject func(reason string)
}

// Gate authenticates requests for both HTTP and gRPC.
type Gate struct {
	verifier        TokenVerifier
	allow           map[string]bool
	caseInsensitive bool
	onReject        func(string)
	logger          *slog.Logger
}

// NewGate creates a gate backed by verifier.
func NewGate(verifier TokenVerifier, cfg GateConfig, logger *slog.Logger) *Gate {
	list := cfg.Allow
	if list == nil {
		list = DefaultAllowList
	}
	allow := make(map[string]bool, len(list))
	for _, p := range list {
		allow[p] = true
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{
		verifier:        verifier,
		allow:           allow,
		caseInsensitive: cfg.CaseInsensitiveScheme,
		onReject:        cfg.OnReject,
		logger:          logger.With("component", "gate"),
	}
}

// Allowed reports whether path bypasses the gate.
func (g *Gate) Allowed(path string) bool {
	return g.allow[path]
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and a rejection reason (empty if successful).
func extractBearerToken(authHeader string, caseInsensitive bool) (string, string) {
	if authHeader == "" {
		return "", ReasonMissingHeader
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok {
		return "", ReasonMalformedHeader
	}
	if scheme != "bearer" && !(caseInsensitive && strings.EqualFold(scheme, "bearer")) {
		return "", ReasonMalformedHeader
	}
	if token == "" || strings.ContainsFunc(token, unicode.IsSpace) {
		return "", ReasonMalformedHeader
	}
	return token, ""
}

// authenticate turns an Authorization header into a Principal.
func (g *Gate) authenticate(header string) (*Principal, string) {
	token, reason := extractBearerToken(header, g.caseInsensitive)
	if reason != "" {
		return nil, reason
	}
	if g.verifier == nil {
		return nil, ReasonInvalidToken
	}
	claims, ok := g.verifier.Verify(token)
	if !ok || claims == nil {
		return nil, ReasonInvalidToken
	}
	return principalFromClaims(claims), ""
}

func (g *Gate) reject(ctx context.Context, reason string, attrs ...any) {
	logAuthFailure(g.logger, ctx, reason, attrs...)
	if g.onReject != nil {
		g.onReject(reason)
	}
}

// Middleware wraps next so that only allow-listed paths and requests with a
// valid bearer token reach it. Everything else gets a 401.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Allowed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		p, reason := g.authenticate(r.Header.Get("Authorization"))
		if reason != "" {
			g.reject(r.Context(), reason, "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			WriteUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// RequireSessionType returns middleware admitting only principals whose
// session type is in types. Must be used behind the gate.
func RequireSessionType(types ...SessionType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				WriteUnauthorized(w)
				return
			}
			for _, st := range types {
				if p.SessionType == st {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSONError(w, http.StatusForbidden, "forbidden", "forbidden")
		})
	}
}

// WriteUnauthorized writes the uniform 401 body.
func WriteUnauthorized(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message, "errorCode": code})
}
