// ABOUTME: Authenticated principal carried through request handlers
// ABOUTME: Only the gate can attach a Principal; handlers read it with PrincipalFromContext

package auth

import (
	"context"
	"time"
)

// Principal is the caller identity established by a verified bearer token.
type Principal struct {
	Identity    string      `json:"identity"`
	SessionType SessionType `json:"sessionType"`
	TokenID     string      `json:"tokenId"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// IsSysadmin reports whether the principal holds a SYSADMIN session.
func (p *Principal) IsSysadmin() bool {
	return p.SessionType == SessionSysadmin
}

func principalFromClaims(c *Claims) *Principal {
	return &Principal{
		Identity:    c.Subject,
		SessionType: c.SessionType,
		TokenID:     c.JWTID,
		ExpiresAt:   c.ExpiresAt,
	}
}

// principalKey is the key type for storing a Principal in context.Context.
type principalKey struct{}

// withPrincipal is unexported so a Principal can only come from the gate.
func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the Principal, or nil if the request was not
// authenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// MustPrincipal returns the Principal, panicking if not present.
func MustPrincipal(ctx context.Context) *Principal {
	p := PrincipalFromContext(ctx)
	if p == nil {
		panic("auth: Principal not found in context")
	}
	return p
}
