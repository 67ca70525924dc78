// ABOUTME: Tests for Principal propagation through context
// ABOUTME: Covers round trip, absence, and MustPrincipal panics

package auth

import (
	"context"
	"testing"
	"time"
)

func TestPrincipalContext_RoundTrip(t *testing.T) {
	want := &Principal{
		Identity:    "alice@example.com",
		SessionType: SessionUser,
		TokenID:     "jti-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	ctx := withPrincipal(context.Background(), want)

	got := PrincipalFromContext(ctx)
	if got != want {
		t.Fatalf("PrincipalFromContext() = %v, want %v", got, want)
	}
	if MustPrincipal(ctx) != want {
		t.Error("MustPrincipal() returned a different principal")
	}
}

func TestPrincipalContext_Absent(t *testing.T) {
	if p := PrincipalFromContext(context.Background()); p != nil {
		t.Errorf("PrincipalFromContext() = %v, want nil", p)
	}

	// A foreign value under a different key is not a principal
	ctx := context.WithValue(context.Background(), struct{}{}, "alice")
	if p := PrincipalFromContext(ctx); p != nil {
		t.Errorf("PrincipalFromContext() = %v, want nil", p)
	}
}

func TestMustPrincipal_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustPrincipal() did not panic without a principal")
		}
	}()
	MustPrincipal(context.Background())
}

func TestPrincipalFromClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	p := principalFromClaims(&Claims{
		JWTID:       "jti-9",
		Subject:     "root@example.com",
		SessionType: SessionSysadmin,
		ExpiresAt:   exp,
	})
	if p.Identity != "root@example.com" || p.TokenID != "jti-9" || !p.ExpiresAt.Equal(exp) {
		t.Errorf("principalFromClaims() = %+v", p)
	}
	if !p.IsSysadmin() {
		t.Error("IsSysadmin() = false for SYSADMIN session")
	}
}
