// ABOUTME: Tests for the generated gateway config
// ABOUTME: Rendered files must load through the config package unchanged

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/srpgate/internal/config"
)

func TestRenderConfig_Loads(t *testing.T) {
	secret, err := newSecret()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(secret), config.MinJWTSecretLength)

	tests := []struct {
		name   string
		mutate func(a *initAnswers)
		check  func(t *testing.T, cfg *config.Config)
	}{
		{
			name:   "defaults",
			mutate: func(a *initAnswers) {},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "sqlite", cfg.Database.Driver)
				assert.Equal(t, "replace", cfg.Handshake.ConcurrentLogin)
				assert.True(t, cfg.Metrics.Enabled)
			},
		},
		{
			name: "postgres and tailscale",
			mutate: func(a *initAnswers) {
				a.Driver = "postgres"
				a.DSN = "postgres://srpgate@db/srpgate"
				a.Tailscale = true
				a.TSHostname = "auth"
				a.TSFunnel = true
				a.Policy = "reject"
			},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "postgres://srpgate@db/srpgate", cfg.Database.DSN)
				assert.True(t, cfg.Tailscale.Enabled)
				assert.Equal(t, "auth", cfg.Tailscale.Hostname)
				assert.True(t, cfg.Tailscale.Funnel)
				assert.Equal(t, "reject", cfg.Handshake.ConcurrentLogin)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := defaultAnswers(secret)
			tt.mutate(&a)
			cfg, err := config.Parse("gateway.yaml", []byte(renderConfig(a, "test")))
			require.NoError(t, err)
			assert.Equal(t, secret, cfg.Auth.JWTSecret)
			tt.check(t, cfg)
		})
	}
}

func TestYes(t *testing.T) {
	for _, s := range []string{"y", "Y", "yes", "YES"} {
		assert.True(t, yes(s), s)
	}
	for _, s := range []string{"", "n", "no", "yep"} {
		assert.False(t, yes(s), s)
	}
}
