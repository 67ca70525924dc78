// ABOUTME: Tests for admin CLI argument parsing and password prompts
// ABOUTME: Replaces the terminal reader through the readPassword seam

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantFlags  map[string]string
		positional []string
		wantErr    string
	}{
		{
			name:       "separate values",
			args:       []string{"--identity", "a@example.com", "--type", "SYSADMIN"},
			wantFlags:  map[string]string{"identity": "a@example.com", "type": "SYSADMIN"},
			positional: nil,
		},
		{
			name:      "equals form and alias",
			args:      []string{"-i=a@example.com", "--ttl=1h"},
			wantFlags: map[string]string{"identity": "a@example.com", "ttl": "1h"},
		},
		{name: "unknown flag", args: []string{"--nope", "x"}, wantErr: "unknown flag"},
		{name: "missing value", args: []string{"--identity"}, wantErr: "requires a value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseArgs(tt.args, tokenFlags)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlags, p.flags)
			assert.Equal(t, tt.positional, p.positional)
		})
	}
}

func TestParseArgs_Positional(t *testing.T) {
	p, err := parseArgs([]string{"alice@example.com", "--first", "Alice"}, userAddFlags)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, p.positional)
	assert.Equal(t, "Alice", p.get("first"))
}

func TestIntFlag(t *testing.T) {
	p, err := parseArgs([]string{"--limit", "25"}, limitFlags)
	require.NoError(t, err)
	n, err := p.intFlag("limit", 100)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	p, err = parseArgs(nil, limitFlags)
	require.NoError(t, err)
	n, err = p.intFlag("limit", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	p, err = parseArgs([]string{"-n", "-3"}, limitFlags)
	require.NoError(t, err)
	_, err = p.intFlag("limit", 100)
	assert.Error(t, err)
}

func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func TestPromptNewPassword(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		want    string
		wantErr string
	}{
		{"matching", []string{"s3cret", "s3cret"}, "s3cret", ""},
		{"mismatch", []string{"s3cret", "secret"}, "", "do not match"},
		{"empty", []string{"   "}, "", "cannot be empty"},
		{"read error", nil, "", "reading password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubPasswords(t, tt.answers...)
			var out bytes.Buffer
			got, err := promptNewPassword(&out)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Repeat password")
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
