// ABOUTME: Tests for strict decimal parsing of handshake request fields
// ABOUTME: Ensures malformed numbers surface as ErrValidation rather than auth failures

package handshake

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "12345", "12345", false},
		{"surrounding space", "  42 ", "42", false},
		{"zero parses", "0", "0", false},
		{"empty", "", "", true},
		{"negative", "-5", "", true},
		{"hex", "0x1f", "", true},
		{"plus sign", "+5", "", true},
		{"embedded space", "12 34", "", true},
		{"too long", strings.Repeat("9", maxDecimalDigits+1), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecimal("publicA", tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestStep1Request_Parse(t *testing.T) {
	id, A, err := Step1Request{Identity: "a@example.com", PublicA: "77"}.Parse()
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", id)
	assert.Equal(t, int64(77), A.Int64())

	_, _, err = Step1Request{PublicA: "77"}.Parse()
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = Step1Request{Identity: "a@example.com", PublicA: "abc"}.Parse()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStep2Request_Parse(t *testing.T) {
	_, m1, err := Step2Request{Identity: "a@example.com", M1: "1000"}.Parse()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m1.Int64())

	_, _, err = Step2Request{Identity: " ", M1: "1000"}.Parse()
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = Step2Request{Identity: "a@example.com"}.Parse()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewStep1Response(t *testing.T) {
	resp := NewStep1Response(&Challenge{Salt: big.NewInt(99), B: big.NewInt(12345)})
	assert.Equal(t, "99", resp.Salt)
	assert.Equal(t, "12345", resp.PublicB)
}
