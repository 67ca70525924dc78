// ABOUTME: Transport-neutral request/response shapes for the handshake
// ABOUTME: Large integers travel as decimal strings and are parsed strictly

package handshake

import (
	"fmt"
	"math/big"
	"strings"
)

// Step1Request carries the identity and the client public value A.
type Step1Request struct {
	Identity string `json:"identity"`
	PublicA  string `json:"publicA"`
}

// Step1Response carries the salt and server public value B.
type Step1Response struct {
	Salt    string `json:"salt"`
	PublicB string `json:"publicB"`
}

// Step2Request carries the client evidence M1.
type Step2Request struct {
	Identity string `json:"identity"`
	M1       string `json:"m1"`
}

// Step2Response carries the server evidence M2. Token is only populated by
// transports that cannot return it as a header.
type Step2Response struct {
	M2    string `json:"m2"`
	Token string `json:"token,omitempty"`
}

// maxDecimalDigits bounds parsing work; 4096-bit values have 1234 digits.
const maxDecimalDigits = 1300

// ParseDecimal parses a non-negative base-10 integer. Any other input is an
// ErrValidation.
func ParseDecimal(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if len(s) > maxDecimalDigits {
		return nil, fmt.Errorf("%w: %s is too long", ErrValidation, field)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: %s must be a decimal integer", ErrValidation, field)
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a decimal integer", ErrValidation, field)
	}
	return n, nil
}

// Parse validates the request fields and returns A.
func (r Step1Request) Parse() (string, *big.Int, error) {
	if strings.TrimSpace(r.Identity) == "" {
		return "", nil, fmt.Errorf("%w: identity is required", ErrValidation)
	}
	A, err := ParseDecimal("publicA", r.PublicA)
	if err != nil {
		return "", nil, err
	}
	return r.Identity, A, nil
}

// Parse validates the request fields and returns M1.
func (r Step2Request) Parse() (string, *big.Int, error) {
	if strings.TrimSpace(r.Identity) == "" {
		return "", nil, fmt.Errorf("%w: identity is required", ErrValidation)
	}
	m1, err := ParseDecimal("m1", r.M1)
	if err != nil {
		return "", nil, err
	}
	return r.Identity, m1, nil
}

// NewStep1Response formats a challenge for the wire.
func NewStep1Response(c *Challenge) Step1Response {
	return Step1Response{Salt: c.Salt.String(), PublicB: c.B.String()}
}
