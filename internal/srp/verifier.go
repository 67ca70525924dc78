// ABOUTME: Salt and verifier derivation for enrolling an identity
// ABOUTME: Runs client-side (admin CLI); the server only ever stores the result

package srp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// SaltSize is the number of random bytes in a freshly drawn salt.
const SaltSize = 32

// PrivateValue computes x = H(s | KDF(I, P, s)).
func (g *Group) PrivateValue(kdf KDF, identity, password string, salt *big.Int) *big.Int {
	s := salt.Bytes()
	return hashInt(s, kdf.Derive(identity, password, s))
}

// ComputeVerifier computes v = g^x mod N for an existing salt.
func (g *Group) ComputeVerifier(kdf KDF, identity, password string, salt *big.Int) *big.Int {
	x := g.PrivateValue(kdf, identity, password, salt)
	return new(big.Int).Exp(g.G, x, g.N)
}

// NewVerifier draws a random salt and returns it with the matching verifier.
func NewVerifier(g *Group, kdf KDF, identity, password string) (salt, verifier *big.Int, err error) {
	buf := make([]byte, SaltSize)
	for {
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generating salt: %w", err)
		}
		salt = new(big.Int).SetBytes(buf)
		if salt.Sign() > 0 {
			break
		}
	}
	return salt, g.ComputeVerifier(kdf, identity, password, salt), nil
}
