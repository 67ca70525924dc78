// ABOUTME: Client side of the SRP-6a handshake
// ABOUTME: Produces A and M1 from the password and checks the server's M2

package srp

import (
	"crypto/subtle"
	"math/big"
)

// Client holds one login attempt's ephemeral state. It is not safe for
// concurrent use and must not be reused across handshakes.
type Client struct {
	group    *Group
	kdf      KDF
	identity string
	password string

	a  *big.Int
	A  *big.Int
	K  []byte
	m1 []byte
}

// NewClient draws the private ephemeral a and computes A = g^a mod N.
func NewClient(group *Group, kdf KDF, identity, password string) (*Client, error) {
	a, err := group.RandomExponent()
	if err != nil {
		return nil, err
	}
	return &Client{
		group:    group,
		kdf:      kdf,
		identity: identity,
		password: password,
		a:        a,
		A:        new(big.Int).Exp(group.G, a, group.N),
	}, nil
}

// PublicA returns the value sent in step 1.
func (c *Client) PublicA() *big.Int {
	return new(big.Int).Set(c.A)
}

// ProcessChallenge consumes the step 1 response and returns M1 for step 2.
func (c *Client) ProcessChallenge(salt, B *big.Int) (*big.Int, error) {
	g := c.group
	if !g.IsValidPublic(B) {
		return nil, ErrInvalidPublic
	}
	u := g.Scrambler(c.A, B)
	if u.Sign() == 0 {
		return nil, ErrInvalidPublic
	}

	x := g.PrivateValue(c.kdf, c.identity, c.password, salt)

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(g.G, x, g.N)
	base := new(big.Int).Mul(g.Multiplier(), gx)
	base.Sub(B, base).Mod(base, g.N)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)
	S := new(big.Int).Exp(base, exp, g.N)

	c.K = g.SessionKey(S)
	c.m1 = g.ClientEvidence(c.identity, salt, c.A, B, c.K)
	return EvidenceInt(c.m1), nil
}

// VerifyServer checks M2 against the locally derived session key.
func (c *Client) VerifyServer(m2 *big.Int) error {
	if c.m1 == nil {
		return ErrChallengeNeeded
	}
	got, ok := EvidenceBytes(m2)
	if !ok {
		return ErrServerEvidence
	}
	want := c.group.ServerEvidence(c.A, c.m1, c.K)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrServerEvidence
	}
	return nil
}

// SessionKey returns K once the challenge has been processed.
func (c *Client) SessionKey() []byte {
	return c.K
}
