// ABOUTME: SRP-6a protocol arithmetic shared by the server engine and the client
// ABOUTME: SHA-256 over PAD()ed values for k and u, Wu's M1/M2 evidence construction

package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
)

// EvidenceSize is the byte length of M1, M2 and K (one SHA-256 digest).
const EvidenceSize = sha256.Size

var (
	ErrInvalidPublic   = errors.New("srp: invalid public value")
	ErrServerEvidence  = errors.New("srp: server evidence mismatch")
	ErrChallengeNeeded = errors.New("srp: challenge not processed")
)

func hash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func hashInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(hash(parts...))
}

// Multiplier computes k = H(N | PAD(g)).
func (g *Group) Multiplier() *big.Int {
	return hashInt(g.N.Bytes(), g.Pad(g.G))
}

// Scrambler computes u = H(PAD(A) | PAD(B)).
func (g *Group) Scrambler(A, B *big.Int) *big.Int {
	return hashInt(g.Pad(A), g.Pad(B))
}

// SessionKey computes K = H(PAD(S)).
func (g *Group) SessionKey(S *big.Int) []byte {
	return hash(g.Pad(S))
}

// ClientEvidence computes M1 = H(H(N) XOR H(g) | H(I) | s | A | B | K).
func (g *Group) ClientEvidence(identity string, salt, A, B *big.Int, K []byte) []byte {
	hn := hash(g.N.Bytes())
	hg := hash(g.G.Bytes())
	for i := range hn {
		hn[i] ^= hg[i]
	}
	return hash(hn, hash([]byte(identity)), salt.Bytes(), A.Bytes(), B.Bytes(), K)
}

// ServerEvidence computes M2 = H(A | M1 | K).
func (g *Group) ServerEvidence(A *big.Int, m1, K []byte) []byte {
	return hash(A.Bytes(), m1, K)
}

// ServerPublic computes B = (k*v + g^b) mod N.
func (g *Group) ServerPublic(v, b *big.Int) *big.Int {
	kv := new(big.Int).Mul(g.Multiplier(), v)
	gb := new(big.Int).Exp(g.G, b, g.N)
	return kv.Add(kv, gb).Mod(kv, g.N)
}

// ServerPremaster computes S = (A * v^u)^b mod N.
func (g *Group) ServerPremaster(A, v, u, b *big.Int) *big.Int {
	base := new(big.Int).Exp(v, u, g.N)
	base.Mul(base, A).Mod(base, g.N)
	return base.Exp(base, b, g.N)
}

// RandomExponent draws a private ephemeral value uniformly from [1, N).
func (g *Group) RandomExponent() (*big.Int, error) {
	limit := new(big.Int).Sub(g.N, big.NewInt(1))
	r, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, err
	}
	return r.Add(r, big.NewInt(1)), nil
}

// EvidenceBytes converts a transported evidence integer into its fixed-width
// digest form. It fails if the value cannot be a SHA-256 digest.
func EvidenceBytes(x *big.Int) ([]byte, bool) {
	if x == nil || x.Sign() < 0 || x.BitLen() > EvidenceSize*8 {
		return nil, false
	}
	return x.FillBytes(make([]byte, EvidenceSize)), true
}

// EvidenceInt is the inverse of EvidenceBytes, used for decimal transport.
func EvidenceInt(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}
