// ABOUTME: Password hardening used to derive the private SRP value x
// ABOUTME: Offers RFC 5054 SHA-256 and Argon2id; x = H(s | KDF(I, P, s))

package srp

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// KDF hardens an identity/password pair before it is folded into x.
type KDF interface {
	Name() string
	Derive(identity, password string, salt []byte) []byte
}

// SHA256KDF is the plain RFC 5054 inner hash H(I ":" P).
type SHA256KDF struct{}

func (SHA256KDF) Name() string { return "sha256" }

func (SHA256KDF) Derive(identity, password string, _ []byte) []byte {
	return hash([]byte(identity + ":" + password))
}

// Argon2idKDF runs Argon2id over I ":" P with the SRP salt.
type Argon2idKDF struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultArgon2id returns the production Argon2id cost parameters.
func DefaultArgon2id() Argon2idKDF {
	return Argon2idKDF{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

func (Argon2idKDF) Name() string { return "argon2id" }

func (k Argon2idKDF) Derive(identity, password string, salt []byte) []byte {
	return argon2.IDKey([]byte(identity+":"+password), salt, k.Time, k.MemoryKiB, k.Threads, 32)
}

// NewKDF builds a KDF by name. Zero Argon2id parameters fall back to the defaults.
func NewKDF(name string, time, memoryKiB uint32, threads uint8) (KDF, error) {
	switch strings.ToLower(name) {
	case "", "argon2id":
		k := DefaultArgon2id()
		if time > 0 {
			k.Time = time
		}
		if memoryKiB > 0 {
			k.MemoryKiB = memoryKiB
		}
		if threads > 0 {
			k.Threads = threads
		}
		return k, nil
	case "sha256":
		return SHA256KDF{}, nil
	default:
		return nil, fmt.Errorf("unknown kdf %q", name)
	}
}
