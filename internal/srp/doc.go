// Package srp implements the SRP-6a arithmetic used by srpgate.
//
// The variant is fixed per deployment:
//
//   - Group: RFC 5054 Appendix A (default 2048-bit), or the legacy 1024-bit modulus
//   - Hash: SHA-256
//   - k = H(N | PAD(g)), u = H(PAD(A) | PAD(B)), K = H(PAD(S))
//   - M1 = H(H(N) XOR H(g) | H(I) | s | A | B | K), M2 = H(A | M1 | K)
//   - x = H(s | KDF(I, P, s)) where KDF is SHA-256 (RFC 5054) or Argon2id
//
// PAD left-pads to the byte length of N. Every other integer is hashed in its
// minimal big-endian form.
package srp
