// Package auth issues bearer tokens and gates requests on them.
//
// # Tokens
//
// An Issuer signs HS256 JWTs after a verified SRP handshake or OAuth login:
//
//	issuer, err := auth.NewIssuer(auth.IssuerConfig{Secret: secret, TTL: 24 * time.Hour})
//	token, claims, err := issuer.Mint("alice@example.com", auth.SessionUser, "")
//
// Each token carries a session type (USER, GUEST or SYSADMIN). Verify
// answers only yes or no; callers never learn why a token was refused.
//
// # Gate
//
// The Gate wraps the HTTP router and the gRPC server. Allow-listed paths
// (the handshake steps and the OAuth entry points) pass straight through.
// Everything else needs an "Authorization: bearer <token>" header and sees a
// 401 otherwise. The scheme is matched in lowercase unless
// GateConfig.CaseInsensitiveScheme is set.
//
// Handlers read the caller with PrincipalFromContext. There is no exported
// way to attach a Principal, so one can only come from the gate.
package auth
