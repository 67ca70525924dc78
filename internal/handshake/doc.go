// Package handshake runs the server side of SRP-6a login.
//
// Each identity moves through NoSession, AwaitingProof and then Verified or
// Failed. Step1 parks a Session in the injected session store; Step2 removes
// it atomically before checking the client's evidence, so every failure is
// terminal and a second Step2 always sees ErrSessionNotFound.
//
// The credential lookup happens outside the session store's lock and is
// bounded by Config.LookupTimeout.
package handshake
