// Package oauth implements third-party login for accounts that have no SRP
// verifier. Facebook is the only provider.
package oauth
