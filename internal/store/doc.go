// Package store persists srpgate users and the audit log.
//
// # Backends
//
// SQLStore runs on SQLite (modernc.org/sqlite, cgo-free) or Postgres
// (pgx stdlib driver). The schema is managed by goose migrations embedded
// from migrations/<dialect>.
//
// # Credentials
//
// A user row carries the SRP salt and verifier as decimal text. Rows created
// by OAuth login have no verifier until an operator enrolls one, and
// FetchCredential reports them as ErrNotFound.
//
// Identities are normalized with NormalizeIdentity on every read and write.
package store
