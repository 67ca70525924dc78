// ABOUTME: database/sql implementation of Store for SQLite (modernc) and Postgres (pgx)
// ABOUTME: Opens the pool, waits for Postgres with backoff, and applies goose migrations

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DefaultConnectTimeout bounds how long Open waits for Postgres to accept connections.
const DefaultConnectTimeout = 30 * time.Second

// Options describes how to open a store.
type Options struct {
	Driver         Driver
	Path           string        // sqlite file path or ":memory:"
	DSN            string        // postgres connection string
	ConnectTimeout time.Duration // postgres startup retry budget
}

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db     *sql.DB
	driver Driver
	logger *slog.Logger
}

// Open opens the configured backend and brings its schema up to date.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return NewSQLiteStore(ctx, opts.Path)
	case DriverPostgres:
		return NewPostgresStore(ctx, opts.DSN, opts.ConnectTimeout)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
}

// NewSQLiteStore creates a new SQLite store at the given path.
// Parent directories are created if needed.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store", "driver", DriverSQLite)

	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLStore{db: db, driver: DriverSQLite, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore connects through pgx, retrying the first ping with
// exponential backoff so the gateway can start alongside its database.
func NewPostgresStore(ctx context.Context, dsn string, connectTimeout time.Duration) (*SQLStore, error) {
	logger := slog.Default().With("component", "store", "driver", DriverPostgres)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(connectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("postgres not ready, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &SQLStore{db: db, driver: DriverPostgres, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

// runMigrations applies all pending migrations for the store's dialect.
func (s *SQLStore) runMigrations(ctx context.Context) error {
	dir, dialect := "migrations/sqlite", database.DialectSQLite3
	if s.driver == DriverPostgres {
		dir, dialect = "migrations/postgres", database.DialectPostgres
	}

	migrationFS, err := fs.Sub(embedMigrations, dir)
	if err != nil {
		return fmt.Errorf("opening migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, s.db, migrationFS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Debug("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB exposes the pool for tests and tooling.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation reports a uniqueness failure from either backend.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
