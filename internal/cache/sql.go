package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	schema string
	get    string
	upsert string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		schema: `
CREATE TABLE IF NOT EXISTS tier_entry (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`,
		get: `SELECT value FROM tier_entry WHERE key = ?`,
		upsert: `INSERT INTO tier_entry (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	},
	DriverPostgres: {
		schema: `
CREATE TABLE IF NOT EXISTS tier_entry (
    key TEXT PRIMARY KEY,
    value BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`,
		get: `SELECT value FROM tier_entry WHERE key = $1`,
		upsert: `INSERT INTO tier_entry (key, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	},
}

// SQLStore persists entries in a single table so results survive restarts.
// Works with SQLite (modernc, pure Go) and PostgreSQL (lib/pq).
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLStore opens dsn with driver and prepares the schema.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("cache: unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", driver, err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY and keeps
	// ":memory:" databases on a single handle.
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLStore(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database. Safe to call repeatedly, the schema uses IF NOT EXISTS.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("cache: unsupported sql driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("cache: %s ping failed: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sql get failed: %w", err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("sql set failed: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
