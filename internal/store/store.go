package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store is the SQL backend. It runs on Postgres in production and on
// SQLite for development and tests.
type Store struct {
	db *sqlx.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		dedup_key TEXT NOT NULL,
		brand TEXT NOT NULL DEFAULT '',
		product_name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		item_type TEXT NOT NULL DEFAULT '',
		color_code TEXT NOT NULL DEFAULT '',
		color_name TEXT NOT NULL DEFAULT '',
		color_description TEXT NOT NULL DEFAULT '',
		texture TEXT NOT NULL DEFAULT '',
		stats TEXT,
		rarity TEXT NOT NULL DEFAULT '',
		pao_months INTEGER,
		price BIGINT,
		product_url TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		marketplace_image_url TEXT NOT NULL DEFAULT '',
		images TEXT,
		source TEXT NOT NULL DEFAULT '',
		confidence TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, dedup_key)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		product_id TEXT,
		estimated_remaining TEXT NOT NULL DEFAULT '100%',
		purchase_date TEXT,
		open_date TEXT,
		memo TEXT,
		legacy_product TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inventory_user ON inventory (user_id, id)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at TIMESTAMP NOT NULL
	)`,
}

// NewStore opens a database connection and makes sure the schema exists.
// driver is "postgres" or "sqlite".
func NewStore(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		// one connection keeps an in-memory database alive and serializes writers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for readiness probes
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func now() time.Time {
	return time.Now().UTC()
}

// pgUniqueViolation is the SQLSTATE Postgres reports for a unique index clash
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
