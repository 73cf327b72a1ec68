// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no CGo, no C compiler, and
// ":memory:" databases make repository tests fast and isolated.
//
// TIMESTAMPS:
// Every timestamp column is INTEGER epoch milliseconds. Expiry filtering
// (expires_at > now) is then a plain integer comparison, which is exact to
// the millisecond and independent of how the driver formats time values.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool. The per-table repositories returned by
// Users and AuthProviders share it.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens the database at dbPath (or ":memory:") and runs migrations.
func New(dbPath string) (*DB, error) {
	// Connection-scoped pragmas go in the DSN so every pooled connection
	// gets them, not just the first one.
	dsn := dbPath + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate empty database, so the
	// pool must never open a second one.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a callback is writing.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Users returns the user repository.
func (db *DB) Users() *UserDB {
	return &UserDB{db: db}
}

// AuthProviders returns the token store.
func (db *DB) AuthProviders() *AuthProviderDB {
	return &AuthProviderDB{db: db}
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			username   TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// (provider, provider_id) is UNIQUE: one external account maps to
	// exactly one row, and concurrent callbacks for it upsert the same row.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS auth_providers (
			id                     TEXT PRIMARY KEY,
			user_id                TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			provider               TEXT NOT NULL,
			provider_id            TEXT NOT NULL,
			access_token           TEXT NOT NULL,
			refresh_token          TEXT NOT NULL DEFAULT '',
			expires_at             INTEGER,
			username               TEXT NOT NULL DEFAULT '',
			email                  TEXT NOT NULL DEFAULT '',
			advertising_account_id TEXT NOT NULL DEFAULT '',
			business_accounts      TEXT NOT NULL DEFAULT '[]',
			ad_accounts            TEXT NOT NULL DEFAULT '[]',
			config_id              TEXT NOT NULL DEFAULT '',
			created_at             INTEGER NOT NULL,
			updated_at             INTEGER NOT NULL,
			UNIQUE (provider, provider_id)
		);
		CREATE INDEX IF NOT EXISTS idx_auth_providers_user_id ON auth_providers(user_id);
		CREATE INDEX IF NOT EXISTS idx_auth_providers_expires_at ON auth_providers(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating auth_providers table: %w", err)
	}

	// Added after the first release; existing databases get it on startup.
	if err := db.addColumnIfNotExists("auth_providers", "config_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding config_id to auth_providers: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
