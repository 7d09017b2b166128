// Package store provides persistent server state backed by an embedded
// SQLite database (modernc.org/sqlite — pure Go, no cgo). It owns the
// database lifecycle and exposes typed operations for every entity in
// SPEC_FULL.md §3.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	// v1 — users
	`CREATE TABLE IF NOT EXISTS users (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		username          TEXT NOT NULL UNIQUE,
		password_hash     TEXT NOT NULL,
		password_kdf_hash TEXT,
		nickname          TEXT NOT NULL,
		email             TEXT UNIQUE,
		avatar_filename   TEXT,
		signature         TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — friend requests
	`CREATE TABLE IF NOT EXISTS friend_requests (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id   INTEGER NOT NULL REFERENCES users(id),
		receiver_id INTEGER NOT NULL REFERENCES users(id),
		created_at  INTEGER NOT NULL DEFAULT (unixepoch()),
		UNIQUE(sender_id, receiver_id)
	)`,
	// v3 — friendships, stored canonically low_id < high_id
	`CREATE TABLE IF NOT EXISTS friendships (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		low_id     INTEGER NOT NULL REFERENCES users(id),
		high_id    INTEGER NOT NULL REFERENCES users(id),
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		UNIQUE(low_id, high_id),
		CHECK(low_id < high_id)
	)`,
	// v4 — groups (rooms)
	`CREATE TABLE IF NOT EXISTS groups (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		name                 TEXT NOT NULL,
		owner_id             INTEGER NOT NULL REFERENCES users(id),
		is_private           INTEGER NOT NULL DEFAULT 0,
		password             TEXT,
		sprint_active        INTEGER NOT NULL DEFAULT 0,
		sprint_start_time    INTEGER,
		sprint_target_words  INTEGER NOT NULL DEFAULT 0,
		created_at           INTEGER NOT NULL DEFAULT (unixepoch()),
		updated_at           INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v5 — group members, one row per user (single-room invariant)
	`CREATE TABLE IF NOT EXISTS group_members (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id INTEGER NOT NULL REFERENCES groups(id),
		user_id  INTEGER NOT NULL UNIQUE REFERENCES users(id)
	)`,
	// v6 — group chat messages
	`CREATE TABLE IF NOT EXISTS group_messages (
		id                      INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id                INTEGER NOT NULL REFERENCES groups(id),
		sender_id               INTEGER REFERENCES users(id),
		sender_nickname_snap    TEXT NOT NULL,
		content                 TEXT NOT NULL,
		timestamp               INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v7 — chat history index
	`CREATE INDEX IF NOT EXISTS idx_group_messages_group_ts ON group_messages(group_id, timestamp)`,
	// v8 — sprint scores
	`CREATE TABLE IF NOT EXISTS sprint_scores (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id      INTEGER NOT NULL REFERENCES groups(id),
		user_id       INTEGER NOT NULL REFERENCES users(id),
		current_score INTEGER NOT NULL DEFAULT 0,
		UNIQUE(group_id, user_id)
	)`,
	// v9 — daily reports
	`CREATE TABLE IF NOT EXISTS daily_reports (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     INTEGER NOT NULL REFERENCES users(id),
		report_date TEXT NOT NULL,
		total_words INTEGER NOT NULL DEFAULT 0,
		UNIQUE(user_id, report_date)
	)`,
	// v10 — detail records (append-only audit log)
	`CREATE TABLE IF NOT EXISTS detail_records (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id          INTEGER NOT NULL REFERENCES users(id),
		word_increment   INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		source_type      TEXT NOT NULL DEFAULT 'client_sync',
		end_time         INTEGER NOT NULL
	)`,
	// v11 — detail records index
	`CREATE INDEX IF NOT EXISTS idx_detail_records_user_end ON detail_records(user_id, end_time DESC)`,
	// v12 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
	// v13 — operator-promoted accounts, set only via the CLI "users promote"
	// subcommand; never reachable from the wire protocol.
	`ALTER TABLE users ADD COLUMN is_admin INTEGER NOT NULL DEFAULT 0`,
}

// Store wraps a SQLite database and exposes server-state operations. All
// exported methods are safe for concurrent use; write serialization beyond
// what SQLite itself provides is the caller's responsibility (spec.md §5).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage
// (tests and the end-to-end scenarios in SPEC_FULL.md §8).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		slog.Warn("store: enable foreign_keys failed", "err", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("store: set busy_timeout failed", "err", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for transaction-scoped operations that
// span multiple store methods (see WithTx).
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error fn returns — the "scoped unit of work" every
// request handler uses (spec.md §4.C).
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Debug("store: applied migration", "version", v)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version, used by the
// CLI "status" subcommand.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}

// Backup writes a consistent snapshot of the database to destPath using
// SQLite's VACUUM INTO, for the CLI "backup" subcommand.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	if err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}
