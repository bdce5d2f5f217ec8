package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors for store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Store is the connection and frame journal over SQLite.
type Store struct {
	db *sql.DB
}

// New opens a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection ensures PRAGMAs persist and avoids
	// SQLite write contention issues.
	db.SetMaxOpenConns(1)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return nil
}

// migrate runs all pending database migrations in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for i, m := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}

		if err := m(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", version, err)
		}

		_, err = tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			version, time.Now().Unix())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}

	return nil
}

// migrations is an ordered list of migration functions.
var migrations = []func(*sql.Tx) error{
	migrateV1,
}

// migrateV1 creates the connection and frame journal.
func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE connection (
			id          TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL,
			protocol    TEXT NOT NULL,
			opened_at   INTEGER NOT NULL,
			closed_at   INTEGER
		)`,
		`CREATE INDEX idx_connection_opened_at ON connection (opened_at)`,

		// One row per envelope crossing the wire, in either direction.
		`CREATE TABLE frame (
			id         TEXT PRIMARY KEY,
			conn_id    TEXT NOT NULL,
			direction  TEXT NOT NULL CHECK (direction IN ('in', 'out')),
			packet_id  TEXT NOT NULL,
			request_id INTEGER,
			payload    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (conn_id) REFERENCES connection (id) ON DELETE CASCADE
		)`,
		`CREATE INDEX idx_frame_conn_created ON frame (conn_id, created_at)`,
		`CREATE INDEX idx_frame_packet_id ON frame (packet_id)`,
		`CREATE INDEX idx_frame_created_at ON frame (created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// isUniqueConstraintError returns true if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
