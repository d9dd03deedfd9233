// ABOUTME: Core SQLite store for persisted customer records.
// ABOUTME: Handles database initialization, migrations, and connection management.

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// Migration version constants
const (
	MigrationV1 = 1 // records table keyed by id
	MigrationV2 = 2 // secondary indexes on every sortable column
)

// CurrentSchemaVersion is the target version for the database schema
const CurrentSchemaVersion = MigrationV2

var (
	// ErrStoreUnavailable means the database could not be opened or migrated.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreWriteFailed means a write transaction did not commit.
	ErrStoreWriteFailed = errors.New("store write failed")
	// ErrStoreReadFailed means a read query failed.
	ErrStoreReadFailed = errors.New("store read failed")
	// ErrInvalidRecord means a record can never be stored as given. Retrying
	// the same write fails the same way.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotFound means the requested id is not persisted.
	ErrNotFound = errors.New("record not found")
)

type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and brings the schema up to
// date. Calling it again on an existing database is a no-op migration-wise.
func New(dbPath string) (*Store, error) {
	// busy_timeout in the DSN applies to every pooled connection
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to connect to database: %w", ErrStoreUnavailable, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending migrations
func (s *Store) migrate() error {
	if err := s.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentMigrationVersion()
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	slog.Debug("database schema", "version", currentVersion, "target", CurrentSchemaVersion)

	if currentVersion < MigrationV1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	if currentVersion < MigrationV2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	return nil
}

func (s *Store) createMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`)
	return err
}

func (s *Store) getCurrentMigrationVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(version), 0) FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) recordMigration(version int, description string) error {
	_, err := s.db.Exec(`
		INSERT INTO schema_migrations (version, description)
		VALUES (?, ?)
	`, version, description)
	return err
}

// migrateV1 creates the records table
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		email TEXT NOT NULL,
		score INTEGER NOT NULL,
		last_message_at INTEGER NOT NULL,
		added_by TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if err := s.recordMigration(MigrationV1, "Create records table"); err != nil {
		return err
	}

	slog.Info("applied migration", "version", MigrationV1, "description", "Create records table")
	return nil
}

// migrateV2 adds one orderable index per sortable column. None are unique.
func (s *Store) migrateV2() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_records_name ON records(name)",
		"CREATE INDEX IF NOT EXISTS idx_records_email ON records(email)",
		"CREATE INDEX IF NOT EXISTS idx_records_phone ON records(phone)",
		"CREATE INDEX IF NOT EXISTS idx_records_score ON records(score)",
		// last_message_at holds unix milliseconds so the index orders by instant
		"CREATE INDEX IF NOT EXISTS idx_records_last_message_at ON records(last_message_at)",
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := s.recordMigration(MigrationV2, "Add secondary indexes on sortable columns"); err != nil {
		return err
	}

	slog.Info("applied migration", "version", MigrationV2, "description", "Add secondary indexes on sortable columns")
	return nil
}
