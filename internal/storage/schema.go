package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 3

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *SQLiteStore) initSchema() error {
	// Schema version table tracks database migrations.
	// This allows future schema changes to be applied incrementally.
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// Check current version
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	// Apply migrations based on current version
	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	if version < 3 {
		if err := s.migrateToV3(); err != nil {
			return fmt.Errorf("migrate to v3: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the initial schema (cards table).
func (s *SQLiteStore) migrateToV1() error {
	log.Printf("storage: applying migration to schema version 1")

	// The cards table caches one row per card, keyed by the numeric
	// passcode printed on the card. The raw API document is preserved
	// verbatim in json_data so nothing the remote sent is ever lost to
	// column mapping. Timestamps are stored as RFC3339 strings for
	// readability and portability.
	const cardsTable = `
		CREATE TABLE IF NOT EXISTS cards (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			json_data TEXT NOT NULL,
			image_small TEXT NOT NULL DEFAULT '',
			image_cropped TEXT NOT NULL DEFAULT '',
			fetched_at TEXT NOT NULL
		);

		-- Index for efficient name substring searches (most common access pattern).
		CREATE INDEX IF NOT EXISTS idx_cards_name ON cards(name COLLATE NOCASE);
	`

	if _, err := s.db.Exec(cardsTable); err != nil {
		return fmt.Errorf("create cards table: %w", err)
	}

	// Record the migration
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		1,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return nil
}

// migrateToV2 adds the devices table for pairing/authentication.
func (s *SQLiteStore) migrateToV2() error {
	log.Printf("storage: applying migration to schema version 2")

	// The devices table stores paired companion devices.
	// Each device has a unique ID and a bcrypt-hashed token for authentication.
	// The token_hash is never exposed; only the raw token is sent to the device once.
	const devicesTable = `
		CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			token_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(devicesTable); err != nil {
		return fmt.Errorf("create devices table: %w", err)
	}

	// Record the migration
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		2,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return nil
}

// migrateToV3 adds the codes table mapping Konami catalog ids to printed
// passcodes. Some tags carry only a catalog id (the passcode slot holds
// the 00000000 placeholder); this table turns those back into real cards.
func (s *SQLiteStore) migrateToV3() error {
	log.Printf("storage: applying migration to schema version 3")

	const codesTable = `
		CREATE TABLE IF NOT EXISTS codes (
			konami_id TEXT PRIMARY KEY,
			passcode TEXT NOT NULL
		);

		-- Index for reverse lookups (passcode to catalog id) during encode.
		CREATE INDEX IF NOT EXISTS idx_codes_passcode ON codes(passcode);
	`

	if _, err := s.db.Exec(codesTable); err != nil {
		return fmt.Errorf("create codes table: %w", err)
	}

	// Record the migration
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		3,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return nil
}

// Verify checks that every table the current schema version promises is
// actually present. Used by the doctor command to catch half-migrated
// databases.
func (s *SQLiteStore) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, table := range []string{"cards", "devices", "codes"} {
		ok, err := s.tableExists(table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("table %s is missing", table)
		}
	}
	return nil
}

// tableExists reports whether a table exists in the current database.
func (s *SQLiteStore) tableExists(name string) (bool, error) {
	var table string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		name,
	).Scan(&table)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return table == name, nil
}

// SchemaVersion returns the current database schema version.
// This is useful for diagnostics and testing.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
