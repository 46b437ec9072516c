package storage

import (
	"errors"
	"log"
	"sync"

	// SQLite driver - imported for side effects (registers the driver).
	// Using modernc.org/sqlite which is a pure-Go implementation that
	// doesn't require CGO, making cross-compilation and testing easier.
	"database/sql"

	_ "modernc.org/sqlite"

	apperrors "github.com/tagdeck/host/internal/errors"
)

// ErrCardNotFound is returned when an operation targets a card that is
// not in the cache.
var ErrCardNotFound = errors.New("card not found")

// ErrDeviceNotFound is returned when a device lookup fails.
var ErrDeviceNotFound = errors.New("device not found")

// SQLiteStore is the card cache: card records fetched from the remote
// database, their artwork on disk, paired companion devices, and the
// Konami catalog id to passcode map. It creates the database and tables
// on first use and supports concurrent access through internal locking.
type SQLiteStore struct {
	db       *sql.DB      // Database connection handle.
	mu       sync.RWMutex // Guards all database operations for thread safety.
	imageDir string       // Root directory for downloaded artwork.
}

// NewSQLiteStore opens or creates a SQLite database at the given path
// and initializes the schema if the tables don't exist. imageDir is the
// root directory artwork is written under; it is created lazily on the
// first SaveImage. Use ":memory:" as the path for an in-memory database
// (useful for testing).
func NewSQLiteStore(path, imageDir string) (*SQLiteStore, error) {
	log.Printf("storage: opening database at %s", path)

	// Open database with foreign keys enabled for referential integrity.
	// The modernc.org/sqlite driver uses _pragma=foreign_keys(1) syntax.
	// We also set a busy_timeout of 5 seconds to handle concurrent access
	// from both the CLI and a running host (e.g., during device revocation).
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.StorageUnavailable("card database", err)
	}

	// SQLite allows a single writer, and a second pool connection to an
	// in-memory database would see a different empty database entirely.
	db.SetMaxOpenConns(1)

	// Verify the connection is working.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.StorageUnavailable("card database", err)
	}

	store := &SQLiteStore{db: db, imageDir: imageDir}

	// Create tables if they don't exist.
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.StorageUnavailable("card database schema", err)
	}

	log.Printf("storage: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// ImageDir returns the configured artwork root.
func (s *SQLiteStore) ImageDir() string {
	return s.imageDir
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}
