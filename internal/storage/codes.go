package storage

// codes.go contains SQLiteStore methods for the Konami catalog id to
// passcode map. Tags written from catalog-only sources carry the
// 00000000 passcode placeholder plus a catalog id; this table resolves
// those back to real cards, and fills the catalog field during encode.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// CodeEntry is one catalog id to passcode mapping.
type CodeEntry struct {
	KonamiID string
	Passcode string
}

// SaveCode inserts or overwrites a single mapping.
func (s *SQLiteStore) SaveCode(konamiID, passcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT OR REPLACE INTO codes (konami_id, passcode)
		VALUES (?, ?)
	`

	if _, err := s.db.Exec(query, konamiID, passcode); err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	return nil
}

// ImportCodes bulk-loads mappings in one transaction and returns how
// many were written. Existing catalog ids are overwritten. An empty
// slice is a no-op.
func (s *SQLiteStore) ImportCodes(entries []CodeEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO codes (konami_id, passcode) VALUES (?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.KonamiID, e.Passcode); err != nil {
			return 0, fmt.Errorf("import code %s: %w", e.KonamiID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}

	log.Printf("storage: imported %d passcode mappings", len(entries))
	return len(entries), nil
}

// GetPasscode returns the passcode for a catalog id, or "" when the
// mapping is unknown (not an error).
func (s *SQLiteStore) GetPasscode(konamiID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var passcode string
	err := s.db.QueryRow("SELECT passcode FROM codes WHERE konami_id = ?", konamiID).Scan(&passcode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get passcode: %w", err)
	}
	return passcode, nil
}

// GetKonamiID returns the catalog id for a passcode, or "" when the
// mapping is unknown (not an error).
func (s *SQLiteStore) GetKonamiID(passcode string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var konamiID string
	err := s.db.QueryRow("SELECT konami_id FROM codes WHERE passcode = ?", passcode).Scan(&konamiID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get konami id: %w", err)
	}
	return konamiID, nil
}

// CountCodes returns the number of stored mappings.
func (s *SQLiteStore) CountCodes() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM codes").Scan(&count); err != nil {
		return 0, fmt.Errorf("count codes: %w", err)
	}
	return count, nil
}
