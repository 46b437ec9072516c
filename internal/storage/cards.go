package storage

// cards.go contains SQLiteStore methods for card cache CRUD operations.
// Cards are records fetched from the remote card database, cached so
// lookups and tag reads work offline.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// CardRecord is one cached card. ID is the numeric passcode printed on
// the physical card and used by the remote database. Data preserves the
// raw API document verbatim. SmallImage and CroppedImage are relative
// artwork paths maintained by SaveImage, never by UpsertCard.
type CardRecord struct {
	ID           int64
	Name         string
	Data         string
	SmallImage   string
	CroppedImage string
	FetchedAt    time.Time
}

// UpsertCard inserts or overwrites a card record by its identifier.
// Latest write wins; calling it twice with the same input is a no-op the
// second time. Artwork paths recorded by SaveImage survive a refresh of
// the metadata columns.
func (s *SQLiteStore) UpsertCard(card *CardRecord) error {
	if card == nil {
		return errors.New("card cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: upserting card %d (%s)", card.ID, card.Name)

	const query = `
		INSERT INTO cards (id, name, json_data, image_small, image_cropped, fetched_at)
		VALUES (?, ?, ?, '', '', ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			json_data = excluded.json_data,
			fetched_at = excluded.fetched_at
	`

	_, err := s.db.Exec(query,
		card.ID,
		card.Name,
		card.Data,
		card.FetchedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}

	return nil
}

// GetCard retrieves a card by its identifier.
// Returns nil, nil if the card is not cached.
func (s *SQLiteStore) GetCard(id int64) (*CardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, json_data, image_small, image_cropped, fetched_at
		FROM cards
		WHERE id = ?
	`

	card, err := parseCardRow(rowAdapter{s.db.QueryRow(query, id)})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}

	return card, nil
}

// SearchCardsByName returns every cached card whose name contains text,
// compared case-insensitively. Results are ordered by name ascending,
// then identifier ascending, so equal queries always return the same
// sequence. An empty result is not an error.
func (s *SQLiteStore) SearchCardsByName(text string) ([]*CardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, json_data, image_small, image_cropped, fetched_at
		FROM cards
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY name COLLATE NOCASE ASC, id ASC
	`

	cards, err := s.queryCards(query, "%"+escapeLike(text)+"%")
	if err != nil {
		return nil, err
	}

	log.Printf("storage: name search %q matched %d cards", text, len(cards))
	return cards, nil
}

// ListCards returns the whole cache, ordered by name ascending then
// identifier ascending.
func (s *SQLiteStore) ListCards() ([]*CardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, json_data, image_small, image_cropped, fetched_at
		FROM cards
		ORDER BY name COLLATE NOCASE ASC, id ASC
	`

	cards, err := s.queryCards(query)
	if err != nil {
		return nil, err
	}

	log.Printf("storage: listed %d cached cards", len(cards))
	return cards, nil
}

// CountCards returns the number of cached cards.
func (s *SQLiteStore) CountCards() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cards").Scan(&count); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return count, nil
}

// DeleteCard removes a card from the cache.
// Returns nil if the card does not exist (idempotent delete).
func (s *SQLiteStore) DeleteCard(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: deleting card %d", id)

	_, err := s.db.Exec("DELETE FROM cards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}

	return nil
}

// escapeLike escapes the LIKE pattern metacharacters in a user query so
// substring search treats them literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// queryCards executes a query and returns all matching cards.
func (s *SQLiteStore) queryCards(query string, args ...interface{}) ([]*CardRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var cards []*CardRecord
	for rows.Next() {
		// Use rowsAdapter so we can reuse parseCardRow
		card, err := parseCardRow(rowsAdapter{rows})
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return cards, nil
}

// scanner is an interface that abstracts over sql.Row and sql.Rows.
// This allows us to use a single parseCardRow function for both cases.
type scanner interface {
	Scan(dest ...interface{}) error
}

// rowAdapter wraps *sql.Row to implement the scanner interface.
type rowAdapter struct {
	row *sql.Row
}

func (r rowAdapter) Scan(dest ...interface{}) error {
	return r.row.Scan(dest...)
}

// rowsAdapter wraps *sql.Rows to implement the scanner interface.
type rowsAdapter struct {
	rows *sql.Rows
}

func (r rowsAdapter) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

// parseCardRow scans a database row into a CardRecord.
// Works with both *sql.Row and *sql.Rows through the scanner interface.
func parseCardRow(s scanner) (*CardRecord, error) {
	var (
		card      CardRecord
		fetchedAt string
	)

	err := s.Scan(
		&card.ID,
		&card.Name,
		&card.Data,
		&card.SmallImage,
		&card.CroppedImage,
		&fetchedAt,
	)
	if err != nil {
		return nil, err
	}

	// Parse timestamps from RFC3339 format.
	t, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parse fetched_at: %w", err)
	}
	card.FetchedAt = t

	return &card, nil
}
