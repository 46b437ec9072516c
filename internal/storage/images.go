package storage

// images.go contains the artwork store: a deterministic on-disk layout
// for downloaded card images plus the card-row bookkeeping that records
// where each image lives.

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "github.com/tagdeck/host/internal/errors"
)

// Image variants the remote database serves and the cache stores.
const (
	VariantSmall   = "small"
	VariantCropped = "cropped"
)

// SaveImage writes image bytes for a cached card and records the path on
// its row. The layout is deterministic: images/{variant}/{id}_{variant}.jpg,
// so saving the same image twice lands on the same file (overwriting it).
// The card must already be cached; saving artwork for an unknown card
// returns ErrCardNotFound. The returned path is relative; ResolveImage
// maps it onto the configured artwork root.
func (s *SQLiteStore) SaveImage(id int64, variant string, data []byte) (string, error) {
	column, err := imageColumn(variant)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.imageDir, variant)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.StorageUnavailable("image directory", err)
	}

	file := fmt.Sprintf("%d_%s.jpg", id, variant)
	if err := os.WriteFile(filepath.Join(dir, file), data, 0644); err != nil {
		return "", apperrors.StorageUnavailable("image store", err)
	}

	rel := path.Join("images", variant, file)

	// column is one of the two fixed column names from imageColumn, never
	// caller input.
	query := fmt.Sprintf("UPDATE cards SET %s = ? WHERE id = ?", column)
	result, err := s.db.Exec(query, rel, id)
	if err != nil {
		return "", fmt.Errorf("record image path: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return "", ErrCardNotFound
	}

	log.Printf("storage: saved %s image for card %d (%d bytes)", variant, id, len(data))
	return rel, nil
}

// ResolveImage maps a relative path recorded by SaveImage onto the
// configured artwork root and returns the absolute file path.
func (s *SQLiteStore) ResolveImage(rel string) string {
	return filepath.Join(s.imageDir, filepath.FromSlash(strings.TrimPrefix(rel, "images/")))
}

// imageColumn maps a variant to the cards column holding its path.
func imageColumn(variant string) (string, error) {
	switch variant {
	case VariantSmall:
		return "image_small", nil
	case VariantCropped:
		return "image_cropped", nil
	default:
		return "", fmt.Errorf("unknown image variant %q", variant)
	}
}
