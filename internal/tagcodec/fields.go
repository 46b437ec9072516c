package tagcodec

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Built-in code tables. Codes are what goes on the tag; display names
// are what the card database and humans use.
var defaultRarities = map[string]string{
	"C":  "Common",
	"R":  "Rare",
	"SR": "Super Rare",
	"UR": "Ultra Rare",
	"SE": "Secret Rare",
	"UL": "Ultimate Rare",
	"GR": "Ghost Rare",
	"ST": "Starlight Rare",
	"PR": "Parallel Rare",
	"GD": "Gold Rare",
	"QC": "Quarter Century Secret Rare",
}

var defaultEditions = map[string]string{
	"1E": "1st Edition",
	"UE": "Unlimited",
	"LE": "Limited Edition",
	"DT": "Duel Terminal",
}

// Names resolves the 2-character rarity and edition codes written on
// tags to display names and back.
type Names struct {
	rarities map[string]string
	editions map[string]string
}

// DefaultNames returns the built-in code tables.
func DefaultNames() *Names {
	n := &Names{
		rarities: make(map[string]string, len(defaultRarities)),
		editions: make(map[string]string, len(defaultEditions)),
	}
	for code, name := range defaultRarities {
		n.rarities[code] = name
	}
	for code, name := range defaultEditions {
		n.editions[code] = name
	}
	return n
}

// LoadRarities merges a JSON file of {"code": "display name"} entries
// over the built-in rarity table.
func (n *Names) LoadRarities(path string) error {
	return mergeCodeFile(path, n.rarities)
}

// LoadEditions merges a JSON file of {"code": "display name"} entries
// over the built-in edition table.
func (n *Names) LoadEditions(path string) error {
	return mergeCodeFile(path, n.editions)
}

func mergeCodeFile(path string, into map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read code table: %w", err)
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse code table %s: %w", path, err)
	}
	for code, name := range entries {
		into[code] = name
	}
	return nil
}

// Rarity returns the display name for a rarity code. Unknown codes come
// back unchanged so they still render.
func (n *Names) Rarity(code string) string {
	if name, ok := n.rarities[code]; ok {
		return name
	}
	return code
}

// Edition returns the display name for an edition code. Unknown codes
// come back unchanged.
func (n *Names) Edition(code string) string {
	if name, ok := n.editions[code]; ok {
		return name
	}
	return code
}

// RarityCode returns the tag code for a rarity display name, matched
// case-insensitively. Unknown names return "".
func (n *Names) RarityCode(name string) string {
	for code, display := range n.rarities {
		if strings.EqualFold(display, name) {
			return code
		}
	}
	return ""
}

// EditionCode returns the tag code for an edition display name, matched
// case-insensitively. Unknown names return "".
func (n *Names) EditionCode(name string) string {
	for code, display := range n.editions {
		if strings.EqualFold(display, name) {
			return code
		}
	}
	return ""
}
