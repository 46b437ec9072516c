// Package cards talks to a YGOPRODeck-compatible card database: searching
// for cards, parsing the API's documents, and fetching artwork. Results
// carry the raw API document verbatim so the cache can store exactly what
// the service returned.
package cards

import (
	"encoding/json"
	"fmt"
)

// Card is one card as returned by the remote database. ID is the numeric
// passcode printed on the physical card. Atk, Def and Level are pointers
// because spells and traps have no such stats; absent is not zero.
type Card struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	FrameType string      `json:"frameType"`
	Desc      string      `json:"desc"`
	Atk       *int        `json:"atk"`
	Def       *int        `json:"def"`
	Level     *int        `json:"level"`
	Race      string      `json:"race"`
	Attribute string      `json:"attribute"`
	Sets      []CardSet   `json:"card_sets"`
	Images    []CardImage `json:"card_images"`

	// Raw is the API document for this card, byte for byte.
	Raw json.RawMessage `json:"-"`
}

// CardSet is one printing of a card.
type CardSet struct {
	Name       string `json:"set_name"`
	Code       string `json:"set_code"`
	Rarity     string `json:"set_rarity"`
	RarityCode string `json:"set_rarity_code"`
}

// CardImage is one artwork entry with the URLs the service hosts.
type CardImage struct {
	ID         int64  `json:"id"`
	URL        string `json:"image_url"`
	SmallURL   string `json:"image_url_small"`
	CroppedURL string `json:"image_url_cropped"`
}

// UnparseableEntry is a response entry that could not be turned into a
// Card. The raw bytes are kept so the caller can log or surface them;
// one bad entry never discards the well-formed remainder.
type UnparseableEntry struct {
	Raw    json.RawMessage
	Reason string
}

// SmallImageURL returns the small artwork URL of the first image entry,
// or empty when the card carries no images.
func (c *Card) SmallImageURL() string {
	if len(c.Images) == 0 {
		return ""
	}
	return c.Images[0].SmallURL
}

// CroppedImageURL returns the cropped artwork URL of the first image
// entry, or empty when the card carries no images.
func (c *Card) CroppedImageURL() string {
	if len(c.Images) == 0 {
		return ""
	}
	return c.Images[0].CroppedURL
}

// parseCards splits raw response entries into cards and unparseable
// leftovers. An entry must decode as an object with a positive id and a
// non-empty name to count as a card.
func parseCards(entries []json.RawMessage) ([]Card, []UnparseableEntry) {
	var cards []Card
	var skipped []UnparseableEntry

	for _, raw := range entries {
		var card Card
		if err := json.Unmarshal(raw, &card); err != nil {
			skipped = append(skipped, UnparseableEntry{
				Raw:    raw,
				Reason: fmt.Sprintf("not a card object: %v", err),
			})
			continue
		}

		if card.ID <= 0 {
			skipped = append(skipped, UnparseableEntry{
				Raw:    raw,
				Reason: "missing or invalid id",
			})
			continue
		}
		if card.Name == "" {
			skipped = append(skipped, UnparseableEntry{
				Raw:    raw,
				Reason: "missing name",
			})
			continue
		}

		card.Raw = raw
		cards = append(cards, card)
	}

	return cards, skipped
}
