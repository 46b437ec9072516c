// Package server provides the WebSocket feed for companion devices.
// It broadcasts reader and tag events to every connected companion and
// answers search and card lookups over the same connection.
package server

import (
	"encoding/json"
)

// MessageType identifies the kind of message on the wire.
// Each type has a specific payload structure defined below.
type MessageType string

const (
	// MessageTypeReaderStatus reports the reader state machine.
	// Sent on connect and on every transition.
	// Payload: ReaderStatusPayload
	MessageTypeReaderStatus MessageType = "reader.status"

	// MessageTypeTagPresent reports a tag landing on the reader, with
	// whatever could be decoded and hydrated from the local cache.
	// Sent on connect when a tag is already present.
	// Payload: TagPresentPayload
	MessageTypeTagPresent MessageType = "tag.present"

	// MessageTypeTagRemoved reports the tag leaving the reader.
	// Payload: none (empty object)
	MessageTypeTagRemoved MessageType = "tag.removed"

	// MessageTypeCardWritten reports a completed, verified tag write.
	// Payload: CardWrittenPayload
	MessageTypeCardWritten MessageType = "card.written"

	// MessageTypeSearchRequest is sent by companions to search the card
	// database. A newer request from the same feed supersedes an
	// in-flight one; the stale result is never delivered.
	// Payload: SearchRequestPayload
	MessageTypeSearchRequest MessageType = "search.request"

	// MessageTypeSearchResults answers a search.request, correlated by
	// message ID.
	// Payload: SearchResultsPayload
	MessageTypeSearchResults MessageType = "search.results"

	// MessageTypeCardRequest is sent by companions to fetch one card by
	// its passcode, cache first.
	// Payload: CardRequestPayload
	MessageTypeCardRequest MessageType = "card.request"

	// MessageTypeCardDetail answers a card.request.
	// Payload: CardDetailPayload
	MessageTypeCardDetail MessageType = "card.detail"

	// MessageTypeError reports a failure, correlated by message ID when
	// it answers a request.
	// Payload: ErrorPayload
	MessageTypeError MessageType = "error"

	// MessageTypeHeartbeat keeps the connection alive. The server
	// echoes a companion's heartbeat with the same ID.
	// Payload: none (empty object)
	MessageTypeHeartbeat MessageType = "heartbeat"
)

// Message is the envelope for all WebSocket traffic.
type Message struct {
	// Type identifies what kind of message this is.
	Type MessageType `json:"type"`

	// ID is an optional message identifier for correlation.
	// Companions use it to match responses to requests.
	ID string `json:"id,omitempty"`

	// Payload contains the message-specific data.
	// The structure depends on the Type field.
	Payload interface{} `json:"payload"`
}

// ReaderStatusPayload carries the reader state.
type ReaderStatusPayload struct {
	// State is "disconnected", "idle", or "tag_present".
	State string `json:"state"`
}

// TagIdentityPayload is the identity decoded from a tag's frame.
type TagIdentityPayload struct {
	// Version is the frame format version found on the tag.
	Version int `json:"version"`

	Passcode string `json:"passcode,omitempty"`
	KonamiID string `json:"konami_id,omitempty"`
	Variant  string `json:"variant,omitempty"`
	SetCode  string `json:"set_code,omitempty"`
	Language string `json:"language,omitempty"`
	Number   string `json:"number,omitempty"`
	Rarity   string `json:"rarity,omitempty"`
	Edition  string `json:"edition,omitempty"`

	// Name is the on-tag name fragment, version 2 frames only.
	Name string `json:"name,omitempty"`
}

// CardPayload is one card as companions see it. Data is the raw card
// database document, so companions get artwork URLs and full card text
// without another round trip.
type CardPayload struct {
	ID   int64           `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TagPresentPayload carries everything known about the tag on the
// reader. Identity is nil when the tag's contents do not decode;
// DecodeError then says why. Card is nil when the identity is not in
// the local cache.
type TagPresentPayload struct {
	UID         string              `json:"uid"`
	Identity    *TagIdentityPayload `json:"identity,omitempty"`
	Card        *CardPayload        `json:"card,omitempty"`
	DecodeError string              `json:"decode_error,omitempty"`
}

// CardWrittenPayload reports a verified write.
type CardWrittenPayload struct {
	UID      string `json:"uid"`
	Passcode string `json:"passcode"`
	Name     string `json:"name,omitempty"`
	Version  int    `json:"version"`
}

// SearchRequestPayload asks for a card search.
type SearchRequestPayload struct {
	// Mode is "fuzzy" (default), "exact", or "id".
	Mode string `json:"mode,omitempty"`

	// Query is the search text.
	Query string `json:"query"`

	// Local restricts the search to the on-host cache.
	Local bool `json:"local,omitempty"`
}

// SearchResultsPayload answers a search.
type SearchResultsPayload struct {
	Query string `json:"query"`

	// Cards holds the matches; empty means the search succeeded and
	// found nothing.
	Cards []CardPayload `json:"cards"`

	// Skipped counts result entries the card database returned in a
	// shape that did not parse as a card.
	Skipped int `json:"skipped,omitempty"`
}

// CardRequestPayload asks for one card by passcode.
type CardRequestPayload struct {
	ID int64 `json:"id"`
}

// CardDetailPayload answers a card.request.
type CardDetailPayload struct {
	Card CardPayload `json:"card"`

	// Source is "cache" or "remote".
	Source string `json:"source"`
}

// ErrorPayload reports a failure with a stable dotted code.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewReaderStatusMessage creates a reader.status message.
func NewReaderStatusMessage(state string) Message {
	return Message{
		Type:    MessageTypeReaderStatus,
		Payload: ReaderStatusPayload{State: state},
	}
}

// NewTagPresentMessage creates a tag.present message.
func NewTagPresentMessage(payload TagPresentPayload) Message {
	return Message{
		Type:    MessageTypeTagPresent,
		Payload: payload,
	}
}

// NewTagRemovedMessage creates a tag.removed message.
func NewTagRemovedMessage() Message {
	return Message{
		Type:    MessageTypeTagRemoved,
		Payload: struct{}{},
	}
}

// NewCardWrittenMessage creates a card.written message.
func NewCardWrittenMessage(payload CardWrittenPayload) Message {
	return Message{
		Type:    MessageTypeCardWritten,
		Payload: payload,
	}
}

// NewSearchResultsMessage creates a search.results message answering the
// request with the given ID.
func NewSearchResultsMessage(id string, payload SearchResultsPayload) Message {
	return Message{
		Type:    MessageTypeSearchResults,
		ID:      id,
		Payload: payload,
	}
}

// NewCardDetailMessage creates a card.detail message answering the
// request with the given ID.
func NewCardDetailMessage(id string, card CardPayload, source string) Message {
	return Message{
		Type:    MessageTypeCardDetail,
		ID:      id,
		Payload: CardDetailPayload{Card: card, Source: source},
	}
}

// NewErrorMessage creates an error message. id correlates it to the
// request it answers; empty for unsolicited errors.
func NewErrorMessage(id, code, message string) Message {
	return Message{
		Type:    MessageTypeError,
		ID:      id,
		Payload: ErrorPayload{Code: code, Message: message},
	}
}

// NewHeartbeatMessage creates a heartbeat message.
func NewHeartbeatMessage(id string) Message {
	return Message{
		Type:    MessageTypeHeartbeat,
		ID:      id,
		Payload: struct{}{},
	}
}
