package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tagdeck/host/internal/cards"
	apperrors "github.com/tagdeck/host/internal/errors"
	"github.com/tagdeck/host/internal/storage"
)

// searchTimeout bounds one remote lookup. The card database normally
// answers in well under a second; anything slower is a stuck request.
const searchTimeout = 15 * time.Second

// parseSearchMode maps a wire mode string to a card client search mode.
func parseSearchMode(mode string) (cards.SearchMode, bool) {
	switch mode {
	case "", "fuzzy":
		return cards.SearchFuzzy, true
	case "exact":
		return cards.SearchExact, true
	case "id":
		return cards.SearchID, true
	}
	return "", false
}

// cardPayloadFromRecord converts a cached record for the wire.
func cardPayloadFromRecord(rec *storage.CardRecord) CardPayload {
	return CardPayload{
		ID:   rec.ID,
		Name: rec.Name,
		Data: json.RawMessage(rec.Data),
	}
}

// cardPayloadFromRemote converts a remote card for the wire.
func cardPayloadFromRemote(card *cards.Card) CardPayload {
	return CardPayload{
		ID:   card.ID,
		Name: card.Name,
		Data: card.Raw,
	}
}

// recordFromRemote converts a remote card for the cache. The raw API
// document is stored verbatim.
func recordFromRemote(card *cards.Card) *storage.CardRecord {
	return &storage.CardRecord{
		ID:        card.ID,
		Name:      card.Name,
		Data:      string(card.Raw),
		FetchedAt: time.Now(),
	}
}

// beginSearch cancels any in-flight search for this client and registers
// a new one, returning its context and sequence number. Only the search
// holding the newest sequence number may deliver results.
func (c *Client) beginSearch() (context.Context, context.CancelFunc, int) {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()

	if c.searchCancel != nil {
		c.searchCancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	c.searchCancel = cancel
	c.searchSeq++
	return ctx, cancel, c.searchSeq
}

// searchStillCurrent reports whether seq is still the newest search.
func (c *Client) searchStillCurrent(seq int) bool {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()
	return c.searchSeq == seq
}

// cancelSearch aborts the in-flight search, if any, and invalidates its
// sequence number so a result already computed is never delivered.
func (c *Client) cancelSearch() {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()

	if c.searchCancel != nil {
		c.searchCancel()
		c.searchCancel = nil
	}
	c.searchSeq++
}

// handleSearchRequest processes a search.request message. Local searches
// run against the cache inline; remote searches run in a goroutine so a
// slow card database never stalls this client's read loop. A newer
// request supersedes an older one and the stale result is dropped.
func (c *Client) handleSearchRequest(data []byte) {
	var msg struct {
		Type    MessageType          `json:"type"`
		ID      string               `json:"id,omitempty"`
		Payload SearchRequestPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("server: failed to parse search.request payload: %v", err)
		c.replyError("", apperrors.CodeServerInvalidMessage, "invalid message format")
		return
	}

	query := strings.TrimSpace(msg.Payload.Query)
	if query == "" {
		c.replyError(msg.ID, apperrors.CodeServerInvalidMessage, "query is required")
		return
	}

	mode, ok := parseSearchMode(msg.Payload.Mode)
	if !ok {
		c.replyError(msg.ID, apperrors.CodeServerInvalidMessage,
			"unknown search mode: "+msg.Payload.Mode)
		return
	}

	c.server.mu.RLock()
	store := c.server.store
	searcher := c.server.searcher
	c.server.mu.RUnlock()

	if msg.Payload.Local {
		// A local search also supersedes an older remote one, so the
		// companion never sees remote results land after cache results.
		c.cancelSearch()
		c.searchLocal(msg.ID, store, mode, query)
		return
	}

	if searcher == nil {
		c.replyError(msg.ID, apperrors.CodeServerHandlerMissing, "remote search not configured")
		return
	}

	if !c.searchLimiter.Allow() {
		log.Printf("server: search rate limit exceeded for client %s", c.deviceID)
		c.replyError(msg.ID, apperrors.CodeRemoteRateLimited,
			"search requests are arriving too fast - wait before retrying")
		return
	}

	ctx, cancel, seq := c.beginSearch()
	go func() {
		defer cancel()

		found, skipped, err := searcher.Search(ctx, mode, query)

		// A newer request may have superseded this one while the remote
		// call was in flight; its outcome, success or failure, is stale.
		if !c.searchStillCurrent(seq) {
			log.Printf("server: dropping stale search results for %q", query)
			return
		}

		if err != nil {
			code, message := apperrors.ToCodeAndMessage(err)
			c.replyError(msg.ID, code, message)
			return
		}

		payloads := make([]CardPayload, 0, len(found))
		for i := range found {
			payloads = append(payloads, cardPayloadFromRemote(&found[i]))
			if store != nil {
				if err := store.UpsertCard(recordFromRemote(&found[i])); err != nil {
					log.Printf("server: caching search result %d failed: %v", found[i].ID, err)
				}
			}
		}
		for _, entry := range skipped {
			log.Printf("server: skipping unparseable search entry: %s", entry.Reason)
		}

		c.reply(NewSearchResultsMessage(msg.ID, SearchResultsPayload{
			Query:   query,
			Cards:   payloads,
			Skipped: len(skipped),
		}))
	}()
}

// searchLocal answers a search from the cache alone.
func (c *Client) searchLocal(id string, store CardStore, mode cards.SearchMode, query string) {
	if store == nil {
		c.replyError(id, apperrors.CodeServerHandlerMissing, "card cache not configured")
		return
	}

	var recs []*storage.CardRecord

	switch mode {
	case cards.SearchID:
		cardID, err := strconv.ParseInt(query, 10, 64)
		if err != nil {
			c.replyError(id, apperrors.CodeServerInvalidMessage, "id query must be numeric")
			return
		}
		rec, err := store.GetCard(cardID)
		if err != nil {
			c.replyError(id, apperrors.CodeStorageQueryFailed, err.Error())
			return
		}
		if rec != nil {
			recs = append(recs, rec)
		}

	default:
		var err error
		recs, err = store.SearchCardsByName(query)
		if err != nil {
			c.replyError(id, apperrors.CodeStorageQueryFailed, err.Error())
			return
		}
		if mode == cards.SearchExact {
			exact := recs[:0]
			for _, rec := range recs {
				if strings.EqualFold(rec.Name, query) {
					exact = append(exact, rec)
				}
			}
			recs = exact
		}
	}

	payloads := make([]CardPayload, 0, len(recs))
	for _, rec := range recs {
		payloads = append(payloads, cardPayloadFromRecord(rec))
	}

	c.reply(NewSearchResultsMessage(id, SearchResultsPayload{
		Query: query,
		Cards: payloads,
	}))
}

// handleCardRequest processes a card.request message: cache first, then
// the remote database, warming the cache on a remote hit.
func (c *Client) handleCardRequest(data []byte) {
	var msg struct {
		Type    MessageType        `json:"type"`
		ID      string             `json:"id,omitempty"`
		Payload CardRequestPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("server: failed to parse card.request payload: %v", err)
		c.replyError("", apperrors.CodeServerInvalidMessage, "invalid message format")
		return
	}

	cardID := msg.Payload.ID
	if cardID <= 0 {
		c.replyError(msg.ID, apperrors.CodeServerInvalidMessage, "id must be a positive card identifier")
		return
	}

	c.server.mu.RLock()
	store := c.server.store
	searcher := c.server.searcher
	c.server.mu.RUnlock()

	if store == nil && searcher == nil {
		c.replyError(msg.ID, apperrors.CodeServerHandlerMissing, "card lookup not configured")
		return
	}

	if store != nil {
		rec, err := store.GetCard(cardID)
		if err != nil {
			c.replyError(msg.ID, apperrors.CodeStorageQueryFailed, err.Error())
			return
		}
		if rec != nil {
			c.reply(NewCardDetailMessage(msg.ID, cardPayloadFromRecord(rec), "cache"))
			return
		}
	}

	if searcher == nil {
		c.replyError(msg.ID, apperrors.CodeCardsNotFound,
			fmt.Sprintf("card %d not found", cardID))
		return
	}

	if !c.searchLimiter.Allow() {
		log.Printf("server: card lookup rate limit exceeded for client %s", c.deviceID)
		c.replyError(msg.ID, apperrors.CodeRemoteRateLimited,
			"card lookups are arriving too fast - wait before retrying")
		return
	}

	// Cache miss. Card requests are id-correlated and independent, so
	// unlike searches they never supersede each other.
	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	go func() {
		defer cancel()

		found, _, err := searcher.Search(ctx, cards.SearchID, strconv.FormatInt(cardID, 10))
		if err != nil {
			code, message := apperrors.ToCodeAndMessage(err)
			c.replyError(msg.ID, code, message)
			return
		}
		if len(found) == 0 {
			c.replyError(msg.ID, apperrors.CodeCardsNotFound,
				fmt.Sprintf("card %d not found", cardID))
			return
		}

		card := &found[0]
		if store != nil {
			if err := store.UpsertCard(recordFromRemote(card)); err != nil {
				log.Printf("server: caching card %d failed: %v", card.ID, err)
			}
		}
		c.reply(NewCardDetailMessage(msg.ID, cardPayloadFromRemote(card), "remote"))
	}()
}
