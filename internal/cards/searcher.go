package cards

import (
	"context"
	"log"
	"sync"
)

// SearchResult is one completed search delivered by the Searcher.
type SearchResult struct {
	Mode    SearchMode
	Query   string
	Cards   []Card
	Skipped []UnparseableEntry
	Err     error
}

// Searcher runs remote searches on background goroutines and suppresses
// stale results: starting a new search cancels the in-flight one, and a
// result whose search has been superseded is discarded instead of
// delivered. Callers therefore only ever see the latest query's outcome.
type Searcher struct {
	client *Client

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// NewSearcher creates a searcher on top of the given client.
func NewSearcher(client *Client) *Searcher {
	return &Searcher{client: client}
}

// Search starts a background search and delivers the outcome to the
// deliver callback, unless a newer Search call supersedes this one
// first. The callback runs on the search goroutine; deliver must not
// block for long.
func (s *Searcher) Search(ctx context.Context, mode SearchMode, query string, deliver func(SearchResult)) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancel != nil {
		s.cancel()
	}
	searchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()

		cards, skipped, err := s.client.Search(searchCtx, mode, query)

		s.mu.Lock()
		stale := gen != s.generation
		s.mu.Unlock()

		if stale {
			log.Printf("cards: discarding stale result for query %q", query)
			return
		}

		deliver(SearchResult{
			Mode:    mode,
			Query:   query,
			Cards:   cards,
			Skipped: skipped,
			Err:     err,
		})
	}()
}

// Cancel stops the in-flight search, if any. Its result is discarded.
func (s *Searcher) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
