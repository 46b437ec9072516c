package cards

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/tagdeck/host/internal/errors"
)

// TestSearcherDeliversResult verifies a background search hands its result
// to the callback.
func TestSearcherDeliversResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[` + darkMagicianJSON + `]}`))
	}))
	defer srv.Close()

	searcher := NewSearcher(NewClient(ClientConfig{BaseURL: srv.URL}))
	results := make(chan SearchResult, 1)
	searcher.Search(context.Background(), SearchFuzzy, "dark", func(res SearchResult) {
		results <- res
	})

	select {
	case res := <-results:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Mode != SearchFuzzy || res.Query != "dark" {
			t.Errorf("result misattributed: mode=%s query=%q", res.Mode, res.Query)
		}
		if len(res.Cards) != 1 || res.Cards[0].Name != "Dark Magician" {
			t.Errorf("unexpected cards: %+v", res.Cards)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for search result")
	}
}

// TestSearcherDeliversError verifies failures reach the callback rather
// than disappearing.
func TestSearcherDeliversError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	searcher := NewSearcher(NewClient(ClientConfig{BaseURL: srv.URL}))
	results := make(chan SearchResult, 1)
	searcher.Search(context.Background(), SearchFuzzy, "dark", func(res SearchResult) {
		results <- res
	})

	select {
	case res := <-results:
		if !apperrors.IsCode(res.Err, apperrors.CodeRemoteNetwork) {
			t.Errorf("expected %s, got %v", apperrors.CodeRemoteNetwork, res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for search result")
	}
}

// TestSearcherSupersedes verifies a newer search silently discards the
// still-running older one.
func TestSearcherSupersedes(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fname") == "slow" {
			<-release
		}
		w.Write([]byte(`{"data":[` + darkMagicianJSON + `]}`))
	}))
	defer srv.Close()
	defer close(release)

	searcher := NewSearcher(NewClient(ClientConfig{BaseURL: srv.URL}))

	first := make(chan SearchResult, 1)
	second := make(chan SearchResult, 1)
	searcher.Search(context.Background(), SearchFuzzy, "slow", func(res SearchResult) {
		first <- res
	})
	searcher.Search(context.Background(), SearchFuzzy, "fast", func(res SearchResult) {
		second <- res
	})

	select {
	case res := <-second:
		if res.Err != nil {
			t.Fatalf("newer search failed: %v", res.Err)
		}
		if res.Query != "fast" {
			t.Errorf("expected the newer query, got %q", res.Query)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the newer search")
	}

	select {
	case res := <-first:
		t.Errorf("superseded search delivered a result: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestSearcherCancel verifies Cancel suppresses delivery of the running search.
func TestSearcherCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()
	defer close(release)

	searcher := NewSearcher(NewClient(ClientConfig{BaseURL: srv.URL}))
	results := make(chan SearchResult, 1)
	searcher.Search(context.Background(), SearchFuzzy, "dark", func(res SearchResult) {
		results <- res
	})
	searcher.Cancel()

	select {
	case res := <-results:
		t.Errorf("canceled search delivered a result: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestSearcherSequential verifies back-to-back searches each deliver when
// the previous one already finished.
func TestSearcherSequential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[` + darkMagicianJSON + `]}`))
	}))
	defer srv.Close()

	searcher := NewSearcher(NewClient(ClientConfig{BaseURL: srv.URL}))
	for _, query := range []string{"first", "second", "third"} {
		results := make(chan SearchResult, 1)
		searcher.Search(context.Background(), SearchFuzzy, query, func(res SearchResult) {
			results <- res
		})
		select {
		case res := <-results:
			if res.Err != nil {
				t.Fatalf("search %q failed: %v", query, res.Err)
			}
			if res.Query != query {
				t.Errorf("expected query %q, got %q", query, res.Query)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for search %q", query)
		}
	}
}
