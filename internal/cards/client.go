package cards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	apperrors "github.com/tagdeck/host/internal/errors"
)

// SearchMode selects how the query string is matched by the service.
type SearchMode string

const (
	// SearchFuzzy matches cards whose name contains the query.
	SearchFuzzy SearchMode = "fuzzy"

	// SearchExact matches the full card name.
	SearchExact SearchMode = "exact"

	// SearchID looks up a card by its numeric passcode.
	SearchID SearchMode = "id"
)

// userAgent identifies this host to the card database service.
const userAgent = "tagdeck/1.0 (+https://github.com/tagdeck/host)"

// ClientConfig holds configuration for the card database client.
type ClientConfig struct {
	// BaseURL is the API root (e.g. "https://db.ygoprodeck.com/api/v7").
	// Required.
	BaseURL string

	// HTTPClient is the underlying HTTP client.
	// Default: 15 second timeout.
	HTTPClient *http.Client

	// FetchConcurrency bounds parallel image downloads.
	// Default: 3.
	FetchConcurrency int

	// FetchRatePerSec limits request rate against the image host.
	// Default: 4.
	FetchRatePerSec float64
}

// Client queries a YGOPRODeck-compatible card database.
// Searches are one-shot and never auto-retried; image fetches go through
// a shared rate limiter, a bounded worker pool, and capped backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	fetchSem   chan struct{}

	// newBackOff builds the retry policy for one image fetch.
	// Swappable so tests don't sleep through real intervals.
	newBackOff func(ctx context.Context) backoff.BackOff
}

// NewClient creates a card database client with the given config.
func NewClient(config ClientConfig) *Client {
	// Apply defaults
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if config.FetchConcurrency == 0 {
		config.FetchConcurrency = 3
	}
	if config.FetchRatePerSec == 0 {
		config.FetchRatePerSec = 4
	}

	return &Client{
		baseURL:    config.BaseURL,
		httpClient: config.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(config.FetchRatePerSec), 1),
		fetchSem:   make(chan struct{}, config.FetchConcurrency),
		newBackOff: func(ctx context.Context) backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 5 * time.Second
			bo.MaxElapsedTime = 20 * time.Second
			return backoff.WithContext(bo, ctx)
		},
	}
}

// queryParam maps a search mode to the service's query parameter.
func queryParam(mode SearchMode) (string, error) {
	switch mode {
	case SearchFuzzy:
		return "fname", nil
	case SearchExact:
		return "name", nil
	case SearchID:
		return "id", nil
	default:
		return "", fmt.Errorf("unknown search mode %q", mode)
	}
}

// Search queries the card database. The query is NFC-normalized before
// dispatch so composed and decomposed spellings match the same cards.
//
// Zero matches is a successful empty result, not an error: the service
// reports "no cards found" with an error body and HTTP 400, and both
// shapes map to an empty slice here. Entries that do not parse as cards
// come back as UnparseableEntry values alongside the good ones.
//
// Searches are never retried automatically. The service bans callers
// that hammer it; on 429 the caller gets remote.rate_limited and should
// back off.
func (c *Client) Search(ctx context.Context, mode SearchMode, query string) ([]Card, []UnparseableEntry, error) {
	param, err := queryParam(mode)
	if err != nil {
		return nil, nil, err
	}

	values := url.Values{}
	values.Set(param, norm.NFC.String(query))
	reqURL := fmt.Sprintf("%s/cardinfo.php?%s", c.baseURL, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, apperrors.Network("card search", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, apperrors.Network("card search", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apperrors.Network("card search", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, apperrors.RateLimited()

	case resp.StatusCode == http.StatusBadRequest:
		// The service answers "no results" with 400 and an error body.
		// That's a successful empty search, not a failure.
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, nil, nil
		}
		return nil, nil, apperrors.MalformedResponse("status 400 without error body", nil)

	case resp.StatusCode != http.StatusOK:
		return nil, nil, apperrors.Network("card search",
			fmt.Errorf("service returned status %d", resp.StatusCode))
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		// A ban page is HTML served with 200. Report it as rate limiting
		// rather than a parse failure so the caller knows to stop.
		if isRateLimitPage(body) {
			return nil, nil, apperrors.RateLimited()
		}
		return nil, nil, apperrors.MalformedResponse("response is not JSON", err)
	}

	cards, skipped := parseCards(envelope.Data)
	return cards, skipped, nil
}

// isRateLimitPage detects the service's HTML ban page.
func isRateLimitPage(body []byte) bool {
	lower := bytes.ToLower(body)
	return bytes.Contains(lower, []byte("rate limit")) ||
		bytes.Contains(lower, []byte("banned"))
}
