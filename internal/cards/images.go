package cards

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/tagdeck/host/internal/errors"
)

// FetchImage downloads one artwork file. Calls share the client's rate
// limiter and bounded fetch pool, so any number of goroutines can request
// images without flooding the host. Transient failures (network errors,
// 429, 5xx) are retried with capped exponential backoff; other HTTP
// errors fail immediately.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	// Enter the fetch pool before spending limiter tokens
	select {
	case c.fetchSem <- struct{}{}:
		defer func() { <-c.fetchSem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var data []byte
	var lastStatus int

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		lastStatus = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusOK:
			data, err = io.ReadAll(resp.Body)
			return err

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("image host returned status %d", resp.StatusCode)

		default:
			return backoff.Permanent(fmt.Errorf("image host returned status %d", resp.StatusCode))
		}
	}

	if err := backoff.Retry(operation, c.newBackOff(ctx)); err != nil {
		log.Printf("cards: image fetch failed for %s: %v", imageURL, err)
		if lastStatus == http.StatusTooManyRequests {
			return nil, apperrors.RateLimited()
		}
		return nil, apperrors.Network("image fetch", err)
	}

	return data, nil
}
