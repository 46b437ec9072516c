package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tagdeck/host/internal/server"
)

// hostClient is the HTTP client used for all daemon queries. The short
// timeout keeps CLI commands snappy when no daemon is running.
var hostClient = &http.Client{Timeout: 2 * time.Second}

// hostAPIError mirrors the daemon's JSON error body.
type hostAPIError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// decodeHostError turns a non-OK daemon response into a readable error.
func decodeHostError(resp *http.Response) error {
	var body hostAPIError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Message == "" {
		return fmt.Errorf("host returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s (%s)", body.Message, body.ErrorCode)
}

// queryHostStatus queries the running daemon for status information.
func queryHostStatus(addr string) (*server.StatusResponse, error) {
	resp, err := hostClient.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return nil, fmt.Errorf("host is not running at %s (or not reachable)", addr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var status server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &status, nil
}

// queryTag asks the running daemon for the reader state and the
// currently presented tag, if any.
func queryTag(addr string) (*server.TagQueryResponse, error) {
	resp, err := hostClient.Get(fmt.Sprintf("http://%s/api/tag", addr))
	if err != nil {
		return nil, fmt.Errorf("host is not running at %s (or not reachable)", addr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeHostError(resp)
	}

	var tag server.TagQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&tag); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &tag, nil
}

// postWrite asks the running daemon to encode and write a card onto the
// presented tag. The daemon serializes the write against its own polling.
func postWrite(addr string, req server.WriteRequest) (*server.CardWrittenPayload, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	// Writes can take several poll cycles on a slow reader, so allow
	// more time than the default probe client.
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/api/write", addr), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("host is not running at %s (or not reachable)", addr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeHostError(resp)
	}

	var result server.CardWrittenPayload
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// waitForTag polls the daemon until a tag is on the reader or the
// timeout passes. The nil error cases always carry a tag.
func waitForTag(addr string, timeout time.Duration) (*server.TagQueryResponse, error) {
	deadline := time.Now().Add(timeout)
	for {
		tag, err := queryTag(addr)
		if err != nil {
			return nil, err
		}
		if tag.Tag != nil {
			return tag, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no tag appeared within %s (reader state: %s)", timeout, tag.State)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// formatUptime formats an uptime in seconds as a human-readable string.
// Examples: "45s", "5m 23s", "2h 15m", "3d 4h"
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
