package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tagdeck/host/internal/auth"
	apperrors "github.com/tagdeck/host/internal/errors"
)

// StatusResponse is the JSON body served on /status.
type StatusResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Clients       int    `json:"clients"`
	ReaderState   string `json:"reader_state"`
	TagPresent    bool   `json:"tag_present"`
	Addr          string `json:"addr"`
}

// TagQueryResponse is the JSON body served on /api/tag.
type TagQueryResponse struct {
	State string             `json:"state"`
	Tag   *TagPresentPayload `json:"tag,omitempty"`
}

// WriteRequest is the JSON body accepted by /api/write.
type WriteRequest struct {
	// Passcode is the numeric card passcode to encode onto the tag.
	Passcode string `json:"passcode"`

	// WithName includes the card name fragment (version 2 frames).
	WithName bool `json:"with_name"`
}

// apiErrorResponse mirrors the pairing endpoints' error shape so CLI and
// companion code parse one format everywhere.
type apiErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// shortCode derives the short error name from a dotted taxonomy code.
func shortCode(code string) string {
	if i := strings.IndexByte(code, '.'); i >= 0 {
		return code[i+1:]
	}
	return code
}

// writeAPIError sends a JSON error response with short and taxonomy codes.
func writeAPIError(w http.ResponseWriter, status int, taxonomyCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Error:     shortCode(taxonomyCode),
		ErrorCode: taxonomyCode,
		Message:   message,
	})
}

// writeAPIJSON sends a JSON success response.
func writeAPIJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

// statusForCode maps a taxonomy code to an HTTP status.
func statusForCode(code string) int {
	switch code {
	case apperrors.CodeServerInvalidMessage:
		return http.StatusBadRequest
	case apperrors.CodeCardsNotFound:
		return http.StatusNotFound
	case apperrors.CodeDeviceNotReady:
		return http.StatusConflict
	case apperrors.CodeDeviceAbsent, apperrors.CodeServerHandlerMissing:
		return http.StatusServiceUnavailable
	case apperrors.CodeCodecCapacityExceeded,
		apperrors.CodeCodecUnrecognizedFormat,
		apperrors.CodeCodecCorrupt:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// handleStatus serves GET /status with host info for the CLI and
// companions.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed,
			apperrors.CodeServerInvalidMessage, "Only GET is allowed")
		return
	}

	s.mu.RLock()
	version := s.version
	startedAt := s.startedAt
	state := s.lastState
	tagPresent := s.lastTag != nil
	clients := len(s.clients)
	s.mu.RUnlock()

	writeAPIJSON(w, StatusResponse{
		Version:       version,
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		Clients:       clients,
		ReaderState:   state,
		TagPresent:    tagPresent,
		Addr:          s.addr,
	})
}

// handleTagQuery serves GET /api/tag: the current reader state and, when
// one is present, the hydrated tag. Loopback only; this is the CLI's
// window onto the reader.
func (s *Server) handleTagQuery(w http.ResponseWriter, r *http.Request) {
	if !auth.IsLoopbackRequest(r) {
		log.Printf("server: rejected /api/tag from non-loopback address: %s", r.RemoteAddr)
		writeAPIError(w, http.StatusForbidden,
			apperrors.CodeAuthForbidden, "Tag queries are only available from localhost")
		return
	}
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed,
			apperrors.CodeServerInvalidMessage, "Only GET is allowed")
		return
	}

	writeAPIJSON(w, TagQueryResponse{
		State: s.ReaderState(),
		Tag:   s.CurrentTag(),
	})
}

// handleWriteRequest serves POST /api/write: encode a card onto the tag
// currently on the reader. Loopback only. The write itself is delegated
// to the configured TagWriteHandler; on success the result is broadcast
// to companions as card.written.
func (s *Server) handleWriteRequest(w http.ResponseWriter, r *http.Request) {
	if !auth.IsLoopbackRequest(r) {
		log.Printf("server: rejected /api/write from non-loopback address: %s", r.RemoteAddr)
		writeAPIError(w, http.StatusForbidden,
			apperrors.CodeAuthForbidden, "Tag writes are only available from localhost")
		return
	}
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed,
			apperrors.CodeServerInvalidMessage, "Only POST is allowed")
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest,
			apperrors.CodeServerInvalidMessage, "Invalid JSON body")
		return
	}

	req.Passcode = strings.TrimSpace(req.Passcode)
	if req.Passcode == "" {
		writeAPIError(w, http.StatusBadRequest,
			apperrors.CodeServerInvalidMessage, "passcode is required")
		return
	}

	s.mu.RLock()
	tagWriter := s.tagWriter
	s.mu.RUnlock()

	if tagWriter == nil {
		writeAPIError(w, http.StatusServiceUnavailable,
			apperrors.CodeServerHandlerMissing, "tag writes not configured")
		return
	}

	result, err := tagWriter(req.Passcode, req.WithName)
	if err != nil {
		code, message := apperrors.ToCodeAndMessage(err)
		log.Printf("server: tag write failed: %s: %s", code, message)
		writeAPIError(w, statusForCode(code), code, message)
		return
	}

	log.Printf("server: wrote card %s to tag %s", result.Passcode, result.UID)
	s.BroadcastCardWritten(result)
	writeAPIJSON(w, result)
}
