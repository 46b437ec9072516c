// Package errors provides standardized error codes for the tagdeck host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (remote, storage, codec, device, auth, server)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by companion clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that companion clients can rely on for error handling.
const (
	// Remote domain - card database API errors
	CodeRemoteNetwork     = "remote.network"            // Request failed before a usable response arrived
	CodeRemoteRateLimited = "remote.rate_limited"       // Service throttled or banned the caller
	CodeRemoteMalformed   = "remote.malformed_response" // Response did not match the expected shape

	// Storage domain - database and filesystem persistence errors
	CodeStorageUnavailable = "storage.unavailable"  // Database or image directory cannot be used
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to persist data

	// Codec domain - on-tag payload encoding/decoding errors
	CodeCodecCapacityExceeded   = "codec.capacity_exceeded"   // Encoded payload does not fit the tag
	CodeCodecUnrecognizedFormat = "codec.unrecognized_format" // Unknown magic or format version
	CodeCodecCorrupt            = "codec.corrupt"             // Recognized format with unparseable fields

	// Device domain - reader and tag session errors
	CodeDeviceNotReady    = "device.not_ready"    // No tag present (or no reader) for the operation
	CodeDeviceReadFailed  = "device.read_failed"  // Tag read transaction failed
	CodeDeviceWriteFailed = "device.write_failed" // Tag write transaction failed or did not verify
	CodeDeviceAbsent      = "device.absent"       // No reader attached

	// Codes domain - passcode map import errors
	CodeCodesParseFailed = "codes.parse_failed" // Mapping file line did not parse

	// Cards domain - card lookup outcomes
	CodeCardsNotFound = "cards.not_found" // Card is in neither the cache nor the remote database

	// Auth domain - companion authentication and pairing
	CodeAuthRequired      = "auth.required"       // Authentication required
	CodeAuthInvalid       = "auth.invalid"        // Invalid token or credentials
	CodeAuthExpired       = "auth.expired"        // Pairing code or token expired
	CodeAuthDeviceRevoked = "auth.device_revoked" // Device has been revoked
	CodeAuthRateLimited   = "auth.rate_limited"   // Too many pairing attempts
	CodeAuthForbidden     = "auth.forbidden"      // Endpoint restricted to local access

	// Server domain - WebSocket and network errors
	CodeServerUpgradeFailed  = "server.upgrade_failed"  // WebSocket upgrade failed
	CodeServerInvalidMessage = "server.invalid_message" // Malformed or invalid message
	CodeServerHandlerMissing = "server.handler_missing" // No handler for message type
	CodeServerSendFailed     = "server.send_failed"     // Failed to send message
	CodeServerConnectionLost = "server.connection_lost" // Connection unexpectedly closed

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "device.not_ready")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// Network creates a "remote.network" error for a failed request.
func Network(operation string, cause error) *CodedError {
	return Wrap(CodeRemoteNetwork, fmt.Sprintf("%s failed", operation), cause)
}

// RateLimited creates a "remote.rate_limited" error.
// The remote service enforces anonymous rate limits and bans repeat
// offenders, so callers should back off rather than retry.
func RateLimited() *CodedError {
	return New(CodeRemoteRateLimited, "remote service throttled the request - wait before retrying")
}

// MalformedResponse creates a "remote.malformed_response" error.
func MalformedResponse(reason string, cause error) *CodedError {
	return Wrap(CodeRemoteMalformed, fmt.Sprintf("unexpected response shape: %s", reason), cause)
}

// StorageUnavailable creates a "storage.unavailable" error.
// This covers open failures, permission problems, and full disks - anything
// that makes the local store unusable rather than a single query failing.
func StorageUnavailable(what string, cause error) *CodedError {
	return Wrap(CodeStorageUnavailable, fmt.Sprintf("%s is unavailable", what), cause)
}

// CapacityExceeded creates a "codec.capacity_exceeded" error.
// The encoder never truncates; an oversized payload is always an error.
func CapacityExceeded(size, capacity int) *CodedError {
	msg := fmt.Sprintf("encoded payload is %d bytes but the tag holds %d", size, capacity)
	return New(CodeCodecCapacityExceeded, msg)
}

// UnrecognizedFormat creates a "codec.unrecognized_format" error.
// Raised when the header magic or version is unknown, so future formats
// are rejected cleanly instead of misparsed.
func UnrecognizedFormat(detail string) *CodedError {
	return New(CodeCodecUnrecognizedFormat, fmt.Sprintf("unrecognized tag format: %s", detail))
}

// Corrupt creates a "codec.corrupt" error for a recognized format whose
// fields do not parse.
func Corrupt(reason string) *CodedError {
	return New(CodeCodecCorrupt, fmt.Sprintf("corrupt tag payload: %s", reason))
}

// NotReady creates a "device.not_ready" error.
// Tag operations are only valid while a tag is present; in any other state
// they fail immediately instead of blocking.
func NotReady(state string) *CodedError {
	return New(CodeDeviceNotReady, fmt.Sprintf("no tag present (reader state: %s)", state))
}

// ReadFailed creates a "device.read_failed" error.
func ReadFailed(cause error) *CodedError {
	return Wrap(CodeDeviceReadFailed, "tag read failed", cause)
}

// WriteFailed creates a "device.write_failed" error.
// A write that fails part-way reports this error; it is never reported
// as success, and the tag contents should be treated as unknown.
func WriteFailed(reason string, cause error) *CodedError {
	return Wrap(CodeDeviceWriteFailed, fmt.Sprintf("tag write failed: %s", reason), cause)
}

// DeviceAbsent creates a "device.absent" error.
func DeviceAbsent() *CodedError {
	return New(CodeDeviceAbsent, "no smartcard reader attached")
}

// CardNotFound creates a "cards.not_found" error.
func CardNotFound(id int64) *CodedError {
	return New(CodeCardsNotFound, fmt.Sprintf("card %d not found", id))
}

// InvalidMessage creates a "server.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
