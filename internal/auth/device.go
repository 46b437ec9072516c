// Package auth provides authentication and device management for the host.
// It handles pairing codes, device tokens, and access control for companion
// WebSocket connections.
//
// The pairing flow works as follows:
// 1. User runs `tagdeck pair` to generate a 6-digit code (valid for 5 minutes)
// 2. Companion app enters the code (or scans the QR payload) and POSTs to /pair
// 3. Host validates the code, generates a device token, and stores the device
// 4. Companion app uses the token for all subsequent WebSocket connections
//
// Security considerations:
// - Pairing codes are short-lived (5 minute expiry)
// - Codes can only be used once (replay prevention)
// - Rate limiting prevents brute force attacks (max 5 attempts per minute)
// - Tokens are hashed before storage (bcrypt)
// - Non-loopback WebSocket connections require a valid token
package auth

import (
	"time"

	"github.com/tagdeck/host/internal/storage"
)

// Device is an alias for storage.Device to avoid import cycles.
// This allows the auth package to work with devices without duplicating the struct.
type Device = storage.Device

// DeviceStore defines the interface for persisting paired devices.
// This interface is implemented by storage.SQLiteStore.
// Implementations must be safe for concurrent access.
type DeviceStore interface {
	// SaveDevice persists a device to storage.
	// If a device with the same ID exists, it is updated.
	SaveDevice(device *Device) error

	// GetDevice retrieves a device by ID.
	// Returns nil, nil if the device does not exist.
	GetDevice(id string) (*Device, error)

	// ListDevices returns all paired devices.
	ListDevices() ([]*Device, error)

	// DeleteDevice removes a device from storage.
	// Returns nil if the device does not exist (idempotent).
	DeleteDevice(id string) error

	// UpdateLastSeen updates the last_seen timestamp for a device.
	// Returns an error if the device does not exist.
	UpdateLastSeen(id string, t time.Time) error
}
