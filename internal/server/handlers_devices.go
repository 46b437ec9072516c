package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/tagdeck/host/internal/auth"
	apperrors "github.com/tagdeck/host/internal/errors"
	"github.com/tagdeck/host/internal/storage"
)

// DeviceStore is the slice of device storage revocation needs.
// *storage.SQLiteStore satisfies this.
type DeviceStore interface {
	GetDevice(id string) (*storage.Device, error)
	DeleteDevice(id string) error
}

// RevokeDeviceResponse reports a completed revocation.
type RevokeDeviceResponse struct {
	DeviceID          string `json:"device_id"`
	DeviceName        string `json:"device_name"`
	ConnectionsClosed int    `json:"connections_closed"`
}

// RevokeDeviceHandler serves POST /devices/{id}/revoke. It closes the
// device's active connections before deleting it from storage, so a
// revoked companion cannot keep using an established connection.
type RevokeDeviceHandler struct {
	server      *Server
	deviceStore DeviceStore
}

// NewRevokeDeviceHandler creates the handler for /devices/{id}/revoke.
func NewRevokeDeviceHandler(server *Server, store DeviceStore) *RevokeDeviceHandler {
	return &RevokeDeviceHandler{server: server, deviceStore: store}
}

// ServeHTTP handles POST /devices/{id}/revoke. Loopback only; the
// endpoint exists so the CLI can revoke through a running host instead
// of racing it for the database.
func (h *RevokeDeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !auth.IsLoopbackRequest(r) {
		log.Printf("server: rejected device revoke from non-loopback address: %s", r.RemoteAddr)
		writeAPIError(w, http.StatusForbidden,
			apperrors.CodeAuthForbidden, "Device revocation is only available from localhost")
		return
	}

	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed,
			apperrors.CodeServerInvalidMessage, "Only POST is allowed")
		return
	}

	// Path format: /devices/{id}/revoke
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 3 || pathParts[0] != "devices" || pathParts[2] != "revoke" {
		writeAPIError(w, http.StatusBadRequest,
			apperrors.CodeServerInvalidMessage, "Expected path format: /devices/{id}/revoke")
		return
	}
	deviceID := pathParts[1]
	if deviceID == "" {
		writeAPIError(w, http.StatusBadRequest,
			apperrors.CodeServerInvalidMessage, "Device ID is required")
		return
	}

	device, err := h.deviceStore.GetDevice(deviceID)
	if err != nil {
		log.Printf("server: failed to look up device %s: %v", deviceID, err)
		writeAPIError(w, http.StatusInternalServerError,
			apperrors.CodeStorageQueryFailed, "Failed to look up device")
		return
	}
	if device == nil {
		writeAPIError(w, http.StatusNotFound,
			apperrors.CodeAuthDeviceRevoked, "Device not found (may already be revoked)")
		return
	}

	// Close connections before deleting so the device cannot ride out an
	// established session.
	closedCount := h.server.CloseDeviceConnections(deviceID)

	if err := h.deviceStore.DeleteDevice(deviceID); err != nil {
		log.Printf("server: failed to delete device %s: %v", deviceID, err)
		writeAPIError(w, http.StatusInternalServerError,
			apperrors.CodeStorageQueryFailed, "Failed to delete device")
		return
	}

	log.Printf("server: revoked device %s (%s), closed %d connection(s)",
		deviceID, device.Name, closedCount)

	writeAPIJSON(w, RevokeDeviceResponse{
		DeviceID:          deviceID,
		DeviceName:        device.Name,
		ConnectionsClosed: closedCount,
	})
}

// CloseDeviceConnections closes every active connection authenticated as
// deviceID. Returns the number closed.
func (s *Server) CloseDeviceConnections(deviceID string) int {
	if deviceID == "" {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var closed int
	for client := range s.clients {
		if client.deviceID == deviceID {
			client.closeSend()
			closed++
		}
	}
	if closed > 0 {
		log.Printf("server: closed %d connection(s) for revoked device %s", closed, deviceID)
	}
	return closed
}
