package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/tagdeck/host/internal/errors"
	"github.com/tagdeck/host/internal/storage"
)

// fakeDeviceStore is an in-memory DeviceStore for revocation tests.
type fakeDeviceStore struct {
	devices map[string]*storage.Device
	deleted []string
}

func newFakeDeviceStore(devices ...*storage.Device) *fakeDeviceStore {
	f := &fakeDeviceStore{devices: make(map[string]*storage.Device)}
	for _, d := range devices {
		f.devices[d.ID] = d
	}
	return f
}

func (f *fakeDeviceStore) GetDevice(id string) (*storage.Device, error) {
	return f.devices[id], nil
}

func (f *fakeDeviceStore) DeleteDevice(id string) error {
	delete(f.devices, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// newRevokeTestServer wires the revoke handler before the mux is built;
// the endpoint only registers when a handler is present at that point.
func newRevokeTestServer(store DeviceStore) (*Server, *httptest.Server) {
	s := NewServer("unused")
	s.SetRevokeDeviceHandler(NewRevokeDeviceHandler(s, store))
	go s.runBroadcaster()

	ts := httptest.NewServer(s.createMux())
	return s, ts
}

// TestRevokeDeviceClosesConnections verifies revocation deletes the
// device and drops its active connection.
func TestRevokeDeviceClosesConnections(t *testing.T) {
	store := newFakeDeviceStore(&storage.Device{ID: "device-1", Name: "Test Phone"})
	s, ts := newRevokeTestServer(store)
	defer ts.Close()
	defer s.Stop()

	// Attach the connecting token as the device identity.
	s.SetTokenValidator(func(token string) (string, error) {
		return token, nil
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"?token=device-1", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = readMessage(t, conn)

	resp := postJSON(t, ts.URL+"/devices/device-1/revoke", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result RevokeDeviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.Body.Close()

	if result.DeviceID != "device-1" || result.DeviceName != "Test Phone" {
		t.Fatalf("unexpected response: %#v", result)
	}
	if result.ConnectionsClosed != 1 {
		t.Fatalf("expected 1 closed connection, got %d", result.ConnectionsClosed)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "device-1" {
		t.Fatalf("device not deleted from store: %#v", store.deleted)
	}

	// The connection should be torn down shortly after.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// TestRevokeDeviceNotFound verifies revoking an unknown device is a 404.
func TestRevokeDeviceNotFound(t *testing.T) {
	store := newFakeDeviceStore()
	s, ts := newRevokeTestServer(store)
	defer ts.Close()
	defer s.Stop()

	resp := postJSON(t, ts.URL+"/devices/ghost/revoke", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	apiErr := decodeAPIError(t, resp)
	if apiErr.ErrorCode != apperrors.CodeAuthDeviceRevoked {
		t.Fatalf("unexpected code: %q", apiErr.ErrorCode)
	}
}

// TestRevokeDeviceBadPath verifies malformed paths are rejected.
func TestRevokeDeviceBadPath(t *testing.T) {
	store := newFakeDeviceStore()
	s, ts := newRevokeTestServer(store)
	defer ts.Close()
	defer s.Stop()

	for _, path := range []string{"/devices/revoke", "/devices/a/b/revoke", "/devices/x/delete"} {
		resp := postJSON(t, ts.URL+path, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %s: expected 400, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

// TestRevokeDeviceMethodNotAllowed verifies only POST is accepted.
func TestRevokeDeviceMethodNotAllowed(t *testing.T) {
	store := newFakeDeviceStore(&storage.Device{ID: "device-1", Name: "Test Phone"})
	s, ts := newRevokeTestServer(store)
	defer ts.Close()
	defer s.Stop()

	resp := getJSON(t, ts.URL+"/devices/device-1/revoke", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

// TestRevokeDeviceNonLoopback verifies the endpoint is loopback only.
func TestRevokeDeviceNonLoopback(t *testing.T) {
	store := newFakeDeviceStore(&storage.Device{ID: "device-1", Name: "Test Phone"})
	s := NewServer("unused")
	handler := NewRevokeDeviceHandler(s, store)

	req := httptest.NewRequest(http.MethodPost, "/devices/device-1/revoke", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("device deleted despite forbidden request: %#v", store.deleted)
	}
}

// TestCloseDeviceConnectionsNoMatch verifies counting with no clients.
func TestCloseDeviceConnectionsNoMatch(t *testing.T) {
	s := NewServer("unused")
	if got := s.CloseDeviceConnections(""); got != 0 {
		t.Fatalf("empty id closed %d", got)
	}
	if got := s.CloseDeviceConnections("nobody"); got != 0 {
		t.Fatalf("unknown id closed %d", got)
	}
}
