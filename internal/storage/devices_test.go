package storage

import (
	"errors"
	"testing"
	"time"
)

// TestSaveAndGetDevice verifies a device round-trips through the store.
func TestSaveAndGetDevice(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	device := &Device{
		ID:        "device-1",
		Name:      "Kai's Phone",
		Platform:  "android",
		TokenHash: "$2a$10$fakehashfortesting",
		CreatedAt: now,
		LastSeen:  now,
	}

	if err := store.SaveDevice(device); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}

	got, err := store.GetDevice("device-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected device, got nil")
	}

	if got.Name != device.Name {
		t.Errorf("Name: got %q, want %q", got.Name, device.Name)
	}
	if got.Platform != "android" {
		t.Errorf("Platform: got %q, want 'android'", got.Platform)
	}
	if got.TokenHash != device.TokenHash {
		t.Errorf("TokenHash: got %q, want %q", got.TokenHash, device.TokenHash)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, now)
	}
	if !got.LastSeen.Equal(now) {
		t.Errorf("LastSeen: got %v, want %v", got.LastSeen, now)
	}
}

// TestGetDevice_Missing verifies nil, nil for an unknown device.
func TestGetDevice_Missing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetDevice("nope")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing device, got %+v", got)
	}
}

// TestSaveDevice_Update verifies saving an existing ID overwrites the row.
func TestSaveDevice_Update(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	device := &Device{ID: "device-1", Name: "Old Name", TokenHash: "h", CreatedAt: now, LastSeen: now}
	if err := store.SaveDevice(device); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}

	device.Name = "New Name"
	if err := store.SaveDevice(device); err != nil {
		t.Fatalf("second SaveDevice failed: %v", err)
	}

	got, err := store.GetDevice("device-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if got.Name != "New Name" {
		t.Errorf("expected updated name, got %q", got.Name)
	}

	devices, err := store.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("expected 1 device after update, got %d", len(devices))
	}
}

// TestSaveDevice_Nil verifies nil input is rejected.
func TestSaveDevice_Nil(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveDevice(nil); err == nil {
		t.Error("expected error for nil device")
	}
}

// TestListDevices verifies devices come back ordered by pairing time.
func TestListDevices(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	ids := []string{"device-c", "device-a", "device-b"}
	offsets := []time.Duration{2 * time.Minute, 0, time.Minute}
	for i, id := range ids {
		device := &Device{
			ID:        id,
			Name:      id,
			TokenHash: "h",
			CreatedAt: base.Add(offsets[i]),
			LastSeen:  base.Add(offsets[i]),
		}
		if err := store.SaveDevice(device); err != nil {
			t.Fatalf("SaveDevice failed: %v", err)
		}
	}

	devices, err := store.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}

	// Oldest pairing first
	want := []string{"device-a", "device-b", "device-c"}
	for i, id := range want {
		if devices[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, devices[i].ID, id)
		}
	}
}

// TestDeleteDevice verifies revocation removes the row and is idempotent.
func TestDeleteDevice(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	device := &Device{ID: "device-1", Name: "Phone", TokenHash: "h", CreatedAt: now, LastSeen: now}
	if err := store.SaveDevice(device); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}

	if err := store.DeleteDevice("device-1"); err != nil {
		t.Fatalf("DeleteDevice failed: %v", err)
	}

	got, err := store.GetDevice("device-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if got != nil {
		t.Error("expected device to be deleted")
	}

	// Deleting again should not error
	if err := store.DeleteDevice("device-1"); err != nil {
		t.Errorf("second DeleteDevice should be a no-op, got %v", err)
	}
}

// TestUpdateLastSeen verifies the last_seen bump and the missing-device error.
func TestUpdateLastSeen(t *testing.T) {
	store := newTestStore(t)

	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	device := &Device{ID: "device-1", Name: "Phone", TokenHash: "h", CreatedAt: created, LastSeen: created}
	if err := store.SaveDevice(device); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}

	seen := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.UpdateLastSeen("device-1", seen); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	got, err := store.GetDevice("device-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen: got %v, want %v", got.LastSeen, seen)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt must not change: got %v, want %v", got.CreatedAt, created)
	}

	// Unknown device
	err = store.UpdateLastSeen("nope", time.Now())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}
