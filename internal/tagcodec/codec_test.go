package tagcodec

import (
	"bytes"
	"strings"
	"testing"

	apperrors "github.com/tagdeck/host/internal/errors"
)

// TestEncodeDecode_RoundTrip_V1 verifies that a version-1 frame round-trips
// every field for the canonical passcode 1710476.
func TestEncodeDecode_RoundTrip_V1(t *testing.T) {
	id := Identity{
		Passcode: "1710476",
		KonamiID: "4041",
		Variant:  "full",
		SetCode:  "LOB",
		Language: "EN",
		Number:   "001",
		Rarity:   "UR",
		Edition:  "1E",
	}

	frame, err := Encode(id, Version1, DefaultCapacity)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if len(frame) != 42 {
		t.Errorf("frame length = %d, want 42", len(frame))
	}

	got, version, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if version != Version1 {
		t.Errorf("version = %d, want %d", version, Version1)
	}
	if got != id {
		t.Errorf("Decode() = %+v, want %+v", got, id)
	}
	if got.Passcode != "1710476" {
		t.Errorf("Passcode = %q, want %q", got.Passcode, "1710476")
	}
}

// TestEncodeDecode_RoundTrip_V2 verifies that a version-2 frame carries the
// name fragment through a round trip.
func TestEncodeDecode_RoundTrip_V2(t *testing.T) {
	id := Identity{
		Passcode: "46986414",
		KonamiID: "4041",
		SetCode:  "SDY",
		Language: "EN",
		Number:   "006",
		Rarity:   "UR",
		Edition:  "1E",
		Name:     "Dark Magician",
	}

	frame, err := Encode(id, Version2, DefaultCapacity)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if want := 39 + 1 + len(id.Name) + 3; len(frame) != want {
		t.Errorf("frame length = %d, want %d", len(frame), want)
	}

	got, version, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if version != Version2 {
		t.Errorf("version = %d, want %d", version, Version2)
	}
	if got != id {
		t.Errorf("Decode() = %+v, want %+v", got, id)
	}
}

// TestEncode_FrameLayout verifies the exact byte layout of a version-1 frame:
// header, dash-padded fields in order, terminator.
func TestEncode_FrameLayout(t *testing.T) {
	id := Identity{
		Passcode: "1710476",
		KonamiID: "00000000",
		Variant:  "full",
		SetCode:  "LOB",
		Language: "EN",
		Number:   "001",
		Rarity:   "UR",
		Edition:  "1E",
	}

	frame, err := Encode(id, Version1, DefaultCapacity)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	want := "YG01" + "1710476---" + "00000000" + "full" + "LOB-" + "EN" + "001" + "UR" + "1E" + "XXX"
	if string(frame) != want {
		t.Errorf("frame = %q, want %q", frame, want)
	}
}

// TestEncode_EmptyOptionalFields verifies that optional fields encode as
// padding and decode back to empty strings.
func TestEncode_EmptyOptionalFields(t *testing.T) {
	id := Identity{Passcode: "1"}

	frame, err := Encode(id, Version1, DefaultCapacity)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	got, _, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.Passcode != "1" {
		t.Errorf("Passcode = %q, want %q", got.Passcode, "1")
	}
	if got.KonamiID != "" || got.Variant != "" || got.SetCode != "" ||
		got.Language != "" || got.Number != "" || got.Rarity != "" || got.Edition != "" {
		t.Errorf("optional fields not empty after round trip: %+v", got)
	}
}

// TestEncode_CapacityBoundary verifies that a frame exactly at capacity
// succeeds and one byte over fails with codec.capacity_exceeded.
func TestEncode_CapacityBoundary(t *testing.T) {
	const capacity = 60
	// 39 fixed + 1 length byte + name + 3 terminator == capacity
	fitting := capacity - 39 - 1 - 3

	id := Identity{Passcode: "1710476", Name: strings.Repeat("a", fitting)}
	frame, err := Encode(id, Version2, capacity)
	if err != nil {
		t.Fatalf("Encode() at capacity error: %v", err)
	}
	if len(frame) != capacity {
		t.Errorf("frame length = %d, want %d", len(frame), capacity)
	}

	id.Name = strings.Repeat("a", fitting+1)
	frame, err = Encode(id, Version2, capacity)
	if err == nil {
		t.Fatal("Encode() one byte over capacity expected error, got nil")
	}
	if !apperrors.IsCode(err, apperrors.CodeCodecCapacityExceeded) {
		t.Errorf("error code = %q, want %q", apperrors.GetCode(err), apperrors.CodeCodecCapacityExceeded)
	}
	// Never truncate: no partial frame alongside the error
	if frame != nil {
		t.Errorf("Encode() returned partial frame %q with error", frame)
	}
}

// TestEncode_V1CapacityBoundary verifies the version-1 boundary: a 42-byte
// tag fits, a 41-byte tag does not.
func TestEncode_V1CapacityBoundary(t *testing.T) {
	id := Identity{Passcode: "1710476"}

	if _, err := Encode(id, Version1, 42); err != nil {
		t.Errorf("Encode() with capacity 42 error: %v", err)
	}

	_, err := Encode(id, Version1, 41)
	if !apperrors.IsCode(err, apperrors.CodeCodecCapacityExceeded) {
		t.Errorf("Encode() with capacity 41: error = %v, want codec.capacity_exceeded", err)
	}
}

// TestEncode_NameTooLongForPrefix verifies that a name beyond the one-byte
// length prefix fails even when the tag itself is large enough.
func TestEncode_NameTooLongForPrefix(t *testing.T) {
	id := Identity{Passcode: "1710476", Name: strings.Repeat("a", 256)}

	_, err := Encode(id, Version2, 504)
	if !apperrors.IsCode(err, apperrors.CodeCodecCapacityExceeded) {
		t.Errorf("error = %v, want codec.capacity_exceeded", err)
	}
}

// TestEncode_InvalidPasscode verifies that empty, oversized, and
// non-numeric passcodes are rejected as codec.corrupt.
func TestEncode_InvalidPasscode(t *testing.T) {
	tests := []struct {
		name     string
		passcode string
	}{
		{"empty", ""},
		{"eleven_digits", "12345678901"},
		{"letters", "12a4"},
		{"dash", "1710-476"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(Identity{Passcode: tt.passcode}, Version1, DefaultCapacity)
			if !apperrors.IsCode(err, apperrors.CodeCodecCorrupt) {
				t.Errorf("Encode(%q) error = %v, want codec.corrupt", tt.passcode, err)
			}
		})
	}
}

// TestEncode_FieldTooWide verifies that a field longer than its slot is
// rejected instead of silently clipped.
func TestEncode_FieldTooWide(t *testing.T) {
	id := Identity{Passcode: "1710476", Variant: "oversized"}

	_, err := Encode(id, Version1, DefaultCapacity)
	if !apperrors.IsCode(err, apperrors.CodeCodecCorrupt) {
		t.Errorf("error = %v, want codec.corrupt", err)
	}
}

// TestEncode_UnknownVersion verifies that an unsupported version number is
// rejected as codec.unrecognized_format.
func TestEncode_UnknownVersion(t *testing.T) {
	_, err := Encode(Identity{Passcode: "1"}, 3, DefaultCapacity)
	if !apperrors.IsCode(err, apperrors.CodeCodecUnrecognizedFormat) {
		t.Errorf("error = %v, want codec.unrecognized_format", err)
	}
}

// TestDecode_UnrecognizedFormat verifies that missing magic and unknown
// versions fail with codec.unrecognized_format, not codec.corrupt.
func TestDecode_UnrecognizedFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too_short_for_header", []byte("YG")},
		{"wrong_magic", []byte("ZZ01" + strings.Repeat("-", 35) + "XXX")},
		{"lowercase_magic", []byte("yg01" + strings.Repeat("-", 35) + "XXX")},
		{"unknown_version", []byte("YG99" + strings.Repeat("-", 35) + "XXX")},
		{"blank_tag", bytes.Repeat([]byte{0}, 144)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			if !apperrors.IsCode(err, apperrors.CodeCodecUnrecognizedFormat) {
				t.Errorf("Decode() error = %v, want codec.unrecognized_format", err)
			}
		})
	}
}

// TestDecode_Corrupt verifies that recognized frames with structural or
// field damage fail with codec.corrupt.
func TestDecode_Corrupt(t *testing.T) {
	valid, err := Encode(Identity{Passcode: "1710476"}, Version1, DefaultCapacity)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated_fixed_block", valid[:20]},
		{"missing_terminator", valid[:41]},
		{"garbage_terminator", append(append([]byte{}, valid[:39]...), 'A', 'B', 'C')},
		{"non_numeric_passcode", []byte("YG01" + "ABCDEFG---" + strings.Repeat("-", 25) + "XXX")},
		{"all_padding_passcode", []byte("YG01" + strings.Repeat("-", 35) + "XXX")},
		{"v2_length_beyond_data", append([]byte("YG02"+"1710476---"+strings.Repeat("-", 25)), 200)},
		{"v2_missing_length", []byte("YG02" + "1710476---" + strings.Repeat("-", 25))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			if !apperrors.IsCode(err, apperrors.CodeCodecCorrupt) {
				t.Errorf("Decode() error = %v, want codec.corrupt", err)
			}
		})
	}
}

// TestDecode_IgnoresTrailingBytes verifies that bytes after the terminator,
// as read from a full tag memory dump, do not disturb parsing.
func TestDecode_IgnoresTrailingBytes(t *testing.T) {
	id := Identity{Passcode: "1710476", SetCode: "LOB", Language: "EN"}
	frame, err := Encode(id, Version1, DefaultCapacity)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	// Pad to the full 144-byte user memory the way a raw read returns it
	dump := make([]byte, 144)
	copy(dump, frame)

	got, version, err := Decode(dump)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if version != Version1 {
		t.Errorf("version = %d, want %d", version, Version1)
	}
	if got != id {
		t.Errorf("Decode() = %+v, want %+v", got, id)
	}
}

// TestDecode_V2TrailingBytes verifies the same for version-2 frames, where
// the terminator position depends on the length prefix.
func TestDecode_V2TrailingBytes(t *testing.T) {
	id := Identity{Passcode: "89631139", Name: "Blue-Eyes White Dragon"}
	frame, err := Encode(id, Version2, DefaultCapacity)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	dump := make([]byte, 144)
	copy(dump, frame)

	got, version, err := Decode(dump)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if version != Version2 {
		t.Errorf("version = %d, want %d", version, Version2)
	}
	if got.Name != id.Name {
		t.Errorf("Name = %q, want %q", got.Name, id.Name)
	}
}

// TestMaxNameBytes verifies the name budget for common capacities,
// including the length-prefix cap.
func TestMaxNameBytes(t *testing.T) {
	tests := []struct {
		capacity int
		want     int
	}{
		{144, 101},
		{60, 17},
		{43, 0},
		{42, 0},
		{504, 255},
		{0, 101}, // default capacity
	}

	for _, tt := range tests {
		if got := MaxNameBytes(tt.capacity); got != tt.want {
			t.Errorf("MaxNameBytes(%d) = %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

// TestFitName verifies byte-budget trimming never splits a UTF-8 rune.
func TestFitName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"fits", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii_trim", "hello", 3, "hel"},
		{"rune_boundary", "héllo", 2, "h"},
		{"single_rune_no_fit", "é", 1, ""},
		{"zero_budget", "abc", 0, ""},
		{"negative_budget", "abc", -5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FitName(tt.in, tt.max); got != tt.want {
				t.Errorf("FitName(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}
