// Package tagcodec packs card identities into the fixed byte layout
// written to a tag's user memory and parses that layout back.
//
// A frame starts with the two-byte magic "YG" followed by two ASCII
// digits of format version. Version 1 is a fixed 42-byte frame of
// dash-padded ASCII fields ending in the terminator "XXX". Version 2
// carries the same fields but replaces the terminator with a
// length-prefixed UTF-8 name fragment followed by the terminator, so a
// companion can show a card name without a database lookup.
package tagcodec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/tagdeck/host/internal/errors"
)

// Frame format versions.
const (
	Version1 = 1 // fixed fields only
	Version2 = 2 // fixed fields plus name fragment
)

// DefaultCapacity is the writable user memory of an NTAG213 tag in bytes.
const DefaultCapacity = 144

const (
	magic      = "YG"
	terminator = "XXX"
	padding    = "-"

	headerLen = 4  // magic plus version digits
	fixedLen  = 39 // header plus the dash-padded field block
	v1Len     = fixedLen + len(terminator)

	// maxNameLen is bound by the single-byte length prefix.
	maxNameLen = 255
)

// Identity is the card identity carried on a tag. All fields are ASCII
// except Name, which is arbitrary UTF-8 and only present in version 2
// frames. Empty fields are written as padding and come back empty.
type Identity struct {
	Passcode string // printed passcode, 1 to 10 digits
	KonamiID string // Konami catalog id, optional
	Variant  string // art variant
	SetCode  string // set abbreviation
	Language string // language code
	Number   string // collector number
	Rarity   string // rarity code
	Edition  string // edition code
	Name     string // name fragment, version 2 only
}

// Field slots in frame order after the header. Widths sum to 35, which
// with the 4-byte header gives the 39-byte fixed block.
var fieldSlots = []struct {
	name  string
	width int
}{
	{"passcode", 10},
	{"konami id", 8},
	{"variant", 4},
	{"set code", 4},
	{"language", 2},
	{"number", 3},
	{"rarity", 2},
	{"edition", 2},
}

// Encode packs id into a frame of the given version. capacity is the
// writable tag size in bytes; zero or negative means DefaultCapacity.
// The frame is returned exactly as it should appear on the tag; it is
// never truncated to fit, an oversized frame is an error.
func Encode(id Identity, version, capacity int) ([]byte, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if version != Version1 && version != Version2 {
		return nil, apperrors.UnrecognizedFormat(fmt.Sprintf("unknown version %d", version))
	}
	if err := validatePasscode(id.Passcode); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(magic)
	fmt.Fprintf(&b, "%02d", version)

	values := []string{
		id.Passcode, id.KonamiID, id.Variant, id.SetCode,
		id.Language, id.Number, id.Rarity, id.Edition,
	}
	for i, slot := range fieldSlots {
		padded, err := padField(slot.name, values[i], slot.width)
		if err != nil {
			return nil, err
		}
		b.WriteString(padded)
	}

	if version == Version2 {
		name := []byte(id.Name)
		if len(name) > maxNameLen {
			return nil, apperrors.New(apperrors.CodeCodecCapacityExceeded,
				fmt.Sprintf("name fragment is %d bytes but the length prefix holds at most %d", len(name), maxNameLen))
		}
		b.WriteByte(byte(len(name)))
		b.Write(name)
	}
	b.WriteString(terminator)

	frame := []byte(b.String())
	if len(frame) > capacity {
		return nil, apperrors.CapacityExceeded(len(frame), capacity)
	}
	return frame, nil
}

// Decode parses a tag's user memory. data may be longer than the frame;
// anything after the terminator is ignored. It returns the identity and
// the frame's format version.
func Decode(data []byte) (Identity, int, error) {
	if len(data) < headerLen || string(data[:len(magic)]) != magic {
		return Identity{}, 0, apperrors.UnrecognizedFormat("missing YG header")
	}

	var version int
	switch digits := string(data[len(magic):headerLen]); digits {
	case "01":
		version = Version1
	case "02":
		version = Version2
	default:
		return Identity{}, 0, apperrors.UnrecognizedFormat(fmt.Sprintf("unknown version %q", digits))
	}

	if len(data) < fixedLen {
		return Identity{}, 0, apperrors.Corrupt(fmt.Sprintf("frame is %d bytes, want at least %d", len(data), fixedLen))
	}

	fields := make([]string, len(fieldSlots))
	off := headerLen
	for i, slot := range fieldSlots {
		fields[i] = strings.TrimRight(string(data[off:off+slot.width]), padding)
		off += slot.width
	}
	id := Identity{
		Passcode: fields[0],
		KonamiID: fields[1],
		Variant:  fields[2],
		SetCode:  fields[3],
		Language: fields[4],
		Number:   fields[5],
		Rarity:   fields[6],
		Edition:  fields[7],
	}

	switch version {
	case Version1:
		if len(data) < v1Len || string(data[fixedLen:v1Len]) != terminator {
			return Identity{}, 0, apperrors.Corrupt("missing terminator")
		}
	case Version2:
		if len(data) < fixedLen+1 {
			return Identity{}, 0, apperrors.Corrupt("missing name length")
		}
		nameEnd := fixedLen + 1 + int(data[fixedLen])
		if len(data) < nameEnd+len(terminator) || string(data[nameEnd:nameEnd+len(terminator)]) != terminator {
			return Identity{}, 0, apperrors.Corrupt("bad name length or missing terminator")
		}
		id.Name = string(data[fixedLen+1 : nameEnd])
	}

	if err := validatePasscode(id.Passcode); err != nil {
		return Identity{}, 0, err
	}
	return id, version, nil
}

// MaxNameBytes reports how many name bytes fit in a version-2 frame on
// a tag of the given capacity. Zero or negative capacity means
// DefaultCapacity. The result is never negative.
func MaxNameBytes(capacity int) int {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	n := capacity - fixedLen - 1 - len(terminator)
	if n < 0 {
		n = 0
	}
	if n > maxNameLen {
		n = maxNameLen
	}
	return n
}

// FitName trims name to at most max bytes without splitting a UTF-8
// rune.
func FitName(name string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(name) <= max {
		return name
	}
	for max > 0 && !utf8.RuneStart(name[max]) {
		max--
	}
	return name[:max]
}

func validatePasscode(p string) error {
	if len(p) == 0 || len(p) > 10 {
		return apperrors.Corrupt(fmt.Sprintf("passcode %q must be 1 to 10 digits", p))
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return apperrors.Corrupt(fmt.Sprintf("passcode %q must be 1 to 10 digits", p))
		}
	}
	return nil
}

func padField(name, value string, width int) (string, error) {
	if len(value) > width {
		return "", apperrors.Corrupt(fmt.Sprintf("%s %q is %d bytes but its field holds %d", name, value, len(value), width))
	}
	return value + strings.Repeat(padding, width-len(value)), nil
}
