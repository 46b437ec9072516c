package nfc

import (
	"errors"
	"sync"
)

// SimReaderName is the reader a fresh SimTransport starts with.
const SimReaderName = "Simulated ACR122U 00 00"

// SimTransport is an in-memory stand-in for the PC/SC stack. Tests and
// the --simulate flag use it to exercise the monitor without hardware:
// tags can be placed and removed at any time, and read or write failures
// can be injected for the next N transactions.
//
// All methods are safe for concurrent use.
type SimTransport struct {
	mu         sync.Mutex
	readers    []string
	tag        *simTag
	listErr    error
	connectErr error
	failReads  int
	failWrites int
}

// simTag is the tag currently in the simulated reader's field.
// memory covers the whole tag from page 0; user data starts at page 4.
type simTag struct {
	uid    []byte
	memory []byte
}

// NewSimTransport creates a simulated transport with one attached reader
// and an empty field.
func NewSimTransport() *SimTransport {
	return &SimTransport{readers: []string{SimReaderName}}
}

// Factory returns a ContextFactory producing contexts backed by this
// transport.
func (s *SimTransport) Factory() ContextFactory {
	return func() (Context, error) {
		return &simContext{transport: s}, nil
	}
}

// SetReaders replaces the attached reader list. An empty call simulates
// unplugging the hardware.
func (s *SimTransport) SetReaders(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers = names
}

// PlaceTag puts a tag with the given UID and user memory into the
// reader's field, replacing any tag already there. Reads past the end of
// userMemory fail the way reads past a tag's physical end do.
func (s *SimTransport) PlaceTag(uid []byte, userMemory []byte) {
	memory := make([]byte, userPageStart*pageSize+len(userMemory))
	copy(memory, uid)
	copy(memory[userPageStart*pageSize:], userMemory)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tag = &simTag{
		uid:    append([]byte(nil), uid...),
		memory: memory,
	}
}

// RemoveTag takes the current tag out of the field. Open card handles
// start failing immediately.
func (s *SimTransport) RemoveTag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tag = nil
}

// UserMemory returns a copy of the current tag's user memory, or nil
// when the field is empty.
func (s *SimTransport) UserMemory() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tag == nil {
		return nil
	}
	return append([]byte(nil), s.tag.memory[userPageStart*pageSize:]...)
}

// FailNextReads makes the next n read commands (UID or page) fail with
// an error status.
func (s *SimTransport) FailNextReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// FailNextWrites makes the next n page writes fail with an error status.
func (s *SimTransport) FailNextWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

// SetListError makes ListReaders fail until cleared with nil.
func (s *SimTransport) SetListError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// SetConnectError makes Connect fail until cleared with nil.
func (s *SimTransport) SetConnectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

type simContext struct {
	transport *SimTransport
	mu        sync.Mutex
	released  bool
}

func (c *simContext) ListReaders() ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	if c.transport.listErr != nil {
		return nil, c.transport.listErr
	}
	return append([]string(nil), c.transport.readers...), nil
}

func (c *simContext) Connect(reader string) (Card, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	if c.transport.connectErr != nil {
		return nil, c.transport.connectErr
	}
	found := false
	for _, name := range c.transport.readers {
		if name == reader {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.New("sim: unknown reader")
	}
	if c.transport.tag == nil {
		return nil, errors.New("sim: no tag in field")
	}
	return &simCard{transport: c.transport, tag: c.transport.tag}, nil
}

func (c *simContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errors.New("sim: context already released")
	}
	c.released = true
	return nil
}

func (c *simContext) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errors.New("sim: context released")
	}
	return nil
}

type simCard struct {
	transport    *SimTransport
	tag          *simTag
	disconnected bool
}

// Transmit interprets the ACR122U pseudo-APDU set against the in-memory
// tag. Injected failures surface as error statuses, the way a real
// reader reports them, rather than as transport errors.
func (c *simCard) Transmit(apdu []byte) ([]byte, error) {
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()

	if c.disconnected {
		return nil, errors.New("sim: card disconnected")
	}
	if c.transport.tag != c.tag {
		return nil, errors.New("sim: tag removed")
	}

	switch {
	case len(apdu) == 5 && apdu[0] == 0xFF && apdu[1] == 0xCA:
		if c.transport.failReads > 0 {
			c.transport.failReads--
			return []byte{0x63, 0x00}, nil
		}
		resp := append([]byte(nil), c.tag.uid...)
		return append(resp, 0x90, 0x00), nil

	case len(apdu) == 5 && apdu[0] == 0xFF && apdu[1] == 0xB0:
		if c.transport.failReads > 0 {
			c.transport.failReads--
			return []byte{0x63, 0x00}, nil
		}
		offset := int(apdu[3]) * pageSize
		if offset+pageSize > len(c.tag.memory) {
			return []byte{0x63, 0x00}, nil
		}
		resp := append([]byte(nil), c.tag.memory[offset:offset+pageSize]...)
		return append(resp, 0x90, 0x00), nil

	case len(apdu) == 9 && apdu[0] == 0xFF && apdu[1] == 0xD6:
		if c.transport.failWrites > 0 {
			c.transport.failWrites--
			return []byte{0x63, 0x00}, nil
		}
		offset := int(apdu[3]) * pageSize
		if offset+pageSize > len(c.tag.memory) {
			return []byte{0x63, 0x00}, nil
		}
		copy(c.tag.memory[offset:], apdu[5:9])
		return []byte{0x90, 0x00}, nil

	default:
		return nil, errors.New("sim: unsupported apdu")
	}
}

func (c *simCard) Disconnect() error {
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	c.disconnected = true
	return nil
}
