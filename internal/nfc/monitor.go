// Package nfc drives ACR122U-class NFC readers over PC/SC.
//
// A Monitor polls the reader on a background goroutine and tracks a
// three-state machine: disconnected (no reader), idle (reader attached,
// empty field), and tag_present. Transitions, discovered tags, and
// hardware errors are delivered through callbacks on a dedicated
// delivery goroutine, so hardware work never runs caller code. All
// hardware transactions, polls included, are serialized behind one
// mutex; a write in progress finishes before anything else touches the
// reader.
//
// The transport is injected as a ContextFactory: SCardFactory talks to
// the platform PC/SC daemon, and SimTransport provides an in-memory
// reader for tests and the --simulate flag.
package nfc

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	apperrors "github.com/tagdeck/host/internal/errors"
)

// State is the monitor's view of the reader.
type State string

const (
	// StateDisconnected means no reader is attached or PC/SC is unreachable.
	StateDisconnected State = "disconnected"

	// StateIdle means a reader is attached and its field is empty.
	StateIdle State = "idle"

	// StateTagPresent means a tag is in the reader's field.
	StateTagPresent State = "tag_present"
)

// Tag is a tag the monitor has seen and read.
type Tag struct {
	// UID is the tag's unique identifier, uppercase hex.
	UID string

	// Data holds the tag's full user memory.
	Data []byte
}

func (t *Tag) clone() *Tag {
	c := *t
	c.Data = append([]byte(nil), t.Data...)
	return &c
}

const (
	// DefaultPollInterval is how often the monitor probes the reader.
	DefaultPollInterval = time.Second

	// DefaultTagCapacity is the NTAG213 user memory size in bytes.
	DefaultTagCapacity = 144
)

// MonitorConfig configures a reader monitor.
type MonitorConfig struct {
	// Factory opens the transport. Required.
	Factory ContextFactory

	// Reader selects the reader by name substring.
	// Empty selects the first attached reader.
	Reader string

	// PollInterval is the probe interval. Default: 1s.
	PollInterval time.Duration

	// TagCapacity is the user memory size read from each tag.
	// Default: 144 (NTAG213).
	TagCapacity int

	// OnState is called on every state transition.
	// OnTag is called when a tag lands in the field (and when a
	// different tag replaces it between polls). OnError is called on
	// hardware trouble, deduplicated while the condition persists.
	//
	// Callbacks run on the monitor's delivery goroutine, in order.
	// They must not block for long and must not call back into
	// ReadTag/WriteTag (use another goroutine for that).
	OnState func(State)
	OnTag   func(Tag)
	OnError func(error)
}

// monitorEvent carries exactly one callback's payload to the delivery
// goroutine.
type monitorEvent struct {
	state *State
	tag   *Tag
	err   error
}

// errNoTag distinguishes an empty field from a failing one.
var errNoTag = errors.New("no tag in field")

// Monitor polls a reader and exposes tag read/write on top of the
// polled state. Create with NewMonitor, then Start.
type Monitor struct {
	config MonitorConfig

	// hw serializes every hardware transaction. ctx and card are only
	// touched with hw held.
	hw   sync.Mutex
	ctx  Context
	card Card

	mu       sync.Mutex
	running  bool
	stopping bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	state    State
	tag      *Tag
	lastErr  string
}

// NewMonitor creates a monitor (not started).
func NewMonitor(config MonitorConfig) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.TagCapacity <= 0 {
		config.TagCapacity = DefaultTagCapacity
	}
	return &Monitor{
		config: config,
		state:  StateDisconnected,
	}
}

// Start begins polling in a background goroutine.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true
	m.stopping = false
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	go m.run(stopCh, doneCh)
}

// Stop signals the poll loop to exit, waits for it to finish, and
// releases the hardware. In-flight ReadTag/WriteTag calls complete
// first; no callbacks fire after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	if m.stopping {
		doneCh := m.doneCh
		m.mu.Unlock()
		<-doneCh
		return
	}

	m.stopping = true
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh

	m.mu.Lock()
	m.running = false
	m.stopping = false
	m.state = StateDisconnected
	m.tag = nil
	m.lastErr = ""
	m.mu.Unlock()
}

// State returns the current reader state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentTag returns a copy of the tag in the field, or nil.
func (m *Monitor) CurrentTag() *Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tag == nil {
		return nil
	}
	return m.tag.clone()
}

// ReadTag reads the tag's full user memory. It fails immediately with
// device.not_ready when no tag is present; it never waits for one. A
// read queues behind any hardware operation in progress.
func (m *Monitor) ReadTag() ([]byte, error) {
	if state := m.State(); state != StateTagPresent {
		return nil, apperrors.NotReady(string(state))
	}

	m.hw.Lock()
	defer m.hw.Unlock()

	// The tag can leave between the state check and here.
	if m.card == nil {
		return nil, apperrors.NotReady(string(m.State()))
	}

	data, err := readUserMemory(m.card, m.config.TagCapacity)
	if err != nil {
		return nil, apperrors.ReadFailed(err)
	}
	return data, nil
}

// WriteTag writes data to the tag's user memory, page by page, then
// reads everything back and compares. Any failure reports
// device.write_failed and the tag contents must be treated as unknown;
// success means the read-back matched. Like ReadTag, it fails
// immediately when no tag is present.
func (m *Monitor) WriteTag(data []byte) error {
	if state := m.State(); state != StateTagPresent {
		return apperrors.NotReady(string(state))
	}
	if len(data) > m.config.TagCapacity {
		return apperrors.WriteFailed(
			fmt.Sprintf("payload is %d bytes but the tag holds %d", len(data), m.config.TagCapacity), nil)
	}

	m.hw.Lock()
	defer m.hw.Unlock()

	if m.card == nil {
		return apperrors.NotReady(string(m.State()))
	}

	if err := writeUserMemory(m.card, data); err != nil {
		return apperrors.WriteFailed("page write", err)
	}

	readBack, err := readUserMemory(m.card, m.config.TagCapacity)
	if err != nil {
		return apperrors.WriteFailed("read-back", err)
	}
	if !bytes.Equal(readBack[:len(data)], data) {
		return apperrors.WriteFailed("read-back mismatch", nil)
	}

	m.mu.Lock()
	if m.tag != nil {
		m.tag.Data = append([]byte(nil), readBack...)
	}
	m.mu.Unlock()

	log.Printf("nfc: wrote %d bytes to tag", len(data))
	return nil
}

// run owns the hardware: it probes immediately, then on every tick.
// A cycle that outlasts the interval delays the ticker; missed ticks
// coalesce rather than queue.
func (m *Monitor) run(stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	events := make(chan monitorEvent, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.deliver(events)
	}()

	m.tick(events)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			m.shutdown()
			close(events)
			wg.Wait()
			return
		case <-ticker.C:
			m.tick(events)
		}
	}
}

// deliver runs callbacks off the hardware goroutine, preserving event
// order.
func (m *Monitor) deliver(events <-chan monitorEvent) {
	for ev := range events {
		switch {
		case ev.state != nil:
			if m.config.OnState != nil {
				m.config.OnState(*ev.state)
			}
		case ev.tag != nil:
			if m.config.OnTag != nil {
				m.config.OnTag(*ev.tag)
			}
		case ev.err != nil:
			if m.config.OnError != nil {
				m.config.OnError(ev.err)
			}
		}
	}
}

// tick performs one poll cycle.
func (m *Monitor) tick(events chan<- monitorEvent) {
	m.hw.Lock()
	defer m.hw.Unlock()

	if m.ctx == nil {
		ctx, err := m.config.Factory()
		if err != nil {
			m.transition(StateDisconnected, events)
			m.reportError(events, apperrors.Wrap(apperrors.CodeDeviceAbsent,
				"smartcard subsystem unreachable", err))
			return
		}
		m.ctx = ctx
	}

	readers, err := m.ctx.ListReaders()
	if err != nil {
		// The context itself may be stale (pcscd restart); rebuild it
		// on the next cycle.
		m.dropCard()
		m.ctx.Release()
		m.ctx = nil
		m.transition(StateDisconnected, events)
		m.reportError(events, apperrors.Wrap(apperrors.CodeDeviceAbsent,
			"listing readers failed", err))
		return
	}

	reader := m.pickReader(readers)
	if reader == "" {
		m.dropCard()
		m.transition(StateDisconnected, events)
		m.clearError()
		return
	}

	if m.card != nil {
		if _, err := readUID(m.card); err == nil {
			m.clearError()
			return
		}

		// A single poll can miss a tag that is still on the reader, so
		// re-probe once before calling it gone. A successful re-probe
		// of the same tag stays silent.
		m.dropCard()
		if tag, card, err := m.connectAndRead(reader); err == nil {
			m.adoptTag(tag, card, events)
			m.clearError()
			return
		}
		m.transition(StateIdle, events)
		m.clearError()
		return
	}

	tag, card, err := m.connectAndRead(reader)
	switch {
	case errors.Is(err, errNoTag):
		m.transition(StateIdle, events)
		m.clearError()
	case err != nil:
		m.transition(StateIdle, events)
		m.reportError(events, apperrors.ReadFailed(err))
	default:
		m.adoptTag(tag, card, events)
		m.clearError()
	}
}

// connectAndRead opens the card in the reader's field and reads its UID
// and user memory. errNoTag means the field was empty; any other error
// means the tag is there but misbehaving.
func (m *Monitor) connectAndRead(reader string) (*Tag, Card, error) {
	card, err := m.ctx.Connect(reader)
	if err != nil {
		return nil, nil, errNoTag
	}

	uid, err := readUID(card)
	if err != nil {
		card.Disconnect()
		return nil, nil, err
	}
	data, err := readUserMemory(card, m.config.TagCapacity)
	if err != nil {
		card.Disconnect()
		return nil, nil, err
	}

	return &Tag{UID: fmt.Sprintf("%X", uid), Data: data}, card, nil
}

// adoptTag installs a connected card as the current tag. OnTag fires
// for a new or different tag, not when a re-probe finds the same one.
func (m *Monitor) adoptTag(tag *Tag, card Card, events chan<- monitorEvent) {
	m.card = card

	m.mu.Lock()
	prev := m.tag
	m.tag = tag
	m.mu.Unlock()

	m.transition(StateTagPresent, events)

	if prev == nil || prev.UID != tag.UID {
		events <- monitorEvent{tag: tag.clone()}
	}
}

// transition moves the state machine, clearing the current tag when
// leaving tag_present. No event is emitted for a same-state move.
func (m *Monitor) transition(next State, events chan<- monitorEvent) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	if next != StateTagPresent {
		m.tag = nil
	}
	m.mu.Unlock()

	log.Printf("nfc: reader %s -> %s", prev, next)
	events <- monitorEvent{state: &next}
}

// dropCard closes the current card handle, if any.
func (m *Monitor) dropCard() {
	if m.card != nil {
		m.card.Disconnect()
		m.card = nil
	}
}

// shutdown releases all hardware resources.
func (m *Monitor) shutdown() {
	m.hw.Lock()
	defer m.hw.Unlock()

	m.dropCard()
	if m.ctx != nil {
		m.ctx.Release()
		m.ctx = nil
	}
}

// pickReader selects the configured reader from the attached list.
func (m *Monitor) pickReader(readers []string) string {
	if m.config.Reader == "" {
		if len(readers) == 0 {
			return ""
		}
		return readers[0]
	}
	for _, name := range readers {
		if strings.Contains(name, m.config.Reader) {
			return name
		}
	}
	return ""
}

// reportError delivers a hardware error, deduplicating repeats while the
// same condition persists so a 1s poll does not spam the log.
func (m *Monitor) reportError(events chan<- monitorEvent, err error) {
	sig := err.Error()

	m.mu.Lock()
	if sig == m.lastErr {
		m.mu.Unlock()
		return
	}
	m.lastErr = sig
	m.mu.Unlock()

	log.Printf("nfc: %v", err)
	events <- monitorEvent{err: err}
}

// clearError resets error deduplication after a healthy cycle, so the
// next distinct failure is reported again.
func (m *Monitor) clearError() {
	m.mu.Lock()
	m.lastErr = ""
	m.mu.Unlock()
}
