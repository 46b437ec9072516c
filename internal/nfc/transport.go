package nfc

// Context is the slice of a PC/SC context this package needs: enumerate
// readers, open a card in a reader's field, and release the context.
type Context interface {
	// ListReaders returns the names of attached smartcard readers.
	ListReaders() ([]string, error)

	// Connect opens the card currently in the named reader's field.
	// It fails when the field is empty.
	Connect(reader string) (Card, error)

	// Release frees the context. The context is unusable afterwards.
	Release() error
}

// Card is one connected tag, addressed with raw APDUs.
type Card interface {
	// Transmit sends a command APDU and returns the full response,
	// status trailer included.
	Transmit(apdu []byte) ([]byte, error)

	// Disconnect closes the card handle, leaving the tag as-is.
	Disconnect() error
}

// ContextFactory opens a transport context. The monitor calls it whenever
// it needs to (re-)establish contact with the smartcard subsystem, so a
// factory must be safe to call repeatedly.
type ContextFactory func() (Context, error)
