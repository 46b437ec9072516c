package nfc

import (
	"github.com/ebfe/scard"
)

// SCardFactory opens contexts against the platform PC/SC daemon
// (pcscd on Linux, the built-in service on macOS and Windows).
func SCardFactory() (Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return &scardContext{ctx: ctx}, nil
}

type scardContext struct {
	ctx *scard.Context
}

func (c *scardContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c *scardContext) Connect(reader string) (Card, error) {
	card, err := c.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, err
	}
	return &scardCard{card: card}, nil
}

func (c *scardContext) Release() error {
	return c.ctx.Release()
}

type scardCard struct {
	card *scard.Card
}

func (c *scardCard) Transmit(apdu []byte) ([]byte, error) {
	return c.card.Transmit(apdu)
}

func (c *scardCard) Disconnect() error {
	return c.card.Disconnect(scard.LeaveCard)
}
