package nfc

import "fmt"

// ACR122U-class pseudo-APDUs for NTAG21x tags. The reader translates
// these into the tag's native commands; every response carries a two-byte
// status trailer, 90 00 on success.
const (
	pageSize      = 4
	userPageStart = 4 // pages 0-3 hold UID, lock bits, and capability data
)

func uidAPDU() []byte {
	return []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
}

func readPageAPDU(page byte) []byte {
	return []byte{0xFF, 0xB0, 0x00, page, pageSize}
}

func writePageAPDU(page byte, data []byte) []byte {
	apdu := []byte{0xFF, 0xD6, 0x00, page, pageSize}
	return append(apdu, data...)
}

// checkTrailer splits a response into payload and status trailer and
// fails unless the trailer reports success.
func checkTrailer(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("response too short (%d bytes)", len(resp))
	}
	payload, sw1, sw2 := resp[:len(resp)-2], resp[len(resp)-2], resp[len(resp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("reader reported status %02X %02X", sw1, sw2)
	}
	return payload, nil
}

// readUID asks the reader for the UID of the card in its field.
func readUID(card Card) ([]byte, error) {
	resp, err := card.Transmit(uidAPDU())
	if err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	uid, err := checkTrailer(resp)
	if err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	if len(uid) == 0 {
		return nil, fmt.Errorf("uid: empty response")
	}
	return uid, nil
}

// readPage reads one 4-byte page.
func readPage(card Card, page byte) ([]byte, error) {
	resp, err := card.Transmit(readPageAPDU(page))
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	data, err := checkTrailer(resp)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	if len(data) < pageSize {
		return nil, fmt.Errorf("page %d: short read (%d bytes)", page, len(data))
	}
	return data[:pageSize], nil
}

// writePage writes one 4-byte page and verifies the status trailer.
func writePage(card Card, page byte, data []byte) error {
	resp, err := card.Transmit(writePageAPDU(page, data))
	if err != nil {
		return fmt.Errorf("page %d: %w", page, err)
	}
	if _, err := checkTrailer(resp); err != nil {
		return fmt.Errorf("page %d: %w", page, err)
	}
	return nil
}

// readUserMemory reads n bytes of user memory, starting at the first
// user page.
func readUserMemory(card Card, n int) ([]byte, error) {
	data := make([]byte, 0, n)
	pages := (n + pageSize - 1) / pageSize
	for i := 0; i < pages; i++ {
		page, err := readPage(card, byte(userPageStart+i))
		if err != nil {
			return nil, err
		}
		data = append(data, page...)
	}
	return data[:n], nil
}

// writeUserMemory writes data into user memory page by page, starting at
// the first user page. A partial final page is zero-padded. Each page
// write is individually status-checked; the first failure aborts the
// remainder, leaving the tag partially written.
func writeUserMemory(card Card, data []byte) error {
	for offset := 0; offset < len(data); offset += pageSize {
		page := make([]byte, pageSize)
		copy(page, data[offset:])
		if err := writePage(card, byte(userPageStart+offset/pageSize), page); err != nil {
			return err
		}
	}
	return nil
}
