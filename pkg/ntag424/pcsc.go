package ntag424

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ebfe/scard"
)

// Reader is the production PC/SC transport: one reader, one card, exactly
// the surface Transport needs. Tests substitute their own Transport.
type Reader struct {
	ctx  *scard.Context
	card *scard.Card
	name string
}

// OpenReader connects to the card in the selected reader. The selector is
// either a 0-based reader index ("0", "1", ...) or a case-insensitive
// substring of the reader name ("ACR122"); empty selects the first reader.
func OpenReader(selector string) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("PC/SC context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no PC/SC readers available: %v", err)
	}
	name, err := resolveReader(readers, selector)
	if err != nil {
		ctx.Release()
		return nil, err
	}

	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect to %q: %w", name, err)
	}

	return &Reader{ctx: ctx, card: card, name: name}, nil
}

// resolveReader picks a reader by index or by name substring.
func resolveReader(readers []string, selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return readers[0], nil
	}
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx < 0 || idx >= len(readers) {
			return "", fmt.Errorf("reader index %d out of range (0..%d)", idx, len(readers)-1)
		}
		return readers[idx], nil
	}
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), strings.ToLower(selector)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("no reader matching %q (have %s)", selector, strings.Join(readers, ", "))
}

// Name returns the resolved PC/SC reader name.
func (r *Reader) Name() string {
	return r.name
}

// Close disconnects the card and releases the PC/SC context.
func (r *Reader) Close() {
	if r == nil {
		return
	}
	if r.card != nil {
		_ = r.card.Disconnect(scard.LeaveCard)
	}
	if r.ctx != nil {
		_ = r.ctx.Release()
	}
}

// Transmit sends an APDU to the card (implements Transport).
func (r *Reader) Transmit(apdu []byte) ([]byte, error) {
	if r == nil || r.card == nil {
		return nil, fmt.Errorf("reader not open")
	}
	return r.card.Transmit(apdu)
}

// GetUID retrieves the card UID via the reader's GET DATA escape command
// (FF CA 00 00), trying the wildcard Le first.
func (c *RawChannel) GetUID() ([]byte, error) {
	for _, le := range []byte{0x00, 0x04} {
		apdu := []byte{0xFF, 0xCA, 0x00, 0x00, le}
		data, sw, err := c.transmit(apdu)
		if err == nil && SwOK(sw) && len(data) > 0 {
			return data, nil
		}
	}
	return nil, fmt.Errorf("UID not available via GET DATA")
}
