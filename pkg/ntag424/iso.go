package ntag424

import (
	"encoding/hex"
	"fmt"
	"log/slog"
)

const (
	ccFileID   = 0xE103
	ndefFileID = 0xE104
	ndefAppAID = "D2760000850101"
)

// SelectNDEFApp selects the NFC Forum NDEF application (AID D2760000850101)
// via ISO SELECT FILE by DF name.
//
// CRITICAL: this INVALIDATES any active authentication session. Always
// select BEFORE authenticating, or re-authenticate after selecting.
func (c *RawChannel) SelectNDEFApp() error {
	aid, _ := hex.DecodeString(ndefAppAID)
	apdu := buildAPDU(claISO, insISOSelectFile, 0x04, 0x00, aid, true)
	_, sw, err := c.transmit(apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return statusError(insISOSelectFile, sw)
	}
	return nil
}

// SelectFile selects a file by its 16-bit ID using ISO 7816 SELECT FILE.
//
// Common file IDs:
//   - 0xE103: CC (Capability Container)
//   - 0xE104: NDEF file
//   - 0xE105: Proprietary data file
//
// CRITICAL: this INVALIDATES any active authentication session.
func (c *RawChannel) SelectFile(fileID uint16) error {
	apdu := []byte{claISO, insISOSelectFile, 0x00, 0x0C, 0x02, byte(fileID >> 8), byte(fileID)}
	_, sw, err := c.transmit(apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return statusError(insISOSelectFile, sw)
	}
	return nil
}

// ReadBinary reads from the currently selected file using ISO READ BINARY
// (INS 0xB0). If the tag answers SW=6Cxx the read is retried once with the
// corrected Le.
//
// ISO READ BINARY cannot carry secure messaging; if the file's read access
// is not free, use ReadData on an authenticated channel instead.
func (c *RawChannel) ReadBinary(offset uint16, le byte) ([]byte, error) {
	apdu := []byte{claISO, insISOReadBinary, byte(offset >> 8), byte(offset), le}
	data, sw, err := c.transmit(apdu)
	if err != nil {
		return nil, err
	}

	if (sw & 0xFF00) == SWWrongLe {
		correctLe := byte(sw)
		slog.Warn("wrong Le, retrying", "original_le", le, "correct_le", correctLe)
		apdu[4] = correctLe
		data, sw, err = c.transmit(apdu)
		if err != nil {
			return nil, err
		}
	}

	if !SwOK(sw) {
		return nil, statusError(insISOReadBinary, sw)
	}
	return data, nil
}

// UpdateBinary writes to the currently selected file using ISO UPDATE
// BINARY (INS 0xD6), chunking at 255 bytes per frame. Usable without
// authentication while the file's write access is free.
func (c *RawChannel) UpdateBinary(offset uint16, data []byte) error {
	pos := 0
	for pos < len(data) {
		chunk := len(data) - pos
		if chunk > 0xFF {
			chunk = 0xFF
		}
		off := int(offset) + pos
		apdu := make([]byte, 0, 5+chunk)
		apdu = append(apdu, claISO, insISOUpdateBinary, byte(off>>8), byte(off), byte(chunk))
		apdu = append(apdu, data[pos:pos+chunk]...)

		_, sw, err := c.transmit(apdu)
		if err != nil {
			return err
		}
		if !SwOK(sw) {
			return statusError(insISOUpdateBinary, sw)
		}
		pos += chunk
	}
	return nil
}

// WriteNDEF selects the NDEF application and file, then writes the NDEF
// message (including its NLEN header) with UpdateBinary. Requires free
// write access on the NDEF file.
func (c *RawChannel) WriteNDEF(data []byte) error {
	if err := c.SelectNDEFApp(); err != nil {
		return err
	}
	if err := c.SelectFile(ndefFileID); err != nil {
		return err
	}
	return c.UpdateBinary(0x0000, data)
}

// WriteNDEFSelected writes NDEF data without re-selecting the NDEF
// application, for callers that have already selected it. It still selects
// the NDEF file with SelectFile, so any active authentication session ends.
func (c *RawChannel) WriteNDEFSelected(data []byte) error {
	if err := c.SelectFile(ndefFileID); err != nil {
		return err
	}
	return c.UpdateBinary(0x0000, data)
}

// ReadCCFile reads the Capability Container file (ID 0xE103).
func (c *RawChannel) ReadCCFile() ([]byte, error) {
	if err := c.SelectNDEFApp(); err != nil {
		return nil, err
	}
	if err := c.SelectFile(ccFileID); err != nil {
		return nil, err
	}
	return c.ReadBinary(0x0000, 0x20)
}

// ReadNDEF reads the complete NDEF message from the NDEF file.
//
// Steps:
//  1. Select NDEF application
//  2. Select CC file and read it to get the NDEF file ID
//  3. Select the NDEF file
//  4. Read NLEN (2-byte big-endian length header)
//  5. Read the message in 255-byte chunks
//
// Returns the message without the NLEN header.
func (c *RawChannel) ReadNDEF() ([]byte, error) {
	if err := c.SelectNDEFApp(); err != nil {
		return nil, err
	}

	if err := c.SelectFile(ccFileID); err != nil {
		return nil, err
	}
	cc, err := c.ReadBinary(0x0000, 0x0F)
	if err != nil {
		return nil, err
	}
	if len(cc) < 15 {
		return nil, fmt.Errorf("CC file too short")
	}

	// Extract the NDEF file ID from the CC's file-control TLV (default 0xE104).
	fileID := uint16(ndefFileID)
	if cc[7] == 0x04 && cc[8] >= 6 {
		fileID = uint16(cc[9])<<8 | uint16(cc[10])
	}

	if err := c.SelectFile(fileID); err != nil {
		return nil, err
	}

	nlenBytes, err := c.ReadBinary(0x0000, 0x02)
	if err != nil {
		return nil, err
	}
	if len(nlenBytes) < 2 {
		return nil, fmt.Errorf("NLEN read too short")
	}
	nlen := int(nlenBytes[0])<<8 | int(nlenBytes[1])
	if nlen == 0 {
		return []byte{}, nil
	}

	ndef := make([]byte, 0, nlen)
	offset := 2 // skip NLEN header
	remaining := nlen
	for remaining > 0 {
		chunk := remaining
		if chunk > 0xFF {
			chunk = 0xFF
		}
		part, err := c.ReadBinary(uint16(offset), byte(chunk))
		if err != nil {
			return nil, err
		}
		if len(part) == 0 {
			break
		}
		ndef = append(ndef, part...)
		offset += len(part)
		remaining -= len(part)
	}
	return ndef, nil
}
