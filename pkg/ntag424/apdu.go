package ntag424

import (
	"fmt"
)

// Transport abstracts the reader link for real PC/SC cards and test doubles.
// Implementations must pass the APDU bytes through unmodified and return the
// full response including the two trailing status bytes.
type Transport interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Instruction bytes of the native command set and the ISO wrappers.
const (
	insSelectApplication    = 0x5A
	insGetVersion           = 0x60
	insGetKeyVersion        = 0x64
	insGetFileIDs           = 0x6F
	insGetFileSettings      = 0xF5
	insAuthenticateEV2First = 0x71
	insAdditionalFrame      = 0xAF
	insChangeKey            = 0xC4
	insChangeFileSettings   = 0x5F
	insWriteData            = 0x3D
	insReadData             = 0xAD

	insISOSelectFile   = 0xA4
	insISOReadBinary   = 0xB0
	insISOUpdateBinary = 0xD6
)

const (
	claNative = 0x90
	claISO    = 0x00
)

// RawChannel frames commands onto a transport it exclusively owns. It issues
// plaintext commands only; authenticated commands require the AuthChannel
// produced by AuthenticateEV2First.
type RawChannel struct {
	tr Transport
}

// NewRawChannel wraps a transport in a channel. The channel assumes sole
// ownership: one in-flight command at a time.
func NewRawChannel(tr Transport) *RawChannel {
	return &RawChannel{tr: tr}
}

// buildAPDU serializes CLA INS P1 P2 [Lc data] [Le].
func buildAPDU(cla, ins, p1, p2 byte, data []byte, le bool) []byte {
	apdu := make([]byte, 0, 6+len(data))
	apdu = append(apdu, cla, ins, p1, p2)
	if len(data) > 0 {
		apdu = append(apdu, byte(len(data)))
		apdu = append(apdu, data...)
	}
	if le {
		apdu = append(apdu, 0x00)
	}
	return apdu
}

// transmit sends one APDU and splits the response into body and status word.
func (c *RawChannel) transmit(apdu []byte) ([]byte, uint16, error) {
	resp, err := c.tr.Transmit(apdu)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: %w", err)
	}
	if len(resp) < 2 {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("short response: %d bytes", len(resp))}
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

// chainedResponseINS lists the commands whose responses the tag may split
// across additional frames signalled by SW=91AF.
func chainedResponseINS(ins byte) bool {
	switch ins {
	case insGetVersion, insGetFileSettings, insGetFileIDs:
		return true
	}
	return false
}

// execute sends a native command and returns the response body on success.
// For chained-response commands it requests additional frames with
// 90 AF 00 00 00 and concatenates the bodies until a terminal status.
func (c *RawChannel) execute(ins byte, apdu []byte) ([]byte, error) {
	body, sw, err := c.transmit(apdu)
	if err != nil {
		return nil, err
	}

	if sw == SWMoreData && chainedResponseINS(ins) {
		out := append([]byte{}, body...)
		for sw == SWMoreData {
			more := buildAPDU(claNative, insAdditionalFrame, 0x00, 0x00, nil, true)
			body, sw, err = c.transmit(more)
			if err != nil {
				return nil, err
			}
			out = append(out, body...)
		}
		if !SwOK(sw) {
			return nil, statusError(ins, sw)
		}
		return out, nil
	}

	if !SwOK(sw) {
		return nil, statusError(ins, sw)
	}
	return body, nil
}
