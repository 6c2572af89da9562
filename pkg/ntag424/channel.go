package ntag424

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// CommMode is the per-file protection mode, as encoded in bits 1:0 of the
// FileOption byte.
type CommMode byte

const (
	CommModePlain CommMode = 0x00 // no protection
	CommModeMAC   CommMode = 0x01 // plaintext data, MACed frames
	CommModeFull  CommMode = 0x03 // encrypted data, MACed frames
)

// AuthChannel is an authenticated EV2 secure messaging channel. It owns the
// session state (session keys, transaction identifier, command counter) and
// is the only way to issue authenticated commands. AuthenticateEV2First is
// its sole constructor.
//
// The channel is single-owner and not safe for concurrent use. Close zeroes
// the session keys; callers should defer it as soon as they hold a channel.
type AuthChannel struct {
	raw      *RawChannel
	kenc     [16]byte
	kmac     [16]byte
	ti       [4]byte
	cmdCtr   uint16
	poisoned bool
	closed   bool
}

func newAuthChannel(raw *RawChannel, kenc, kmac, ti []byte) *AuthChannel {
	c := &AuthChannel{raw: raw}
	copy(c.kenc[:], kenc)
	copy(c.kmac[:], kmac)
	copy(c.ti[:], ti)
	return c
}

// Raw returns the underlying plaintext channel. The raw channel stays valid
// after the session ends; the reverse direction (minting an AuthChannel from
// a RawChannel) goes through authentication only.
func (c *AuthChannel) Raw() *RawChannel {
	return c.raw
}

// Close invalidates the channel and zeroes the session keys. Safe to call
// more than once.
func (c *AuthChannel) Close() {
	if c == nil || c.closed {
		return
	}
	for i := range c.kenc {
		c.kenc[i] = 0
		c.kmac[i] = 0
	}
	c.closed = true
}

// usable gates every authenticated command. A poisoned or closed channel
// fails locally; nothing is transmitted.
func (c *AuthChannel) usable() error {
	if c == nil || c.closed || c.poisoned {
		return ErrSessionExpired
	}
	return nil
}

// commandIV derives the encryption IV for the current command:
// E(SesAuthENC, A5 5A || TI || CmdCtr(2 LE) || 00*8). Binding the IV to the
// session and counter keeps ciphertexts unique without sending the IV.
func (c *AuthChannel) commandIV() ([]byte, error) {
	return c.sessionIV(0xA5, 0x5A, c.cmdCtr)
}

// responseIV derives the decryption IV for the matching response, which the
// tag computes with the swapped label and the already-advanced counter.
func (c *AuthChannel) responseIV() ([]byte, error) {
	return c.sessionIV(0x5A, 0xA5, c.cmdCtr+1)
}

func (c *AuthChannel) sessionIV(label0, label1 byte, ctr uint16) ([]byte, error) {
	in := make([]byte, 16)
	in[0] = label0
	in[1] = label1
	copy(in[2:6], c.ti[:])
	in[6] = byte(ctr)
	in[7] = byte(ctr >> 8)
	return aesECBEncrypt(c.kenc[:], in)
}

// macInput assembles Cmd(1) || CmdCtr(2 LE) || TI(4) || Header || Tail,
// where Tail is the ciphertext in FULL mode and the plaintext in MAC mode.
func (c *AuthChannel) macInput(ins byte, ctr uint16, header, tail []byte) []byte {
	in := make([]byte, 0, 7+len(header)+len(tail))
	in = append(in, ins)
	in = append(in, byte(ctr), byte(ctr>>8))
	in = append(in, c.ti[:]...)
	in = append(in, header...)
	in = append(in, tail...)
	return in
}

// encryptAndMAC is the FULL-mode primitive: CBC-encrypt the plaintext under
// the command IV and MAC the frame. The plaintext must already be padded to
// a 16-byte multiple (the payload builders pre-pad); an empty plaintext is
// allowed and yields a MAC-only frame with an encrypted response.
func (c *AuthChannel) encryptAndMAC(ins byte, header, plaintext []byte) (enc, mac8 []byte, err error) {
	if len(plaintext)%16 != 0 {
		return nil, nil, fmt.Errorf("secure payload not block aligned (len=%d)", len(plaintext))
	}
	enc = []byte{}
	if len(plaintext) > 0 {
		iv, err := c.commandIV()
		if err != nil {
			return nil, nil, err
		}
		enc, err = aesCBCEncrypt(c.kenc[:], iv, plaintext)
		if err != nil {
			return nil, nil, err
		}
	}
	cmac, err := aesCMAC(c.kmac[:], c.macInput(ins, c.cmdCtr, header, enc))
	if err != nil {
		return nil, nil, err
	}
	return enc, truncateMAC(cmac), nil
}

// macOnly is the MAC-mode primitive: the data stays in plaintext and only
// the frame MAC is added.
func (c *AuthChannel) macOnly(ins byte, header, plaintext []byte) ([]byte, error) {
	cmac, err := aesCMAC(c.kmac[:], c.macInput(ins, c.cmdCtr, header, plaintext))
	if err != nil {
		return nil, err
	}
	return truncateMAC(cmac), nil
}

// verifyResponse checks the trailing 8-byte MAC of a MAC- or FULL-mode
// response against CMAC(SesAuthMAC, SW2 || CmdCtr+1 || TI || payload) and
// returns the payload. The counter has not been advanced yet; verification
// uses the value the tag already counted.
func (c *AuthChannel) verifyResponse(ins byte, sw uint16, body []byte) ([]byte, error) {
	if len(body) < 8 {
		return nil, &ProtocolError{INS: ins, Msg: fmt.Sprintf("response too short for MAC (len=%d)", len(body))}
	}
	payload := body[:len(body)-8]
	respMAC := body[len(body)-8:]

	ctr := c.cmdCtr + 1
	in := make([]byte, 0, 7+len(payload))
	in = append(in, byte(sw))
	in = append(in, byte(ctr), byte(ctr>>8))
	in = append(in, c.ti[:]...)
	in = append(in, payload...)

	cmac, err := aesCMAC(c.kmac[:], in)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(respMAC, truncateMAC(cmac)) {
		return nil, ErrResponseMAC
	}
	return payload, nil
}

// commit advances the session after a verified success. Changing key 0
// terminates the session on the tag side, so instead of advancing the
// counter the channel poisons itself; the caller must re-authenticate with
// the new master key.
func (c *AuthChannel) commit(ins byte, header []byte) {
	if ins == insChangeKey && len(header) >= 1 && header[0] == 0x00 {
		c.poisoned = true
		return
	}
	c.cmdCtr++
}

// executeSecure runs one authenticated command round-trip in the given mode:
// build frame, transmit, verify the response MAC, decrypt if FULL, commit.
// Any failure leaves the command counter untouched.
func (c *AuthChannel) executeSecure(ins byte, header, data []byte, mode CommMode) ([]byte, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	var wire []byte // header || data-or-ciphertext || MAC
	switch mode {
	case CommModeFull:
		enc, mac8, err := c.encryptAndMAC(ins, header, data)
		if err != nil {
			return nil, err
		}
		wire = append(append(append([]byte{}, header...), enc...), mac8...)
	case CommModeMAC:
		mac8, err := c.macOnly(ins, header, data)
		if err != nil {
			return nil, err
		}
		wire = append(append(append([]byte{}, header...), data...), mac8...)
	default:
		return nil, fmt.Errorf("comm mode 0x%02X is not a secure mode", byte(mode))
	}
	if len(wire) > 255 {
		return nil, fmt.Errorf("APDU data too long (len=%d)", len(wire))
	}

	apdu := buildAPDU(claNative, ins, 0x00, 0x00, wire, true)
	slog.Debug("secure messaging",
		"ins", fmt.Sprintf("0x%02X", ins),
		"mode", fmt.Sprintf("0x%02X", byte(mode)),
		"ctr", c.cmdCtr,
		"apdu", strings.ToUpper(hex.EncodeToString(apdu)))

	body, sw, err := c.raw.transmit(apdu)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, statusError(ins, sw)
	}

	payload, err := c.verifyResponse(ins, sw, body)
	if err != nil {
		return nil, err
	}

	if mode == CommModeFull && len(payload) > 0 {
		iv, err := c.responseIV()
		if err != nil {
			return nil, err
		}
		dec, err := aesCBCDecrypt(c.kenc[:], iv, payload)
		if err != nil {
			return nil, err
		}
		payload, err = unpadMethod2(dec)
		if err != nil {
			return nil, err
		}
	}

	c.commit(ins, header)
	return payload, nil
}

// executeFullStatusOnly runs a FULL-mode command whose success response is
// status-only, with no MAC to verify. The only such command is ChangeKey on
// the authenticated master key; success poisons the channel via commit.
func (c *AuthChannel) executeFullStatusOnly(ins byte, header, data []byte) error {
	if err := c.usable(); err != nil {
		return err
	}

	enc, mac8, err := c.encryptAndMAC(ins, header, data)
	if err != nil {
		return err
	}
	wire := append(append(append([]byte{}, header...), enc...), mac8...)
	if len(wire) > 255 {
		return fmt.Errorf("APDU data too long (len=%d)", len(wire))
	}

	apdu := buildAPDU(claNative, ins, 0x00, 0x00, wire, true)
	slog.Debug("secure messaging (status-only response)",
		"ins", fmt.Sprintf("0x%02X", ins),
		"ctr", c.cmdCtr,
		"apdu", strings.ToUpper(hex.EncodeToString(apdu)))

	_, sw, err := c.raw.transmit(apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return statusError(ins, sw)
	}

	c.commit(ins, header)
	return nil
}
