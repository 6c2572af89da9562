package ntag424

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// AuthError represents an authentication failure at a specific step.
type AuthError struct {
	Step    string // "step1" or "step2"
	SW      uint16 // Status word (if applicable)
	RespLen int    // Response length (if applicable)
	Cause   error  // Underlying error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("auth %s failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("auth %s failed (SW=%04X len=%d)", e.Step, e.SW, e.RespLen)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyAuthError extracts details from an AuthError.
func ClassifyAuthError(err error) (step string, sw uint16, respLen int, ok bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Step, authErr.SW, authErr.RespLen, true
	}
	return "", 0, 0, false
}

// AuthenticateEV2First runs the two-phase EV2 mutual authentication against
// the given key slot and, on success, returns the authenticated channel for
// that session. This is the only constructor of AuthChannel.
//
// Phase 1 sends the key number, receives E(RndB) and decrypts it. Phase 2
// answers with E(RndA || RndB<<1), receives E(TI || RndA' || PDcap2 ||
// PCDcap2) and requires RndA' == RndA<<1 exactly. Session keys are then
// derived from RndA and RndB and the channel starts with CmdCtr = 0.
//
// On any failure the raw channel is returned to the caller unaltered and no
// session exists. SW=91AD means the tag's failed-authentication delay is
// active; callers must wait rather than retry (see IsAuthDelay).
//
// Environment variables for testing:
//   - NTAG_RNDA: 32-character hex string to override random RndA generation
func (c *RawChannel) AuthenticateEV2First(key []byte, keyNo byte) (*AuthChannel, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("key must be 16 bytes, got %d", len(key))
	}

	// Phase 1: send keyNo plus a zero PCDcap2 length, expect E(RndB).
	apdu1 := buildAPDU(claNative, insAuthenticateEV2First, 0x00, 0x00, []byte{keyNo, 0x00}, true)
	resp1, sw, err := c.transmit(apdu1)
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}
	if sw != SWMoreData || len(resp1) != 16 {
		return nil, &AuthError{Step: "step1", SW: sw, RespLen: len(resp1)}
	}

	iv0 := make([]byte, 16)
	rndB, err := aesCBCDecrypt(key, iv0, resp1)
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}

	rndA, err := drawRndA()
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}

	// Phase 2: send E(RndA || RndB'), expect E(TI || RndA' || PDcap2 || PCDcap2).
	rndAB := append(append([]byte{}, rndA...), rotateLeft1(rndB)...)
	rndABEnc, err := aesCBCEncrypt(key, iv0, rndAB)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}

	apdu2 := buildAPDU(claNative, insAdditionalFrame, 0x00, 0x00, rndABEnc, true)
	resp2, sw, err := c.transmit(apdu2)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}
	if !SwOK(sw) || len(resp2) != 32 {
		return nil, &AuthError{Step: "step2", SW: sw, RespLen: len(resp2)}
	}

	dec, err := aesCBCDecrypt(key, iv0, resp2)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}

	ti := dec[0:4]
	rndARot := dec[4:20]
	if !bytes.Equal(rndARot, rotateLeft1(rndA)) {
		return nil, &AuthError{Step: "step2", Cause: errors.New("rndA check failed")}
	}

	kenc, kmac, err := deriveSessionKeys(key, rndA, rndB)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}

	slog.Debug("session established",
		"key_no", keyNo,
		"ti", strings.ToUpper(hex.EncodeToString(ti)),
		"pdcap2", strings.ToUpper(hex.EncodeToString(dec[20:26])),
		"kenc", strings.ToUpper(hex.EncodeToString(kenc)),
		"kmac", strings.ToUpper(hex.EncodeToString(kmac)))

	return newAuthChannel(c, kenc, kmac, ti), nil
}

// drawRndA draws the PCD nonce from crypto/rand, honouring the NTAG_RNDA
// override used by deterministic tests.
func drawRndA() ([]byte, error) {
	if rndAHex := os.Getenv("NTAG_RNDA"); len(rndAHex) == 32 {
		if b, err := hex.DecodeString(rndAHex); err == nil && len(b) == 16 {
			return b, nil
		}
	}
	rndA := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, rndA); err != nil {
		return nil, err
	}
	return rndA, nil
}

// AuthenticateWithFallback attempts authentication with multiple key/slot
// combinations, in order:
//  1. Provided key with keyNo
//  2. Provided key with altKeyNo (if different)
//  3. Provided key with slot 0 (if neither keyNo nor altKeyNo is 0)
//  4. All-zero key with slot 0 (if provided key is not all-zero)
//
// Returns (channel, effective_key, effective_keyNo, error). An
// authentication-delay status aborts the ladder immediately; retrying other
// slots would only extend the tag's delay.
func (c *RawChannel) AuthenticateWithFallback(key []byte, keyNo byte, altKeyNo byte) (*AuthChannel, []byte, byte, error) {
	type attempt struct {
		key   []byte
		keyNo byte
		label string
	}
	attempts := []attempt{
		{key: key, keyNo: keyNo, label: fmt.Sprintf("keyno %d (provided)", keyNo)},
	}
	if altKeyNo != keyNo {
		attempts = append(attempts, attempt{key: key, keyNo: altKeyNo, label: fmt.Sprintf("keyno %d (sdm-keyno)", altKeyNo)})
	}
	if keyNo != 0 && altKeyNo != 0 {
		attempts = append(attempts, attempt{key: key, keyNo: 0, label: "keyno 0 (same key)"})
	}
	if !isAllZero(key) {
		attempts = append(attempts, attempt{key: make([]byte, 16), keyNo: 0, label: "keyno 0 (all-zero fallback)"})
	}

	var lastErr error
	for i, a := range attempts {
		ch, err := c.AuthenticateEV2First(a.key, a.keyNo)
		if err == nil {
			slog.Info("authenticated", "method", a.label)
			return ch, a.key, a.keyNo, nil
		}
		if IsAuthDelay(err) {
			return nil, nil, 0, err
		}
		if i > 0 {
			slog.Warn("auth attempt failed", "method", a.label, "error", err)
		}
		lastErr = err
	}
	return nil, nil, 0, lastErr
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
