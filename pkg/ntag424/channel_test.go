package ntag424

import (
	"bytes"
	"errors"
	"testing"
)

// testChannel builds an AuthChannel directly from session literals, the way
// AuthenticateEV2First would.
func testChannel(t *testing.T, tr Transport, kencHex, kmacHex, tiHex string, ctr uint16) *AuthChannel {
	t.Helper()
	c := newAuthChannel(NewRawChannel(tr),
		mustHex(t, kencHex), mustHex(t, kmacHex), mustHex(t, tiHex))
	c.cmdCtr = ctr
	return c
}

// respMAC computes the MAC the tag appends to a MAC/FULL-mode response:
// CMAC(SesAuthMAC, SW2 || CmdCtr || TI || payload), truncated.
func respMAC(t *testing.T, c *AuthChannel, sw2 byte, ctr uint16, payload []byte) []byte {
	t.Helper()
	in := append([]byte{sw2, byte(ctr), byte(ctr >> 8)}, c.ti[:]...)
	in = append(in, payload...)
	cmac, err := aesCMAC(c.kmac[:], in)
	if err != nil {
		t.Fatalf("respMAC: %v", err)
	}
	return truncateMAC(cmac)
}

// AN12196 Table 26: IV synthesis from session key, TI and counter.
func TestCommandIVVector(t *testing.T) {
	c := testChannel(t, nil,
		"4CF3CB41A22583A61E89B158D252FC53",
		"5529860B2FC5FB6154B7F28361D30BF9",
		"7614281A", 0x0003)
	iv, err := c.commandIV()
	if err != nil {
		t.Fatalf("commandIV: %v", err)
	}
	if !bytes.Equal(iv, mustHex(t, "01602D579423B2797BE8B478B0B4D27B")) {
		t.Fatalf("IV: got % X", iv)
	}
}

// AN12196 Table 26: the complete master-key ChangeKey APDU, bit for bit.
func TestChangeKeyMasterAPDUVector(t *testing.T) {
	tr := &scriptTransport{t: t, replies: [][]byte{withSW(nil, SWOK)}}
	c := testChannel(t, tr,
		"4CF3CB41A22583A61E89B158D252FC53",
		"5529860B2FC5FB6154B7F28361D30BF9",
		"7614281A", 0x0003)

	newKey := mustHex(t, "5004BF991F408672B1EF00F08F9E8647")
	if err := c.ChangeKey(0, newKey, nil, 0x01); err != nil {
		t.Fatalf("ChangeKey: %v", err)
	}

	want := mustHex(t, "90C4000029"+
		"00"+
		"C0EB4DEEFEDDF0B513A03A95A75491818580503190D4D05053FF75668A01D6FD"+
		"A6610234BDED6432"+
		"00")
	if len(tr.calls) != 1 || !bytes.Equal(tr.calls[0], want) {
		t.Fatalf("APDU mismatch:\n got  % X\n want % X", tr.calls[0], want)
	}
}

// AN12196 Table 26: the ChangeKey MAC input and full CMAC.
func TestChangeKeyMACVector(t *testing.T) {
	c := testChannel(t, nil,
		"4CF3CB41A22583A61E89B158D252FC53",
		"5529860B2FC5FB6154B7F28361D30BF9",
		"7614281A", 0x0003)

	ct := mustHex(t, "C0EB4DEEFEDDF0B513A03A95A75491818580503190D4D05053FF75668A01D6FD")
	macIn := c.macInput(insChangeKey, c.cmdCtr, []byte{0x00}, ct)
	if len(macIn) != 40 {
		t.Fatalf("MAC input length %d, want 40", len(macIn))
	}
	if !bytes.Equal(macIn[:7], mustHex(t, "C403007614281A")) {
		t.Fatalf("MAC input prefix: % X", macIn[:7])
	}
	cmac, err := aesCMAC(c.kmac[:], macIn)
	if err != nil {
		t.Fatalf("cmac: %v", err)
	}
	if !bytes.Equal(cmac, mustHex(t, "B7A60161F202EC3489BD4BEDEF64BB32")) {
		t.Fatalf("full CMAC: got % X", cmac)
	}
}

// A successful master-key change poisons the channel: the next command
// fails locally and nothing further reaches the transport.
func TestMasterKeyChangePoisonsChannel(t *testing.T) {
	tr := &scriptTransport{t: t, replies: [][]byte{withSW(nil, SWOK)}}
	c := testChannel(t, tr,
		"4CF3CB41A22583A61E89B158D252FC53",
		"5529860B2FC5FB6154B7F28361D30BF9",
		"7614281A", 0x0000)

	newKey := mustHex(t, "5004BF991F408672B1EF00F08F9E8647")
	if err := c.ChangeKey(0, newKey, nil, 0x01); err != nil {
		t.Fatalf("ChangeKey(0): %v", err)
	}

	otherKey := mustHex(t, "00112233445566778899AABBCCDDEEFF")
	err := c.ChangeKey(1, otherKey, make([]byte, 16), 0x00)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, err := c.GetFileSettings(2); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("poisoned channel transmitted: %d calls", len(tr.calls))
	}
}

// A failed master-key change leaves the session alive and the counter
// untouched.
func TestFailedMasterKeyChangeDoesNotPoison(t *testing.T) {
	tr := &scriptTransport{t: t, replies: [][]byte{withSW(nil, SWAuthError)}}
	c := testChannel(t, tr,
		"4CF3CB41A22583A61E89B158D252FC53",
		"5529860B2FC5FB6154B7F28361D30BF9",
		"7614281A", 0x0002)

	err := c.ChangeKey(0, make([]byte, 16), nil, 0x00)
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if c.poisoned {
		t.Fatal("failure must not poison the channel")
	}
	if c.cmdCtr != 0x0002 {
		t.Fatalf("counter moved on failure: %d", c.cmdCtr)
	}
}

// Successive successful commands use counter values 0, 1, ..., N-1, and a
// failure leaves the counter where it was.
func TestCmdCtrDiscipline(t *testing.T) {
	c := testChannel(t, nil,
		"7A93D6571E4B180FCA6AC90C9A7488D4",
		"FC4AF159B62E549B5812394CAB1918CC",
		"DEADBEEF", 0x0000)

	tr := &scriptTransport{t: t}
	c.raw = NewRawChannel(tr)
	version := []byte{0x01}
	for i := uint16(0); i < 3; i++ {
		tr.replies = append(tr.replies, withSW(append(append([]byte{}, version...), respMAC(t, c, 0x00, i+1, version)...), SWOK))
	}
	tr.replies = append(tr.replies, withSW(nil, SWPermissionDenied))

	for i := uint16(0); i < 3; i++ {
		if c.cmdCtr != i {
			t.Fatalf("counter before command %d: %d", i, c.cmdCtr)
		}
		v, err := c.GetKeyVersion(2)
		if err != nil {
			t.Fatalf("GetKeyVersion #%d: %v", i, err)
		}
		if v != 0x01 {
			t.Fatalf("version: %02X", v)
		}

		// The client MAC in the transmitted frame must be computed over the
		// counter value in effect before the command.
		apdu := tr.calls[len(tr.calls)-1]
		macIn := c.macInput(insGetKeyVersion, i, []byte{0x02}, nil)
		cmac, err := aesCMAC(c.kmac[:], macIn)
		if err != nil {
			t.Fatalf("cmac: %v", err)
		}
		if !bytes.Equal(apdu[6:14], truncateMAC(cmac)) {
			t.Fatalf("command #%d MACed with wrong counter", i)
		}
	}

	if _, err := c.GetKeyVersion(2); !IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if c.cmdCtr != 3 {
		t.Fatalf("counter after failure: %d, want 3", c.cmdCtr)
	}
}

// A response whose MAC does not verify is an integrity failure; the counter
// must not advance.
func TestResponseMACTamper(t *testing.T) {
	c := testChannel(t, nil,
		"7A93D6571E4B180FCA6AC90C9A7488D4",
		"FC4AF159B62E549B5812394CAB1918CC",
		"A1B2C3D4", 0x0000)

	payload := []byte{0x07}
	mac := respMAC(t, c, 0x00, 1, payload)
	mac[0] ^= 0x01
	tr := &scriptTransport{t: t, replies: [][]byte{withSW(append(payload, mac...), SWOK)}}
	c.raw = NewRawChannel(tr)

	_, err := c.GetKeyVersion(1)
	if !errors.Is(err, ErrResponseMAC) {
		t.Fatalf("expected ErrResponseMAC, got %v", err)
	}
	if c.cmdCtr != 0 {
		t.Fatalf("counter moved on MAC failure: %d", c.cmdCtr)
	}
}

// FULL-mode responses are decrypted with the response IV (label 5A A5,
// counter already advanced) and unpadded.
func TestFullModeResponseDecrypt(t *testing.T) {
	c := testChannel(t, nil,
		"7A93D6571E4B180FCA6AC90C9A7488D4",
		"FC4AF159B62E549B5812394CAB1918CC",
		"11223344", 0x0000)

	plain := []byte("file contents!")
	padded := padMethod2(plain)

	ivIn := make([]byte, 16)
	ivIn[0], ivIn[1] = 0x5A, 0xA5
	copy(ivIn[2:6], c.ti[:])
	ivIn[6] = 0x01 // counter after this command
	iv, err := aesECBEncrypt(c.kenc[:], ivIn)
	if err != nil {
		t.Fatalf("iv: %v", err)
	}
	enc, err := aesCBCEncrypt(c.kenc[:], iv, padded)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	body := append(append([]byte{}, enc...), respMAC(t, c, 0x00, 1, enc)...)

	tr := &scriptTransport{t: t, replies: [][]byte{withSW(body, SWOK)}}
	c.raw = NewRawChannel(tr)

	got, err := c.ReadData(3, 0, len(plain), CommModeFull)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decrypted payload: %q", got)
	}
	if c.cmdCtr != 1 {
		t.Fatalf("counter: %d", c.cmdCtr)
	}

	// Header is MACed in plaintext: FileNo || Offset(3) || Length(3).
	apdu := tr.calls[0]
	if !bytes.Equal(apdu[5:12], mustHex(t, "03000000"+"0E0000")) {
		t.Fatalf("header: % X", apdu[5:12])
	}
}

func TestCloseZeroesKeysAndFailsLocally(t *testing.T) {
	tr := &scriptTransport{t: t}
	c := testChannel(t, tr,
		"4CF3CB41A22583A61E89B158D252FC53",
		"5529860B2FC5FB6154B7F28361D30BF9",
		"7614281A", 0x0000)

	c.Close()
	if c.kenc != [16]byte{} || c.kmac != [16]byte{} {
		t.Fatal("session keys not zeroed on Close")
	}
	if _, err := c.GetFileSettings(2); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Fatal("closed channel transmitted")
	}
	c.Close() // idempotent
}

func TestEncryptAndMACRequiresAlignment(t *testing.T) {
	c := testChannel(t, nil,
		"4CF3CB41A22583A61E89B158D252FC53",
		"5529860B2FC5FB6154B7F28361D30BF9",
		"7614281A", 0x0000)
	if _, _, err := c.encryptAndMAC(insChangeKey, []byte{0x00}, make([]byte, 17)); err == nil {
		t.Fatal("expected alignment error")
	}
}
