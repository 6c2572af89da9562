package ntag424

import (
	"bytes"
	"testing"
)

func TestReadDataPlainFraming(t *testing.T) {
	tr := &scriptTransport{t: t, replies: [][]byte{withSW([]byte("hello"), SWOK)}}
	c := NewRawChannel(tr)

	data, err := c.ReadData(2, 0x10, 5)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data: %q", data)
	}
	if !bytes.Equal(tr.calls[0], mustHex(t, "90AD000007"+"02"+"100000"+"050000"+"00")) {
		t.Fatalf("APDU: % X", tr.calls[0])
	}
}

func TestReadDataRangeChecks(t *testing.T) {
	c := NewRawChannel(&scriptTransport{t: t})
	if _, err := c.ReadData(2, -1, 5); err == nil {
		t.Fatal("expected offset range error")
	}
	if _, err := c.ReadData(2, 0, 0x1000000); err == nil {
		t.Fatal("expected length range error")
	}
}

// Large writes split into 52-byte chunks; each chunk is an independent
// authenticated command with its own counter value and advancing offset.
func TestWriteDataChunkingFull(t *testing.T) {
	c := testChannel(t, nil,
		"7A93D6571E4B180FCA6AC90C9A7488D4",
		"FC4AF159B62E549B5812394CAB1918CC",
		"7614281A", 0x0000)

	tr := &scriptTransport{t: t}
	for i := uint16(0); i < 3; i++ {
		tr.replies = append(tr.replies, withSW(respMAC(t, c, 0x00, i+1, nil), SWOK))
	}
	c.raw = NewRawChannel(tr)

	data := make([]byte, 120)
	for i := range data {
		data[i] = byte(i)
	}
	written, err := c.WriteData(2, 0, data, CommModeFull)
	if err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if written != 120 {
		t.Fatalf("written: %d", written)
	}
	if len(tr.calls) != 3 {
		t.Fatalf("chunks: %d", len(tr.calls))
	}
	if c.cmdCtr != 3 {
		t.Fatalf("counter advanced %d times, want one per chunk", c.cmdCtr)
	}

	// Headers: FileNo || Offset(3 LE) || Length(3 LE) advancing 52 at a time.
	wantHeaders := []string{
		"02" + "000000" + "340000",
		"02" + "340000" + "340000",
		"02" + "680000" + "100000",
	}
	for i, call := range tr.calls {
		if !bytes.Equal(call[5:12], mustHex(t, wantHeaders[i])) {
			t.Fatalf("chunk %d header: % X", i, call[5:12])
		}
	}

	// 52 data bytes pad to 64 ciphertext bytes: Lc = 7 + 64 + 8.
	if tr.calls[0][4] != 7+64+8 {
		t.Fatalf("chunk 0 Lc: %d", tr.calls[0][4])
	}
	// Final 16-byte chunk pads to 32.
	if tr.calls[2][4] != 7+32+8 {
		t.Fatalf("chunk 2 Lc: %d", tr.calls[2][4])
	}
}

// A failure mid-write reports the bytes written so far so the caller can
// resume or abort; the counter reflects only the committed chunks.
func TestWriteDataPartialFailure(t *testing.T) {
	c := testChannel(t, nil,
		"7A93D6571E4B180FCA6AC90C9A7488D4",
		"FC4AF159B62E549B5812394CAB1918CC",
		"7614281A", 0x0000)
	tr := &scriptTransport{t: t, replies: [][]byte{
		withSW(respMAC(t, c, 0x00, 1, nil), SWOK),
		withSW(nil, SWBoundaryError),
	}}
	c.raw = NewRawChannel(tr)

	written, err := c.WriteData(2, 0, make([]byte, 100), CommModeFull)
	if !IsBoundaryError(err) {
		t.Fatalf("expected boundary error, got %v", err)
	}
	if written != 52 {
		t.Fatalf("written: %d, want 52", written)
	}
	if c.cmdCtr != 1 {
		t.Fatalf("counter: %d", c.cmdCtr)
	}
}

// MAC mode carries the file bytes in plaintext.
func TestWriteDataMACMode(t *testing.T) {
	c := testChannel(t, nil,
		"7A93D6571E4B180FCA6AC90C9A7488D4",
		"FC4AF159B62E549B5812394CAB1918CC",
		"7614281A", 0x0000)
	tr := &scriptTransport{t: t, replies: [][]byte{
		withSW(respMAC(t, c, 0x00, 1, nil), SWOK),
	}}
	c.raw = NewRawChannel(tr)

	payload := []byte("plaintext ndef")
	if _, err := c.WriteData(2, 4, payload, CommModeMAC); err != nil {
		t.Fatalf("WriteData: %v", err)
	}

	apdu := tr.calls[0]
	if !bytes.Contains(apdu, payload) {
		t.Fatal("MAC-mode write must carry the data in plaintext")
	}
	if int(apdu[4]) != 7+len(payload)+8 {
		t.Fatalf("Lc: %d", apdu[4])
	}
}

func TestWriteDataRejectsOverflow(t *testing.T) {
	c := testChannel(t, &scriptTransport{t: t},
		"7A93D6571E4B180FCA6AC90C9A7488D4",
		"FC4AF159B62E549B5812394CAB1918CC",
		"7614281A", 0x0000)
	if _, err := c.WriteData(2, maxFileRange, make([]byte, 2), CommModeFull); err == nil {
		t.Fatal("expected addressable-range error")
	}
}
