package ntag424

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

// refKeyChangePayload is an independently written reference for the
// key-change plaintext, kept deliberately different in structure from the
// production builder (stdlib CRC32, explicit appends) to guard against a
// shared mistake.
func refKeyChangePayload(keyNo byte, newKey, oldKey []byte, version byte) []byte {
	var p []byte
	if keyNo == 0 {
		p = append(p, newKey...)
		p = append(p, version)
	} else {
		for i := range newKey {
			p = append(p, newKey[i]^oldKey[i])
		}
		p = append(p, version)
		crc := make([]byte, 4)
		binary.LittleEndian.PutUint32(crc, ^crc32.ChecksumIEEE(newKey))
		p = append(p, crc...)
	}
	p = append(p, 0x80)
	for len(p)%16 != 0 {
		p = append(p, 0x00)
	}
	return p
}

func TestCRC32DESFireIsComplementOfIEEE(t *testing.T) {
	for _, data := range [][]byte{
		{},
		{0x00},
		mustHex(t, "5004BF991F408672B1EF00F08F9E8647"),
		[]byte("123456789"),
	} {
		if got, want := crc32DESFire(data), ^crc32.ChecksumIEEE(data); got != want {
			t.Fatalf("% X: got %08X, want %08X", data, got, want)
		}
	}
}

func TestKeyChangePayloadMasterKey(t *testing.T) {
	newKey := mustHex(t, "5004BF991F408672B1EF00F08F9E8647")
	p, err := buildKeyChangePayload(0, newKey, nil, 0x01)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(p) != 32 {
		t.Fatalf("length %d, want 32", len(p))
	}
	if !bytes.Equal(p[0:16], newKey) {
		t.Fatal("new key must appear in plaintext at bytes 0..15")
	}
	if p[16] != 0x01 || p[17] != 0x80 {
		t.Fatalf("version/padding bytes: %02X %02X", p[16], p[17])
	}
	for _, b := range p[18:] {
		if b != 0x00 {
			t.Fatal("nonzero fill after padding marker")
		}
	}
	if !bytes.Equal(p, refKeyChangePayload(0, newKey, nil, 0x01)) {
		t.Fatal("builder disagrees with reference implementation")
	}
}

func TestKeyChangePayloadApplicationKey(t *testing.T) {
	newKey := mustHex(t, "00112233445566778899AABBCCDDEEFF")
	oldKey := mustHex(t, "FFEEDDCCBBAA99887766554433221100")

	p, err := buildKeyChangePayload(2, newKey, oldKey, 0x05)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(p) != 32 {
		t.Fatalf("length %d, want 32", len(p))
	}
	for i := 0; i < 16; i++ {
		if p[i] != newKey[i]^oldKey[i] {
			t.Fatalf("byte %d is not NewKey XOR OldKey", i)
		}
	}
	if p[16] != 0x05 {
		t.Fatalf("version byte: %02X", p[16])
	}
	wantCRC := ^crc32.ChecksumIEEE(newKey)
	gotCRC := binary.LittleEndian.Uint32(p[17:21])
	if gotCRC != wantCRC {
		t.Fatalf("CRC bytes 17..20: got %08X, want %08X", gotCRC, wantCRC)
	}
	if p[21] != 0x80 {
		t.Fatalf("padding marker: %02X", p[21])
	}
	if !bytes.Equal(p, refKeyChangePayload(2, newKey, oldKey, 0x05)) {
		t.Fatal("builder disagrees with reference implementation")
	}
}

func TestKeyChangePayloadCRCCoversKeyOnly(t *testing.T) {
	// Same key, different version: the CRC field must not change.
	newKey := mustHex(t, "00112233445566778899AABBCCDDEEFF")
	oldKey := make([]byte, 16)
	p1, _ := buildKeyChangePayload(1, newKey, oldKey, 0x00)
	p2, _ := buildKeyChangePayload(1, newKey, oldKey, 0x7F)
	if !bytes.Equal(p1[17:21], p2[17:21]) {
		t.Fatal("CRC must cover the new key alone, not the version byte")
	}
}

func TestBuildKeyChangePayloadArguments(t *testing.T) {
	good := make([]byte, 16)
	if _, err := buildKeyChangePayload(5, good, good, 0); err == nil {
		t.Fatal("expected key number range error")
	}
	if _, err := buildKeyChangePayload(0, make([]byte, 15), nil, 0); err == nil {
		t.Fatal("expected new key length error")
	}
	if _, err := buildKeyChangePayload(1, good, nil, 0); err == nil {
		t.Fatal("expected old key required error")
	}
}

// Application-key change goes through the normal FULL-mode path: response
// MAC verified, counter advanced, channel stays usable.
func TestChangeKeyApplicationKey(t *testing.T) {
	c := testChannel(t, nil,
		"7A93D6571E4B180FCA6AC90C9A7488D4",
		"FC4AF159B62E549B5812394CAB1918CC",
		"7614281A", 0x0000)
	tr := &scriptTransport{t: t, replies: [][]byte{
		withSW(respMAC(t, c, 0x00, 1, nil), SWOK),
	}}
	c.raw = NewRawChannel(tr)

	newKey := mustHex(t, "00112233445566778899AABBCCDDEEFF")
	if err := c.ChangeKey(2, newKey, make([]byte, 16), 0x00); err != nil {
		t.Fatalf("ChangeKey(2): %v", err)
	}
	if c.poisoned {
		t.Fatal("application-key change must not poison the channel")
	}
	if c.cmdCtr != 1 {
		t.Fatalf("counter: %d", c.cmdCtr)
	}

	// Frame shape: 90 C4 00 00 29 <keyNo> <enc 32> <mac 8> 00.
	apdu := tr.calls[0]
	if apdu[4] != 0x29 || apdu[5] != 0x02 {
		t.Fatalf("frame header: % X", apdu[:6])
	}
}

func TestLoadKeyHexFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "key0.hex")
	if err := os.WriteFile(path, []byte("00112233445566778899AABBCCDDEEFF\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	key, err := LoadKeyHexFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(key, mustHex(t, "00112233445566778899AABBCCDDEEFF")) {
		t.Fatalf("key: % X", key)
	}

	bad := filepath.Join(tmp, "bad.hex")
	if err := os.WriteFile(bad, []byte("too short\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadKeyHexFile(bad); err == nil {
		t.Fatal("expected error for malformed key file")
	}

	empty := filepath.Join(tmp, "empty.hex")
	if err := os.WriteFile(empty, []byte("\n\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadKeyHexFile(empty); err == nil {
		t.Fatal("expected error for empty key file")
	}
}

func TestLoadAllHexKeys(t *testing.T) {
	tmp := t.TempDir()
	files := map[string]string{
		"key0.hex":  "00112233445566778899AABBCCDDEEFF\n",
		"key1.hex":  "FFEEDDCCBBAA99887766554433221100\n",
		"bad.hex":   "nope\n",
		"other.txt": "00112233445566778899AABBCCDDEEFF\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmp, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	keys, err := LoadAllHexKeys(tmp)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 valid keys, got %d", len(keys))
	}
	for _, k := range keys {
		if k.Name != "key0.hex" && k.Name != "key1.hex" {
			t.Fatalf("unexpected key file %s", k.Name)
		}
	}
}
