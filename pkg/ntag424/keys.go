package ntag424

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxKeyNo is the highest key slot the tag exposes: key 0 is the PICC
// master key, keys 1..4 are application keys.
const maxKeyNo = 4

// KeyFile represents a key loaded from a .hex file.
type KeyFile struct {
	Name string // File name (e.g., "key0.hex")
	Key  []byte // 16-byte AES key
}

// crc32DESFire computes the CRC32 the tag uses in key-change payloads:
// IEEE polynomial, reflected, initial value 0xFFFFFFFF, no final XOR. The
// result is the bitwise complement of the common zip/gzip CRC32.
func crc32DESFire(data []byte) uint32 {
	const poly = uint32(0xEDB88320)
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// buildKeyChangePayload constructs the 32-byte plaintext of a ChangeKey
// command, padded and ready for FULL-mode encryption.
//
// Changing the authenticated master key (keyNo 0):
//
//	NewKey(16) || KeyVersion(1) || 80 || 00*14
//
// Changing any other key:
//
//	(NewKey XOR OldKey)(16) || KeyVersion(1) || CRC32(NewKey)(4 LE) || 80 || 00*10
//
// The CRC covers the new key alone, without the version byte.
func buildKeyChangePayload(keyNo byte, newKey, oldKey []byte, keyVersion byte) ([]byte, error) {
	if keyNo > maxKeyNo {
		return nil, fmt.Errorf("key number must be 0..%d, got %d", maxKeyNo, keyNo)
	}
	if len(newKey) != 16 {
		return nil, fmt.Errorf("new key must be 16 bytes, got %d", len(newKey))
	}

	if keyNo == 0 {
		data := make([]byte, 17)
		copy(data, newKey)
		data[16] = keyVersion
		return padMethod2(data), nil
	}

	if len(oldKey) != 16 {
		return nil, fmt.Errorf("old key must be 16 bytes, got %d", len(oldKey))
	}
	data := make([]byte, 21)
	for i := 0; i < 16; i++ {
		data[i] = newKey[i] ^ oldKey[i]
	}
	data[16] = keyVersion
	crc := crc32DESFire(newKey)
	data[17] = byte(crc)
	data[18] = byte(crc >> 8)
	data[19] = byte(crc >> 16)
	data[20] = byte(crc >> 24)
	return padMethod2(data), nil
}

// ChangeKey changes a key slot (INS 0xC4), always in FULL mode. For slots
// other than 0 the old key is required for the XOR/CRC payload and the
// response MAC is verified as usual.
//
// Changing slot 0 — the key the session was authenticated with — succeeds
// with a status-only response and INVALIDATES the session: the channel
// becomes unusable and the caller must re-authenticate with the new master
// key.
func (c *AuthChannel) ChangeKey(keyNo byte, newKey, oldKey []byte, keyVersion byte) error {
	payload, err := buildKeyChangePayload(keyNo, newKey, oldKey, keyVersion)
	if err != nil {
		return err
	}
	header := []byte{keyNo}
	if keyNo == 0 {
		return c.executeFullStatusOnly(insChangeKey, header, payload)
	}
	_, err = c.executeSecure(insChangeKey, header, payload, CommModeFull)
	return err
}

// LoadKeyHexFile loads a 16-byte AES key from a .hex file. The file should
// contain a single line with 32 hexadecimal characters.
func LoadKeyHexFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) != 32 {
			return nil, fmt.Errorf("key must be 32 hex chars, got %d", len(line))
		}
		key, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("invalid hex key: %v", err)
		}
		return key, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("key file is empty")
}

// LoadAllHexKeys loads all .hex key files from a directory, skipping
// invalid files silently.
func LoadAllHexKeys(dir string) ([]KeyFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var keys []KeyFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) != ".hex" {
			continue
		}
		key, err := LoadKeyHexFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, KeyFile{Name: e.Name(), Key: key})
	}
	return keys, nil
}
