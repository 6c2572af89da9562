package ntag424

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// DeriveSDMSessionKey derives the SDM MAC session key from the SDM file
// read key, the tag UID, and the read counter:
//
//	SV = 3C C3 00 01 00 80 || UID(7) || Counter(3 LE)
//	SDMSessionKey = AES-CMAC(baseKey, SV)
func DeriveSDMSessionKey(baseKey, uid, ctrLE []byte) ([]byte, error) {
	if len(baseKey) != 16 {
		return nil, fmt.Errorf("base key must be 16 bytes, got %d", len(baseKey))
	}
	if len(uid) != 7 {
		return nil, fmt.Errorf("UID must be 7 bytes, got %d", len(uid))
	}
	if len(ctrLE) != 3 {
		return nil, fmt.Errorf("counter must be 3 bytes, got %d", len(ctrLE))
	}

	sv := make([]byte, 0, 16)
	sv = append(sv, 0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80)
	sv = append(sv, uid...)
	sv = append(sv, ctrLE...)
	return aesCMAC(baseKey, sv)
}

// ParseSDMURL extracts the uid, ctr and mac parameters from a tap URL.
func ParseSDMURL(rawURL string) (uid, ctr, mac string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", err
	}
	q := u.Query()
	uid = q.Get("uid")
	ctr = q.Get("ctr")
	mac = q.Get("mac")
	if uid == "" || ctr == "" || mac == "" {
		return uid, ctr, mac, fmt.Errorf("missing uid/ctr/mac parameters")
	}
	return uid, ctr, mac, nil
}

// sdmParams validates and decodes the tap-URL parameters. The counter is
// big-endian in the URL but little-endian in the key derivation.
func sdmParams(rawURL string) (uid string, ctr string, mac string, uidBytes, ctrLE []byte, counter uint32, err error) {
	uid, ctr, mac, err = ParseSDMURL(rawURL)
	if err != nil {
		return
	}
	if len(uid) != sdmUIDLenASCII || len(ctr) != sdmCtrLenASCII || len(mac) != sdmMacLenASCII {
		err = fmt.Errorf("invalid parameter lengths: uid=%d ctr=%d mac=%d (want %d,%d,%d)",
			len(uid), len(ctr), len(mac), sdmUIDLenASCII, sdmCtrLenASCII, sdmMacLenASCII)
		return
	}

	var derr error
	uidBytes, derr = hex.DecodeString(uid)
	if derr != nil || len(uidBytes) != 7 {
		err = fmt.Errorf("UID decode: not 7 hex bytes")
		return
	}
	ctrBE, derr := hex.DecodeString(ctr)
	if derr != nil || len(ctrBE) != 3 {
		err = fmt.Errorf("CTR decode: not 3 hex bytes")
		return
	}
	ctrLE = []byte{ctrBE[2], ctrBE[1], ctrBE[0]}
	counter = uint32(ctrBE[0])<<16 | uint32(ctrBE[1])<<8 | uint32(ctrBE[2])
	return
}

// computeSDMMAC derives the per-tap session key and MACs the URL's MAC
// input, "uid=<UID>&ctr=<CTR>&mac=".
func computeSDMMAC(sdmFileKey, uidBytes, ctrLE []byte, uid, ctr string) ([]byte, error) {
	sessionKey, err := DeriveSDMSessionKey(sdmFileKey, uidBytes, ctrLE)
	if err != nil {
		return nil, fmt.Errorf("session key derive: %v", err)
	}
	macInput := fmt.Sprintf("uid=%s&ctr=%s&mac=", uid, ctr)
	cmac, err := aesCMAC(sessionKey, []byte(macInput))
	if err != nil {
		return nil, fmt.Errorf("CMAC error: %v", err)
	}
	return truncateMAC(cmac), nil
}

// VerifySDMMAC verifies the MAC carried in a tap URL against the SDM file
// read key.
func VerifySDMMAC(rawURL string, sdmFileKey []byte) (bool, error) {
	match, _, _, err := VerifySDMMACDetailed(rawURL, sdmFileKey)
	return match, err
}

// VerifySDMMACDetailed verifies a tap URL and additionally returns the
// decoded read counter and the computed MAC (uppercase hex) for
// diagnostics.
func VerifySDMMACDetailed(rawURL string, sdmFileKey []byte) (match bool, counter uint32, computedMAC string, err error) {
	uid, ctr, mac, uidBytes, ctrLE, counter, err := sdmParams(rawURL)
	if err != nil {
		return false, 0, "", err
	}

	computed, err := computeSDMMAC(sdmFileKey, uidBytes, ctrLE, uid, ctr)
	if err != nil {
		return false, counter, "", err
	}
	computedMAC = strings.ToUpper(hex.EncodeToString(computed))

	expected, err := hex.DecodeString(mac)
	if err != nil || len(expected) != 8 {
		return false, counter, computedMAC, fmt.Errorf("MAC decode error")
	}
	return bytes.Equal(computed, expected), counter, computedMAC, nil
}

// GenerateSDMURL computes the uid, ctr and mac values the tag would mirror
// for the given UID and read counter and sets them on baseURL — the inverse
// of VerifySDMMAC, useful for backend testing without a tag. The query is
// re-encoded sorted by parameter name, so the parameter order differs from
// the uid, ctr, mac order of the tag's template.
func GenerateSDMURL(baseURL string, uid []byte, counter uint32, sdmFileKey []byte) (string, error) {
	if len(uid) != 7 {
		return "", fmt.Errorf("UID must be 7 bytes, got %d", len(uid))
	}
	if len(sdmFileKey) != 16 {
		return "", fmt.Errorf("SDM file key must be 16 bytes, got %d", len(sdmFileKey))
	}
	if counter > maxFileRange {
		return "", fmt.Errorf("counter must be <= 0xFFFFFF, got %d", counter)
	}

	uidHex := strings.ToUpper(hex.EncodeToString(uid))
	ctrBE := []byte{byte(counter >> 16), byte(counter >> 8), byte(counter)}
	ctrHex := strings.ToUpper(hex.EncodeToString(ctrBE))
	ctrLE := []byte{ctrBE[2], ctrBE[1], ctrBE[0]}

	mac, err := computeSDMMAC(sdmFileKey, uid, ctrLE, uidHex, ctrHex)
	if err != nil {
		return "", err
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %v", err)
	}
	q := parsedURL.Query()
	q.Set("uid", uidHex)
	q.Set("ctr", ctrHex)
	q.Set("mac", strings.ToUpper(hex.EncodeToString(mac)))
	parsedURL.RawQuery = q.Encode()
	return parsedURL.String(), nil
}
