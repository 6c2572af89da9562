package ntag424

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
)

const (
	sdmUIDLenASCII = 14
	sdmCtrLenASCII = 6
	sdmMacLenASCII = 16
)

// SDMTemplate is an NDEF message carrying uid/ctr/mac placeholders, plus
// the byte offsets ChangeFileSettings needs so the tag can mirror the live
// values into the message on each tap.
type SDMTemplate struct {
	URL            string // Full URL with zero-filled uid/ctr/mac parameters
	NDEF           []byte // Complete NDEF message bytes (with NLEN header)
	UIDOffset      uint32 // Byte offset where the UID mirror starts
	CtrOffset      uint32 // Byte offset where the counter mirror starts
	MACInputOffset uint32 // Byte offset where the MAC input starts ("uid=")
	MACOffset      uint32 // Byte offset where the MAC mirror starts
}

// BuildSDMTemplate constructs an NDEF URI record for the given base URL with
// zero-filled uid, ctr and mac query parameters, and locates the mirror
// offsets. The three parameters are emitted first and in that exact order —
// the tag's MAC input starts at "uid=" and runs to "mac=", so the order is
// part of the wire contract (url.Values.Encode would sort them).
func BuildSDMTemplate(baseURL string) (*SDMTemplate, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("URL must be absolute (include scheme and host)")
	}
	parsed.Fragment = ""

	existing := parsed.Query()
	params := []string{
		"uid=" + strings.Repeat("0", sdmUIDLenASCII),
		"ctr=" + strings.Repeat("0", sdmCtrLenASCII),
		"mac=" + strings.Repeat("0", sdmMacLenASCII),
	}
	for key, values := range existing {
		if key == "uid" || key == "ctr" || key == "mac" {
			continue
		}
		for _, value := range values {
			params = append(params, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}
	parsed.RawQuery = strings.Join(params, "&")
	fullURL := parsed.String()

	// NFC URI Record Type Definition prefix compression.
	prefixCode := byte(0x00)
	uri := fullURL
	for _, p := range []struct {
		prefix string
		code   byte
	}{
		{prefix: "https://www.", code: 0x02},
		{prefix: "http://www.", code: 0x01},
		{prefix: "https://", code: 0x04},
		{prefix: "http://", code: 0x03},
	} {
		if strings.HasPrefix(fullURL, p.prefix) {
			prefixCode = p.code
			uri = fullURL[len(p.prefix):]
			break
		}
	}

	// NDEF message: NLEN(2) + record header(3) + type(1) + payload.
	payloadLen := 1 + len(uri) // prefix code + URI
	if payloadLen > 255 {
		return nil, fmt.Errorf("URI too long")
	}
	recordLen := 4 + payloadLen
	totalLen := 2 + recordLen
	if totalLen > 256 {
		return nil, fmt.Errorf("NDEF too long")
	}

	ndef := make([]byte, totalLen)
	ndef[0] = byte(recordLen >> 8)
	ndef[1] = byte(recordLen)
	ndef[2] = 0xD1 // MB=1, ME=1, SR=1, TNF=0x01 (Well-known)
	ndef[3] = 0x01 // Type length
	ndef[4] = byte(payloadLen)
	ndef[5] = 0x55 // Type 'U' (URI)
	ndef[6] = prefixCode
	copy(ndef[7:], uri)

	uidIdx := bytes.Index(ndef, []byte("uid="))
	ctrIdx := bytes.Index(ndef, []byte("ctr="))
	macIdx := bytes.Index(ndef, []byte("mac="))
	if uidIdx < 0 || ctrIdx < 0 || macIdx < 0 {
		return nil, fmt.Errorf("failed to locate uid/ctr/mac in NDEF")
	}

	uidOffset := uidIdx + 4
	ctrOffset := ctrIdx + 4
	macOffset := macIdx + 4
	if uidOffset+sdmUIDLenASCII > len(ndef) || ctrOffset+sdmCtrLenASCII > len(ndef) || macOffset+sdmMacLenASCII > len(ndef) {
		return nil, fmt.Errorf("offsets out of range")
	}

	return &SDMTemplate{
		URL:            fullURL,
		NDEF:           ndef,
		UIDOffset:      uint32(uidOffset),
		CtrOffset:      uint32(ctrOffset),
		MACInputOffset: uint32(uidIdx),
		MACOffset:      uint32(macOffset),
	}, nil
}
