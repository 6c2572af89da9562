package ntag424

import (
	"errors"
	"fmt"
)

// Access-right nibble values.
const (
	AccessFree   = 0x0E // no authentication needed
	AccessDenied = 0x0F // operation never permitted
)

// SDMOptions bits.
const (
	SDMOptUIDMirror = 0x80 // UID mirroring enabled
	SDMOptCtrMirror = 0x40 // Read counter mirroring enabled
	SDMOptCtrLimit  = 0x20 // Read counter limit enabled
	SDMOptENCData   = 0x10 // SDM ENC file data encryption
	SDMOptTamper    = 0x01 // Tag tamper status enabled
)

// fileOptSDMEnabled is bit 6 of FileOption. It lives in FileOption only;
// SDMOptions carries the mirror bits and must not duplicate it.
const fileOptSDMEnabled = 0x40

// FileSettings is the parsed GetFileSettings response.
type FileSettings struct {
	FileType   byte   // 0x00 = standard data file
	FileOption byte   // bit 6 = SDM enabled, bits 1:0 = comm mode
	AR1        byte   // [ReadWrite nibble | ChangeAccessRights nibble]
	AR2        byte   // [Read nibble | Write nibble]
	Size       int    // File size in bytes (3-byte LE)
	SDMOptions byte   // SDM options bitfield
	SDMMeta    byte   // Meta read access nibble (bits 15:12 of SDMAR)
	SDMFile    byte   // File read access nibble (bits 11:8 of SDMAR)
	SDMCtr     byte   // Counter retrieval access nibble (bits 3:0 of SDMAR)
	RawData    []byte // Raw response, kept for diagnostics

	// Conditional SDM offset fields (present depending on SDMOptions/SDMAR)
	UIDOffset      uint32 // UID mirror offset (if UID mirror and Meta=0xE)
	CtrOffset      uint32 // Counter mirror offset (if Ctr mirror and Meta=0xE)
	PICCDataOffset uint32 // Encrypted PICC data offset (if Meta not 0xE/0xF)
	MACInputOffset uint32 // MAC input offset (if File != 0xF)
	MACOffset      uint32 // MAC mirror offset (if File != 0xF)
	ENCOffset      uint32 // ENC data offset (if ENC bit set)
	ENCLength      uint32 // ENC data length (if ENC bit set)
	CtrLimit       uint32 // Read counter limit (if limit bit set)
}

// CommMode extracts the comm mode bits from FileOption.
func (fs *FileSettings) CommMode() CommMode {
	return CommMode(fs.FileOption & 0x03)
}

// SDMEnabled reports whether bit 6 of FileOption is set.
func (fs *FileSettings) SDMEnabled() bool {
	return fs.FileOption&fileOptSDMEnabled != 0
}

// ParseFileSettings parses a raw GetFileSettings response body.
func ParseFileSettings(data []byte) (*FileSettings, error) {
	if len(data) < 7 {
		return nil, errors.New("file settings too short")
	}
	fs := &FileSettings{}
	fs.FileType = data[0]
	fs.FileOption = data[1]
	fs.AR1 = data[2]
	fs.AR2 = data[3]
	fs.Size = int(data[4]) | int(data[5])<<8 | int(data[6])<<16
	fs.RawData = append([]byte{}, data...)

	idx := 7
	if !fs.SDMEnabled() {
		return fs, nil
	}

	if len(data) < idx+3 {
		return nil, errors.New("file settings missing SDM fields")
	}
	fs.SDMOptions = data[idx]
	sdmAR := uint16(data[idx+1]) | uint16(data[idx+2])<<8
	fs.SDMMeta = byte(sdmAR >> 12 & 0x0F)
	fs.SDMFile = byte(sdmAR >> 8 & 0x0F)
	fs.SDMCtr = byte(sdmAR & 0x0F)
	idx += 3

	// Conditional offsets, in the tag's fixed order. The presence rules
	// mirror buildFileSettingsData exactly.
	next := func(field string) (uint32, error) {
		if len(data) < idx+3 {
			return 0, fmt.Errorf("file settings missing %s", field)
		}
		v := readU24le(data, idx)
		idx += 3
		return v, nil
	}

	var err error
	if fs.SDMOptions&SDMOptUIDMirror != 0 && fs.SDMMeta == AccessFree {
		if fs.UIDOffset, err = next("UIDOffset"); err != nil {
			return nil, err
		}
	}
	if fs.SDMOptions&SDMOptCtrMirror != 0 && fs.SDMMeta == AccessFree {
		if fs.CtrOffset, err = next("CtrOffset"); err != nil {
			return nil, err
		}
	}
	if fs.SDMMeta != AccessFree && fs.SDMMeta != AccessDenied {
		if fs.PICCDataOffset, err = next("PICCDataOffset"); err != nil {
			return nil, err
		}
	}
	if fs.SDMFile != AccessDenied {
		if fs.MACInputOffset, err = next("MACInputOffset"); err != nil {
			return nil, err
		}
		if fs.MACOffset, err = next("MACOffset"); err != nil {
			return nil, err
		}
	}
	if fs.SDMOptions&SDMOptENCData != 0 {
		if fs.ENCOffset, err = next("ENCOffset"); err != nil {
			return nil, err
		}
		if fs.ENCLength, err = next("ENCLength"); err != nil {
			return nil, err
		}
	}
	if fs.SDMOptions&SDMOptCtrLimit != 0 {
		if fs.CtrLimit, err = next("CtrLimit"); err != nil {
			return nil, err
		}
	}

	return fs, nil
}

// readU24le reads a 3-byte little-endian value at the given offset.
func readU24le(data []byte, offset int) uint32 {
	return uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16
}

// u24le converts a value to its 3-byte little-endian encoding.
func u24le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

// SDMSettings describes the Secure Dynamic Messaging configuration of a
// FileSettingsUpdate. Options carries the mirror/counter bits only — the
// SDM-enable bit belongs to FileOption and is set by the builder.
type SDMSettings struct {
	Options  byte // SDMOpt* bits
	MetaRead byte // Meta read access nibble
	FileRead byte // File read access nibble
	CtrRet   byte // Counter retrieval access nibble

	UIDOffset      uint32
	CtrOffset      uint32
	PICCDataOffset uint32
	MACInputOffset uint32
	MACOffset      uint32
	ENCOffset      uint32
	ENCLength      uint32
	CtrLimit       uint32
}

// FileSettingsUpdate is the input of ChangeFileSettings. A nil SDM disables
// SDM and produces the basic 3-byte payload.
type FileSettingsUpdate struct {
	CommMode CommMode
	AR1      byte // [ReadWrite nibble | ChangeAccessRights nibble]
	AR2      byte // [Read nibble | Write nibble]
	SDM      *SDMSettings
}

// buildFileSettingsData constructs the plaintext ChangeFileSettings payload:
// FileOption(1) || AR(2) || [SDMOptions(1) || SDMAR(2) || offsets...].
// Conditional offsets appear only when the corresponding access nibble and
// option bit select them.
func buildFileSettingsData(u FileSettingsUpdate) []byte {
	fileOption := byte(u.CommMode) & 0x03
	if u.SDM != nil {
		fileOption |= fileOptSDMEnabled
	}
	data := append(make([]byte, 0, 32), fileOption, u.AR1, u.AR2)
	if u.SDM == nil {
		return data
	}

	s := u.SDM
	data = append(data, s.Options)
	// SDMAR: [Meta(15:12) | File(11:8) | RFU(7:4) | Ctr(3:0)], RFU all-ones.
	sdmAR := uint16(s.MetaRead&0x0F)<<12 | uint16(s.FileRead&0x0F)<<8 | 0x00F0 | uint16(s.CtrRet&0x0F)
	data = append(data, byte(sdmAR), byte(sdmAR>>8))

	if s.Options&SDMOptUIDMirror != 0 && s.MetaRead == AccessFree {
		data = append(data, u24le(s.UIDOffset)...)
	}
	if s.Options&SDMOptCtrMirror != 0 && s.MetaRead == AccessFree {
		data = append(data, u24le(s.CtrOffset)...)
	}
	if s.MetaRead != AccessFree && s.MetaRead != AccessDenied {
		data = append(data, u24le(s.PICCDataOffset)...)
	}
	if s.FileRead != AccessDenied {
		data = append(data, u24le(s.MACInputOffset)...)
		data = append(data, u24le(s.MACOffset)...)
	}
	if s.Options&SDMOptENCData != 0 {
		data = append(data, u24le(s.ENCOffset)...)
		data = append(data, u24le(s.ENCLength)...)
	}
	if s.Options&SDMOptCtrLimit != 0 {
		data = append(data, u24le(s.CtrLimit)...)
	}
	return data
}

// GetFileSettings retrieves a file's settings without authentication,
// possible while the file's comm mode is plain.
func (c *RawChannel) GetFileSettings(fileNo byte) (*FileSettings, error) {
	apdu := buildAPDU(claNative, insGetFileSettings, 0x00, 0x00, []byte{fileNo}, true)
	body, err := c.execute(insGetFileSettings, apdu)
	if err != nil {
		return nil, err
	}
	return ParseFileSettings(body)
}

// GetFileSettings retrieves a file's settings over the authenticated
// channel in MAC mode.
func (c *AuthChannel) GetFileSettings(fileNo byte) (*FileSettings, error) {
	payload, err := c.executeSecure(insGetFileSettings, []byte{fileNo}, nil, CommModeMAC)
	if err != nil {
		return nil, err
	}
	return ParseFileSettings(payload)
}

// ChangeFileSettings rewrites a file's comm mode, access rights and SDM
// configuration (INS 0x5F). Always FULL mode.
func (c *AuthChannel) ChangeFileSettings(fileNo byte, u FileSettingsUpdate) error {
	data := buildFileSettingsData(u)
	_, err := c.executeSecure(insChangeFileSettings, []byte{fileNo}, padMethod2(data), CommModeFull)
	return err
}
