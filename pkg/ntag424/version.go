package ntag424

import "fmt"

// TagVersion holds the hardware, software and production information
// returned by GetVersion.
type TagVersion struct {
	HWVendorID    byte   // Hardware vendor ID
	HWType        byte   // Hardware type
	HWSubType     byte   // Hardware subtype
	HWMajorVer    byte   // Hardware major version
	HWMinorVer    byte   // Hardware minor version
	HWStorageSize byte   // Hardware storage size
	HWProtocol    byte   // Hardware protocol
	SWVendorID    byte   // Software vendor ID
	SWType        byte   // Software type
	SWSubType     byte   // Software subtype
	SWMajorVer    byte   // Software major version
	SWMinorVer    byte   // Software minor version
	SWStorageSize byte   // Software storage size
	SWProtocol    byte   // Software protocol
	UID           []byte // 7-byte UID
	BatchNo       []byte // 5-byte batch number
	FabKey        byte   // Fabrication key
	ProdYear      byte   // Production year (BCD)
	ProdWeek      byte   // Production week (nibble)
}

// GetVersion retrieves the tag version information (INS 0x60). The tag
// answers in three chained frames — hardware info, software info, and
// production info including the UID — which the channel's continuation loop
// concatenates into one 28-byte body.
func (c *RawChannel) GetVersion() (*TagVersion, error) {
	apdu := buildAPDU(claNative, insGetVersion, 0x00, 0x00, nil, true)
	body, err := c.execute(insGetVersion, apdu)
	if err != nil {
		return nil, err
	}
	if len(body) != 28 {
		return nil, &ProtocolError{INS: insGetVersion, Msg: fmt.Sprintf("want 28 bytes (7+7+14), got %d", len(body))}
	}

	hw, sw, prod := body[0:7], body[7:14], body[14:28]
	return &TagVersion{
		HWVendorID:    hw[0],
		HWType:        hw[1],
		HWSubType:     hw[2],
		HWMajorVer:    hw[3],
		HWMinorVer:    hw[4],
		HWStorageSize: hw[5],
		HWProtocol:    hw[6],
		SWVendorID:    sw[0],
		SWType:        sw[1],
		SWSubType:     sw[2],
		SWMajorVer:    sw[3],
		SWMinorVer:    sw[4],
		SWStorageSize: sw[5],
		SWProtocol:    sw[6],
		UID:           prod[0:7],
		BatchNo:       prod[7:12],
		FabKey:        prod[12],
		ProdYear:      prod[13] >> 4,
		ProdWeek:      prod[13] & 0x0F,
	}, nil
}
