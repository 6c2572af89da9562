package ntag424

import "fmt"

// SelectApplication selects the single PICC application (AID 000000) using
// the native SelectApplication command. This is the precondition for the
// native command set and for authentication.
//
// CRITICAL: selecting an application INVALIDATES any active session. Select
// first, then authenticate.
func (c *RawChannel) SelectApplication() error {
	apdu := buildAPDU(claNative, insSelectApplication, 0x00, 0x00, []byte{0x00, 0x00, 0x00}, true)
	_, err := c.execute(insSelectApplication, apdu)
	return err
}

// GetFileIDs lists the file numbers of the PICC application without
// authentication. Works while every file's comm mode is plain.
func (c *RawChannel) GetFileIDs() ([]byte, error) {
	apdu := buildAPDU(claNative, insGetFileIDs, 0x00, 0x00, nil, true)
	return c.execute(insGetFileIDs, apdu)
}

// GetFileIDs lists the file numbers over the authenticated channel in MAC
// mode, for tags whose files are no longer plain.
func (c *AuthChannel) GetFileIDs() ([]byte, error) {
	return c.executeSecure(insGetFileIDs, nil, nil, CommModeMAC)
}

// GetKeyVersion reads the version byte of a key slot without
// authentication.
func (c *RawChannel) GetKeyVersion(keyNo byte) (byte, error) {
	apdu := buildAPDU(claNative, insGetKeyVersion, 0x00, 0x00, []byte{keyNo}, true)
	body, err := c.execute(insGetKeyVersion, apdu)
	if err != nil {
		return 0, err
	}
	if len(body) != 1 {
		return 0, &ProtocolError{INS: insGetKeyVersion, Msg: fmt.Sprintf("want 1 version byte, got %d", len(body))}
	}
	return body[0], nil
}

// GetKeyVersion reads the version byte of a key slot in MAC mode, required
// once the tag's comm mode is MAC or FULL.
func (c *AuthChannel) GetKeyVersion(keyNo byte) (byte, error) {
	payload, err := c.executeSecure(insGetKeyVersion, []byte{keyNo}, nil, CommModeMAC)
	if err != nil {
		return 0, err
	}
	if len(payload) != 1 {
		return 0, &ProtocolError{INS: insGetKeyVersion, Msg: fmt.Sprintf("want 1 version byte, got %d", len(payload))}
	}
	return payload[0], nil
}
