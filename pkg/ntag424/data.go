package ntag424

import "fmt"

// writeChunkSize is the number of file bytes carried per WriteData command.
// 52 bytes pad to four AES blocks and keep the frame, with header and MAC,
// inside the transport's maximum.
const writeChunkSize = 52

const maxFileRange = 0xFFFFFF // offsets and lengths are 3 bytes on the wire

// dataHeader builds FileNo || Offset(3 LE) || Length(3 LE).
func dataHeader(fileNo byte, offset, length int) []byte {
	h := make([]byte, 0, 7)
	h = append(h, fileNo)
	h = append(h, u24le(uint32(offset))...)
	h = append(h, u24le(uint32(length))...)
	return h
}

func checkFileRange(offset, length int) error {
	if offset < 0 || offset > maxFileRange {
		return fmt.Errorf("offset out of range: %d", offset)
	}
	if length < 0 || length > maxFileRange {
		return fmt.Errorf("length out of range: %d", length)
	}
	return nil
}

// ReadData reads file bytes without authentication (INS 0xAD), possible
// while the file's read access is free. Length 0 reads to the end of the
// file.
func (c *RawChannel) ReadData(fileNo byte, offset, length int) ([]byte, error) {
	if err := checkFileRange(offset, length); err != nil {
		return nil, err
	}
	apdu := buildAPDU(claNative, insReadData, 0x00, 0x00, dataHeader(fileNo, offset, length), true)
	return c.execute(insReadData, apdu)
}

// ReadData reads file bytes over the authenticated channel. The header is
// MACed in plaintext; in FULL mode the response data comes back encrypted
// and is decrypted and unpadded before return.
func (c *AuthChannel) ReadData(fileNo byte, offset, length int, mode CommMode) ([]byte, error) {
	if err := checkFileRange(offset, length); err != nil {
		return nil, err
	}
	return c.executeSecure(insReadData, dataHeader(fileNo, offset, length), nil, mode)
}

// WriteData writes file bytes over the authenticated channel (INS 0x3D),
// splitting large writes into chunks of writeChunkSize. Each chunk is an
// independent authenticated command: the counter advances per chunk and a
// failure mid-way leaves the file partially written. The number of bytes
// written is returned; offset plus that count is the offset reached, where
// a caller can resume.
func (c *AuthChannel) WriteData(fileNo byte, offset int, data []byte, mode CommMode) (int, error) {
	if err := checkFileRange(offset, len(data)); err != nil {
		return 0, err
	}
	if offset+len(data) > maxFileRange {
		return 0, fmt.Errorf("write extends past addressable range: offset=%d len=%d", offset, len(data))
	}

	written := 0
	for written < len(data) {
		chunk := len(data) - written
		if chunk > writeChunkSize {
			chunk = writeChunkSize
		}
		part := data[written : written+chunk]
		header := dataHeader(fileNo, offset+written, chunk)

		var err error
		switch mode {
		case CommModeFull:
			_, err = c.executeSecure(insWriteData, header, padMethod2(part), CommModeFull)
		case CommModeMAC:
			_, err = c.executeSecure(insWriteData, header, part, CommModeMAC)
		default:
			return written, fmt.Errorf("comm mode 0x%02X is not a secure mode", byte(mode))
		}
		if err != nil {
			return written, err
		}
		written += chunk
	}
	return written, nil
}
