package ntag424

// buildSV assembles one of the two 32-byte session vectors of the EV2 key
// derivation. The label is A5 5A for SesAuthENC and 5A A5 for SesAuthMAC;
// the remaining layout is identical:
//
//	label(2) || 00 01 00 80 || RndA[15..14] || (RndA[13..8] XOR RndB[15..10])
//	|| RndB[9..0] || RndA[7..0]
//
// where the bracketed ranges use the datasheet's big-endian bit numbering;
// in slice terms that is rndA[0:2], rndA[2:8]^rndB[0:6], rndB[6:16],
// rndA[8:16].
func buildSV(label0, label1 byte, rndA, rndB []byte) []byte {
	sv := make([]byte, 32)
	sv[0] = label0
	sv[1] = label1
	sv[2], sv[3], sv[4], sv[5] = 0x00, 0x01, 0x00, 0x80
	copy(sv[6:8], rndA[0:2])
	for i := 0; i < 6; i++ {
		sv[8+i] = rndA[2+i] ^ rndB[i]
	}
	copy(sv[14:24], rndB[6:16])
	copy(sv[24:32], rndA[8:16])
	return sv
}

// deriveSessionKeys derives SesAuthENC and SesAuthMAC from the
// authenticating key and the two nonces exchanged during EV2First.
// A derivation that deviates from this byte layout still authenticates,
// but every subsequent secure command fails with SW=911E.
func deriveSessionKeys(key, rndA, rndB []byte) (kenc, kmac []byte, err error) {
	kenc, err = aesCMAC(key, buildSV(0xA5, 0x5A, rndA, rndB))
	if err != nil {
		return nil, nil, err
	}
	kmac, err = aesCMAC(key, buildSV(0x5A, 0xA5, rndA, rndB))
	if err != nil {
		return nil, nil, err
	}
	return kenc, kmac, nil
}
