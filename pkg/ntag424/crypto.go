package ntag424

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

func aesECBEncrypt(key, blockIn []byte) ([]byte, error) {
	if len(blockIn) != 16 {
		return nil, fmt.Errorf("ECB input must be 16 bytes, got %d", len(blockIn))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	block.Encrypt(out, blockIn)
	return out, nil
}

func aesCBCEncrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("CBC encrypt: data not block aligned (len=%d)", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCBCDecrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("CBC decrypt: data not block aligned (len=%d)", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// aesCMAC computes AES-CMAC per NIST SP 800-38B over an arbitrary-length
// message, returning the full 16-byte MAC.
func aesCMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	// Subkeys: K1 = dbl(E(K, 0)), K2 = dbl(K1).
	l := make([]byte, 16)
	block.Encrypt(l, l)
	k1 := cmacDbl(l)
	k2 := cmacDbl(k1)

	n := (len(msg) + 15) / 16
	if n == 0 {
		n = 1
	}

	last := make([]byte, 16)
	if len(msg) > 0 && len(msg)%16 == 0 {
		xorBlock(last, msg[len(msg)-16:], k1)
	} else {
		rem := msg[(n-1)*16:]
		copy(last, rem)
		last[len(rem)] = 0x80
		xorBlock(last, last, k2)
	}

	x := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorBlock(x, x, msg[i*16:(i+1)*16])
		block.Encrypt(x, x)
	}
	xorBlock(x, x, last)
	block.Encrypt(x, x)
	return x, nil
}

// cmacDbl doubles a 16-byte value in GF(2^128) with Rb = 0x87.
func cmacDbl(in []byte) []byte {
	out := make([]byte, 16)
	var carry byte
	for i := 15; i >= 0; i-- {
		b := in[i]
		out[i] = (b << 1) | carry
		carry = b >> 7
	}
	if (in[0] & 0x80) != 0 {
		out[15] ^= 0x87
	}
	return out
}

func xorBlock(dst, a, b []byte) {
	for i := 0; i < len(a) && i < len(b); i++ {
		dst[i] = a[i] ^ b[i]
	}
}

// padMethod2 applies ISO/IEC 9797-1 padding method 2: 0x80 then zeros to the
// next 16-byte boundary. Block-aligned input gains a full padding block.
func padMethod2(data []byte) []byte {
	padLen := 16 - (len(data) % 16)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func unpadMethod2(data []byte) ([]byte, error) {
	idx := len(data) - 1
	for idx >= 0 && data[idx] == 0x00 {
		idx--
	}
	if idx < 0 || data[idx] != 0x80 {
		return nil, errors.New("bad padding")
	}
	return data[:idx], nil
}

func rotateLeft1(in []byte) []byte {
	out := make([]byte, len(in))
	if len(in) == 0 {
		return out
	}
	copy(out, in[1:])
	out[len(in)-1] = in[0]
	return out
}

func rotateRight1(in []byte) []byte {
	out := make([]byte, len(in))
	if len(in) == 0 {
		return out
	}
	out[0] = in[len(in)-1]
	copy(out[1:], in[:len(in)-1])
	return out
}

// truncateMAC reduces a 16-byte CMAC to the 8 on-wire bytes. The tag keeps
// the odd-indexed bytes (1, 3, ..., 15), not the leading eight.
func truncateMAC(cmac []byte) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = cmac[2*i+1]
	}
	return out
}
