package xn297

import "fmt"

const (
	crcPolynomial = 0x1021
	crcInitial    = 0xB5D2
)

// xorOut holds the final XOR applied by the XN297 CRC unit, indexed by
// addressLength - 3 + payloadLength.
var xorOut = [...]uint16{
	0x0000, 0x3448, 0x9BA7, 0x8BBB, 0x85E1, 0x3E8C, 0x451E, 0x18E6,
	0x6B24, 0xE7AB, 0x3828, 0x814B, 0xD461, 0xF494, 0x2503, 0x691D,
	0xFE8B, 0x9BA7, 0x8B17, 0x2920, 0x8B5F, 0x61B1, 0xD391, 0x7401,
	0x2138, 0x129F, 0xB3A0, 0x2988,
}

func crcUpdate(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ crcPolynomial
		} else {
			crc <<= 1
		}
	}
	return crc
}

// Checksum computes the XN297 CRC over whitened address and payload bytes.
// The preamble filler used with 3-byte addresses must not be part of data.
func Checksum(data []byte, addrLen, payloadLen int) (uint16, error) {
	if err := checkLengths(addrLen, payloadLen); err != nil {
		return 0, err
	}
	if len(data) != addrLen+payloadLen {
		return 0, fmt.Errorf("%w: have %d bytes, want %d", ErrShortFrame, len(data), addrLen+payloadLen)
	}

	crc := uint16(crcInitial)
	for _, b := range data {
		crc = crcUpdate(crc, b)
	}
	return crc ^ xorOut[addrLen-3+payloadLen], nil
}

// checkLengths rejects (address, payload) combinations the whitening and
// XOR-out tables do not cover.
func checkLengths(addrLen, payloadLen int) error {
	if addrLen < MinAddressLength || addrLen > MaxAddressLength {
		return fmt.Errorf("%w: %d", ErrAddressLength, addrLen)
	}
	if payloadLen < 1 ||
		addrLen-3+payloadLen >= len(xorOut) ||
		addrLen+payloadLen > ScrambleLen ||
		FrameLength(addrLen, payloadLen, true) > MaxFrameLength {
		return fmt.Errorf("%w: %d with %d-byte address", ErrPayloadLength, payloadLen, addrLen)
	}
	return nil
}
