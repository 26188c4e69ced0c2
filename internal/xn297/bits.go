// Package xn297 emulates the XN297 2.4 GHz transceiver framing on top of an
// nRF24L01 radio running in raw passthrough mode.
//
// The XN297 transmits the address in reverse byte order, sends every byte
// LSB first, whitens the whole frame with a fixed scramble sequence and
// appends a CRC-16 whose final XOR depends on the frame length. The nRF24L01
// does none of that natively, so the emulator assembles the on-air bytes
// itself and hands them to the radio as an opaque payload.
package xn297

import "math/bits"

// scramble is the XN297 whitening sequence. Address bytes use entries from
// index 0, payload bytes continue where the address stopped.
var scramble = [...]byte{
	0xe3, 0xb1, 0x4b, 0xea, 0x85, 0xbc, 0xe5, 0x66,
	0x0d, 0xae, 0x8c, 0x88, 0x12, 0x69, 0xee, 0x1f,
	0xc7, 0x62, 0x97, 0xd5, 0x0b, 0x79, 0xca, 0xcc,
	0x1b, 0x5d, 0x19, 0x10, 0x24, 0xd3, 0xdc, 0x3f,
	0x8e, 0xc5, 0x2f,
}

// ScrambleLen is the number of whitening entries available to address plus payload.
const ScrambleLen = len(scramble)

// BitReverse mirrors the bit order of b (bit 7 becomes bit 0).
func BitReverse(b byte) byte {
	return bits.Reverse8(b)
}

// Whiten XORs b with the scramble entry at index i. Applying it twice with
// the same index restores b. i must be in [0, ScrambleLen).
func Whiten(b byte, i int) byte {
	return b ^ scramble[i]
}
