package xn297

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	MinAddressLength = 3
	MaxAddressLength = 5

	// MaxFrameLength is the nRF24L01 static payload limit.
	MaxFrameLength = 32

	// preambleFiller pads 3-byte addresses; genuine XN297 peers emit it too.
	preambleFiller = 0x55
)

// txAddress is the nRF24L01 address that makes the radio emit the XN297
// preamble before our hand-built frame.
var txAddress = [MaxAddressLength]byte{0x55, 0x0F, 0x71, 0x0C, 0x00}

// Settings describes the raw passthrough configuration.
type Settings struct {
	Channel       uint8
	PALevel       PALevel
	DataRate      DataRate
	Address       [MaxAddressLength]byte
	AddressLength int
	PayloadLength int
	NoCRC         bool
}

// FrameLength returns the number of on-air bytes for the given sizes.
func FrameLength(addrLen, payloadLen int, withCRC bool) int {
	n := addrLen + payloadLen
	if addrLen < 4 {
		n++
	}
	if withCRC {
		n += 2
	}
	return n
}

// Emulator builds XN297 frames and sends them through a Radio.
type Emulator struct {
	radio      Radio
	addr       [MaxAddressLength]byte
	addrLen    int
	payloadLen int
	crc        bool
	packets    atomic.Uint64
}

// NewEmulator wraps radio. Configure must be called before any send.
func NewEmulator(radio Radio) *Emulator {
	return &Emulator{radio: radio, crc: true}
}

// Configure runs the ordered raw passthrough setup: native addressing, CRC,
// auto-ack and retries are all turned off so the radio becomes a byte pipe.
func (e *Emulator) Configure(s Settings) error {
	if err := checkLengths(s.AddressLength, s.PayloadLength); err != nil {
		return err
	}
	e.crc = !s.NoCRC
	e.payloadLen = s.PayloadLength
	frameLen := FrameLength(s.AddressLength, s.PayloadLength, e.crc)

	steps := []struct {
		name string
		run  func() error
	}{
		{"begin", e.radio.Begin},
		{"pa_level", func() error { return e.radio.SetPALevel(s.PALevel) }},
		{"channel", func() error { return e.radio.SetChannel(s.Channel) }},
		{"payload_size", func() error { return e.radio.SetPayloadSize(uint8(frameLen)) }},
		{"data_rate", func() error { return e.radio.SetDataRate(s.DataRate) }},
		{"writing_pipe", func() error { return e.radio.OpenWritingPipe(s.Address[:]) }},
		{"auto_ack", func() error { return e.radio.SetAutoAck(false) }},
		{"address_width", func() error { return e.radio.SetAddressWidth(MaxAddressLength) }},
		{"crc", e.radio.DisableCRC},
		{"retries", func() error { return e.radio.SetRetries(0, 0) }},
		{"tx_address", func() error { return e.SetTXAddress(s.Address, s.AddressLength) }},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			if step.name == "begin" {
				return fmt.Errorf("%w: %w", ErrRadioInit, err)
			}
			return fmt.Errorf("configure %s: %w", step.name, err)
		}
	}

	log.Debug().
		Uint8("channel", s.Channel).
		Str("pa_level", s.PALevel.String()).
		Str("data_rate", s.DataRate.String()).
		Int("address_length", s.AddressLength).
		Int("frame_length", frameLen).
		Msg("XN297 emulation configured")
	return nil
}

// SetTXAddress stores the logical address and programs the radio's own
// address registers with the XN297 preamble. length is clamped to 3..5.
func (e *Emulator) SetTXAddress(addr [MaxAddressLength]byte, length int) error {
	if length < MinAddressLength {
		length = MinAddressLength
	}
	if length > MaxAddressLength {
		length = MaxAddressLength
	}

	buf := txAddress
	if length < 4 {
		copy(buf[:], txAddress[1:])
		buf[MaxAddressLength-1] = 0x00
	}

	if err := e.radio.WriteRegister(RegSetupAW, byte(length-2)); err != nil {
		return err
	}
	if err := e.radio.WriteRegister(RegTXAddr, buf[:]...); err != nil {
		return err
	}

	e.addr = [MaxAddressLength]byte{}
	copy(e.addr[:], addr[:length])
	e.addrLen = length
	return nil
}

// BuildFrame assembles the on-air bytes for payload.
func (e *Emulator) BuildFrame(payload []byte) ([]byte, error) {
	if e.addrLen == 0 {
		return nil, ErrNotConfigured
	}
	if e.payloadLen != 0 && len(payload) != e.payloadLen {
		return nil, fmt.Errorf("%w: got %d bytes, configured for %d", ErrPayloadLength, len(payload), e.payloadLen)
	}
	return EncodeFrame(e.addr[:e.addrLen], payload, e.crc)
}

// SendPayload transmits payload once. The result is whatever the radio
// reported; the packet counter advances either way.
func (e *Emulator) SendPayload(payload []byte) bool {
	frame, err := e.BuildFrame(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build XN297 frame")
		return false
	}

	ok := e.radio.Write(frame)
	e.packets.Add(1)
	return ok
}

// Packets returns the number of frames handed to the radio.
func (e *Emulator) Packets() uint64 {
	return e.packets.Load()
}

// ResetPackets zeroes the packet counter.
func (e *Emulator) ResetPackets() {
	e.packets.Store(0)
}

// EncodeFrame builds an XN297 frame for a logical address of 3..5 bytes.
func EncodeFrame(addr, payload []byte, withCRC bool) ([]byte, error) {
	addrLen := len(addr)
	if err := checkLengths(addrLen, len(payload)); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, FrameLength(addrLen, len(payload), withCRC))
	offset := 0
	if addrLen < 4 {
		buf = append(buf, preambleFiller)
		offset = 1
	}
	for i := 0; i < addrLen; i++ {
		buf = append(buf, Whiten(addr[addrLen-1-i], i))
	}
	for i, b := range payload {
		buf = append(buf, Whiten(BitReverse(b), addrLen+i))
	}

	if withCRC {
		crc, err := Checksum(buf[offset:], addrLen, len(payload))
		if err != nil {
			return nil, err
		}
		buf = append(buf, byte(crc>>8), byte(crc))
	}
	return buf, nil
}
