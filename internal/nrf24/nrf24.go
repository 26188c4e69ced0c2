// Package nrf24 drives an nRF24L01(+) transceiver over SPI as a transmit-only
// raw byte pipe. It implements xn297.Radio.
package nrf24

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/dokzlo13/quntisd/internal/xn297"
)

var (
	ErrNotResponding = errors.New("nrf24 not responding")
	ErrChannel       = errors.New("channel must be between 0 and 125")
)

// Registers.
const (
	regConfig    = 0x00
	regEnAA      = 0x01
	regEnRXAddr  = 0x02
	regSetupAW   = 0x03
	regSetupRetr = 0x04
	regRFCh      = 0x05
	regRFSetup   = 0x06
	regStatus    = 0x07
	regRXAddrP0  = 0x0A
	regTXAddr    = 0x10
	regRXPwP0    = 0x11
	regDynPD     = 0x1C
	regFeature   = 0x1D
)

// Commands.
const (
	cmdWRegister    = 0x20
	cmdWTXPayload   = 0xA0
	cmdFlushTX      = 0xE1
	cmdFlushRX      = 0xE2
	cmdNOP          = 0xFF
	registerMask    = 0x1F
	maxPayloadBytes = 32
)

// Bits.
const (
	configPrimRX = 1 << 0
	configPwrUp  = 1 << 1
	configCRCO   = 1 << 2
	configEnCRC  = 1 << 3

	statusMaxRT = 1 << 4
	statusTXDS  = 1 << 5
	statusRXDR  = 1 << 6

	rfSetupDRHigh = 1 << 3
	rfSetupDRLow  = 1 << 5
	rfSetupPAMask = 3 << 1
)

const txTimeout = 50 * time.Millisecond

// Config selects the SPI bus and CE line.
type Config struct {
	SPIBus string
	SPIHz  int64
	CEPin  string
}

// transport is the part of spi.Conn the driver uses.
type transport interface {
	Tx(w, r []byte) error
}

type pin interface {
	Out(l gpio.Level) error
}

// Device is an nRF24L01 on a SPI bus.
type Device struct {
	mu          sync.Mutex
	conn        transport
	ce          pin
	port        spi.PortCloser
	config      byte
	rfSetup     byte
	payloadSize uint8
}

var _ xn297.Radio = (*Device)(nil)

// Open initializes the host, opens the SPI port and claims the CE pin.
// The chip itself is not touched until Begin.
func Open(cfg Config) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	p, err := spireg.Open(cfg.SPIBus)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", cfg.SPIBus, err)
	}

	c, err := p.Connect(physic.Frequency(cfg.SPIHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	ce := gpioreg.ByName(cfg.CEPin)
	if ce == nil {
		p.Close()
		return nil, fmt.Errorf("failed to open CE pin %s", cfg.CEPin)
	}

	d := newDevice(c, ce)
	d.port = p
	return d, nil
}

func newDevice(conn transport, ce pin) *Device {
	return &Device{
		conn:        conn,
		ce:          ce,
		payloadSize: maxPayloadBytes,
	}
}

// Begin resets the chip into powered-up primary TX mode and verifies it
// answers on the bus.
func (d *Device) Begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ce.Out(gpio.Low); err != nil {
		return err
	}

	// SETUP_AW holds 0b11 after reset; a missing chip reads back 0x00 or 0xFF.
	if err := d.writeRegister(regSetupAW, 0x03); err != nil {
		return err
	}
	aw, err := d.readRegister(regSetupAW)
	if err != nil {
		return err
	}
	if aw != 0x03 {
		return fmt.Errorf("%w: SETUP_AW read back %#02x", ErrNotResponding, aw)
	}

	d.config = configEnCRC | configCRCO
	steps := []func() error{
		func() error { return d.writeRegister(regConfig, d.config) },
		func() error { return d.writeRegister(regStatus, statusRXDR|statusTXDS|statusMaxRT) },
		func() error { return d.writeRegister(regDynPD, 0) },
		func() error { return d.writeRegister(regFeature, 0) },
		func() error { return d.writeRegister(regEnRXAddr, 0x01) },
		func() error { return d.command(cmdFlushTX) },
		func() error { return d.command(cmdFlushRX) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	d.config |= configPwrUp
	d.config &^= configPrimRX
	if err := d.writeRegister(regConfig, d.config); err != nil {
		return err
	}
	// Tpd2stby
	time.Sleep(5 * time.Millisecond)

	rf, err := d.readRegister(regRFSetup)
	if err != nil {
		return err
	}
	d.rfSetup = rf

	log.Debug().Msg("nRF24L01 powered up")
	return nil
}

// SetPALevel sets the transmit power.
func (d *Device) SetPALevel(level xn297.PALevel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rfSetup = d.rfSetup&^rfSetupPAMask | byte(level&0x03)<<1
	return d.writeRegister(regRFSetup, d.rfSetup)
}

// SetChannel selects the RF channel (2400 + ch MHz).
func (d *Device) SetChannel(ch uint8) error {
	if ch > 125 {
		return fmt.Errorf("%w: %d", ErrChannel, ch)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegister(regRFCh, ch)
}

// SetPayloadSize sets the static payload width, clamped to 1..32.
func (d *Device) SetPayloadSize(size uint8) error {
	if size < 1 {
		size = 1
	}
	if size > maxPayloadBytes {
		size = maxPayloadBytes
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.payloadSize = size
	return d.writeRegister(regRXPwP0, size)
}

// SetDataRate sets the on-air bit rate.
func (d *Device) SetDataRate(rate xn297.DataRate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rfSetup &^= rfSetupDRHigh | rfSetupDRLow
	switch rate {
	case xn297.DataRate2Mbps:
		d.rfSetup |= rfSetupDRHigh
	case xn297.DataRate250Kbps:
		d.rfSetup |= rfSetupDRLow
	}
	return d.writeRegister(regRFSetup, d.rfSetup)
}

// OpenWritingPipe sets TX_ADDR and RX_ADDR_P0 to addr.
func (d *Device) OpenWritingPipe(addr []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeRegisterN(regRXAddrP0, addr); err != nil {
		return err
	}
	if err := d.writeRegisterN(regTXAddr, addr); err != nil {
		return err
	}
	return d.writeRegister(regRXPwP0, d.payloadSize)
}

// SetAutoAck toggles Enhanced ShockBurst auto acknowledgement on all pipes.
func (d *Device) SetAutoAck(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var v byte
	if enabled {
		v = 0x3F
	}
	return d.writeRegister(regEnAA, v)
}

// SetAddressWidth sets the native address width, clamped to 3..5.
func (d *Device) SetAddressWidth(width uint8) error {
	if width < 3 {
		width = 3
	}
	if width > 5 {
		width = 5
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegister(regSetupAW, width-2)
}

// DisableCRC turns off the native CRC.
func (d *Device) DisableCRC() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.config &^= configEnCRC
	return d.writeRegister(regConfig, d.config)
}

// SetRetries sets the auto retransmit delay (250us units) and count.
func (d *Device) SetRetries(delay, count uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegister(regSetupRetr, (delay&0x0F)<<4|count&0x0F)
}

// WriteRegister writes raw bytes to a register.
func (d *Device) WriteRegister(reg byte, data ...byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegisterN(reg, data)
}

// Write transmits buf as one static-width payload and waits for the chip
// to report TX_DS or MAX_RT.
func (d *Device) Write(buf []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(buf) > int(d.payloadSize) {
		log.Error().Int("len", len(buf)).Uint8("payload_size", d.payloadSize).Msg("Payload exceeds radio payload size")
		return false
	}

	cmd := make([]byte, 1+int(d.payloadSize))
	cmd[0] = cmdWTXPayload
	copy(cmd[1:], buf)
	if _, err := d.transfer(cmd); err != nil {
		log.Error().Err(err).Msg("Failed to load TX payload")
		return false
	}

	// CE pulse >10us starts the transmission.
	if err := d.ce.Out(gpio.High); err != nil {
		log.Error().Err(err).Msg("Failed to raise CE")
		d.flushTX()
		return false
	}
	time.Sleep(15 * time.Microsecond)
	if err := d.ce.Out(gpio.Low); err != nil {
		log.Error().Err(err).Msg("Failed to drop CE")
	}

	deadline := time.Now().Add(txTimeout)
	for {
		status, err := d.transfer([]byte{cmdNOP})
		if err != nil {
			log.Error().Err(err).Msg("Failed to read radio status")
			return false
		}
		if status&(statusTXDS|statusMaxRT) != 0 {
			if err := d.writeRegister(regStatus, statusTXDS|statusMaxRT); err != nil {
				log.Warn().Err(err).Msg("Failed to clear radio status")
			}
			if status&statusMaxRT != 0 {
				d.flushTX()
				return false
			}
			return true
		}
		if time.Now().After(deadline) {
			d.flushTX()
			log.Warn().Msg("Radio transmit timed out")
			return false
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (d *Device) flushTX() {
	if err := d.command(cmdFlushTX); err != nil {
		log.Warn().Err(err).Msg("Failed to flush TX FIFO")
	}
}

// Close powers the radio down and releases the SPI port.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ce.Out(gpio.Low); err != nil {
		log.Warn().Err(err).Msg("Failed to drop CE")
	}
	d.config &^= configPwrUp
	if err := d.writeRegister(regConfig, d.config); err != nil {
		log.Warn().Err(err).Msg("Failed to power down radio")
	}
	if d.port != nil {
		return d.port.Close()
	}
	return nil
}

func (d *Device) String() string {
	return fmt.Sprintf("nRF24L01(payload=%d, rf_setup=%#02x)", d.payloadSize, d.rfSetup)
}

// transfer runs one SPI transaction and returns the STATUS byte clocked out
// with the command.
func (d *Device) transfer(w []byte) (byte, error) {
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("spi transfer: %w", err)
	}
	return r[0], nil
}

func (d *Device) command(cmd byte) error {
	_, err := d.transfer([]byte{cmd})
	return err
}

func (d *Device) writeRegister(reg, val byte) error {
	return d.writeRegisterN(reg, []byte{val})
}

func (d *Device) writeRegisterN(reg byte, data []byte) error {
	cmd := make([]byte, 0, 1+len(data))
	cmd = append(cmd, cmdWRegister|reg&registerMask)
	cmd = append(cmd, data...)
	_, err := d.transfer(cmd)
	return err
}

func (d *Device) readRegister(reg byte) (byte, error) {
	w := []byte{reg & registerMask, cmdNOP}
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("spi transfer: %w", err)
	}
	return r[1], nil
}
