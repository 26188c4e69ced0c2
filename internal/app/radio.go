package app

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/config"
	"github.com/dokzlo13/quntisd/internal/nrf24"
	"github.com/dokzlo13/quntisd/internal/remote"
	"github.com/dokzlo13/quntisd/internal/xn297"
)

// RadioSettings derives the XN297 passthrough settings from config.
func RadioSettings(cfg *config.Config) xn297.Settings {
	pa, _ := xn297.ParsePALevel(cfg.Radio.PALevel)
	s := xn297.Settings{
		Channel:       cfg.Radio.Channel,
		PALevel:       pa,
		DataRate:      xn297.DataRate1Mbps,
		AddressLength: cfg.Lamp.AddressLength,
		PayloadLength: remote.PayloadLength,
	}
	copy(s.Address[:], cfg.Lamp.Address)
	return s
}

// PayloadPrefix returns the configured 4-byte payload prefix.
func PayloadPrefix(cfg *config.Config) [remote.PrefixLength]byte {
	var p [remote.PrefixLength]byte
	copy(p[:], cfg.Lamp.Payload)
	return p
}

// Transmitter is a configured XN297 emulator on real hardware.
type Transmitter struct {
	*xn297.Emulator
	device *nrf24.Device
}

// OpenTransmitter opens the nRF24L01 and configures it for XN297 emulation.
// Failure here is fatal: nothing downstream works without the radio.
func OpenTransmitter(cfg *config.Config) (*Transmitter, error) {
	dev, err := nrf24.Open(nrf24.Config{
		SPIBus: cfg.Radio.SPIBus,
		SPIHz:  cfg.Radio.SPIHz,
		CEPin:  cfg.Radio.CEPin,
	})
	if err != nil {
		return nil, err
	}

	em := xn297.NewEmulator(dev)
	if err := em.Configure(RadioSettings(cfg)); err != nil {
		dev.Close()
		log.Error().Err(err).Str("spi", cfg.Radio.SPIBus).Msg("Radio initialization failed")
		return nil, fmt.Errorf("failed to configure radio: %w", err)
	}

	log.Info().
		Str("device", dev.String()).
		Uint8("channel", cfg.Radio.Channel).
		Str("pa_level", cfg.Radio.PALevel).
		Msg("Radio ready")
	return &Transmitter{Emulator: em, device: dev}, nil
}

// Close releases the SPI port and CE pin.
func (t *Transmitter) Close() error {
	return t.device.Close()
}
