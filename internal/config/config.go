package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/quntisd/internal/level"
	"github.com/dokzlo13/quntisd/internal/xn297"
)

// Config represents the application configuration
type Config struct {
	Radio           RadioConfig    `yaml:"radio"`
	Lamp            LampConfig     `yaml:"lamp"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	HTTP            HTTPConfig     `yaml:"http"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// RadioConfig contains nRF24L01 wiring and RF settings
type RadioConfig struct {
	SPIBus  string `yaml:"spi_bus"` // SPI port name, e.g. /dev/spidev0.0
	SPIHz   int64  `yaml:"spi_hz"`
	CEPin   string `yaml:"ce_pin"` // GPIO name for chip enable
	Channel uint8  `yaml:"channel"`
	PALevel string `yaml:"pa_level"` // min, low, high, max
}

// LampConfig describes the paired lamp and how it is driven
type LampConfig struct {
	Address         HexBytes `yaml:"address"`        // Device address captured from the paired remote
	AddressLength   int      `yaml:"address_length"` // 3..5 (default: 5)
	Payload         HexBytes `yaml:"payload"`        // 4-byte payload prefix before index and command
	BrightnessSteps int      `yaml:"brightness_steps"`
	ColorTempSteps  int      `yaml:"color_temp_steps"`
	MinMireds       int      `yaml:"min_mireds"`
	MaxMireds       int      `yaml:"max_mireds"`
	StepDelay       Duration `yaml:"step_delay"`    // Minimum gap between two nudges
	TickInterval    Duration `yaml:"tick_interval"` // Control loop period
	CalibrateOnBoot bool     `yaml:"calibrate_on_boot"`
}

// MQTTConfig contains broker and Home Assistant discovery settings
type MQTTConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Broker          string   `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID        string   `yaml:"client_id"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DiscoveryPrefix string   `yaml:"discovery_prefix"`
	DeviceID        string   `yaml:"device_id"`
	DeviceName      string   `yaml:"device_name"`
	ReconnectDelay  Duration `yaml:"reconnect_delay"`
}

// HTTPConfig contains control/status server settings
type HTTPConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	Username     string  `yaml:"username"`
	Password     string  `yaml:"password"` // Basic auth is enabled when set
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// ColorPolarity is the percent convention for color_temp: cold_low
	// (0% = coldest) or cold_high (100% = coldest).
	ColorPolarity string `yaml:"color_polarity"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// LedgerConfig contains RF command ledger settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Retention       Duration `yaml:"retention"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// HexBytes is a byte string written as hex, with optional spaces or colons:
// "20 21 01 31 AA", "20:21:01:31:aa" or "20210131aa".
type HexBytes []byte

// UnmarshalYAML implements yaml.Unmarshaler for HexBytes
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	b, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// ParseHex decodes a hex string ignoring spaces, colons and an 0x prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./quntisd.sqlite"
	}

	// Radio defaults
	if cfg.Radio.SPIBus == "" {
		cfg.Radio.SPIBus = "/dev/spidev0.0"
	}
	if cfg.Radio.SPIHz == 0 {
		cfg.Radio.SPIHz = 1_000_000
	}
	if cfg.Radio.CEPin == "" {
		cfg.Radio.CEPin = "GPIO25"
	}
	if cfg.Radio.Channel == 0 {
		cfg.Radio.Channel = 2
	}
	if cfg.Radio.PALevel == "" {
		cfg.Radio.PALevel = "max"
	}

	// Lamp defaults
	if cfg.Lamp.AddressLength == 0 {
		cfg.Lamp.AddressLength = xn297.MaxAddressLength
	}
	if len(cfg.Lamp.Payload) == 0 {
		cfg.Lamp.Payload = HexBytes{0x00, 0x76, 0x9A, 0x31}
	}
	if cfg.Lamp.BrightnessSteps == 0 {
		cfg.Lamp.BrightnessSteps = 75
	}
	if cfg.Lamp.ColorTempSteps == 0 {
		cfg.Lamp.ColorTempSteps = 30
	}
	if cfg.Lamp.MinMireds == 0 {
		cfg.Lamp.MinMireds = 153
	}
	if cfg.Lamp.MaxMireds == 0 {
		cfg.Lamp.MaxMireds = 500
	}
	if cfg.Lamp.StepDelay == 0 {
		cfg.Lamp.StepDelay = Duration(50 * time.Millisecond)
	}
	if cfg.Lamp.TickInterval == 0 {
		cfg.Lamp.TickInterval = Duration(10 * time.Millisecond)
	}

	// MQTT defaults
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.MQTT.DeviceID == "" {
		cfg.MQTT.DeviceID = "quntis_lamp"
	}
	if cfg.MQTT.DeviceName == "" {
		cfg.MQTT.DeviceName = "Quntis Lamp"
	}
	if cfg.MQTT.ReconnectDelay == 0 {
		cfg.MQTT.ReconnectDelay = Duration(5 * time.Second)
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 5
	}
	if cfg.HTTP.ColorPolarity == "" {
		cfg.HTTP.ColorPolarity = level.ColdLow.String()
	}

	// Ledger defaults
	if cfg.Ledger.Retention == 0 {
		cfg.Ledger.Retention = Duration(720 * time.Hour)
	}
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate rejects settings that would only fail later, before any radio
// is touched.
func (cfg *Config) Validate() error {
	var errs []error

	l := cfg.Lamp
	if l.AddressLength < xn297.MinAddressLength || l.AddressLength > xn297.MaxAddressLength {
		errs = append(errs, fmt.Errorf("lamp.address_length: %w: %d", xn297.ErrAddressLength, l.AddressLength))
	}
	if len(l.Address) < l.AddressLength {
		errs = append(errs, fmt.Errorf("lamp.address: need %d bytes, got %d", l.AddressLength, len(l.Address)))
	}
	if len(l.Payload) != 4 {
		errs = append(errs, fmt.Errorf("lamp.payload: need 4 bytes, got %d", len(l.Payload)))
	}
	if l.BrightnessSteps < 1 {
		errs = append(errs, fmt.Errorf("lamp.brightness_steps: %w", level.ErrSteps))
	}
	if l.ColorTempSteps < 1 {
		errs = append(errs, fmt.Errorf("lamp.color_temp_steps: %w", level.ErrSteps))
	}
	if err := (level.MiredRange{Min: l.MinMireds, Max: l.MaxMireds}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("lamp: %w", err))
	}

	if _, ok := xn297.ParsePALevel(cfg.Radio.PALevel); !ok {
		errs = append(errs, fmt.Errorf("radio.pa_level: unknown level %q", cfg.Radio.PALevel))
	}
	if cfg.Radio.Channel > 125 {
		errs = append(errs, fmt.Errorf("radio.channel: %d is above 125", cfg.Radio.Channel))
	}

	if _, err := level.ParsePolarity(cfg.HTTP.ColorPolarity); err != nil {
		errs = append(errs, fmt.Errorf("http.color_polarity: %w", err))
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}

	return errors.Join(errs...)
}

// Polarity returns the parsed HTTP color polarity.
func (c *HTTPConfig) Polarity() level.Polarity {
	p, _ := level.ParsePolarity(c.ColorPolarity)
	return p
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
