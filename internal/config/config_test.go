package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/quntisd/internal/level"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "lamp:\n  address: \"20 21 01 31 AA\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !bytes.Equal(cfg.Lamp.Address, []byte{0x20, 0x21, 0x01, 0x31, 0xAA}) {
		t.Errorf("Address = % X", []byte(cfg.Lamp.Address))
	}
	if !bytes.Equal(cfg.Lamp.Payload, []byte{0x00, 0x76, 0x9A, 0x31}) {
		t.Errorf("Payload = % X", []byte(cfg.Lamp.Payload))
	}
	if cfg.Lamp.AddressLength != 5 || cfg.Lamp.BrightnessSteps != 75 || cfg.Lamp.ColorTempSteps != 30 {
		t.Errorf("lamp defaults = %+v", cfg.Lamp)
	}
	if cfg.Lamp.StepDelay.Duration() != 50*time.Millisecond {
		t.Errorf("StepDelay = %v", cfg.Lamp.StepDelay.Duration())
	}
	if cfg.Radio.Channel != 2 || cfg.Radio.PALevel != "max" {
		t.Errorf("radio defaults = %+v", cfg.Radio)
	}
	if cfg.HTTP.Polarity() != level.ColdLow {
		t.Errorf("HTTP polarity = %s, want cold_low", cfg.HTTP.Polarity())
	}
	if cfg.MQTT.ReconnectDelay.Duration() != 5*time.Second {
		t.Errorf("ReconnectDelay = %v", cfg.MQTT.ReconnectDelay.Duration())
	}
	if cfg.ShutdownTimeout.Duration() != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout.Duration())
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("LAMP_ADDR", "aa:bb:cc:dd:ee")
	cfg, err := Load(writeConfig(t, `
lamp:
  address: "${LAMP_ADDR}"
mqtt:
  enabled: true
  broker: "${MQTT_BROKER:tcp://localhost:1883}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(cfg.Lamp.Address, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}) {
		t.Errorf("Address = % X", []byte(cfg.Lamp.Address))
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q", cfg.MQTT.Broker)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing address", "lamp: {}\n", "lamp.address"},
		{"address length too long", "lamp:\n  address: 2021013100AA\n  address_length: 6\n", "lamp.address_length"},
		{"short payload", "lamp:\n  address: 20210131AA\n  payload: \"00 76\"\n", "lamp.payload"},
		{"inverted mireds", "lamp:\n  address: 20210131AA\n  min_mireds: 600\n", "min mireds"},
		{"bad pa level", "lamp:\n  address: 20210131AA\nradio:\n  pa_level: loud\n", "radio.pa_level"},
		{"bad polarity", "lamp:\n  address: 20210131AA\nhttp:\n  color_polarity: warm\n", "http.color_polarity"},
		{"mqtt without broker", "lamp:\n  address: 20210131AA\nmqtt:\n  enabled: true\n", "mqtt.broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"20 21 01 31 AA", []byte{0x20, 0x21, 0x01, 0x31, 0xAA}, false},
		{"0x0f71", []byte{0x0F, 0x71}, false},
		{"zz", nil, true},
		{"abc", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseHex(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHex(%q) error = %v", tt.in, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("ParseHex(%q) = % X, want % X", tt.in, got, tt.want)
		}
	}
}
