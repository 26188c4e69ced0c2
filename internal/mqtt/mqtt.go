// Package mqtt exposes the lamp to Home Assistant over MQTT: discovery,
// availability, JSON state and the command topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/command"
	"github.com/dokzlo13/quntisd/internal/light"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	qos            = 1
	publishTimeout = 5 * time.Second
)

// Handler is the shared command entry point. MQTT always sends mireds.
type Handler interface {
	HandleCommand(source string, payload []byte, unit command.Unit) error
}

// Config configures the manager.
type Config struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	DiscoveryPrefix string
	DeviceID        string
	DeviceName      string
	Version         string
	MinMireds       int
	MaxMireds       int
	ReconnectDelay  time.Duration
}

// Topics are the per-device MQTT topics.
type Topics struct {
	Config       string
	State        string
	Set          string
	Availability string
}

// NewTopics builds <prefix>/light/<device_id>/{config,state,set,availability}.
func NewTopics(prefix, deviceID string) Topics {
	base := fmt.Sprintf("%s/light/%s", prefix, deviceID)
	return Topics{
		Config:       base + "/config",
		State:        base + "/state",
		Set:          base + "/set",
		Availability: base + "/availability",
	}
}

// Device is the Home Assistant device block.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version"`
}

// Discovery is the retained Home Assistant discovery document.
type Discovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic"`
	AvailabilityTopic   string   `json:"availability_topic"`
	Schema              string   `json:"schema"`
	PayloadOn           string   `json:"payload_on"`
	PayloadOff          string   `json:"payload_off"`
	Brightness          bool     `json:"brightness"`
	BrightnessScale     int      `json:"brightness_scale"`
	MinMireds           int      `json:"min_mireds"`
	MaxMireds           int      `json:"max_mireds"`
	SupportedColorModes []string `json:"supported_color_modes"`
	Device              Device   `json:"device"`
}

// NewDiscovery builds the discovery document for cfg.
func NewDiscovery(cfg Config, t Topics) Discovery {
	return Discovery{
		Name:                cfg.DeviceName,
		UniqueID:            cfg.DeviceID,
		StateTopic:          t.State,
		CommandTopic:        t.Set,
		AvailabilityTopic:   t.Availability,
		Schema:              "json",
		PayloadOn:           "ON",
		PayloadOff:          "OFF",
		Brightness:          true,
		BrightnessScale:     100,
		MinMireds:           cfg.MinMireds,
		MaxMireds:           cfg.MaxMireds,
		SupportedColorModes: []string{"color_temp"},
		Device: Device{
			Identifiers:  []string{cfg.DeviceID},
			Name:         cfg.DeviceName,
			Model:        "Monitor Light Bar",
			Manufacturer: "Quntis",
			SWVersion:    cfg.Version,
		},
	}
}

// StatePayload renders a light state in the Home Assistant JSON schema.
func StatePayload(s light.State) command.State {
	return command.State{
		State:      command.OnOff(s.On),
		Brightness: int(math.Round(s.Brightness * 100)),
		ColorTemp:  int(math.Round(s.ColorTemp)),
		ColorMode:  "color_temp",
	}
}

// client is the subset of paho.Client the manager uses.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	IsConnectionOpen() bool
}

// Manager owns the broker connection.
type Manager struct {
	cfg     Config
	topics  Topics
	handler Handler
	client  client

	mu   sync.Mutex
	last *light.State
}

// New creates a manager; Start connects it.
func New(cfg Config, handler Handler) *Manager {
	m := newManager(cfg, handler, nil)
	m.client = paho.NewClient(m.options())
	return m
}

func newManager(cfg Config, handler Handler, c client) *Manager {
	return &Manager{
		cfg:     cfg,
		topics:  NewTopics(cfg.DiscoveryPrefix, cfg.DeviceID),
		handler: handler,
		client:  c,
	}
}

func (m *Manager) options() *paho.ClientOptions {
	clientID := m.cfg.ClientID
	if clientID == "" {
		clientID = "quntisd-" + uuid.NewString()[:8]
	}
	opts := paho.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(clientID).
		SetUsername(m.cfg.Username).
		SetPassword(m.cfg.Password).
		SetWill(m.topics.Availability, payloadOffline, qos, true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(m.cfg.ReconnectDelay).
		SetMaxReconnectInterval(m.cfg.ReconnectDelay).
		SetOnConnectHandler(func(paho.Client) { m.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})
	return opts
}

// Topics returns the device topics.
func (m *Manager) Topics() Topics { return m.topics }

// Connected reports whether the broker connection is up.
func (m *Manager) Connected() bool { return m.client.IsConnectionOpen() }

// Start connects in the background; paho keeps retrying every
// reconnect delay until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	log.Info().Str("broker", m.cfg.Broker).Str("device_id", m.cfg.DeviceID).Msg("Connecting to MQTT broker")
	token := m.client.Connect()
	go func() {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				log.Error().Err(err).Msg("MQTT connect failed")
			}
		case <-ctx.Done():
		}
	}()
}

// Stop marks the device offline and disconnects.
func (m *Manager) Stop() {
	if m.client.IsConnectionOpen() {
		m.publish(m.topics.Availability, true, payloadOffline)
	}
	m.client.Disconnect(250)
	log.Info().Msg("MQTT disconnected")
}

// PublishState publishes s retained and remembers it for reconnects.
func (m *Manager) PublishState(s light.State) {
	m.mu.Lock()
	m.last = &s
	m.mu.Unlock()

	if !m.client.IsConnectionOpen() {
		log.Debug().Msg("MQTT not connected, state will be published on connect")
		return
	}
	m.publishJSON(m.topics.State, StatePayload(s))
}

func (m *Manager) onConnect() {
	log.Info().Str("broker", m.cfg.Broker).Msg("MQTT connected")

	m.publish(m.topics.Availability, true, payloadOnline)
	m.publishJSON(m.topics.Config, NewDiscovery(m.cfg, m.topics))

	token := m.client.Subscribe(m.topics.Set, qos, m.onMessage)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", m.topics.Set).Msg("MQTT subscribe failed")
	}

	m.mu.Lock()
	last := m.last
	m.mu.Unlock()
	if last != nil {
		m.publishJSON(m.topics.State, StatePayload(*last))
	}
}

func (m *Manager) onMessage(_ paho.Client, msg paho.Message) {
	log.Debug().Str("topic", msg.Topic()).Str("payload", string(msg.Payload())).Msg("MQTT command received")
	if err := m.handler.HandleCommand("mqtt", msg.Payload(), command.UnitMireds); err != nil {
		log.Warn().Err(err).Str("payload", string(msg.Payload())).Msg("Rejected MQTT command")
	}
}

func (m *Manager) publishJSON(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to encode MQTT payload")
		return
	}
	m.publish(topic, true, data)
}

func (m *Manager) publish(topic string, retained bool, payload any) {
	token := m.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}
