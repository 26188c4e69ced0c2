package app

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/config"
	"github.com/dokzlo13/quntisd/internal/db"
	"github.com/dokzlo13/quntisd/internal/eventbus"
	"github.com/dokzlo13/quntisd/internal/ledger"
	"github.com/dokzlo13/quntisd/internal/light"
	"github.com/dokzlo13/quntisd/internal/metrics"
	"github.com/dokzlo13/quntisd/internal/mqtt"
	"github.com/dokzlo13/quntisd/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg     *config.Config
	version string

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *storage.Store
	Bus      *eventbus.Bus
	Registry *prometheus.Registry
	Metrics  *metrics.AppMetrics

	// Radio
	Transmitter *Transmitter

	// High-level services
	Light     *LightService
	MQTT      *mqtt.Manager
	HTTP      *HTTPService
	LedgerSvc *LedgerService

	loopStarted bool
	settledMu   sync.Mutex
	settledLast uint64
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, version string) (*Services, error) {
	s := &Services{cfg: cfg, version: version}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Registry = metrics.NewRegistry()
	s.Metrics = metrics.NewAppMetrics(s.Registry)

	s.Transmitter, err = OpenTransmitter(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Light, err = NewLightService(cfg, s.Transmitter, s.Bus, s.Metrics)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.MQTT.Enabled {
		s.MQTT = mqtt.New(mqtt.Config{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			DeviceID:        cfg.MQTT.DeviceID,
			DeviceName:      cfg.MQTT.DeviceName,
			Version:         version,
			MinMireds:       cfg.Lamp.MinMireds,
			MaxMireds:       cfg.Lamp.MaxMireds,
			ReconnectDelay:  cfg.MQTT.ReconnectDelay.Duration(),
		}, s.Light)
	}

	s.HTTP = NewHTTPService(cfg, version, s.Light, metrics.Handler(s.Registry))

	if cfg.Ledger.Enabled {
		s.LedgerSvc = NewLedgerService(cfg, s.Ledger)
		s.LedgerSvc.Subscribe(s.Bus)
	}
	s.Bus.Subscribe(eventbus.EventTypeStateSettled, s.onStateSettled)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	st, ok, err := s.Store.LoadLamp(s.cfg.MQTT.DeviceID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load stored lamp state, using defaults")
	}
	if !ok {
		st = light.DefaultState
	}
	s.Light.Restore(st)
	log.Info().
		Bool("on", st.On).
		Float64("brightness", st.Brightness).
		Float64("color_temp", st.ColorTemp).
		Bool("restored", ok).
		Msg("Lamp state initialized")

	if s.cfg.Lamp.CalibrateOnBoot {
		if err := s.Light.CalibrateOnBoot(); err != nil {
			return err
		}
		log.Info().Msg("Calibration queued on boot")
	}

	s.loopStarted = true
	go func() {
		s.Light.Run(ctx)
		if ctx.Err() == nil {
			onFatalError(ErrStopped)
		}
	}()

	if s.MQTT != nil {
		s.MQTT.PublishState(s.Light.Current())
		s.MQTT.Start(ctx)
	}
	s.HTTP.Start(ctx, onFatalError)
	if s.LedgerSvc != nil {
		s.LedgerSvc.Start(ctx)
	}

	return nil
}

// onStateSettled forwards settled states to MQTT and storage. Bus workers
// may deliver out of order, so stale states are dropped by sequence.
func (s *Services) onStateSettled(e eventbus.Event) {
	st, ok := e.Data["state"].(light.State)
	if !ok {
		return
	}
	seq, _ := e.Data["seq"].(uint64)

	s.settledMu.Lock()
	defer s.settledMu.Unlock()
	if seq <= s.settledLast {
		log.Debug().Uint64("seq", seq).Uint64("last", s.settledLast).Msg("Dropping stale settled state")
		return
	}
	s.settledLast = seq

	if s.MQTT != nil {
		s.MQTT.PublishState(st)
	}
	if err := s.Store.SaveLamp(s.cfg.MQTT.DeviceID, st); err != nil {
		log.Error().Err(err).Msg("Failed to persist lamp state")
	}
}

// ClearState removes the persisted lamp state.
func (s *Services) ClearState() error {
	return s.Store.Delete(storage.KindLamp, s.cfg.MQTT.DeviceID)
}

// Stop gracefully stops all services. The context passed to Start must
// already be cancelled.
func (s *Services) Stop() error {
	if s.loopStarted {
		select {
		case <-s.Light.Done():
		case <-time.After(s.cfg.ShutdownTimeout.Duration()):
			log.Warn().Msg("Light control loop did not stop in time")
		}
	}
	if s.MQTT != nil {
		s.MQTT.Stop()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Transmitter != nil {
		if err := s.Transmitter.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release radio")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
