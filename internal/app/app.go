// Package app wires the radio, the light control loop and the MQTT, HTTP
// and ledger front ends into one daemon.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/config"
)

// App owns the services of one serve run.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New opens the database and the radio and builds every service. Nothing
// runs until Start. Fails when the radio is missing.
func New(cfg *config.Config, version string) (*App, error) {
	services, err := NewServices(cfg, version)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start restores the lamp belief and starts the control loop and front
// ends. A fatal service error cancels the app, which ends Wait.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		return err
	}

	log.Info().
		Bool("mqtt", a.cfg.MQTT.Enabled).
		Bool("http", a.cfg.HTTP.Enabled).
		Msg("quntisd started")
	return nil
}

// Stop cancels the loop, marks MQTT offline and releases the radio and
// database.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")
	if a.cancel != nil {
		a.cancel()
	}
	if a.services == nil {
		return nil
	}
	return a.services.Stop()
}

// Wait blocks until a signal or a fatal error cancels the app.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ClearLampState forgets the persisted lamp state so the next start uses
// defaults. Used by --reset-state.
func (a *App) ClearLampState() error {
	if a.services == nil {
		return nil
	}
	return a.services.ClearState()
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
