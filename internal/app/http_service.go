package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/config"
	"github.com/dokzlo13/quntisd/internal/httpapi"
)

// HTTPService wraps the control/status HTTP server.
type HTTPService struct {
	cfg    *config.Config
	server *httpapi.Server
}

// NewHTTPService creates a new HTTPService.
func NewHTTPService(cfg *config.Config, version string, ctrl httpapi.Controller, metricsHandler http.Handler) *HTTPService {
	server := httpapi.NewServer(httpapi.Options{
		Host:         cfg.HTTP.Host,
		Port:         cfg.HTTP.Port,
		Username:     cfg.HTTP.Username,
		Password:     cfg.HTTP.Password,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
		Polarity:     cfg.HTTP.Polarity(),
		Info: httpapi.Info{
			Name:         cfg.MQTT.DeviceName,
			Version:      version,
			Model:        "Monitor Light Bar",
			Manufacturer: "Quntis",
		},
		Metrics: metricsHandler,
	}, ctrl)
	return &HTTPService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the HTTP server if enabled. A listen failure is fatal.
func (s *HTTPService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.HTTP.Enabled {
		log.Debug().Msg("HTTP API disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("HTTP API server error")
			onFatalError(fmt.Errorf("http api: %w", err))
		}
	}()
}
