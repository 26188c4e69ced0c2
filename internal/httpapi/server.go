// Package httpapi serves the lamp control and status API.
package httpapi

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/quntisd/internal/command"
	"github.com/dokzlo13/quntisd/internal/level"
	"github.com/dokzlo13/quntisd/internal/light"
	"github.com/dokzlo13/quntisd/internal/transition"
)

const maxBodyBytes = 4 << 10

//go:embed index.html
var indexHTML []byte

// Controller is what the API drives. Every call is safe from any goroutine.
type Controller interface {
	HandleCommand(source string, payload []byte, unit command.Unit) error
	Calibrate(ctx context.Context) error
	OverridePower(ctx context.Context, on bool) error
	Snapshot() light.Snapshot
	Packets() uint64
	ResetPackets()
	Ready() bool
}

// Info is served on /api/info.
type Info struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
}

// Options configure the server.
type Options struct {
	Host         string
	Port         int
	Username     string
	Password     string
	RateLimitRPS float64
	Polarity     level.Polarity
	Info         Info
	Metrics      http.Handler
}

// Server is the control/status HTTP server.
type Server struct {
	opts       Options
	ctrl       Controller
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer creates a new server.
func NewServer(opts Options, ctrl Controller) *Server {
	burst := int(math.Max(1, opts.RateLimitRPS))
	return &Server{
		opts:    opts,
		ctrl:    ctrl,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst),
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}

	mux.Handle("GET /{$}", s.auth(http.HandlerFunc(s.handleIndex)))
	mux.Handle("GET /api/status", s.auth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /api/info", s.auth(http.HandlerFunc(s.handleInfo)))
	mux.Handle("POST /api/set", s.auth(s.limit(http.HandlerFunc(s.handleSet))))
	mux.Handle("POST /api/calibrate", s.auth(s.limit(http.HandlerFunc(s.handleCalibrate))))
	mux.Handle("POST /api/override", s.auth(http.HandlerFunc(s.handleOverride)))
	mux.Handle("POST /api/packets/reset", s.auth(http.HandlerFunc(s.handleResetPackets)))

	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.Addr()).Bool("auth", s.opts.Password != "").Msg("Starting HTTP API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// StatusResponse is the /api/status body. color_temp is a percent in the
// configured polarity.
type StatusResponse struct {
	State          string  `json:"state"`
	Brightness     int     `json:"brightness"`
	ColorTemp      int     `json:"color_temp"`
	ColorTempMired int     `json:"color_temp_mireds"`
	BrightnessStep int     `json:"brightness_step"`
	ColorStep      int     `json:"color_step"`
	Operation      string  `json:"operation"`
	Busy           bool    `json:"busy"`
	Calibrating    bool    `json:"calibrating"`
	Polarity       string  `json:"color_polarity"`
	Fraction       float64 `json:"brightness_fraction"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		State:          command.OnOff(snap.State.On),
		Brightness:     int(math.Round(snap.BrightnessPercent())),
		ColorTemp:      int(math.Round(snap.ColorPercent(s.opts.Polarity))),
		ColorTempMired: int(math.Round(snap.State.ColorTemp)),
		BrightnessStep: snap.Steps.Brightness,
		ColorStep:      snap.Steps.Color,
		Operation:      snap.Operation,
		Busy:           snap.Busy,
		Calibrating:    snap.Calibrating,
		Polarity:       s.opts.Polarity.String(),
		Fraction:       snap.State.Brightness,
	})
}

// handleIndex serves a small control page over the JSON API.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(indexHTML); err != nil {
		log.Error().Err(err).Msg("Failed to write HTTP response")
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Info
		Packets uint64 `json:"packets"`
	}{s.opts.Info, s.ctrl.Packets()})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	err = s.ctrl.HandleCommand("http", body, command.UnitPercent)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, command.ErrMalformed):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Calibrate(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "calibrating"})
	case errors.Is(err, transition.ErrCalibrating):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

// handleOverride corrects believed power without RF, for when the lamp was
// switched with its own remote. Body: {"state": "ON"|"OFF"}.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	req, err := command.Parse(body, command.UnitPercent, s.opts.Polarity)
	if err == nil && req.On == nil {
		err = fmt.Errorf("%w: state is required", command.ErrMalformed)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.OverridePower(r.Context(), *req.On); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": command.OnOff(*req.On)})
}

func (s *Server) handleResetPackets(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ResetPackets()
	writeJSON(w, http.StatusOK, map[string]uint64{"packets": s.ctrl.Packets()})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// auth enforces basic auth when a password is configured.
func (s *Server) auth(next http.Handler) http.Handler {
	if s.opts.Password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="quntisd"`)
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			log.Warn().Str("path", r.URL.Path).Msg("HTTP request rate limited")
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write HTTP response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
