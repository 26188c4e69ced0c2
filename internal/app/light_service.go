package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/command"
	"github.com/dokzlo13/quntisd/internal/config"
	"github.com/dokzlo13/quntisd/internal/eventbus"
	"github.com/dokzlo13/quntisd/internal/ledger"
	"github.com/dokzlo13/quntisd/internal/level"
	"github.com/dokzlo13/quntisd/internal/light"
	"github.com/dokzlo13/quntisd/internal/metrics"
	"github.com/dokzlo13/quntisd/internal/remote"
)

// ErrStopped is returned for requests made after the control loop exited.
var ErrStopped = errors.New("light service stopped")

// packetSender is what the control loop sends through.
type packetSender interface {
	remote.Sender
	Packets() uint64
	ResetPackets()
}

type requestKind int

const (
	requestApply requestKind = iota
	requestCalibrate
	requestOverride
)

type request struct {
	kind          requestKind
	apply         command.Request
	on            bool
	source        string
	correlationID string
	reply         chan error
}

// LightService runs the control loop. Only the loop goroutine touches the
// light and its machine; other goroutines submit requests over a channel
// and read a snapshot refreshed after every tick.
type LightService struct {
	cfg      config.LampConfig
	light    *light.Light
	remote   *instrumentedRemote
	tx       packetSender
	bus      *eventbus.Bus
	metrics  *metrics.AppMetrics
	polarity level.Polarity
	now      func() time.Time

	requests chan request
	done     chan struct{}
	settled  uint64
	snapshot atomic.Pointer[light.Snapshot]
	running  atomic.Bool
}

// NewLightService builds the light on top of tx. bus and m may be nil.
func NewLightService(cfg *config.Config, tx packetSender, bus *eventbus.Bus, m *metrics.AppMetrics) (*LightService, error) {
	s := &LightService{
		cfg: cfg.Lamp,
		remote: &instrumentedRemote{
			enc:     remote.NewEncoder(tx, PayloadPrefix(cfg)),
			bus:     bus,
			metrics: m,
		},
		tx:       tx,
		bus:      bus,
		metrics:  m,
		polarity: cfg.HTTP.Polarity(),
		now:      time.Now,
		requests: make(chan request),
		done:     make(chan struct{}),
	}

	l, err := light.New(s.remote, light.Config{
		BrightnessSteps: cfg.Lamp.BrightnessSteps,
		ColorSteps:      cfg.Lamp.ColorTempSteps,
		MinMireds:       cfg.Lamp.MinMireds,
		MaxMireds:       cfg.Lamp.MaxMireds,
		StepDelay:       cfg.Lamp.StepDelay.Duration(),
	}, s.onSettled)
	if err != nil {
		return nil, err
	}
	s.light = l
	s.refresh()
	return s, nil
}

// Restore establishes the believed state after boot without RF. It must be
// called before Run.
func (s *LightService) Restore(st light.State) {
	s.light.WriteState(st)
	s.refresh()
}

// CalibrateOnBoot queues a calibration before Run starts.
func (s *LightService) CalibrateOnBoot() error {
	if err := s.light.Calibrate(); err != nil {
		return err
	}
	s.countCalibration("boot", "")
	s.refresh()
	return nil
}

// Current returns the believed state in host units.
func (s *LightService) Current() light.State {
	return s.Snapshot().State
}

// Run is the control loop. It blocks until ctx is cancelled.
func (s *LightService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval.Duration())
	defer ticker.Stop()
	defer close(s.done)

	s.running.Store(true)
	defer s.running.Store(false)

	log.Info().Dur("tick", s.cfg.TickInterval.Duration()).Dur("step_delay", s.cfg.StepDelay.Duration()).Msg("Light control loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Light control loop stopped")
			return
		case req := <-s.requests:
			req.reply <- s.handle(req)
		case <-ticker.C:
			s.light.Tick(s.now())
		}
		s.refresh()
	}
}

// HandleCommand is the command entry point shared by MQTT and HTTP. unit
// says whether color_temp is mireds or a percent in the HTTP polarity.
func (s *LightService) HandleCommand(source string, payload []byte, unit command.Unit) error {
	correlationID := ledger.NewCorrelationID()

	req, err := command.Parse(payload, unit, s.polarity)
	if err != nil {
		s.announceRequest(source, correlationID, "rejected", map[string]interface{}{
			"payload": string(payload),
			"error":   err.Error(),
		})
		return err
	}

	return s.submit(context.Background(), request{
		kind:          requestApply,
		apply:         req,
		source:        source,
		correlationID: correlationID,
	})
}

// Calibrate asks the loop to run a calibration.
func (s *LightService) Calibrate(ctx context.Context) error {
	return s.submit(ctx, request{kind: requestCalibrate, source: "api", correlationID: ledger.NewCorrelationID()})
}

// OverridePower corrects believed power without RF.
func (s *LightService) OverridePower(ctx context.Context, on bool) error {
	return s.submit(ctx, request{kind: requestOverride, on: on, source: "api", correlationID: ledger.NewCorrelationID()})
}

// Snapshot returns the state as of the last loop iteration.
func (s *LightService) Snapshot() light.Snapshot {
	return *s.snapshot.Load()
}

// Packets returns the number of raw frames sent.
func (s *LightService) Packets() uint64 { return s.tx.Packets() }

// ResetPackets zeroes the raw frame counter.
func (s *LightService) ResetPackets() {
	s.tx.ResetPackets()
	log.Info().Msg("Packet counter reset")
}

// Done is closed when Run returns.
func (s *LightService) Done() <-chan struct{} { return s.done }

// Ready reports whether the control loop is running.
func (s *LightService) Ready() bool { return s.running.Load() }

func (s *LightService) submit(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle runs on the loop goroutine.
func (s *LightService) handle(req request) error {
	switch req.kind {
	case requestApply:
		s.remote.correlationID = req.correlationID
		s.light.Apply(req.apply)
		s.announceRequest(req.source, req.correlationID, "accepted", requestData(req.apply))
		return nil

	case requestCalibrate:
		if err := s.light.Calibrate(); err != nil {
			log.Warn().Err(err).Msg("Calibration rejected")
			return err
		}
		s.remote.correlationID = req.correlationID
		s.countCalibration(req.source, req.correlationID)
		return nil

	case requestOverride:
		s.light.OverridePower(req.on)
		s.announceRequest(req.source, req.correlationID, "override", map[string]interface{}{"on": req.on})
		return nil
	}
	return nil
}

// onSettled runs on the loop goroutine from inside Tick.
func (s *LightService) onSettled(st light.State) {
	s.settled++
	if s.metrics != nil {
		s.metrics.StatePublishes.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeStateSettled,
			Data: map[string]interface{}{
				"state":          st,
				"seq":            s.settled,
				"correlation_id": s.remote.correlationID,
			},
		})
	}
}

func (s *LightService) refresh() {
	snap := s.light.Snapshot()
	s.snapshot.Store(&snap)

	if s.metrics != nil {
		busy := 0.0
		if snap.Busy {
			busy = 1
		}
		s.metrics.Busy.Set(busy)
		s.metrics.BrightnessStep.Set(float64(snap.Steps.Brightness))
		s.metrics.ColorStep.Set(float64(snap.Steps.Color))
	}
}

func (s *LightService) countCalibration(source, correlationID string) {
	if s.metrics != nil {
		s.metrics.CalibrationsTotal.Inc()
	}
	s.announceRequest(source, correlationID, "calibrate", nil)
}

func (s *LightService) announceRequest(source, correlationID, result string, data map[string]interface{}) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(source, result).Inc()
	}
	if s.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["source"] = source
	data["result"] = result
	data["correlation_id"] = correlationID
	s.bus.Publish(eventbus.Event{Type: eventbus.EventTypeRequest, Data: data})
}

func requestData(r command.Request) map[string]interface{} {
	d := map[string]interface{}{"unit": r.Unit.String()}
	if r.On != nil {
		d["state"] = command.OnOff(*r.On)
	}
	if r.Brightness != nil {
		d["brightness"] = *r.Brightness
	}
	if r.ColorTemp != nil {
		d["color_temp"] = *r.ColorTemp
	}
	return d
}
