// Package light is the lamp as a home-automation light entity: it accepts
// absolute desired states, turns them into queued step targets on the
// transition machine and publishes the believed state once it settles.
package light

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/command"
	"github.com/dokzlo13/quntisd/internal/level"
	"github.com/dokzlo13/quntisd/internal/transition"
)

// State is a light state in host units: brightness as a 0..1 fraction and
// color temperature in mireds.
type State struct {
	On         bool    `json:"on"`
	Brightness float64 `json:"brightness"`
	ColorTemp  float64 `json:"color_temp"`
}

// DefaultState applies when nothing was persisted.
var DefaultState = State{On: false, Brightness: 0.5, ColorTemp: 250}

// Config sizes the light.
type Config struct {
	BrightnessSteps int
	ColorSteps      int
	MinMireds       int
	MaxMireds       int
	StepDelay       time.Duration
}

// PublishFunc receives the believed state after a transition settles.
type PublishFunc func(State)

// Light wraps a transition machine. Like the machine it is owned by a single
// control loop.
type Light struct {
	machine *transition.Machine
	mireds  level.MiredRange
	publish PublishFunc
	desired State
	synced  bool
}

// New creates a light driving r. publish may be nil.
func New(r transition.Remote, cfg Config, publish PublishFunc) (*Light, error) {
	// Steps are on the physical axis, so the range polarity only has to be
	// consistent between the two conversions.
	mireds := level.MiredRange{Min: cfg.MinMireds, Max: cfg.MaxMireds, Polarity: level.ColdHigh}
	if err := mireds.Validate(); err != nil {
		return nil, err
	}
	m, err := transition.New(r, transition.Config{
		BrightnessSteps: cfg.BrightnessSteps,
		ColorSteps:      cfg.ColorSteps,
		StepDelay:       cfg.StepDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transition machine: %w", err)
	}
	if publish == nil {
		publish = func(State) {}
	}
	return &Light{
		machine: m,
		mireds:  mireds,
		publish: publish,
		desired: DefaultState,
	}, nil
}

// Machine exposes the underlying machine for inspection.
func (l *Light) Machine() *transition.Machine { return l.machine }

// MiredRange returns the configured color temperature bounds.
func (l *Light) MiredRange() level.MiredRange { return l.mireds }

// Synced reports whether the first state write has happened.
func (l *Light) Synced() bool { return l.synced }

// Desired returns the last written desired state.
func (l *Light) Desired() State { return l.desired }

// WriteState sets the desired state. The first call only establishes belief
// and sends nothing. Later calls settle power against the belief and any
// queued toggle, and queue brightness and color only while the light is
// requested on.
func (l *Light) WriteState(s State) {
	s.Brightness = math.Max(0, math.Min(1, s.Brightness))
	l.desired = s

	bright := l.brightnessStep(s.Brightness)
	color := l.mireds.Steps(s.ColorTemp, l.machine.ColorSteps())

	if !l.synced {
		l.synced = true
		l.machine.Seed(transition.State{Power: s.On, Brightness: bright, Color: color})
		log.Info().
			Bool("on", s.On).
			Int("brightness_step", bright).
			Int("color_step", color).
			Msg("Initial state synced (no RF)")
		return
	}

	// Power always goes to the machine so a queued or unsent opposite
	// toggle is cancelled.
	t := transition.Target{Power: &s.On}
	if s.On {
		t.Brightness = &bright
		t.Color = &color
	}
	l.machine.Request(t)
}

// Apply merges a parsed command into the desired state and writes it.
func (l *Light) Apply(req command.Request) {
	s := l.desired
	if req.On != nil {
		s.On = *req.On
	}
	if req.Brightness != nil {
		s.Brightness = *req.Brightness / 100
	}
	if req.ColorTemp != nil {
		s.ColorTemp = l.toMireds(*req.ColorTemp, req.Unit, req.Polarity)
	}
	l.WriteState(s)
}

// Tick advances the machine and publishes once when it settles.
func (l *Light) Tick(now time.Time) {
	l.machine.Tick(now)
	if l.machine.TakeSettled() {
		s := l.Current()
		log.Debug().
			Bool("on", s.On).
			Float64("brightness", s.Brightness).
			Float64("color_temp", s.ColorTemp).
			Msg("Publishing settled state")
		l.publish(s)
	}
}

// Calibrate drives the lamp to a known state.
func (l *Light) Calibrate() error {
	return l.machine.Calibrate()
}

// OverridePower corrects believed power without RF. The change is
// published on the next tick.
func (l *Light) OverridePower(on bool) {
	l.desired.On = on
	l.machine.OverridePower(on)
}

// Current converts the believed step state into host units. Brightness is
// never reported as zero so an on lamp stays visibly on.
func (l *Light) Current() State {
	st := l.machine.State()
	steps := float64(l.machine.BrightnessSteps())
	return State{
		On:         st.Power,
		Brightness: math.Max(float64(st.Brightness)/steps, 1/steps),
		ColorTemp:  l.mireds.MiredsFromSteps(st.Color, l.machine.ColorSteps()),
	}
}

// Snapshot is a read-only view of the light for status surfaces.
type Snapshot struct {
	State           State            `json:"state"`
	Steps           transition.State `json:"steps"`
	BrightnessSteps int              `json:"brightness_steps"`
	ColorSteps      int              `json:"color_steps"`
	Operation       string           `json:"operation"`
	Busy            bool             `json:"busy"`
	Calibrating     bool             `json:"calibrating"`
	Synced          bool             `json:"synced"`
}

// BrightnessPercent is the believed brightness as 0..100.
func (s Snapshot) BrightnessPercent() float64 {
	return level.StepsToPercent(s.Steps.Brightness, s.BrightnessSteps)
}

// ColorPercent is the believed color in the given percent convention.
func (s Snapshot) ColorPercent(p level.Polarity) float64 {
	return p.ColdPercent(level.StepsToPercent(s.Steps.Color, s.ColorSteps))
}

// Snapshot captures the current belief and machine status.
func (l *Light) Snapshot() Snapshot {
	return Snapshot{
		State:           l.Current(),
		Steps:           l.machine.State(),
		BrightnessSteps: l.machine.BrightnessSteps(),
		ColorSteps:      l.machine.ColorSteps(),
		Operation:       l.machine.Operation().Name(),
		Busy:            l.machine.Busy(),
		Calibrating:     l.machine.Calibrating(),
		Synced:          l.synced,
	}
}

// ColorPercent reports the believed color in the given percent convention.
func (l *Light) ColorPercent(p level.Polarity) float64 {
	return l.Snapshot().ColorPercent(p)
}

func (l *Light) brightnessStep(fraction float64) int {
	return level.PercentToSteps(fraction*100, l.machine.BrightnessSteps())
}

func (l *Light) toMireds(v float64, unit command.Unit, p level.Polarity) float64 {
	if unit == command.UnitMireds {
		return v
	}
	// l.mireds is cold_high, so a cold percent maps straight through.
	return l.mireds.FromPercent(p.ColdPercent(v))
}
