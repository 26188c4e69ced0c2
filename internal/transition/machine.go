// Package transition sequences power, brightness and color changes into
// individually paced RF nudges. The machine is not safe for concurrent use;
// one control loop owns it and calls Tick.
package transition

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/level"
	"github.com/dokzlo13/quntisd/internal/remote"
)

var ErrCalibrating = errors.New("calibration already in progress")

// Remote is the command surface the machine drives.
type Remote interface {
	OnOff() remote.Sent
	Dim(up bool, repeat bool) remote.Sent
	Color(up bool, repeat bool) remote.Sent
}

// State is the believed lamp state in steps. Color 0 is warmest.
type State struct {
	Power      bool `json:"power"`
	Brightness int  `json:"brightness_step"`
	Color      int  `json:"color_step"`
}

// Target is a requested change; nil fields are left alone.
type Target struct {
	Power      *bool
	Brightness *int
	Color      *int
}

// Config sizes the machine.
type Config struct {
	BrightnessSteps int
	ColorSteps      int
	StepDelay       time.Duration
	Initial         State
}

// Machine tracks belief, pending targets and the operation in flight.
type Machine struct {
	remote      Remote
	brightness  *level.Tracker
	color       *level.Tracker
	power       bool
	pending     Target
	op          Operation
	stepDelay   time.Duration
	lastStep    time.Time
	calibrating bool
	settled     bool
}

// New creates an idle machine.
func New(r Remote, cfg Config) (*Machine, error) {
	brightness, err := level.NewTracker(cfg.BrightnessSteps, cfg.Initial.Brightness)
	if err != nil {
		return nil, err
	}
	color, err := level.NewTracker(cfg.ColorSteps, cfg.Initial.Color)
	if err != nil {
		return nil, err
	}
	return &Machine{
		remote:     r,
		brightness: brightness,
		color:      color,
		power:      cfg.Initial.Power,
		op:         Idle{},
		stepDelay:  cfg.StepDelay,
	}, nil
}

// State returns the believed lamp state.
func (m *Machine) State() State {
	return State{
		Power:      m.power,
		Brightness: m.brightness.Current(),
		Color:      m.color.Current(),
	}
}

// BrightnessSteps returns the brightness step count.
func (m *Machine) BrightnessSteps() int { return m.brightness.Steps() }

// ColorSteps returns the color step count.
func (m *Machine) ColorSteps() int { return m.color.Steps() }

// Operation returns the operation in flight.
func (m *Machine) Operation() Operation { return m.op }

// Pending returns targets that have not started yet.
func (m *Machine) Pending() Target { return m.pending }

// Busy reports whether anything is in flight or queued.
func (m *Machine) Busy() bool {
	return !m.idle() || m.pending.Power != nil || m.pending.Brightness != nil || m.pending.Color != nil
}

// Calibrating reports whether a calibration run is in progress.
func (m *Machine) Calibrating() bool { return m.calibrating }

// TakeSettled reports, once, that the machine went idle after doing work.
func (m *Machine) TakeSettled() bool {
	s := m.settled
	m.settled = false
	return s
}

// Seed replaces the belief without RF and drops all queued work.
func (m *Machine) Seed(s State) {
	m.power = s.Power
	m.brightness.Seed(s.Brightness)
	m.color.Seed(s.Color)
	m.pending = Target{}
	m.op = Idle{}
}

// OverridePower sets believed power without RF, for when the lamp was
// switched by other means.
func (m *Machine) OverridePower(on bool) {
	log.Info().Bool("from", m.power).Bool("to", on).Msg("Power state override (no RF)")
	m.power = on
	if p := m.pending.Power; p != nil && *p == on {
		m.pending.Power = nil
	}
	if op, ok := m.op.(TogglingPower); ok && op.Target == on {
		m.finish()
		return
	}
	m.settled = true
}

// Request queues t. A dimension already in flight is re-planned from the
// current belief; steps already sent stay sent. A target equal to the
// belief clears that dimension with no RF.
func (m *Machine) Request(t Target) {
	if t.Power != nil {
		m.requestPower(*t.Power)
	}
	if t.Brightness != nil {
		m.requestBrightness(*t.Brightness)
	}
	if t.Color != nil {
		m.requestColor(*t.Color)
	}
}

func (m *Machine) requestPower(target bool) {
	if op, ok := m.op.(TogglingPower); ok {
		if op.Target != target {
			// The toggle has not been sent yet and the belief already matches.
			m.pending.Power = nil
			m.finish()
		}
		return
	}
	if target == m.power {
		m.pending.Power = nil
		return
	}
	m.pending.Power = &target
}

func (m *Machine) requestBrightness(target int) {
	count, up := m.brightness.Plan(target)
	if _, ok := m.op.(SendingBrightness); ok {
		m.pending.Brightness = nil
		if count == 0 {
			m.finish()
			return
		}
		log.Info().Int("current", m.brightness.Current()).Int("target", target).Msg("Brightness re-targeted in flight")
		m.op = SendingBrightness{Remaining: count, Up: up}
		return
	}
	if count == 0 {
		m.pending.Brightness = nil
		return
	}
	m.pending.Brightness = &target
}

func (m *Machine) requestColor(target int) {
	count, up := m.color.Plan(target)
	if _, ok := m.op.(SendingColor); ok {
		m.pending.Color = nil
		if count == 0 {
			m.finish()
			return
		}
		log.Info().Int("current", m.color.Current()).Int("target", target).Msg("Color re-targeted in flight")
		m.op = SendingColor{Remaining: count, Up: up}
		return
	}
	if count == 0 {
		m.pending.Color = nil
		return
	}
	m.pending.Color = &target
}

// Calibrate assumes the lamp is on at full brightness and warmest color and
// drives it to zero brightness and coldest color, so belief and lamp agree
// again after sync was lost.
func (m *Machine) Calibrate() error {
	if m.calibrating {
		return ErrCalibrating
	}
	m.calibrating = true

	log.Info().
		Int("dim_steps", m.brightness.Steps()).
		Int("color_steps", m.color.Steps()).
		Msg("Calibrating")

	m.op = Idle{}
	m.power = true
	m.brightness.Seed(m.brightness.Steps())
	m.color.Seed(0)

	// The run assumes the lamp is on; a queued toggle would send every
	// nudge to a dark lamp.
	m.pending.Power = nil
	bright, color := 0, m.color.Steps()
	m.pending.Brightness = &bright
	m.pending.Color = &color
	return nil
}

// Tick advances the machine by at most one RF step. Steps are at least the
// step delay apart.
func (m *Machine) Tick(now time.Time) {
	if m.idle() {
		m.op = m.next()
		if m.idle() {
			return
		}
	}

	if !m.lastStep.IsZero() && now.Sub(m.lastStep) < m.stepDelay {
		return
	}
	m.lastStep = now

	switch op := m.op.(type) {
	case TogglingPower:
		m.remote.OnOff()
		m.power = op.Target
		log.Info().Bool("on", m.power).Msg("Power toggled")
		m.finish()

	case SendingBrightness:
		m.remote.Dim(op.Up, true)
		m.brightness.Step(op.Up)
		op.Remaining--
		if op.Remaining > 0 {
			m.op = op
			return
		}
		log.Info().Int("step", m.brightness.Current()).Msg("Brightness transition done")
		m.finish()

	case SendingColor:
		m.remote.Color(op.Up, true)
		m.color.Step(op.Up)
		op.Remaining--
		if op.Remaining > 0 {
			m.op = op
			return
		}
		log.Info().Int("step", m.color.Current()).Msg("Color transition done")
		m.finish()
	}
}

func (m *Machine) idle() bool {
	_, ok := m.op.(Idle)
	return ok
}

// finish ends the current operation and starts the next one by priority.
func (m *Machine) finish() {
	m.op = m.next()
	if !m.idle() {
		return
	}
	m.settled = true
	if m.calibrating {
		m.calibrating = false
		log.Info().
			Int("brightness", m.brightness.Current()).
			Int("color", m.color.Current()).
			Msg("Calibration complete")
	}
}

// next picks power, then brightness, then color.
func (m *Machine) next() Operation {
	if p := m.pending.Power; p != nil {
		m.pending.Power = nil
		if *p != m.power {
			log.Info().Bool("on", *p).Msg("Toggling power")
			return TogglingPower{Target: *p}
		}
	}
	if b := m.pending.Brightness; b != nil {
		m.pending.Brightness = nil
		if count, up := m.brightness.Plan(*b); count > 0 {
			log.Info().
				Int("from", m.brightness.Current()).
				Int("to", *b).
				Int("steps", count).
				Bool("up", up).
				Msg("Starting brightness transition")
			return SendingBrightness{Remaining: count, Up: up}
		}
	}
	if c := m.pending.Color; c != nil {
		m.pending.Color = nil
		if count, up := m.color.Plan(*c); count > 0 {
			log.Info().
				Int("from", m.color.Current()).
				Int("to", *c).
				Int("steps", count).
				Bool("colder", up).
				Msg("Starting color transition")
			return SendingColor{Remaining: count, Up: up}
		}
	}
	return Idle{}
}
