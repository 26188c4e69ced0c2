// Package level converts absolute brightness and color temperature targets
// into the relative step counts the remote protocol understands, and tracks
// the believed step of each dimension.
package level

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrSteps      = errors.New("step count must be at least 1")
	ErrMiredRange = errors.New("min mireds must be below max mireds")
	ErrPolarity   = errors.New("unknown color polarity")
)

// PercentToSteps maps 0..100 onto 0..steps, rounding to the nearest step.
func PercentToSteps(percent float64, steps int) int {
	s := int(math.Round(percent * float64(steps) / 100))
	return clamp(s, 0, steps)
}

// StepsToPercent maps 0..steps back onto 0..100.
func StepsToPercent(step, steps int) float64 {
	if steps <= 0 {
		return 0
	}
	return float64(clamp(step, 0, steps)) * 100 / float64(steps)
}

// Polarity says which end of the color percent scale is cold.
type Polarity int

const (
	// ColdHigh: the minimum mireds value (coldest) is 100%.
	ColdHigh Polarity = iota
	// ColdLow: the minimum mireds value (coldest) is 0%.
	ColdLow
)

func (p Polarity) String() string {
	switch p {
	case ColdHigh:
		return "cold_high"
	case ColdLow:
		return "cold_low"
	default:
		return "unknown"
	}
}

// ParsePolarity parses "cold_high" or "cold_low".
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "cold_high":
		return ColdHigh, nil
	case "cold_low":
		return ColdLow, nil
	}
	return ColdHigh, fmt.Errorf("%w: %q", ErrPolarity, s)
}

// ColdPercent converts a color percent in this polarity to the physical
// axis, where 100 is coldest. The conversion is its own inverse.
func (p Polarity) ColdPercent(percent float64) float64 {
	if p == ColdLow {
		return 100 - percent
	}
	return percent
}

// MiredRange converts between mireds and a color percent.
type MiredRange struct {
	Min      int
	Max      int
	Polarity Polarity
}

// Validate rejects an empty or inverted range.
func (r MiredRange) Validate() error {
	if r.Min >= r.Max {
		return fmt.Errorf("%w: %d >= %d", ErrMiredRange, r.Min, r.Max)
	}
	return nil
}

// ToPercent maps mireds onto 0..100, clamping values outside the range.
func (r MiredRange) ToPercent(mireds float64) float64 {
	span := float64(r.Max - r.Min)
	m := math.Max(float64(r.Min), math.Min(float64(r.Max), mireds))
	warm := (m - float64(r.Min)) * 100 / span
	if r.Polarity == ColdLow {
		return warm
	}
	return 100 - warm
}

// FromPercent maps 0..100 back onto mireds.
func (r MiredRange) FromPercent(percent float64) float64 {
	span := float64(r.Max - r.Min)
	p := math.Max(0, math.Min(100, percent))
	if r.Polarity == ColdLow {
		return float64(r.Min) + p*span/100
	}
	return float64(r.Max) - p*span/100
}

// Steps maps mireds onto the color step axis, where 0 is warmest and a
// step up is one Color(up) nudge. The result does not depend on polarity.
func (r MiredRange) Steps(mireds float64, steps int) int {
	return PercentToSteps(r.Polarity.ColdPercent(r.ToPercent(mireds)), steps)
}

// MiredsFromSteps is the inverse of Steps.
func (r MiredRange) MiredsFromSteps(step, steps int) float64 {
	return r.FromPercent(r.Polarity.ColdPercent(StepsToPercent(step, steps)))
}

// Tracker holds the believed step of one dimension. The lamp never reports
// back, so the tracker only moves when a nudge has actually been sent.
type Tracker struct {
	steps   int
	current int
}

// NewTracker creates a tracker for 0..steps starting at current.
func NewTracker(steps, current int) (*Tracker, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: %d", ErrSteps, steps)
	}
	return &Tracker{steps: steps, current: clamp(current, 0, steps)}, nil
}

// Steps returns the maximum step.
func (t *Tracker) Steps() int { return t.steps }

// Current returns the believed step.
func (t *Tracker) Current() int { return t.current }

// Seed overwrites the belief without sending anything.
func (t *Tracker) Seed(step int) {
	t.current = clamp(step, 0, t.steps)
}

// Plan returns how many nudges reach target and in which direction.
// A zero count means nothing needs to be sent.
func (t *Tracker) Plan(target int) (count int, up bool) {
	diff := clamp(target, 0, t.steps) - t.current
	if diff < 0 {
		return -diff, false
	}
	return diff, true
}

// Step records one sent nudge.
func (t *Tracker) Step(up bool) {
	if up {
		t.current = clamp(t.current+1, 0, t.steps)
	} else {
		t.current = clamp(t.current-1, 0, t.steps)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
