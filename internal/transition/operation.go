package transition

// Operation is the single piece of RF work in flight. Exactly one variant
// is active at a time.
type Operation interface {
	Name() string
	operation()
}

// Idle means nothing is being sent.
type Idle struct{}

// TogglingPower waits for the step delay, then sends one On/Off burst.
type TogglingPower struct {
	Target bool
}

// SendingBrightness sends Remaining dim nudges in one direction.
type SendingBrightness struct {
	Remaining int
	Up        bool
}

// SendingColor sends Remaining color nudges. Up is colder.
type SendingColor struct {
	Remaining int
	Up        bool
}

func (Idle) Name() string              { return "idle" }
func (TogglingPower) Name() string     { return "toggling_power" }
func (SendingBrightness) Name() string { return "sending_brightness" }
func (SendingColor) Name() string      { return "sending_color" }

func (Idle) operation()              {}
func (TogglingPower) operation()     {}
func (SendingBrightness) operation() {}
func (SendingColor) operation()      {}
