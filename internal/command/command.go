// Package command parses the JSON light command schema shared by MQTT and
// HTTP: {"state": "ON"|"OFF", "brightness": 0-100, "color_temp": N}.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dokzlo13/quntisd/internal/level"
)

var ErrMalformed = errors.New("malformed command")

// Unit says how color_temp is expressed.
type Unit int

const (
	UnitMireds Unit = iota
	UnitPercent
)

func (u Unit) String() string {
	if u == UnitPercent {
		return "percent"
	}
	return "mireds"
}

// Request is a partial desired state. Nil fields are left unchanged.
type Request struct {
	On         *bool
	Brightness *float64 // percent
	ColorTemp  *float64 // in Unit
	Unit       Unit
	// Polarity applies to percent color temperature.
	Polarity level.Polarity
}

// Empty reports whether the request changes nothing.
func (r Request) Empty() bool {
	return r.On == nil && r.Brightness == nil && r.ColorTemp == nil
}

type payload struct {
	State      *string  `json:"state"`
	Brightness *float64 `json:"brightness"`
	ColorTemp  *float64 `json:"color_temp"`
}

// Parse decodes and validates a command. A malformed command yields an
// error wrapping ErrMalformed and must not produce RF traffic.
func Parse(data []byte, unit Unit, polarity level.Polarity) (Request, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	req := Request{Unit: unit, Polarity: polarity}

	if p.State != nil {
		var on bool
		switch *p.State {
		case "ON":
			on = true
		case "OFF":
			on = false
		default:
			return Request{}, fmt.Errorf("%w: state must be ON or OFF, got %q", ErrMalformed, *p.State)
		}
		req.On = &on
	}

	if p.Brightness != nil {
		if *p.Brightness < 0 || *p.Brightness > 100 {
			return Request{}, fmt.Errorf("%w: brightness %v outside 0-100", ErrMalformed, *p.Brightness)
		}
		req.Brightness = p.Brightness
	}

	if p.ColorTemp != nil {
		switch {
		case unit == UnitPercent && (*p.ColorTemp < 0 || *p.ColorTemp > 100):
			return Request{}, fmt.Errorf("%w: color_temp %v outside 0-100", ErrMalformed, *p.ColorTemp)
		case unit == UnitMireds && *p.ColorTemp <= 0:
			return Request{}, fmt.Errorf("%w: color_temp %v is not a mireds value", ErrMalformed, *p.ColorTemp)
		}
		req.ColorTemp = p.ColorTemp
	}

	if req.Empty() {
		return Request{}, fmt.Errorf("%w: no state, brightness or color_temp", ErrMalformed)
	}
	return req, nil
}

// State is the published JSON state.
type State struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness"`
	ColorTemp  int    `json:"color_temp"`
	ColorMode  string `json:"color_mode,omitempty"`
}

// OnOff renders a power state as ON or OFF.
func OnOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
