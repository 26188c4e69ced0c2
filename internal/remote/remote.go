// Package remote encodes Quntis remote button presses into command frames.
package remote

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Command is the command byte of a frame.
type Command byte

const (
	CmdOnOff Command = 0x20
	CmdDim   Command = 0x40
	CmdColor Command = 0x30

	// DirDown is OR'd into Dim and Color. Up is 0x00.
	DirDown Command = 0x08
)

func (c Command) String() string {
	switch c {
	case CmdOnOff:
		return "on-off"
	case CmdDim:
		return "dim-up"
	case CmdDim | DirDown:
		return "dim-down"
	case CmdColor:
		return "colder"
	case CmdColor | DirDown:
		return "warmer"
	default:
		return "unknown"
	}
}

// ParseCommand maps a command name as printed by String back to a Command.
func ParseCommand(name string) (Command, bool) {
	for _, c := range []Command{CmdOnOff, CmdDim, CmdDim | DirDown, CmdColor, CmdColor | DirDown} {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

const (
	PayloadLength = 6
	PrefixLength  = 4

	indexOffset   = 4
	commandOffset = 5

	// Repeats is the burst size of a repeated command.
	Repeats = 6
	// RepeatDelay separates frames within a burst.
	RepeatDelay = 5 * time.Millisecond
)

// Sender transmits one command frame.
type Sender interface {
	SendPayload(payload []byte) bool
}

// Sent describes one logical command.
type Sent struct {
	Command Command
	Index   uint8
	Frames  int
	Failed  int
}

// Encoder builds command frames with a rolling index.
type Encoder struct {
	tx     Sender
	prefix [PrefixLength]byte
	index  uint8
	sleep  func(time.Duration)
}

// NewEncoder creates an encoder for a lamp identified by prefix.
func NewEncoder(tx Sender, prefix [PrefixLength]byte) *Encoder {
	return &Encoder{
		tx:     tx,
		prefix: prefix,
		sleep:  time.Sleep,
	}
}

// OnOff toggles power. Always sent as a burst.
func (e *Encoder) OnOff() Sent {
	return e.SendCommand(CmdOnOff, true)
}

// Dim nudges brightness one step.
func (e *Encoder) Dim(up bool, repeat bool) Sent {
	return e.SendCommand(withDirection(CmdDim, up), repeat)
}

// Color nudges color temperature one step. Up is colder.
func (e *Encoder) Color(up bool, repeat bool) Sent {
	return e.SendCommand(withDirection(CmdColor, up), repeat)
}

// SendCommand sends cmd with the next index. With repeat the same frame
// goes out Repeats times, RepeatDelay apart. The index advances once per
// call.
func (e *Encoder) SendCommand(cmd Command, repeat bool) Sent {
	frame := e.Frame(e.index, cmd)
	e.index++

	n := 1
	if repeat {
		n = Repeats
	}

	sent := Sent{Command: cmd, Index: frame[indexOffset]}
	for i := 0; i < n; i++ {
		if !e.tx.SendPayload(frame) {
			sent.Failed++
		}
		sent.Frames++
		if i < n-1 {
			e.sleep(RepeatDelay)
		}
	}

	log.Debug().
		Str("cmd", cmd.String()).
		Uint8("cmd_byte", byte(cmd)).
		Uint8("index", sent.Index).
		Bool("repeat", repeat).
		Int("failed", sent.Failed).
		Msg("Sent remote command")
	return sent
}

// Frame returns the payload for index and cmd without sending it.
func (e *Encoder) Frame(index uint8, cmd Command) []byte {
	frame := make([]byte, PayloadLength)
	copy(frame, e.prefix[:])
	frame[indexOffset] = index
	frame[commandOffset] = byte(cmd)
	return frame
}

// Index returns the index the next command will carry.
func (e *Encoder) Index() uint8 {
	return e.index
}

func withDirection(cmd Command, up bool) Command {
	if up {
		return cmd
	}
	return cmd | DirDown
}
