package remote

import (
	"bytes"
	"testing"
	"time"
)

type fakeSender struct {
	frames [][]byte
	ok     bool
}

func (s *fakeSender) SendPayload(p []byte) bool {
	s.frames = append(s.frames, append([]byte(nil), p...))
	return s.ok
}

var testPrefix = [PrefixLength]byte{0x00, 0x76, 0x9A, 0x31}

func newTestEncoder(tx Sender) (*Encoder, *[]time.Duration) {
	var sleeps []time.Duration
	e := NewEncoder(tx, testPrefix)
	e.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return e, &sleeps
}

func TestSendCommandFrame(t *testing.T) {
	tx := &fakeSender{ok: true}
	e, _ := newTestEncoder(tx)
	e.index = 4

	e.SendCommand(CmdOnOff, false)

	want := []byte{0x00, 0x76, 0x9A, 0x31, 0x04, 0x20}
	if len(tx.frames) != 1 || !bytes.Equal(tx.frames[0], want) {
		t.Fatalf("frames = % X, want % X", tx.frames, want)
	}
	if e.Index() != 5 {
		t.Errorf("Index() = %d, want 5", e.Index())
	}
}

func TestRepeatBurst(t *testing.T) {
	tx := &fakeSender{ok: false}
	e, sleeps := newTestEncoder(tx)

	sent := e.Dim(false, true)

	if len(tx.frames) != Repeats {
		t.Fatalf("sent %d frames, want %d", len(tx.frames), Repeats)
	}
	for i, f := range tx.frames {
		if !bytes.Equal(f, tx.frames[0]) {
			t.Errorf("frame %d = % X differs from first % X", i, f, tx.frames[0])
		}
	}
	if len(*sleeps) != Repeats-1 {
		t.Errorf("slept %d times, want %d", len(*sleeps), Repeats-1)
	}
	for _, d := range *sleeps {
		if d != RepeatDelay {
			t.Errorf("sleep = %v, want %v", d, RepeatDelay)
		}
	}
	if sent.Frames != Repeats || sent.Failed != Repeats {
		t.Errorf("Sent = %+v, want all %d frames failed", sent, Repeats)
	}
	if sent.Command != CmdDim|DirDown {
		t.Errorf("Command = %#02x, want %#02x", byte(sent.Command), byte(CmdDim|DirDown))
	}
}

func TestIndexIncrementsPerLogicalCommand(t *testing.T) {
	tx := &fakeSender{ok: true}
	e, _ := newTestEncoder(tx)
	e.index = 250

	calls := []func() Sent{
		e.OnOff,
		func() Sent { return e.Dim(true, false) },
		func() Sent { return e.Dim(false, true) },
		func() Sent { return e.Color(true, false) },
		func() Sent { return e.Color(false, true) },
		e.OnOff,
		func() Sent { return e.Dim(true, false) },
		func() Sent { return e.Dim(true, true) },
	}

	prev := uint8(249)
	for i, call := range calls {
		sent := call()
		if sent.Index != prev+1 {
			t.Fatalf("command %d index = %d, want %d", i, sent.Index, prev+1)
		}
		prev = sent.Index
	}
	if prev != 1 {
		t.Errorf("last index = %d, want wrap to 1", prev)
	}
}

func TestCommandBytes(t *testing.T) {
	tests := []struct {
		name string
		send func(e *Encoder) Sent
		want byte
	}{
		{"on-off", func(e *Encoder) Sent { return e.OnOff() }, 0x20},
		{"dim-up", func(e *Encoder) Sent { return e.Dim(true, false) }, 0x40},
		{"dim-down", func(e *Encoder) Sent { return e.Dim(false, false) }, 0x48},
		{"colder", func(e *Encoder) Sent { return e.Color(true, false) }, 0x30},
		{"warmer", func(e *Encoder) Sent { return e.Color(false, false) }, 0x38},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &fakeSender{ok: true}
			e, _ := newTestEncoder(tx)
			sent := tt.send(e)
			if got := tx.frames[0][commandOffset]; got != tt.want {
				t.Errorf("command byte = %#02x, want %#02x", got, tt.want)
			}
			if sent.Command.String() != tt.name {
				t.Errorf("String() = %q, want %q", sent.Command.String(), tt.name)
			}
			parsed, ok := ParseCommand(tt.name)
			if !ok || byte(parsed) != tt.want {
				t.Errorf("ParseCommand(%q) = %#02x, %t", tt.name, byte(parsed), ok)
			}
		})
	}
}
