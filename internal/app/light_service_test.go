package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/quntisd/internal/command"
	"github.com/dokzlo13/quntisd/internal/config"
	"github.com/dokzlo13/quntisd/internal/eventbus"
	"github.com/dokzlo13/quntisd/internal/light"
	"github.com/dokzlo13/quntisd/internal/remote"
	"github.com/dokzlo13/quntisd/internal/transition"
)

type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeSender) SendPayload(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return true
}

func (f *fakeSender) Packets() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.payloads))
}

func (f *fakeSender) ResetPackets() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = nil
}

func (f *fakeSender) commands() []remote.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cmds []remote.Command
	for _, p := range f.payloads {
		cmds = append(cmds, remote.Command(p[remote.PayloadLength-1]))
	}
	return cmds
}

func testConfig(stepDelay time.Duration) *config.Config {
	return &config.Config{
		Lamp: config.LampConfig{
			Payload:         config.HexBytes{0x00, 0x76, 0x9A, 0x31},
			BrightnessSteps: 75,
			ColorTempSteps:  30,
			MinMireds:       153,
			MaxMireds:       500,
			StepDelay:       config.Duration(stepDelay),
			TickInterval:    config.Duration(time.Millisecond),
		},
		HTTP: config.HTTPConfig{ColorPolarity: "cold_low"},
	}
}

type serviceHarness struct {
	svc     *LightService
	tx      *fakeSender
	bus     *eventbus.Bus
	settled chan light.State
	cancel  context.CancelFunc
}

func startService(t *testing.T, cfg *config.Config, setup func(*LightService)) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		tx:      &fakeSender{},
		bus:     eventbus.NewWithConfig(1, 100),
		settled: make(chan light.State, 16),
	}
	h.bus.Subscribe(eventbus.EventTypeStateSettled, func(e eventbus.Event) {
		h.settled <- e.Data["state"].(light.State)
	})

	svc, err := NewLightService(cfg, h.tx, h.bus, nil)
	if err != nil {
		t.Fatalf("NewLightService() error = %v", err)
	}
	h.svc = svc
	svc.Restore(light.DefaultState)
	if setup != nil {
		setup(svc)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go svc.Run(ctx)

	t.Cleanup(func() {
		cancel()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
		defer closeCancel()
		h.bus.Close(closeCtx)
	})

	deadline := time.Now().Add(time.Second)
	for !svc.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("control loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return h
}

func (h *serviceHarness) waitSettled(t *testing.T) light.State {
	t.Helper()
	select {
	case st := <-h.settled:
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("no settled state published")
		return light.State{}
	}
}

func TestLightServiceRestoreSendsNothing(t *testing.T) {
	cfg := testConfig(time.Millisecond)
	svc, err := NewLightService(cfg, &fakeSender{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if svc.Ready() {
		t.Error("Ready() before Run")
	}
	svc.Restore(light.State{On: true, Brightness: 0.8, ColorTemp: 300})
	if got := svc.Packets(); got != 0 {
		t.Errorf("Packets() = %d after restore, want 0", got)
	}
	if st := svc.Current(); !st.On {
		t.Errorf("Current() = %+v, want on", st)
	}
}

func TestLightServiceHandleCommand(t *testing.T) {
	h := startService(t, testConfig(time.Millisecond), nil)

	if err := h.svc.HandleCommand("mqtt", []byte(`{"state":"ON"}`), command.UnitMireds); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}

	st := h.waitSettled(t)
	if !st.On {
		t.Errorf("settled state = %+v, want on", st)
	}

	cmds := h.tx.commands()
	if len(cmds) != remote.Repeats {
		t.Fatalf("sent %d frames, want %d", len(cmds), remote.Repeats)
	}
	for _, c := range cmds {
		if c != remote.CmdOnOff {
			t.Errorf("frame command = %#x, want on/off", byte(c))
		}
	}
	if snap := h.svc.Snapshot(); !snap.Steps.Power || snap.Busy {
		t.Errorf("snapshot = %+v, want powered and idle", snap)
	}
}

func TestLightServiceRejectsMalformed(t *testing.T) {
	h := startService(t, testConfig(time.Millisecond), nil)

	rejected := make(chan string, 1)
	h.bus.Subscribe(eventbus.EventTypeRequest, func(e eventbus.Event) {
		if e.Data["result"] == "rejected" {
			rejected <- e.Data["source"].(string)
		}
	})

	err := h.svc.HandleCommand("http", []byte(`{"brightness":200}`), command.UnitPercent)
	if !errors.Is(err, command.ErrMalformed) {
		t.Fatalf("HandleCommand() error = %v, want ErrMalformed", err)
	}

	select {
	case src := <-rejected:
		if src != "http" {
			t.Errorf("rejected source = %q", src)
		}
	case <-time.After(time.Second):
		t.Error("no rejected request event")
	}

	time.Sleep(20 * time.Millisecond)
	if got := h.tx.Packets(); got != 0 {
		t.Errorf("Packets() = %d after malformed command, want 0", got)
	}
}

func TestLightServiceCalibrateConflict(t *testing.T) {
	h := startService(t, testConfig(20*time.Millisecond), func(s *LightService) {
		if err := s.CalibrateOnBoot(); err != nil {
			t.Fatalf("CalibrateOnBoot() error = %v", err)
		}
	})

	err := h.svc.Calibrate(context.Background())
	if !errors.Is(err, transition.ErrCalibrating) {
		t.Errorf("Calibrate() error = %v, want ErrCalibrating", err)
	}
	if !h.svc.Snapshot().Calibrating {
		t.Error("snapshot not calibrating")
	}
}

func TestLightServiceOverridePower(t *testing.T) {
	h := startService(t, testConfig(time.Millisecond), nil)

	if err := h.svc.OverridePower(context.Background(), true); err != nil {
		t.Fatalf("OverridePower() error = %v", err)
	}
	st := h.waitSettled(t)
	if !st.On {
		t.Errorf("settled state = %+v, want on", st)
	}
	if got := h.tx.Packets(); got != 0 {
		t.Errorf("Packets() = %d after override, want 0", got)
	}
}

func TestLightServiceStopped(t *testing.T) {
	h := startService(t, testConfig(time.Millisecond), nil)
	h.cancel()
	<-h.svc.done

	err := h.svc.HandleCommand("mqtt", []byte(`{"state":"ON"}`), command.UnitMireds)
	if !errors.Is(err, ErrStopped) {
		t.Errorf("HandleCommand() after stop = %v, want ErrStopped", err)
	}
	if h.svc.Ready() {
		t.Error("Ready() after stop")
	}
}
