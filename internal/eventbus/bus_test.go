package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := map[string]int{}

	wg.Add(2)
	for _, name := range []string{"mqtt", "storage"} {
		name := name
		b.Subscribe(EventTypeStateSettled, func(e Event) {
			defer wg.Done()
			mu.Lock()
			got[name]++
			mu.Unlock()
		})
	}
	b.Subscribe(EventTypeCommandSent, func(Event) {
		t.Error("command_sent handler called for state_settled event")
	})

	b.Publish(Event{Type: EventTypeStateSettled, Data: map[string]interface{}{"on": true}})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers not called")
	}

	if got["mqtt"] != 1 || got["storage"] != 1 {
		t.Errorf("deliveries = %v", got)
	}
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	b := NewWithConfig(1, 10)
	defer b.Close(context.Background())

	called := make(chan struct{}, 1)
	b.Subscribe(EventTypeRequest, func(e Event) {
		if e.Data["panic"] == true {
			panic("boom")
		}
		called <- struct{}{}
	})

	b.Publish(Event{Type: EventTypeRequest, Data: map[string]interface{}{"panic": true}})
	b.Publish(Event{Type: EventTypeRequest})

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking handler")
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := NewWithConfig(1, 1)
	b.Subscribe(EventTypeCommandSent, func(Event) {})
	b.Close(context.Background())

	// Must not panic on the closed queue.
	b.Publish(Event{Type: EventTypeCommandSent})
	b.Close(context.Background())
}
