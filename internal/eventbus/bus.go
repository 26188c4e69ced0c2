// Package eventbus fans control-loop events out to the MQTT, storage and
// ledger subscribers without blocking the loop.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType names what happened.
type EventType string

const (
	// EventTypeStateSettled: the lamp went idle. Data carries "state"
	// (light.State), "seq" (uint64, increasing) and "correlation_id".
	EventTypeStateSettled EventType = "state_settled"
	// EventTypeCommandSent: one logical RF command left the radio. Data
	// carries "command", "index", "frames", "failed" and "correlation_id".
	EventTypeCommandSent EventType = "command_sent"
	// EventTypeRequest: a control request was accepted, rejected or was a
	// calibration or override. Data carries "source" and "result".
	EventTypeRequest EventType = "request"
)

type Event struct {
	Type EventType
	Data map[string]interface{}
}

type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus runs handlers on a fixed set of workers. Publish never blocks; events
// that do not fit the queue are dropped and logged. Workers may run handlers
// of one type concurrently, so subscribers that care about order must check
// it themselves.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	wg        sync.WaitGroup

	closing     chan struct{}
	closeOnce   sync.Once
	queueClosed chan struct{}
	// sendMu is held for reading while enqueueing and for writing while
	// closing the queue.
	sendMu sync.RWMutex
}

// NewWithConfig starts workerCount workers over a queue of queueSize.
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers:    make(map[EventType][]Handler),
		workQueue:   make(chan work, queueSize),
		closing:     make(chan struct{}),
		queueClosed: make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe adds handler for eventType. Safe while events are flowing.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish queues one work item per subscriber. Called from the control
// loop, so it must not block.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		default:
		}

		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close stops accepting events, drains the queue and waits for the workers
// until ctx expires. Calling it twice is fine.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
	})

	b.sendMu.Lock()
	select {
	case <-b.queueClosed:
	default:
		close(b.workQueue)
		close(b.queueClosed)
	}
	b.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus drained")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, pending events lost")
	}
}
