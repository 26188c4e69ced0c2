package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/config"
	"github.com/dokzlo13/quntisd/internal/eventbus"
	"github.com/dokzlo13/quntisd/internal/ledger"
)

// LedgerService records bus events in the ledger and prunes old entries.
type LedgerService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(cfg *config.Config, l *ledger.Ledger) *LedgerService {
	return &LedgerService{cfg: cfg, ledger: l}
}

// Subscribe registers the ledger writers on the bus.
func (s *LedgerService) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeCommandSent, func(e eventbus.Event) {
		entryType := ledger.EventCommandSent
		if failed, _ := e.Data["failed"].(int); failed > 0 {
			entryType = ledger.EventTransmitFailed
		}
		s.append(entryType, e, "radio")
	})

	bus.Subscribe(eventbus.EventTypeRequest, func(e eventbus.Event) {
		var entryType ledger.EventType
		switch e.Data["result"] {
		case "accepted":
			entryType = ledger.EventRequestAccepted
		case "rejected":
			entryType = ledger.EventRequestRejected
		case "calibrate":
			entryType = ledger.EventCalibration
		case "override":
			entryType = ledger.EventPowerOverride
		default:
			return
		}
		source, _ := e.Data["source"].(string)
		s.append(entryType, e, source)
	})

	bus.Subscribe(eventbus.EventTypeStateSettled, func(e eventbus.Event) {
		s.append(ledger.EventStateSettled, e, "light")
	})
}

func (s *LedgerService) append(entryType ledger.EventType, e eventbus.Event, source string) {
	correlationID, _ := e.Data["correlation_id"].(string)

	payload := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		if k == "correlation_id" {
			continue
		}
		payload[k] = v
	}

	if err := s.ledger.AppendWithSource(entryType, correlationID, source, payload); err != nil {
		log.Error().Err(err).Str("event_type", string(entryType)).Msg("Failed to append ledger entry")
	}
}

// Start launches the periodic cleanup.
func (s *LedgerService) Start(ctx context.Context) {
	go s.runCleanup(ctx)
}

// runCleanup periodically cleans up old ledger entries.
func (s *LedgerService) runCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.Retention.Duration()
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
