package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/quntisd/internal/light"
)

// KindLamp is the resource kind of persisted lamp state.
const KindLamp = "lamp"

// Store provides versioned state storage with JSON payloads, keyed by
// (kind, id).
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves payload and version for a resource.
// Returns empty payload and version 0 if not found.
func (s *Store) Get(kind, id string) (payload []byte, version int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payloadStr string
	err = s.db.QueryRow(`
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payloadStr, &version)

	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	return []byte(payloadStr), version, nil
}

// Set stores payload, incrementing version automatically.
func (s *Store) Set(kind, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()

	_, err := s.db.Exec(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), now)

	if err == nil {
		log.Debug().
			Str("kind", kind).
			Str("id", id).
			Str("payload", string(payload)).
			Msg("Store.Set completed")
	}

	return err
}

// Delete removes a resource state entry.
func (s *Store) Delete(kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM resource_state WHERE kind = ? AND id = ?
	`, kind, id)

	return err
}

// LoadLamp returns the persisted lamp state. ok is false when nothing was
// stored yet.
func (s *Store) LoadLamp(id string) (state light.State, ok bool, err error) {
	payload, _, err := s.Get(KindLamp, id)
	if err != nil {
		return light.State{}, false, fmt.Errorf("failed to load lamp state: %w", err)
	}
	if payload == nil {
		return light.State{}, false, nil
	}
	if err := json.Unmarshal(payload, &state); err != nil {
		return light.State{}, false, fmt.Errorf("failed to decode lamp state: %w", err)
	}
	return state, true, nil
}

// SaveLamp persists the lamp state.
func (s *Store) SaveLamp(id string, state light.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode lamp state: %w", err)
	}
	return s.Set(KindLamp, id, payload)
}
