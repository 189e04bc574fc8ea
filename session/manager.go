// Package session persists and resumes the authenticated session
// snapshot through the key-value storage collaborator.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyshard/keyshard/interfaces"
)

// DefaultStorageKey is the key-value storage key for the session snapshot.
const DefaultStorageKey = "keyshard_session"

// envelope wraps the flat session record with its expiry so the whole
// snapshot stays a single opaque string in storage.
type envelope struct {
	ExpiresAt int64                  `json:"expiresAt"`
	Data      interfaces.SessionData `json:"data"`
}

// Manager owns the persisted session snapshot. It serializes the session
// to a flat JSON record under a session-scoped key, with an expiry after
// which the snapshot reads as absent.
type Manager struct {
	storage    interfaces.KVStore
	storageKey string
	log        *slog.Logger
}

// NewManager creates a session manager over the given storage.
func NewManager(storage interfaces.KVStore, storageKey string, log *slog.Logger) *Manager {
	if storageKey == "" {
		storageKey = DefaultStorageKey
	}
	return &Manager{storage: storage, storageKey: storageKey, log: log}
}

// Persist serializes the session with the given time-to-live, overwriting
// any prior snapshot. The write is a single Set so no partial snapshot is
// ever observable.
func (m *Manager) Persist(ctx context.Context, data interfaces.SessionData, ttl time.Duration) error {
	payload, err := json.Marshal(envelope{
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	if err := m.storage.Set(ctx, m.storageKey, string(payload)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	m.log.Debug("Persisted session snapshot",
		slog.String("storage", m.storage.Name()),
		slog.Duration("ttl", ttl))

	return nil
}

// Resume reads the persisted snapshot. It returns nil without error when
// the snapshot is absent, malformed, or past its time-to-live: an
// unusable snapshot must never block initialization. The caller must
// re-validate the snapshot's TSS public key against current metadata
// before trusting it.
func (m *Manager) Resume(ctx context.Context) (*interfaces.SessionData, error) {
	raw, err := m.storage.Get(ctx, m.storageKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		m.log.Warn("Discarding malformed session snapshot", "err", err)
		return nil, nil
	}

	if time.Now().Unix() >= env.ExpiresAt {
		m.log.Debug("Discarding expired session snapshot")
		if err := m.storage.Delete(ctx, m.storageKey); err != nil {
			m.log.Warn("Failed to remove expired session snapshot", "err", err)
		}
		return nil, nil
	}

	return &env.Data, nil
}

// Clear removes the snapshot. Clearing an absent snapshot is not an error.
func (m *Manager) Clear(ctx context.Context) error {
	return m.storage.Delete(ctx, m.storageKey)
}
