// Package metadataservice implements the durable remote factor-metadata
// collaborator: a storage-backed service, an HTTP handler exposing it,
// and an HTTP client consuming it. Accounts are keyed by their OAuth key.
package metadataservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keyshard/keyshard/interfaces"
)

const accountKeyPrefix = "account_metadata/"

// Service persists account metadata records in a key-value store. It
// implements interfaces.MetadataService and doubles as the backend for
// the HTTP handler, so embedded deployments can skip the HTTP hop.
type Service struct {
	storage interfaces.KVStore
	log     *slog.Logger
}

// NewService creates a metadata service over the given storage.
func NewService(storage interfaces.KVStore, log *slog.Logger) *Service {
	return &Service{storage: storage, log: log}
}

// Fetch returns the account record, or ErrAccountNotFound.
func (s *Service) Fetch(ctx context.Context, oauthKey string) (*interfaces.AccountMetadata, error) {
	raw, err := s.storage.Get(ctx, accountKeyPrefix+oauthKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, interfaces.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account metadata: %w", err)
	}

	var md interfaces.AccountMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("corrupted account metadata: %w", err)
	}
	return &md, nil
}

// Update overwrites the account record.
func (s *Service) Update(ctx context.Context, oauthKey string, md *interfaces.AccountMetadata) error {
	payload, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to serialize account metadata: %w", err)
	}

	if err := s.storage.Set(ctx, accountKeyPrefix+oauthKey, string(payload)); err != nil {
		return fmt.Errorf("failed to store account metadata: %w", err)
	}

	s.log.Debug("Updated account metadata",
		slog.String("account", oauthKey),
		slog.Int("factors", len(md.Factors)))

	return nil
}

var _ interfaces.MetadataService = (*Service)(nil)
