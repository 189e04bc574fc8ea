package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/keyshard/keyshard/interfaces"
)

// VaultKV implements a key-value store on HashiCorp Vault's KV v2
// secrets engine.
type VaultKV struct {
	client      *vaultapi.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultKV creates a Vault-backed store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path prefix within the mount (e.g. "keyshard")
//   - token: Vault token used for authentication
//   - log: structured logger for operational insights
func NewVaultKV(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultKV, error) {
	config := vaultapi.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := vaultapi.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	parsed, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid vault address: %w", err)
	}

	return &VaultKV{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", parsed.Host, mountPath, dataPath),
	}, nil
}

// Get retrieves the value for a key. Returns ErrKeyNotFound if absent.
func (s *VaultKV) Get(ctx context.Context, key string) (string, error) {
	secret, err := s.client.KVv2(s.mountPath).Get(ctx, s.secretPath(key))
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return "", interfaces.ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}

	value, ok := secret.Data["value"].(string)
	if !ok {
		return "", interfaces.ErrKeyNotFound
	}

	s.log.Debug("Fetched value from vault",
		slog.String("key", key),
		slog.Int("size", len(value)))

	return value, nil
}

// Set stores a value under a key.
func (s *VaultKV) Set(ctx context.Context, key, value string) error {
	_, err := s.client.KVv2(s.mountPath).Put(ctx, s.secretPath(key), map[string]interface{}{
		"value": value,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}

	s.log.Debug("Stored value to vault",
		slog.String("key", key),
		slog.Int("size", len(value)))

	return nil
}

// Delete removes a key. Vault deletes are idempotent.
func (s *VaultKV) Delete(ctx context.Context, key string) error {
	if err := s.client.KVv2(s.mountPath).Delete(ctx, s.secretPath(key)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}
	return nil
}

// Name returns the backend identifier for logging.
func (s *VaultKV) Name() string {
	return "vault"
}

// LocationURI returns the URI identifying this backend.
func (s *VaultKV) LocationURI() string {
	return s.locationURI
}

func (s *VaultKV) secretPath(key string) string {
	return path.Join(s.dataPath, url.PathEscape(key))
}
