// Package factorstore owns the mapping from factor public keys to
// encrypted share-reference metadata. It is a pure data layer: actual
// share issuance and deletion are the share store collaborator's job,
// sequenced around these calls by the orchestrator.
package factorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/keyshard/keyshard/interfaces"
)

// Store holds the factor metadata for one account. In automatic sync
// mode every mutation is pushed straight to the remote metadata service;
// in manual sync mode mutations are buffered locally until Commit. A
// crash before Commit leaves the remote record unchanged while local
// state may already differ - an accepted property of manual sync mode.
type Store struct {
	mu       sync.RWMutex
	oauthKey string
	tssPub   string
	tssNonce uint64
	factors  map[interfaces.FactorPubkey]interfaces.FactorMetadata
	dirty    bool

	remote     interfaces.MetadataService
	manualSync bool
	log        *slog.Logger
}

// NewStore creates an empty factor store backed by the given metadata
// service.
func NewStore(remote interfaces.MetadataService, manualSync bool, log *slog.Logger) *Store {
	return &Store{
		factors:    make(map[interfaces.FactorPubkey]interfaces.FactorMetadata),
		remote:     remote,
		manualSync: manualSync,
		log:        log,
	}
}

// Load fetches the account record for oauthKey from the metadata service
// and replaces local state with it. A missing account record loads as an
// empty store.
func (s *Store) Load(ctx context.Context, oauthKey string) error {
	md, err := s.remote.Fetch(ctx, oauthKey)
	if err != nil && !errors.Is(err, interfaces.ErrAccountNotFound) {
		return fmt.Errorf("failed to fetch account metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.oauthKey = oauthKey
	s.tssPub = ""
	s.tssNonce = 0
	s.factors = make(map[interfaces.FactorPubkey]interfaces.FactorMetadata)
	s.dirty = false

	if md == nil {
		return nil
	}

	s.tssPub = md.TssPubkey
	s.tssNonce = md.TssNonce
	for pubHex, factor := range md.Factors {
		pub, err := interfaces.NewFactorPubkeyFromHex(pubHex)
		if err != nil {
			s.log.Warn("Skipping malformed factor entry in account metadata",
				slog.String("factorPub", pubHex), "err", err)
			continue
		}
		s.factors[pub] = factor
	}

	s.log.Debug("Loaded account metadata",
		slog.Int("factors", len(s.factors)),
		slog.Uint64("tssNonce", s.tssNonce))

	return nil
}

// Reset drops all local state, detaching the store from any account.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.oauthKey = ""
	s.tssPub = ""
	s.tssNonce = 0
	s.factors = make(map[interfaces.FactorPubkey]interfaces.FactorMetadata)
	s.dirty = false
}

// BindKey records the account's TSS public key and nonce after key
// generation or import.
func (s *Store) BindKey(ctx context.Context, tssPub interfaces.TssPubkey, nonce uint64) error {
	s.mu.Lock()
	s.tssPub = tssPub.String()
	s.tssNonce = nonce
	s.mu.Unlock()

	return s.sync(ctx)
}

// TssPubkeyHex returns the account's TSS public key, empty if unbound.
func (s *Store) TssPubkeyHex() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tssPub
}

// Nonce returns the account's current share generation.
func (s *Store) Nonce() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tssNonce
}

// AddFactor inserts or overwrites a metadata entry. Callers that do not
// intend to overwrite must check existence first.
func (s *Store) AddFactor(ctx context.Context, pub interfaces.FactorPubkey, md interfaces.FactorMetadata) error {
	if err := pub.Validate(); err != nil {
		return fmt.Errorf("malformed factor pubkey: %w", err)
	}
	if md.Description == "" {
		md.Description = interfaces.ShareDescriptionOther
	}

	s.mu.Lock()
	previous, existed := s.factors[pub]
	s.factors[pub] = md
	s.mu.Unlock()

	if err := s.sync(ctx); err != nil {
		// Roll the local map back so a failed sync is not partially applied.
		s.mu.Lock()
		if existed {
			s.factors[pub] = previous
		} else {
			delete(s.factors, pub)
		}
		s.mu.Unlock()
		return err
	}

	s.log.Debug("Added factor",
		slog.String("factorPub", pub.String()),
		slog.String("description", string(md.Description)))

	return nil
}

// GetFactor returns the metadata entry for a factor public key.
func (s *Store) GetFactor(pub interfaces.FactorPubkey) (interfaces.FactorMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	md, ok := s.factors[pub]
	if !ok {
		return interfaces.FactorMetadata{}, interfaces.ErrFactorNotFound
	}
	return md, nil
}

// RemoveFactor deletes a metadata entry. Deleting the last remaining
// factor is rejected: an account must always retain at least one path to
// reconstruction. The caller is responsible for revoking the share and
// bumping the nonce afterwards.
func (s *Store) RemoveFactor(ctx context.Context, pub interfaces.FactorPubkey) error {
	s.mu.Lock()
	previous, ok := s.factors[pub]
	if !ok {
		s.mu.Unlock()
		return interfaces.ErrFactorNotFound
	}
	if len(s.factors) == 1 {
		s.mu.Unlock()
		return interfaces.ErrLastFactor
	}
	delete(s.factors, pub)
	s.mu.Unlock()

	if err := s.sync(ctx); err != nil {
		s.mu.Lock()
		s.factors[pub] = previous
		s.mu.Unlock()
		return err
	}

	s.log.Debug("Removed factor", slog.String("factorPub", pub.String()))
	return nil
}

// ListFactors returns a copy of all entries. Order is not significant.
func (s *Store) ListFactors() map[interfaces.FactorPubkey]interfaces.FactorMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[interfaces.FactorPubkey]interfaces.FactorMetadata, len(s.factors))
	for pub, md := range s.factors {
		out[pub] = md
	}
	return out
}

// Count returns the number of factor entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.factors)
}

// ApplyRefresh replaces every factor's share reference with its refreshed
// counterpart and records the new nonce. Factors without a refreshed ref
// keep their old, now stale, reference.
func (s *Store) ApplyRefresh(ctx context.Context, nonce uint64, refs map[interfaces.FactorPubkey]interfaces.ShareRef) error {
	s.mu.Lock()
	s.tssNonce = nonce
	for pub, ref := range refs {
		md, ok := s.factors[pub]
		if !ok {
			continue
		}
		md.Share = ref
		s.factors[pub] = md
	}
	s.mu.Unlock()

	return s.sync(ctx)
}

// Commit flushes buffered mutations to the metadata service. In automatic
// sync mode, or with nothing buffered, it is a no-op.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.RLock()
	pending := s.dirty
	s.mu.RUnlock()

	if !pending {
		return nil
	}

	if err := s.push(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()

	s.log.Debug("Committed buffered metadata mutations")
	return nil
}

// sync applies the mode: push immediately in automatic mode, mark dirty
// in manual mode.
func (s *Store) sync(ctx context.Context) error {
	if s.manualSync {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return nil
	}
	return s.push(ctx)
}

func (s *Store) push(ctx context.Context) error {
	s.mu.RLock()
	oauthKey := s.oauthKey
	md := s.snapshotLocked()
	s.mu.RUnlock()

	if oauthKey == "" {
		return fmt.Errorf("factor store is not bound to an account")
	}

	if err := s.remote.Update(ctx, oauthKey, md); err != nil {
		return fmt.Errorf("failed to update account metadata: %w", err)
	}
	return nil
}

// snapshotLocked builds the durable record. Callers must hold mu.
func (s *Store) snapshotLocked() *interfaces.AccountMetadata {
	factors := make(map[string]interfaces.FactorMetadata, len(s.factors))
	for pub, md := range s.factors {
		factors[pub.String()] = md
	}
	return &interfaces.AccountMetadata{
		TssPubkey: s.tssPub,
		TssNonce:  s.tssNonce,
		Factors:   factors,
	}
}
