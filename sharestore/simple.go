// Package sharestore implements the threshold-share collaborator. The
// share interpolation mathematics is confined to this package; the rest
// of the SDK treats share payloads as opaque references.
package sharestore

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/vault/shamir"

	"github.com/keyshard/keyshard/cryptoutils"
	"github.com/keyshard/keyshard/interfaces"
)

// MaxShareIndex is the highest TSS share index the store issues. Index 1
// is reserved for the store's own share.
const MaxShareIndex = 16

// SimpleShareStore is an in-process share store. It holds the signing key
// in memory and splits it with Shamir's Secret Sharing, threshold 2: the
// store keeps the share at index 1, and every factor receives the share
// at its TSS index encrypted to its factor public key. Suitable for
// development and testing; production deployments talk to a TSS node
// cluster instead.
//
// Each refresh re-splits the key over a fresh polynomial and bumps the
// nonce, so share references from earlier generations can never combine
// with the store's current share.
type SimpleShareStore struct {
	mu     sync.RWMutex
	tssKey []byte
	tssPub interfaces.TssPubkey
	nonce  uint64
	shares map[int][]byte
	log    *slog.Logger
}

// NewSimpleShareStore creates an empty share store. A signing key must be
// generated or imported before shares can be issued.
func NewSimpleShareStore(log *slog.Logger) *SimpleShareStore {
	return &SimpleShareStore{log: log}
}

// Pubkey returns the current TSS public key.
func (s *SimpleShareStore) Pubkey(ctx context.Context) (interfaces.TssPubkey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tssKey == nil {
		return interfaces.TssPubkey{}, interfaces.ErrNoTssKey
	}
	return s.tssPub, nil
}

// Nonce returns the current share polynomial generation.
func (s *SimpleShareStore) Nonce(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tssKey == nil {
		return 0, interfaces.ErrNoTssKey
	}
	return s.nonce, nil
}

// GenerateKey creates a fresh signing key for the account.
func (s *SimpleShareStore) GenerateKey(ctx context.Context) (interfaces.TssPubkey, error) {
	secret := make([]byte, interfaces.FactorKeySize)
	if _, err := rand.Read(secret); err != nil {
		return interfaces.TssPubkey{}, fmt.Errorf("failed to generate tss key: %w", err)
	}
	return s.adopt(secret)
}

// ImportKey splits a previously unmanaged raw signing key into the
// threshold scheme. It refuses to overwrite an existing key.
func (s *SimpleShareStore) ImportKey(ctx context.Context, tssKey []byte) (interfaces.TssPubkey, error) {
	if len(tssKey) != interfaces.FactorKeySize {
		return interfaces.TssPubkey{}, fmt.Errorf("invalid tss key length: must be %d bytes", interfaces.FactorKeySize)
	}
	return s.adopt(bytes.Clone(tssKey))
}

func (s *SimpleShareStore) adopt(secret []byte) (interfaces.TssPubkey, error) {
	pub, err := cryptoutils.TssPubkeyFor(secret)
	if err != nil {
		return interfaces.TssPubkey{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tssKey != nil {
		return interfaces.TssPubkey{}, interfaces.ErrKeyAlreadyImported
	}

	shares, err := splitKey(secret)
	if err != nil {
		return interfaces.TssPubkey{}, err
	}

	s.tssKey = secret
	s.tssPub = pub
	s.nonce = 1
	s.shares = shares

	s.log.Info("Adopted tss key", slog.String("tssPub", pub.String()))
	return pub, nil
}

// IssueShare encrypts the current-generation share at the given TSS index
// to the holder of factorPub. Several factors may hold the same index.
func (s *SimpleShareStore) IssueShare(ctx context.Context, index int, factorPub interfaces.FactorPubkey) (interfaces.ShareRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tssKey == nil {
		return interfaces.ShareRef{}, interfaces.ErrNoTssKey
	}

	share, ok := s.shares[index]
	if !ok || index < 2 {
		return interfaces.ShareRef{}, fmt.Errorf("invalid share index %d: must be in [2, %d]", index, MaxShareIndex)
	}

	ciphertext, err := cryptoutils.EncryptToFactorPubkey(factorPub, share)
	if err != nil {
		return interfaces.ShareRef{}, fmt.Errorf("failed to encrypt share: %w", err)
	}

	s.log.Debug("Issued share",
		slog.Int("index", index),
		slog.Uint64("nonce", s.nonce),
		slog.String("factorPub", factorPub.String()))

	return interfaces.ShareRef{Index: index, Nonce: s.nonce, Ciphertext: ciphertext}, nil
}

// Reconstruct opens the referenced share with factorKey and combines it
// with the store's own share into the full signing material.
func (s *SimpleShareStore) Reconstruct(ctx context.Context, factorKey interfaces.FactorKey, ref interfaces.ShareRef) (interfaces.SigningMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tssKey == nil {
		return nil, interfaces.ErrNoTssKey
	}
	if ref.Nonce != s.nonce {
		return nil, interfaces.ErrStaleShare
	}

	factorShare, err := cryptoutils.DecryptWithFactorKey(factorKey, ref.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong factor key for share", interfaces.ErrReconstructionFailed)
	}

	secret, err := shamir.Combine([][]byte{s.shares[1], factorShare})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrReconstructionFailed, err)
	}

	// Sanity check against the known public key before handing out material.
	pub, err := cryptoutils.TssPubkeyFor(secret)
	if err != nil || pub != s.tssPub {
		return nil, fmt.Errorf("%w: combined material does not match tss key", interfaces.ErrReconstructionFailed)
	}

	return interfaces.SigningMaterial(secret), nil
}

// RevokeShare invalidates an issued share reference. Under the
// generation scheme a single stale ref carries no residual power, so
// revocation of a current-generation ref is completed by the caller's
// subsequent refresh; this validates and records the revocation.
func (s *SimpleShareStore) RevokeShare(ctx context.Context, ref interfaces.ShareRef) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tssKey == nil {
		return interfaces.ErrNoTssKey
	}

	s.log.Info("Revoked share",
		slog.Int("index", ref.Index),
		slog.Uint64("nonce", ref.Nonce),
		slog.Bool("stale", ref.Nonce != s.nonce))

	return nil
}

// RefreshShares rotates the share polynomial: the nonce is bumped, the
// key is re-split, and each given factor receives a fresh encrypted share
// at its index. Every reference issued before the refresh becomes stale.
func (s *SimpleShareStore) RefreshShares(ctx context.Context, factors map[interfaces.FactorPubkey]int) (uint64, map[interfaces.FactorPubkey]interfaces.ShareRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tssKey == nil {
		return 0, nil, interfaces.ErrNoTssKey
	}

	shares, err := splitKey(s.tssKey)
	if err != nil {
		return 0, nil, err
	}

	refs := make(map[interfaces.FactorPubkey]interfaces.ShareRef, len(factors))
	nonce := s.nonce + 1
	for factorPub, index := range factors {
		share, ok := shares[index]
		if !ok || index < 2 {
			return 0, nil, fmt.Errorf("invalid share index %d: must be in [2, %d]", index, MaxShareIndex)
		}
		ciphertext, err := cryptoutils.EncryptToFactorPubkey(factorPub, share)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encrypt refreshed share: %w", err)
		}
		refs[factorPub] = interfaces.ShareRef{Index: index, Nonce: nonce, Ciphertext: ciphertext}
	}

	s.nonce = nonce
	s.shares = shares

	s.log.Info("Refreshed shares",
		slog.Uint64("nonce", nonce),
		slog.Int("factors", len(refs)))

	return nonce, refs, nil
}

// splitKey splits the secret over a fresh polynomial. The share at map
// key i corresponds to TSS index i; index 1 stays with the store.
func splitKey(secret []byte) (map[int][]byte, error) {
	parts, err := shamir.Split(secret, MaxShareIndex, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to split tss key: %w", err)
	}

	shares := make(map[int][]byte, len(parts))
	for i, part := range parts {
		shares[i+1] = part
	}
	return shares, nil
}

var _ interfaces.ShareStore = (*SimpleShareStore)(nil)
