package corekit

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keyshard/keyshard/cryptoutils"
	"github.com/keyshard/keyshard/interfaces"
)

// CreateFactor issues a new factor share and registers it in the factor
// store. The new factor becomes usable immediately; all previously issued
// share references remain valid only until the refresh that this call
// triggers, which bumps the share generation.
//
// Returns the factor key the caller must hand to the user for safekeeping.
func (k *CoreKit) CreateFactor(ctx context.Context, params CreateFactorParams) (interfaces.FactorKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusLoggedIn); err != nil {
		return interfaces.FactorKey{}, err
	}

	shareType := params.ShareType
	if shareType != interfaces.ShareTypeDevice && shareType != interfaces.ShareTypeRecovery {
		return interfaces.FactorKey{}, fmt.Errorf("unsupported share type %d", shareType)
	}

	factorKey := params.FactorKey
	var factorPub interfaces.FactorPubkey
	var err error
	if factorKey.IsZero() {
		factorKey, factorPub, err = cryptoutils.GenerateFactorKey()
	} else {
		factorPub, err = cryptoutils.PublicFor(factorKey)
	}
	if err != nil {
		return interfaces.FactorKey{}, err
	}

	if _, err := k.factors.GetFactor(factorPub); err == nil {
		return interfaces.FactorKey{}, fmt.Errorf("%w: factor already registered", interfaces.ErrIntegrityViolation)
	}

	description := params.ShareDescription
	if description == "" {
		description = defaultDescription(shareType)
	}

	// Phase one: obtain the share. Phase two: register the metadata. A
	// metadata failure revokes the issued share so no orphan remains.
	ref, err := k.shares.IssueShare(ctx, shareType.Index(), factorPub)
	if err != nil {
		return interfaces.FactorKey{}, fmt.Errorf("failed to issue share: %w", err)
	}

	if err := k.factors.AddFactor(ctx, factorPub, interfaces.FactorMetadata{
		Share:              ref,
		Description:        description,
		AdditionalMetadata: params.AdditionalMetadata,
	}); err != nil {
		if revokeErr := k.shares.RevokeShare(ctx, ref); revokeErr != nil {
			k.log.Warn("Failed to revoke share after metadata failure", "err", revokeErr)
		}
		return interfaces.FactorKey{}, err
	}

	if err := k.refreshShares(ctx, interfaces.FactorPubkey{}); err != nil {
		return interfaces.FactorKey{}, err
	}

	k.log.Info("Created factor",
		slog.String("factorPub", factorPub.String()),
		slog.String("description", string(description)),
		slog.Int("tssShareIndex", shareType.Index()))
	return factorKey, nil
}

// DeleteFactor removes a factor and revokes its share. The last remaining
// factor and the currently active factor cannot be deleted.
func (k *CoreKit) DeleteFactor(ctx context.Context, factorPub interfaces.FactorPubkey) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusLoggedIn); err != nil {
		return err
	}

	activePub, err := cryptoutils.PublicFor(k.state.factorKey)
	if err == nil && activePub.Equal(factorPub) {
		return interfaces.ErrActiveFactor
	}

	md, err := k.factors.GetFactor(factorPub)
	if err != nil {
		return err
	}
	if k.factors.Count() == 1 {
		return interfaces.ErrLastFactor
	}

	// Rotate the polynomial before touching metadata. Once the nonce is
	// bumped the deleted factor's share can no longer reconstruct, even
	// if the metadata removal below fails and has to be retried.
	if err := k.refreshShares(ctx, factorPub); err != nil {
		return err
	}

	if err := k.factors.RemoveFactor(ctx, factorPub); err != nil {
		return err
	}

	if err := k.shares.RevokeShare(ctx, md.Share); err != nil {
		k.log.Warn("Failed to revoke deleted factor's share", "err", err)
	}

	k.log.Info("Deleted factor", slog.String("factorPub", factorPub.String()))
	return nil
}

// refreshShares rotates the share polynomial and re-issues shares for
// every factor except the excluded one, then persists the session so the
// active factor's reference stays current. A zero exclude pubkey
// refreshes everything.
func (k *CoreKit) refreshShares(ctx context.Context, exclude interfaces.FactorPubkey) error {
	indices := make(map[interfaces.FactorPubkey]int)
	for pub, md := range k.factors.ListFactors() {
		if pub.Equal(exclude) {
			continue
		}
		indices[pub] = md.Share.Index
	}

	nonce, refs, err := k.shares.RefreshShares(ctx, indices)
	if err != nil {
		return fmt.Errorf("failed to refresh shares: %w", err)
	}
	if err := k.factors.ApplyRefresh(ctx, nonce, refs); err != nil {
		return err
	}

	if err := k.persistSession(ctx); err != nil {
		k.log.Warn("Failed to persist session after refresh", "err", err)
	}
	return nil
}

// CommitChanges pushes buffered metadata mutations to the metadata
// service. Only meaningful with manual sync enabled; otherwise a no-op.
func (k *CoreKit) CommitChanges(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusLoggedIn); err != nil {
		return err
	}
	return k.factors.Commit(ctx)
}

// ImportTssKey places a previously unmanaged raw signing key under
// threshold management, issuing its first share to factorPub. Only
// permitted while the account has no TSS key, i.e. REQUIRED_SHARE after a
// login with manual key setup enabled. The caller logs in with the
// matching factor key afterwards.
func (k *CoreKit) ImportTssKey(ctx context.Context, tssKeyHex string, factorPub interfaces.FactorPubkey, shareType interfaces.ShareType) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusRequiredShare); err != nil {
		return err
	}
	if k.factors.TssPubkeyHex() != "" {
		return interfaces.ErrKeyAlreadyImported
	}
	if err := factorPub.Validate(); err != nil {
		return err
	}
	if shareType != interfaces.ShareTypeDevice && shareType != interfaces.ShareTypeRecovery {
		return fmt.Errorf("unsupported share type %d", shareType)
	}

	tssKey, err := hex.DecodeString(strings.TrimPrefix(tssKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("invalid tss key hex: %w", err)
	}
	defer interfaces.SigningMaterial(tssKey).Wipe()

	tssPub, err := k.shares.ImportKey(ctx, tssKey)
	if err != nil {
		return err
	}

	ref, err := k.shares.IssueShare(ctx, shareType.Index(), factorPub)
	if err != nil {
		return fmt.Errorf("failed to issue share for imported key: %w", err)
	}

	nonce, err := k.shares.Nonce(ctx)
	if err != nil {
		return err
	}

	if err := k.factors.BindKey(ctx, tssPub, nonce); err != nil {
		return err
	}
	if err := k.factors.AddFactor(ctx, factorPub, interfaces.FactorMetadata{
		Share:       ref,
		Description: defaultDescription(shareType),
	}); err != nil {
		if revokeErr := k.shares.RevokeShare(ctx, ref); revokeErr != nil {
			k.log.Warn("Failed to revoke share after metadata failure", "err", revokeErr)
		}
		return err
	}

	k.state.tssPubKey = tssPub

	k.log.Info("Imported tss key",
		slog.String("tssPub", tssPub.String()),
		slog.String("factorPub", factorPub.String()))
	return nil
}

// UnsafeExportTssKey reconstructs the full signing key and returns it as
// hex. This defeats the purpose of threshold management and exists only
// for account migration off the system. Every call is audit logged.
func (k *CoreKit) UnsafeExportTssKey(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusLoggedIn); err != nil {
		return "", err
	}

	factorPub, err := cryptoutils.PublicFor(k.state.factorKey)
	if err != nil {
		return "", err
	}
	md, err := k.factors.GetFactor(factorPub)
	if err != nil {
		return "", err
	}

	material, err := k.shares.Reconstruct(ctx, k.state.factorKey, md.Share)
	if err != nil {
		return "", err
	}
	exported := hex.EncodeToString(material.Bytes())
	material.Wipe()

	k.log.Warn("UNSAFE_EXPORT: full signing key reconstructed and exported",
		slog.String("verifierId", k.state.userInfo.VerifierID),
		slog.String("tssPub", k.state.tssPubKey.String()))
	return exported, nil
}

func defaultDescription(t interfaces.ShareType) interfaces.ShareDescription {
	if t == interfaces.ShareTypeDevice {
		return interfaces.ShareDescriptionDevice
	}
	return interfaces.ShareDescriptionSeedPhrase
}
