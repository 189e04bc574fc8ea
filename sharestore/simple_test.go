package sharestore

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyshard/keyshard/cryptoutils"
	"github.com/keyshard/keyshard/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSimpleShareStore_RequiresKey(t *testing.T) {
	ctx := context.Background()
	store := NewSimpleShareStore(testLogger())

	_, err := store.Pubkey(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoTssKey)

	_, _, err = cryptoutils.GenerateFactorKey()
	require.NoError(t, err)

	_, err = store.IssueShare(ctx, interfaces.ShareTypeDevice.Index(), interfaces.FactorPubkey{})
	assert.ErrorIs(t, err, interfaces.ErrNoTssKey)
}

func TestSimpleShareStore_GenerateIssueReconstruct(t *testing.T) {
	ctx := context.Background()
	store := NewSimpleShareStore(testLogger())

	tssPub, err := store.GenerateKey(ctx)
	require.NoError(t, err)
	assert.False(t, tssPub.IsZero())

	nonce, err := store.Nonce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	factorKey, factorPub, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)

	ref, err := store.IssueShare(ctx, interfaces.ShareTypeDevice.Index(), factorPub)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ShareTypeDevice.Index(), ref.Index)
	assert.Equal(t, uint64(1), ref.Nonce)

	material, err := store.Reconstruct(ctx, factorKey, ref)
	require.NoError(t, err)

	// Reconstructed material corresponds to the announced public key.
	gotPub, err := cryptoutils.TssPubkeyFor(material.Bytes())
	require.NoError(t, err)
	assert.Equal(t, tssPub, gotPub)

	// Reconstruction is deterministic.
	again, err := store.Reconstruct(ctx, factorKey, ref)
	require.NoError(t, err)
	assert.Equal(t, material.Bytes(), again.Bytes())
}

func TestSimpleShareStore_WrongFactorKeyFails(t *testing.T) {
	ctx := context.Background()
	store := NewSimpleShareStore(testLogger())
	_, err := store.GenerateKey(ctx)
	require.NoError(t, err)

	_, factorPub, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)
	wrongKey, _, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)

	ref, err := store.IssueShare(ctx, interfaces.ShareTypeDevice.Index(), factorPub)
	require.NoError(t, err)

	_, err = store.Reconstruct(ctx, wrongKey, ref)
	assert.ErrorIs(t, err, interfaces.ErrReconstructionFailed)
}

func TestSimpleShareStore_RefreshStalesOldRefs(t *testing.T) {
	ctx := context.Background()
	store := NewSimpleShareStore(testLogger())
	_, err := store.GenerateKey(ctx)
	require.NoError(t, err)

	factorKey, factorPub, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)

	oldRef, err := store.IssueShare(ctx, interfaces.ShareTypeDevice.Index(), factorPub)
	require.NoError(t, err)

	nonce, refs, err := store.RefreshShares(ctx, map[interfaces.FactorPubkey]int{
		factorPub: interfaces.ShareTypeDevice.Index(),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), nonce)
	require.Contains(t, refs, factorPub)

	// The pre-refresh ref is stale.
	_, err = store.Reconstruct(ctx, factorKey, oldRef)
	assert.ErrorIs(t, err, interfaces.ErrStaleShare)

	// The refreshed ref still opens with the same factor key.
	material, err := store.Reconstruct(ctx, factorKey, refs[factorPub])
	require.NoError(t, err)
	assert.NotEmpty(t, material.Bytes())
}

func TestSimpleShareStore_ImportRejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewSimpleShareStore(testLogger())

	factorKey, _, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)

	imported, err := store.ImportKey(ctx, factorKey.Bytes())
	require.NoError(t, err)
	assert.False(t, imported.IsZero())

	_, err = store.ImportKey(ctx, factorKey.Bytes())
	assert.ErrorIs(t, err, interfaces.ErrKeyAlreadyImported)
	assert.ErrorIs(t, err, interfaces.ErrIntegrityViolation)

	_, err = store.GenerateKey(ctx)
	assert.ErrorIs(t, err, interfaces.ErrKeyAlreadyImported)
}

func TestSimpleShareStore_InvalidIndex(t *testing.T) {
	ctx := context.Background()
	store := NewSimpleShareStore(testLogger())
	_, err := store.GenerateKey(ctx)
	require.NoError(t, err)

	_, factorPub, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)

	_, err = store.IssueShare(ctx, MaxShareIndex+1, factorPub)
	assert.Error(t, err)

	_, err = store.IssueShare(ctx, 0, factorPub)
	assert.Error(t, err)
}
