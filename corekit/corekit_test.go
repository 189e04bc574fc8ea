package corekit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyshard/keyshard/cryptoutils"
	"github.com/keyshard/keyshard/interfaces"
	"github.com/keyshard/keyshard/metadataservice"
	"github.com/keyshard/keyshard/sharestore"
	"github.com/keyshard/keyshard/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeIdentity is an identity provider that answers every login with a
// fixed assertion. When entered and release are set, logins block until
// released, which lets tests race a second login against it.
type fakeIdentity struct {
	assertion interfaces.IdentityAssertion
	err       error
	entered   chan struct{}
	release   chan struct{}
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		assertion: interfaces.IdentityAssertion{
			OAuthKey:   cryptoutils.DeriveOAuthKey("test-verifier", "user@example.com"),
			Signatures: []string{"sig-1"},
			UserInfo: interfaces.UserInfo{
				Verifier:   "test-verifier",
				VerifierID: "user@example.com",
				Email:      "user@example.com",
			},
		},
	}
}

func (f *fakeIdentity) login() (*interfaces.IdentityAssertion, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	out := f.assertion
	return &out, nil
}

func (f *fakeIdentity) LoginWithOauth(ctx context.Context, params interfaces.OauthLoginParams) (*interfaces.IdentityAssertion, error) {
	return f.login()
}

func (f *fakeIdentity) LoginWithJWT(ctx context.Context, params interfaces.JWTLoginParams) (*interfaces.IdentityAssertion, error) {
	return f.login()
}

type testEnv struct {
	kit      *CoreKit
	storage  *storage.MemoryKV
	metadata *metadataservice.Service
	shares   *sharestore.SimpleShareStore
	identity *fakeIdentity
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	env := &testEnv{
		storage:  storage.NewMemoryKV(),
		metadata: metadataservice.NewService(storage.NewMemoryKV(), testLogger()),
		shares:   sharestore.NewSimpleShareStore(testLogger()),
		identity: newFakeIdentity(),
	}
	if opts.Log == nil {
		opts.Log = testLogger()
	}

	kit, err := New(opts, env.storage, env.metadata, env.shares, env.identity)
	require.NoError(t, err)
	env.kit = kit
	return env
}

// rebuild makes a second CoreKit over the same collaborators, as if the
// process restarted with the same device storage.
func (e *testEnv) rebuild(t *testing.T, opts Options) *CoreKit {
	t.Helper()
	if opts.Log == nil {
		opts.Log = testLogger()
	}
	kit, err := New(opts, e.storage, e.metadata, e.shares, e.identity)
	require.NoError(t, err)
	return kit
}

func loginJWT(t *testing.T, kit *CoreKit) {
	t.Helper()
	require.NoError(t, kit.LoginWithJWT(context.Background(), interfaces.JWTLoginParams{
		Verifier:   "test-verifier",
		VerifierID: "user@example.com",
		IDToken:    "token",
	}))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestInitTransitions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})

	assert.Equal(t, interfaces.StatusNotInitialized, env.kit.Status())

	require.NoError(t, env.kit.Init(ctx))
	assert.Equal(t, interfaces.StatusInitialized, env.kit.Status())

	// Init is not re-entrant.
	assert.ErrorIs(t, env.kit.Init(ctx), interfaces.ErrInvalidState)
}

func TestOperationsGatedByState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})

	// Everything except Init is rejected before Init.
	assert.ErrorIs(t, env.kit.LoginWithJWT(ctx, interfaces.JWTLoginParams{}), interfaces.ErrInvalidState)
	_, err := env.kit.GetUserInfo()
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
	_, err = env.kit.CreateFactor(ctx, CreateFactorParams{ShareType: interfaces.ShareTypeRecovery})
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
	assert.ErrorIs(t, env.kit.InputFactorKey(ctx, interfaces.FactorKey{1}), interfaces.ErrInvalidState)
	_, err = env.kit.UnsafeExportTssKey(ctx)
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
}

func TestLoginProvisionsFreshAccount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))

	loginJWT(t, env.kit)
	assert.Equal(t, interfaces.StatusLoggedIn, env.kit.Status())

	info, err := env.kit.GetUserInfo()
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", info.VerifierID)

	details, err := env.kit.GetKeyDetails()
	require.NoError(t, err)
	assert.Equal(t, 2, details.Threshold)
	assert.Equal(t, 1, details.TotalFactors)
	assert.False(t, details.TssPubkey.IsZero())

	current, err := env.kit.GetCurrentFactorKey()
	require.NoError(t, err)
	assert.Equal(t, interfaces.ShareTypeDevice, current.ShareType)
	assert.False(t, current.FactorKey.IsZero())

	// Provisioning already pushed the account record.
	md, err := env.metadata.Fetch(ctx, env.identity.assertion.OAuthKey)
	require.NoError(t, err)
	assert.Len(t, md.Factors, 1)
}

func TestLoginFailurePreservesState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))

	env.identity.err = interfaces.ErrAuthenticationFailed
	err := env.kit.LoginWithJWT(ctx, interfaces.JWTLoginParams{})
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
	assert.Equal(t, interfaces.StatusInitialized, env.kit.Status())
}

func TestFactorLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	deviceKey, err := env.kit.GetCurrentFactorKey()
	require.NoError(t, err)
	devicePub, err := cryptoutils.PublicFor(deviceKey.FactorKey)
	require.NoError(t, err)

	recoveryKey, err := env.kit.CreateFactor(ctx, CreateFactorParams{
		ShareType:          interfaces.ShareTypeRecovery,
		AdditionalMetadata: map[string]string{"label": "paper backup"},
	})
	require.NoError(t, err)
	recoveryPub, err := cryptoutils.PublicFor(recoveryKey)
	require.NoError(t, err)

	details, err := env.kit.GetKeyDetails()
	require.NoError(t, err)
	assert.Equal(t, 2, details.TotalFactors)
	assert.Equal(t, interfaces.ShareDescriptionSeedPhrase, details.ShareDescriptions[recoveryPub.String()])

	// The active device factor cannot be deleted.
	assert.ErrorIs(t, env.kit.DeleteFactor(ctx, devicePub), interfaces.ErrActiveFactor)

	// Switch the active factor, then the device factor can go.
	require.NoError(t, env.kit.InputFactorKey(ctx, recoveryKey))
	current, err := env.kit.GetCurrentFactorKey()
	require.NoError(t, err)
	assert.Equal(t, interfaces.ShareTypeRecovery, current.ShareType)

	require.NoError(t, env.kit.DeleteFactor(ctx, devicePub))

	details, err = env.kit.GetKeyDetails()
	require.NoError(t, err)
	assert.Equal(t, 1, details.TotalFactors)

	// The deleted factor is gone and the survivor is now protected both
	// as active and as last.
	assert.ErrorIs(t, env.kit.DeleteFactor(ctx, devicePub), interfaces.ErrFactorNotFound)
	assert.ErrorIs(t, env.kit.DeleteFactor(ctx, recoveryPub), interfaces.ErrActiveFactor)
}

func TestCreateFactorRefreshStalesOldSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	before, err := env.kit.GetKeyDetails()
	require.NoError(t, err)

	_, err = env.kit.CreateFactor(ctx, CreateFactorParams{ShareType: interfaces.ShareTypeRecovery})
	require.NoError(t, err)

	after, err := env.kit.GetKeyDetails()
	require.NoError(t, err)
	assert.Greater(t, after.TssNonce, before.TssNonce)

	// The active factor still reconstructs through its refreshed ref.
	_, err = env.kit.UnsafeExportTssKey(ctx)
	require.NoError(t, err)
}

func TestCreateFactorWithSuppliedKey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	supplied, err := cryptoutils.FactorKeyFromPassword([]byte("hunter2"), []byte(env.identity.assertion.OAuthKey))
	require.NoError(t, err)

	got, err := env.kit.CreateFactor(ctx, CreateFactorParams{
		ShareType:        interfaces.ShareTypeRecovery,
		FactorKey:        supplied,
		ShareDescription: interfaces.ShareDescriptionPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, supplied, got)

	// Registering the same factor twice is rejected before side effects.
	_, err = env.kit.CreateFactor(ctx, CreateFactorParams{
		ShareType: interfaces.ShareTypeRecovery,
		FactorKey: supplied,
	})
	assert.ErrorIs(t, err, interfaces.ErrIntegrityViolation)

	require.NoError(t, env.kit.InputFactorKey(ctx, supplied))
}

func TestInputFactorKeyRejectsUnknownFactor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	wrong, _, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)
	assert.ErrorIs(t, env.kit.InputFactorKey(ctx, wrong), interfaces.ErrReconstructionFailed)
	assert.Equal(t, interfaces.StatusLoggedIn, env.kit.Status())
}

func TestSessionResumeAfterRestart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	restarted := env.rebuild(t, Options{})
	require.NoError(t, restarted.Init(ctx))
	assert.Equal(t, interfaces.StatusLoggedIn, restarted.Status())

	info, err := restarted.GetUserInfo()
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", info.VerifierID)
}

func TestExpiredSessionIsNotResumed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{SessionTTL: -time.Minute})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	restarted := env.rebuild(t, Options{SessionTTL: -time.Minute})
	require.NoError(t, restarted.Init(ctx))
	assert.Equal(t, interfaces.StatusInitialized, restarted.Status())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	require.NoError(t, env.kit.Logout(ctx))
	assert.Equal(t, interfaces.StatusNotInitialized, env.kit.Status())

	// The persisted snapshot is gone, so a restart does not resurrect
	// the session.
	restarted := env.rebuild(t, Options{})
	require.NoError(t, restarted.Init(ctx))
	assert.Equal(t, interfaces.StatusInitialized, restarted.Status())

	// The local factor cache survives logout; a fresh login with the
	// same identity comes back without re-entering the factor.
	loginJWT(t, restarted)
	assert.Equal(t, interfaces.StatusLoggedIn, restarted.Status())
}

func TestConcurrentLoginRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))

	env.identity.entered = make(chan struct{})
	env.identity.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- env.kit.LoginWithJWT(ctx, interfaces.JWTLoginParams{
			Verifier:   "test-verifier",
			VerifierID: "user@example.com",
			IDToken:    "token",
		})
	}()

	<-env.identity.entered
	assert.ErrorIs(t, env.kit.LoginWithJWT(ctx, interfaces.JWTLoginParams{}), interfaces.ErrLoginInProgress)
	close(env.identity.release)
	require.NoError(t, <-done)
	assert.Equal(t, interfaces.StatusLoggedIn, env.kit.Status())
}

func TestRedirectLoginFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{UXMode: UXModeRedirect})
	require.NoError(t, env.kit.Init(ctx))

	err := env.kit.LoginWithOauth(ctx, interfaces.OauthLoginParams{
		Kind:               interfaces.LoginSingleVerifier,
		SubVerifierDetails: &interfaces.SubVerifierDetails{Verifier: "test-verifier", ClientID: "app"},
	})
	require.ErrorIs(t, err, interfaces.ErrRedirectPending)
	assert.Equal(t, interfaces.StatusInitialized, env.kit.Status())

	// The flow survives a process restart.
	restarted := env.rebuild(t, Options{UXMode: UXModeRedirect})
	require.NoError(t, restarted.Init(ctx))

	require.NoError(t, restarted.HandleRedirectResult(ctx, RedirectResult{
		IDTokens: map[string]string{"test-verifier": "token"},
	}))
	assert.Equal(t, interfaces.StatusLoggedIn, restarted.Status())

	// The continuation record is consumed; a second delivery is a no-op.
	fresh := env.rebuild(t, Options{UXMode: UXModeRedirect})
	require.NoError(t, fresh.Init(ctx))
	require.NoError(t, fresh.HandleRedirectResult(ctx, RedirectResult{
		IDTokens: map[string]string{"test-verifier": "token"},
	}))
}

func TestHandleRedirectResultMismatchedFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{UXMode: UXModeRedirect})
	require.NoError(t, env.kit.Init(ctx))

	err := env.kit.LoginWithOauth(ctx, interfaces.OauthLoginParams{
		Kind:               interfaces.LoginSingleVerifier,
		SubVerifierDetails: &interfaces.SubVerifierDetails{Verifier: "test-verifier"},
	})
	require.ErrorIs(t, err, interfaces.ErrRedirectPending)

	require.NoError(t, env.kit.HandleRedirectResult(ctx, RedirectResult{
		FlowID:   "not-the-flow",
		IDTokens: map[string]string{"test-verifier": "token"},
	}))
	assert.Equal(t, interfaces.StatusInitialized, env.kit.Status())
}

func TestManualKeySetupAndImport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{ManualKeySetup: true})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)
	assert.Equal(t, interfaces.StatusRequiredShare, env.kit.Status())

	factorKey, factorPub, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)

	// Any 32-byte scalar works as the external key to bring in.
	external, _, err := cryptoutils.GenerateFactorKey()
	require.NoError(t, err)

	require.NoError(t, env.kit.ImportTssKey(ctx, external.String(), factorPub, interfaces.ShareTypeDevice))

	// A second import is rejected.
	err = env.kit.ImportTssKey(ctx, external.String(), factorPub, interfaces.ShareTypeDevice)
	assert.ErrorIs(t, err, interfaces.ErrKeyAlreadyImported)

	require.NoError(t, env.kit.InputFactorKey(ctx, factorKey))
	assert.Equal(t, interfaces.StatusLoggedIn, env.kit.Status())

	// The exported key round-trips to what was imported.
	exported, err := env.kit.UnsafeExportTssKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, external.String(), exported)
}

func TestManualSyncDefersMetadata(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{ManualSync: true})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	// Nothing reached the metadata service yet.
	_, err := env.metadata.Fetch(ctx, env.identity.assertion.OAuthKey)
	assert.ErrorIs(t, err, interfaces.ErrAccountNotFound)

	require.NoError(t, env.kit.CommitChanges(ctx))

	md, err := env.metadata.Fetch(ctx, env.identity.assertion.OAuthKey)
	require.NoError(t, err)
	assert.Len(t, md.Factors, 1)
}

func TestRequiredShareWhenNoCachedFactor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	current, err := env.kit.GetCurrentFactorKey()
	require.NoError(t, err)

	// A different device: same metadata and share store, empty storage.
	other := &testEnv{
		storage:  storage.NewMemoryKV(),
		metadata: env.metadata,
		shares:   env.shares,
		identity: env.identity,
	}
	kit, err := New(Options{Log: testLogger()}, other.storage, other.metadata, other.shares, other.identity)
	require.NoError(t, err)

	require.NoError(t, kit.Init(ctx))
	loginJWT(t, kit)
	assert.Equal(t, interfaces.StatusRequiredShare, kit.Status())

	require.NoError(t, kit.InputFactorKey(ctx, current.FactorKey))
	assert.Equal(t, interfaces.StatusLoggedIn, kit.Status())
}

func TestUnsafeExportMatchesTssPubkey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))
	loginJWT(t, env.kit)

	exported, err := env.kit.UnsafeExportTssKey(ctx)
	require.NoError(t, err)

	key, err := interfaces.NewFactorKeyFromHex(exported)
	require.NoError(t, err)
	pub, err := cryptoutils.TssPubkeyFor(key.Bytes())
	require.NoError(t, err)

	details, err := env.kit.GetKeyDetails()
	require.NoError(t, err)
	assert.Equal(t, details.TssPubkey, pub)
}

func TestStatusStringsOnSurface(t *testing.T) {
	env := newTestEnv(t, Options{})
	assert.Equal(t, "NOT_INITIALIZED", env.kit.Status().String())
	require.NoError(t, env.kit.Init(context.Background()))
	assert.Equal(t, "INITIALIZED", env.kit.Status().String())
}

func TestLoginErrorsDoNotLeakLock(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.kit.Init(ctx))

	env.identity.err = errors.New("provider down")
	assert.Error(t, env.kit.LoginWithJWT(ctx, interfaces.JWTLoginParams{}))

	env.identity.err = nil
	loginJWT(t, env.kit)
	assert.Equal(t, interfaces.StatusLoggedIn, env.kit.Status())
}
