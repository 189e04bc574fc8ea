// Package corekit is the top-level façade of the SDK. It sequences
// identity-provider login, share retrieval and reconstruction, and
// session establishment, and exposes the factor lifecycle operations.
//
// A CoreKit owns one logical session per process. All state-mutating
// operations execute under a single lock, so at most one mutation is in
// flight at a time; read-only projections may run concurrently with each
// other but not with a mutation.
package corekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/keyshard/keyshard/cryptoutils"
	"github.com/keyshard/keyshard/factorstore"
	"github.com/keyshard/keyshard/interfaces"
	"github.com/keyshard/keyshard/nodeselect"
	"github.com/keyshard/keyshard/session"
)

const (
	factorCachePrefix = "keyshard_factor_key/"
	redirectStateKey  = "keyshard_redirect_flow"
)

// FactorKeyInfo is the active factor key together with its share type.
type FactorKeyInfo struct {
	FactorKey interfaces.FactorKey
	ShareType interfaces.ShareType
}

// CreateFactorParams are the inputs to CreateFactor.
type CreateFactorParams struct {
	// ShareType selects the TSS share index for the new factor.
	ShareType interfaces.ShareType

	// FactorKey, when set, is used instead of generating a fresh key.
	FactorKey interfaces.FactorKey

	// ShareDescription overrides the default description for the type.
	ShareDescription interfaces.ShareDescription

	// AdditionalMetadata is stored alongside the factor for UI identification.
	AdditionalMetadata map[string]string
}

// RedirectResult carries the identity-provider output of a redirect
// flow back into HandleRedirectResult.
type RedirectResult struct {
	// FlowID identifies the in-flight flow this result belongs to.
	FlowID string

	// IDTokens maps verifier names to the tokens the redirect returned.
	IDTokens map[string]string
}

// redirectState is the flow continuation record stashed in storage so a
// redirect login survives a process restart.
type redirectState struct {
	FlowID string                      `json:"flowId"`
	Params interfaces.OauthLoginParams `json:"params"`
}

// sessionState is the materialized logged-in state.
type sessionState struct {
	oauthKey         string
	signatures       []string
	userInfo         interfaces.UserInfo
	tssPubKey        interfaces.TssPubkey
	tssShareIndex    int
	factorKey        interfaces.FactorKey
	tssNodeEndpoints []string
}

// CoreKit orchestrates the factor-share lifecycle and the login state
// machine over its collaborators.
type CoreKit struct {
	mu            sync.RWMutex
	sm            stateMachine
	state         sessionState
	loginInFlight atomic.Bool

	opts     Options
	storage  interfaces.KVStore
	sessions *session.Manager
	factors  *factorstore.Store
	shares   interfaces.ShareStore
	identity interfaces.IdentityProvider
	resolver *nodeselect.Resolver
	log      *slog.Logger
}

// New assembles a CoreKit from its collaborators. The instance starts in
// NOT_INITIALIZED; call Init before anything else.
func New(opts Options, storage interfaces.KVStore, metadata interfaces.MetadataService, shares interfaces.ShareStore, identity interfaces.IdentityProvider) (*CoreKit, error) {
	if storage == nil || metadata == nil || shares == nil || identity == nil {
		return nil, errors.New("all collaborators are required")
	}

	o := opts.withDefaults()
	return &CoreKit{
		opts:     o,
		storage:  storage,
		sessions: session.NewManager(storage, o.SessionStorageKey, o.Log),
		factors:  factorstore.NewStore(metadata, o.ManualSync, o.Log),
		shares:   shares,
		identity: identity,
		resolver: &nodeselect.Resolver{},
		log:      o.Log,
	}, nil
}

// Status returns the current lifecycle state for UI gating.
func (k *CoreKit) Status() interfaces.Status {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sm.Status()
}

// Init transitions the instance from NOT_INITIALIZED to INITIALIZED and
// attempts to resume a prior persisted session. A valid, unexpired
// snapshot whose factor still reconstructs moves straight to LOGGED_IN;
// an absent or unusable snapshot is discarded without error.
func (k *CoreKit) Init(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusNotInitialized); err != nil {
		return err
	}
	k.sm.transition(interfaces.StatusInitialized)

	// An unreadable snapshot must never block initialization; the user
	// can still log in again.
	snapshot, err := k.sessions.Resume(ctx)
	if err != nil {
		k.log.Warn("Failed to read persisted session", "err", err)
		return nil
	}
	if snapshot == nil {
		return nil
	}

	if err := k.resumeSession(ctx, snapshot); err != nil {
		k.log.Warn("Discarding unresumable session", "err", err)
		if clearErr := k.sessions.Clear(ctx); clearErr != nil {
			k.log.Warn("Failed to clear unresumable session", "err", clearErr)
		}
	}
	return nil
}

// resumeSession re-validates a persisted snapshot against current
// metadata and the share store before trusting it.
func (k *CoreKit) resumeSession(ctx context.Context, snapshot *interfaces.SessionData) error {
	factorKey, err := interfaces.NewFactorKeyFromHex(snapshot.FactorKey)
	if err != nil {
		return fmt.Errorf("snapshot factor key: %w", err)
	}
	tssPub, err := interfaces.NewTssPubkeyFromHex(snapshot.TssPubKey)
	if err != nil {
		return fmt.Errorf("snapshot tss pubkey: %w", err)
	}

	if err := k.factors.Load(ctx, snapshot.OAuthKey); err != nil {
		return err
	}
	if k.factors.TssPubkeyHex() != snapshot.TssPubKey {
		return errors.New("snapshot tss pubkey does not match account metadata")
	}

	factorPub, err := cryptoutils.PublicFor(factorKey)
	if err != nil {
		return err
	}
	md, err := k.factors.GetFactor(factorPub)
	if err != nil {
		return err
	}

	material, err := k.shares.Reconstruct(ctx, factorKey, md.Share)
	if err != nil {
		return err
	}
	material.Wipe()

	k.state = sessionState{
		oauthKey:      snapshot.OAuthKey,
		signatures:    snapshot.Signatures,
		userInfo:      snapshot.UserInfo,
		tssPubKey:     tssPub,
		tssShareIndex: md.Share.Index,
		factorKey:     factorKey,
	}
	k.sm.transition(interfaces.StatusLoggedIn)

	k.log.Info("Resumed session", slog.String("verifierId", snapshot.UserInfo.VerifierID))
	return nil
}

// LoginWithOauth drives an implicit OAuth flow. In popup mode the call
// completes the login; in redirect mode it stashes the flow continuation
// state and returns ErrRedirectPending.
func (k *CoreKit) LoginWithOauth(ctx context.Context, params interfaces.OauthLoginParams) error {
	if !k.loginInFlight.CompareAndSwap(false, true) {
		return interfaces.ErrLoginInProgress
	}
	defer k.loginInFlight.Store(false)

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusInitialized, interfaces.StatusRequiredShare, interfaces.StatusLoggedIn); err != nil {
		return err
	}

	if k.opts.UXMode == UXModeRedirect {
		return k.stashRedirectFlow(ctx, params)
	}

	assertion, err := k.identity.LoginWithOauth(ctx, params)
	if err != nil {
		return err
	}
	return k.completeLogin(ctx, assertion)
}

// LoginWithJWT logs in with a verifier-issued ID token.
func (k *CoreKit) LoginWithJWT(ctx context.Context, params interfaces.JWTLoginParams) error {
	if !k.loginInFlight.CompareAndSwap(false, true) {
		return interfaces.ErrLoginInProgress
	}
	defer k.loginInFlight.Store(false)

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusInitialized, interfaces.StatusRequiredShare, interfaces.StatusLoggedIn); err != nil {
		return err
	}

	assertion, err := k.identity.LoginWithJWT(ctx, params)
	if err != nil {
		return err
	}
	return k.completeLogin(ctx, assertion)
}

// stashRedirectFlow persists the flow continuation record. The flow
// completes in HandleRedirectResult, possibly after a process restart.
func (k *CoreKit) stashRedirectFlow(ctx context.Context, params interfaces.OauthLoginParams) error {
	flow := redirectState{FlowID: uuid.NewString(), Params: params}
	payload, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to serialize redirect flow: %w", err)
	}
	if err := k.storage.Set(ctx, redirectStateKey, string(payload)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}

	k.log.Info("Stashed redirect login flow", slog.String("flowId", flow.FlowID))
	return fmt.Errorf("%w: flow %s", interfaces.ErrRedirectPending, flow.FlowID)
}

// HandleRedirectResult resumes a redirect login started before a process
// restart. If no matching in-flight flow is found the call is a no-op.
func (k *CoreKit) HandleRedirectResult(ctx context.Context, result RedirectResult) error {
	if !k.loginInFlight.CompareAndSwap(false, true) {
		return interfaces.ErrLoginInProgress
	}
	defer k.loginInFlight.Store(false)

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusInitialized, interfaces.StatusRequiredShare); err != nil {
		return err
	}

	raw, err := k.storage.Get(ctx, redirectStateKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		k.log.Debug("No in-flight redirect flow")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}

	var flow redirectState
	if err := json.Unmarshal([]byte(raw), &flow); err != nil {
		k.log.Warn("Discarding malformed redirect flow state", "err", err)
		return k.storage.Delete(ctx, redirectStateKey)
	}
	if result.FlowID != "" && result.FlowID != flow.FlowID {
		k.log.Debug("Redirect result does not match in-flight flow",
			slog.String("got", result.FlowID), slog.String("want", flow.FlowID))
		return nil
	}

	// Fill in the tokens the redirect brought back.
	params := flow.Params
	if params.SubVerifierDetails != nil {
		if token, ok := result.IDTokens[params.SubVerifierDetails.Verifier]; ok {
			params.SubVerifierDetails.IDToken = token
		}
	}
	for i := range params.SubVerifierDetailsList {
		if token, ok := result.IDTokens[params.SubVerifierDetailsList[i].Verifier]; ok {
			params.SubVerifierDetailsList[i].IDToken = token
		}
	}

	if err := k.storage.Delete(ctx, redirectStateKey); err != nil {
		k.log.Warn("Failed to clear redirect flow state", "err", err)
	}

	assertion, err := k.identity.LoginWithOauth(ctx, params)
	if err != nil {
		return err
	}
	return k.completeLogin(ctx, assertion)
}

// completeLogin loads account metadata for the verified identity and
// attempts automatic reconstruction with the locally cached factor key.
func (k *CoreKit) completeLogin(ctx context.Context, assertion *interfaces.IdentityAssertion) error {
	if err := k.factors.Load(ctx, assertion.OAuthKey); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}

	k.state = sessionState{
		oauthKey:   assertion.OAuthKey,
		signatures: assertion.Signatures,
		userInfo:   assertion.UserInfo,
	}

	if k.opts.TssNodeDomain != "" {
		endpoints, err := k.resolver.ResolveEndpoints(k.opts.TssNodeDomain)
		if err != nil {
			k.log.Warn("Failed to resolve tss node endpoints", "err", err)
		} else {
			k.state.tssNodeEndpoints = endpoints
		}
	}

	if k.factors.TssPubkeyHex() == "" {
		if k.opts.ManualKeySetup {
			k.sm.transition(interfaces.StatusRequiredShare)
			k.log.Info("Account has no tss key; awaiting import")
			return nil
		}
		return k.provisionAccount(ctx)
	}

	tssPub, err := interfaces.NewTssPubkeyFromHex(k.factors.TssPubkeyHex())
	if err != nil {
		return fmt.Errorf("corrupted account metadata: %w", err)
	}
	k.state.tssPubKey = tssPub

	if factorKey, ok := k.cachedFactorKey(ctx, assertion.OAuthKey); ok {
		if err := k.activateFactor(ctx, factorKey); err == nil {
			k.sm.transition(interfaces.StatusLoggedIn)
			k.log.Info("Logged in with cached factor",
				slog.String("verifierId", assertion.UserInfo.VerifierID))
			return nil
		}
		k.log.Warn("Cached factor key failed to reconstruct", "err", err)
	}

	k.sm.transition(interfaces.StatusRequiredShare)
	k.log.Info("Login verified; factor share required",
		slog.String("verifierId", assertion.UserInfo.VerifierID))
	return nil
}

// provisionAccount sets up a brand new account: a fresh TSS key and an
// initial device factor.
func (k *CoreKit) provisionAccount(ctx context.Context) error {
	tssPub, err := k.shares.Pubkey(ctx)
	if errors.Is(err, interfaces.ErrNoTssKey) {
		tssPub, err = k.shares.GenerateKey(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to provision tss key: %w", err)
	}

	factorKey, factorPub, err := cryptoutils.GenerateFactorKey()
	if err != nil {
		return err
	}

	ref, err := k.shares.IssueShare(ctx, interfaces.ShareTypeDevice.Index(), factorPub)
	if err != nil {
		return fmt.Errorf("failed to issue device share: %w", err)
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
		Description: interfaces.ShareDescriptionDevice,
	}); err != nil {
		if revokeErr := k.shares.RevokeShare(ctx, ref); revokeErr != nil {
			k.log.Warn("Failed to revoke share after metadata failure", "err", revokeErr)
		}
		return err
	}

	k.state.tssPubKey = tssPub
	k.state.factorKey = factorKey
	k.state.tssShareIndex = ref.Index
	k.cacheFactorKey(ctx, k.state.oauthKey, factorKey)
	k.sm.transition(interfaces.StatusLoggedIn)

	if err := k.persistSession(ctx); err != nil {
		k.log.Warn("Failed to persist session", "err", err)
	}

	k.log.Info("Provisioned new account",
		slog.String("tssPub", tssPub.String()),
		slog.String("factorPub", factorPub.String()))
	return nil
}

// InputFactorKey supplies the reconstruction factor while REQUIRED_SHARE,
// or switches the active factor while LOGGED_IN. A failed attempt leaves
// the state exactly as it was.
func (k *CoreKit) InputFactorKey(ctx context.Context, factorKey interfaces.FactorKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sm.require(interfaces.StatusRequiredShare, interfaces.StatusLoggedIn); err != nil {
		return err
	}

	if err := k.activateFactor(ctx, factorKey); err != nil {
		return err
	}

	k.sm.transition(interfaces.StatusLoggedIn)
	k.log.Info("Factor accepted", slog.Int("tssShareIndex", k.state.tssShareIndex))
	return nil
}

// activateFactor validates the factor against the store, reconstructs the
// signing material, and on success makes the factor the active one,
// persisting the session and the local factor cache.
func (k *CoreKit) activateFactor(ctx context.Context, factorKey interfaces.FactorKey) error {
	factorPub, err := cryptoutils.PublicFor(factorKey)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrReconstructionFailed, err)
	}

	md, err := k.factors.GetFactor(factorPub)
	if err != nil {
		return fmt.Errorf("%w: no share metadata for this factor", interfaces.ErrReconstructionFailed)
	}

	material, err := k.shares.Reconstruct(ctx, factorKey, md.Share)
	if err != nil {
		return err
	}
	material.Wipe()

	k.state.factorKey = factorKey
	k.state.tssShareIndex = md.Share.Index
	k.cacheFactorKey(ctx, k.state.oauthKey, factorKey)

	if err := k.persistSession(ctx); err != nil {
		k.log.Warn("Failed to persist session", "err", err)
	}
	return nil
}

// Logout tears the session down from any state. Clearing the persisted
// snapshot is best effort: a storage failure is logged, not returned.
func (k *CoreKit) Logout(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.sessions.Clear(ctx); err != nil {
		k.log.Warn("Failed to clear persisted session", "err", err)
	}
	if err := k.storage.Delete(ctx, redirectStateKey); err != nil {
		k.log.Warn("Failed to clear redirect flow state", "err", err)
	}

	k.state = sessionState{}
	k.factors.Reset()
	k.sm.transition(interfaces.StatusNotInitialized)

	k.log.Info("Logged out")
	return nil
}

// GetUserInfo returns the identity-provider claims snapshot.
func (k *CoreKit) GetUserInfo() (interfaces.UserInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if err := k.sm.require(interfaces.StatusLoggedIn); err != nil {
		return interfaces.UserInfo{}, err
	}
	return k.state.userInfo, nil
}

// GetCurrentFactorKey returns the active factor key and its share type.
func (k *CoreKit) GetCurrentFactorKey() (FactorKeyInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if err := k.sm.require(interfaces.StatusLoggedIn); err != nil {
		return FactorKeyInfo{}, err
	}
	return FactorKeyInfo{
		FactorKey: k.state.factorKey,
		ShareType: interfaces.ShareType(k.state.tssShareIndex),
	}, nil
}

// GetKeyDetails returns how the user's key is currently managed.
func (k *CoreKit) GetKeyDetails() (interfaces.KeyDetails, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if err := k.sm.require(interfaces.StatusLoggedIn); err != nil {
		return interfaces.KeyDetails{}, err
	}

	descriptions := make(map[string]interfaces.ShareDescription)
	for pub, md := range k.factors.ListFactors() {
		descriptions[pub.String()] = md.Description
	}

	return interfaces.KeyDetails{
		TssPubkey:         k.state.tssPubKey,
		Threshold:         2,
		TotalFactors:      len(descriptions),
		RequiredFactors:   1,
		TssNonce:          k.factors.Nonce(),
		ShareDescriptions: descriptions,
	}, nil
}

// TssNodeEndpoints returns the node endpoints resolved at login, if any.
func (k *CoreKit) TssNodeEndpoints() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string(nil), k.state.tssNodeEndpoints...)
}

// persistSession writes the current snapshot. Callers must hold mu and be
// logged in (or completing a login).
func (k *CoreKit) persistSession(ctx context.Context) error {
	return k.sessions.Persist(ctx, interfaces.SessionData{
		OAuthKey:      k.state.oauthKey,
		FactorKey:     k.state.factorKey.String(),
		TssNonce:      k.factors.Nonce(),
		TssShareIndex: k.state.tssShareIndex,
		TssPubKey:     k.state.tssPubKey.String(),
		Signatures:    k.state.signatures,
		UserInfo:      k.state.userInfo,
	}, k.opts.SessionTTL)
}

// cachedFactorKey reads the local quick-resume factor key cache.
func (k *CoreKit) cachedFactorKey(ctx context.Context, oauthKey string) (interfaces.FactorKey, bool) {
	raw, err := k.storage.Get(ctx, factorCachePrefix+oauthKey)
	if err != nil {
		return interfaces.FactorKey{}, false
	}

	var record struct {
		FactorKey string `json:"factorKey"`
	}
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return interfaces.FactorKey{}, false
	}

	factorKey, err := interfaces.NewFactorKeyFromHex(record.FactorKey)
	if err != nil {
		return interfaces.FactorKey{}, false
	}
	return factorKey, true
}

// cacheFactorKey stores the factor key for quick resume. Best effort.
func (k *CoreKit) cacheFactorKey(ctx context.Context, oauthKey string, factorKey interfaces.FactorKey) {
	payload, _ := json.Marshal(struct {
		FactorKey string `json:"factorKey"`
	}{FactorKey: factorKey.String()})

	if err := k.storage.Set(ctx, factorCachePrefix+oauthKey, string(payload)); err != nil {
		k.log.Warn("Failed to cache factor key", "err", err)
	}
}
