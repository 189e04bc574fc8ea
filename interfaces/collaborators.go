package interfaces

import (
	"context"
	"time"
)

// ShareStore is the external threshold-share collaborator. All share
// interpolation mathematics lives behind this interface; the SDK treats
// share payloads as opaque.
type ShareStore interface {
	// Pubkey returns the current TSS public key, or ErrNoTssKey if no
	// signing key has been generated or imported.
	Pubkey(ctx context.Context) (TssPubkey, error)

	// Nonce returns the current share polynomial generation.
	Nonce(ctx context.Context) (uint64, error)

	// GenerateKey creates a fresh signing key for the account. Fails with
	// ErrKeyAlreadyImported if one already exists.
	GenerateKey(ctx context.Context) (TssPubkey, error)

	// ImportKey splits a previously unmanaged raw signing key into the
	// threshold scheme. Fails with ErrKeyAlreadyImported if a key exists.
	ImportKey(ctx context.Context, tssKey []byte) (TssPubkey, error)

	// IssueShare derives the share at the given TSS index and encrypts it
	// to the holder of factorPub.
	IssueShare(ctx context.Context, index int, factorPub FactorPubkey) (ShareRef, error)

	// Reconstruct opens the referenced share with factorKey and combines
	// it with the store's own material into full signing material.
	// Reconstruction is deterministic for a given key and reference.
	Reconstruct(ctx context.Context, factorKey FactorKey, ref ShareRef) (SigningMaterial, error)

	// RevokeShare invalidates an issued share reference.
	RevokeShare(ctx context.Context, ref ShareRef) error

	// RefreshShares rotates the share polynomial, bumping the nonce and
	// re-issuing shares for the given factors at their indices. All refs
	// from earlier generations become stale.
	RefreshShares(ctx context.Context, factors map[FactorPubkey]int) (uint64, map[FactorPubkey]ShareRef, error)
}

// IdentityAssertion is the verified output of an identity-provider login.
type IdentityAssertion struct {
	// OAuthKey is the key material derived from the verified identity.
	OAuthKey string

	// Signatures are the provider signatures accumulated during login.
	Signatures []string

	// UserInfo is the provider's claims snapshot.
	UserInfo UserInfo
}

// SubVerifierDetails identifies one sub verifier in a login request.
type SubVerifierDetails struct {
	Verifier string `json:"verifier"`
	ClientID string `json:"clientId"`
	IDToken  string `json:"idToken,omitempty"`
}

// OauthLoginKind discriminates the two OAuth login parameter shapes.
type OauthLoginKind int

const (
	// LoginSingleVerifier is a login against a single verifier.
	LoginSingleVerifier OauthLoginKind = iota
	// LoginAggregateVerifier composes several sub verifiers under one
	// aggregate identity.
	LoginAggregateVerifier
)

// OauthLoginParams are parameters for an implicit OAuth login. Kind
// selects which of the variant fields apply.
type OauthLoginParams struct {
	Kind OauthLoginKind `json:"kind"`

	// SubVerifierDetails applies when Kind is LoginSingleVerifier.
	SubVerifierDetails *SubVerifierDetails `json:"subVerifierDetails,omitempty"`

	// AggregateVerifier and SubVerifierDetailsList apply when Kind is
	// LoginAggregateVerifier.
	AggregateVerifier      string               `json:"aggregateVerifier,omitempty"`
	SubVerifierDetailsList []SubVerifierDetails `json:"subVerifierDetailsList,omitempty"`

	// ServerTimeOffset compensates for client clock skew.
	ServerTimeOffset time.Duration `json:"serverTimeOffset,omitempty"`
}

// Validate checks that the fields required by the variant are present.
func (p OauthLoginParams) Validate() error {
	switch p.Kind {
	case LoginSingleVerifier:
		if p.SubVerifierDetails == nil || p.SubVerifierDetails.Verifier == "" {
			return ErrAuthenticationFailed
		}
	case LoginAggregateVerifier:
		if p.AggregateVerifier == "" || len(p.SubVerifierDetailsList) == 0 {
			return ErrAuthenticationFailed
		}
	default:
		return ErrAuthenticationFailed
	}
	return nil
}

// JWTLoginParams are parameters for an ID-token based login.
type JWTLoginParams struct {
	// Verifier is the verifier name; for aggregate setups, the top level
	// aggregate verifier.
	Verifier string `json:"verifier"`

	// VerifierID is the unique identifier for the user, e.g. the "sub"
	// claim of the ID token.
	VerifierID string `json:"verifierId"`

	// IDToken is the token received from the auth provider.
	IDToken string `json:"idToken"`

	// SubVerifier names the sub verifier for aggregate setups.
	SubVerifier string `json:"subVerifier,omitempty"`

	// AdditionalParams are extra parameters passed through to the provider.
	AdditionalParams map[string]string `json:"additionalParams,omitempty"`
}

// IdentityProvider is the token-issuing collaborator. The SDK only ever
// consumes verified identity output.
type IdentityProvider interface {
	// LoginWithOauth drives an implicit OAuth flow to a verified assertion.
	LoginWithOauth(ctx context.Context, params OauthLoginParams) (*IdentityAssertion, error)

	// LoginWithJWT verifies an ID token and derives the assertion.
	LoginWithJWT(ctx context.Context, params JWTLoginParams) (*IdentityAssertion, error)
}

// MetadataService is the durable remote factor-metadata collaborator,
// keyed by the account's OAuth key.
type MetadataService interface {
	// Fetch returns the account record, or ErrAccountNotFound.
	Fetch(ctx context.Context, oauthKey string) (*AccountMetadata, error)

	// Update overwrites the account record.
	Update(ctx context.Context, oauthKey string, md *AccountMetadata) error
}
