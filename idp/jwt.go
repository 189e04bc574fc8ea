// Package idp implements the identity-provider collaborator. It verifies
// ID tokens against per-verifier keys and derives the account's OAuth key
// material from the verified identity. The SDK core only ever consumes
// the verified output.
package idp

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/keyshard/keyshard/cryptoutils"
	"github.com/keyshard/keyshard/interfaces"
)

// VerifierKey holds the verification key material for one verifier.
type VerifierKey struct {
	// Key is the verification key: []byte for HMAC verifiers, or a public
	// key for asymmetric ones.
	Key any

	// Methods are the accepted signing algorithm names, e.g. HS256, RS256.
	Methods []string
}

// JWTProvider verifies ID-token logins against a static set of verifier
// keys.
type JWTProvider struct {
	verifiers map[string]VerifierKey
	leeway    time.Duration
	log       *slog.Logger
}

// NewJWTProvider creates a provider trusting the given verifiers.
func NewJWTProvider(verifiers map[string]VerifierKey, log *slog.Logger) *JWTProvider {
	return &JWTProvider{verifiers: verifiers, leeway: 30 * time.Second, log: log}
}

// LoginWithJWT verifies the ID token against the named verifier's key and
// derives the identity assertion.
func (p *JWTProvider) LoginWithJWT(ctx context.Context, params interfaces.JWTLoginParams) (*interfaces.IdentityAssertion, error) {
	if params.Verifier == "" || params.IDToken == "" {
		return nil, fmt.Errorf("%w: verifier and idToken are required", interfaces.ErrAuthenticationFailed)
	}

	claims, err := p.verifyToken(params.Verifier, params.IDToken)
	if err != nil {
		return nil, err
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", interfaces.ErrAuthenticationFailed)
	}
	if params.VerifierID != "" && subject != params.VerifierID {
		return nil, fmt.Errorf("%w: token subject does not match verifier id", interfaces.ErrAuthenticationFailed)
	}

	p.log.Debug("Verified id token",
		slog.String("verifier", params.Verifier),
		slog.String("verifierId", subject))

	return p.assertion(params.Verifier, subject, claims), nil
}

// LoginWithOauth completes an implicit-flow login. Single-verifier logins
// verify the sub verifier's ID token directly; aggregate logins verify
// every sub token and bind them all to one aggregate identity.
func (p *JWTProvider) LoginWithOauth(ctx context.Context, params interfaces.OauthLoginParams) (*interfaces.IdentityAssertion, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	switch params.Kind {
	case interfaces.LoginSingleVerifier:
		return p.LoginWithJWT(ctx, interfaces.JWTLoginParams{
			Verifier: params.SubVerifierDetails.Verifier,
			IDToken:  params.SubVerifierDetails.IDToken,
		})

	case interfaces.LoginAggregateVerifier:
		var subject string
		var merged *interfaces.IdentityAssertion
		for _, sub := range params.SubVerifierDetailsList {
			claims, err := p.verifyToken(sub.Verifier, sub.IDToken)
			if err != nil {
				return nil, err
			}
			subSubject, _ := claims.GetSubject()
			if subSubject == "" {
				return nil, fmt.Errorf("%w: token has no subject", interfaces.ErrAuthenticationFailed)
			}
			if subject == "" {
				subject = subSubject
				merged = p.assertion(params.AggregateVerifier, subject, claims)
			} else if subSubject != subject {
				return nil, fmt.Errorf("%w: sub verifiers resolve to different identities", interfaces.ErrAuthenticationFailed)
			}
		}
		return merged, nil

	default:
		return nil, interfaces.ErrAuthenticationFailed
	}
}

func (p *JWTProvider) verifyToken(verifier, idToken string) (jwt.MapClaims, error) {
	vk, ok := p.verifiers[verifier]
	if !ok {
		return nil, fmt.Errorf("%w: unknown verifier %q", interfaces.ErrAuthenticationFailed, verifier)
	}

	token, err := jwt.Parse(idToken,
		func(t *jwt.Token) (any, error) { return vk.Key, nil },
		jwt.WithValidMethods(vk.Methods),
		jwt.WithLeeway(p.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAuthenticationFailed, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims format", interfaces.ErrAuthenticationFailed)
	}
	return claims, nil
}

// assertion derives the account key material and claims snapshot from a
// verified identity.
func (p *JWTProvider) assertion(verifier, subject string, claims jwt.MapClaims) *interfaces.IdentityAssertion {
	oauthKey := cryptoutils.DeriveOAuthKey(verifier, subject)

	userInfo := interfaces.UserInfo{
		Verifier:    verifier,
		VerifierID:  subject,
		TypeOfLogin: "jwt",
	}
	if email, ok := claims["email"].(string); ok {
		userInfo.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		userInfo.Name = name
	}
	if picture, ok := claims["picture"].(string); ok {
		userInfo.ProfileImage = picture
	}

	// The provider countersigns the derived key so downstream collaborators
	// can attribute the session to this login.
	signature := hex.EncodeToString(crypto.Keccak256([]byte(oauthKey), []byte(verifier), []byte(subject)))

	return &interfaces.IdentityAssertion{
		OAuthKey:   oauthKey,
		Signatures: []string{signature},
		UserInfo:   userInfo,
	}
}

var _ interfaces.IdentityProvider = (*JWTProvider)(nil)
