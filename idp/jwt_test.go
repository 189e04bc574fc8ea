package idp

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyshard/keyshard/interfaces"
)

var testSecret = []byte("test-verifier-secret")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testProvider() *JWTProvider {
	return NewJWTProvider(map[string]VerifierKey{
		"google":   {Key: testSecret, Methods: []string{"HS256"}},
		"discord":  {Key: testSecret, Methods: []string{"HS256"}},
		"agg-main": {Key: testSecret, Methods: []string{"HS256"}},
	}, testLogger())
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func TestJWTProvider_LoginWithJWT(t *testing.T) {
	provider := testProvider()

	token := signToken(t, jwt.MapClaims{
		"sub":   "user-1",
		"email": "user@example.com",
		"name":  "User One",
	})

	assertion, err := provider.LoginWithJWT(context.Background(), interfaces.JWTLoginParams{
		Verifier:   "google",
		VerifierID: "user-1",
		IDToken:    token,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, assertion.OAuthKey)
	assert.Len(t, assertion.Signatures, 1)
	assert.Equal(t, "google", assertion.UserInfo.Verifier)
	assert.Equal(t, "user-1", assertion.UserInfo.VerifierID)
	assert.Equal(t, "user@example.com", assertion.UserInfo.Email)

	// The same identity always derives the same account key.
	again, err := provider.LoginWithJWT(context.Background(), interfaces.JWTLoginParams{
		Verifier: "google",
		IDToken:  token,
	})
	require.NoError(t, err)
	assert.Equal(t, assertion.OAuthKey, again.OAuthKey)
}

func TestJWTProvider_RejectsBadTokens(t *testing.T) {
	provider := testProvider()
	ctx := context.Background()

	// Unknown verifier
	_, err := provider.LoginWithJWT(ctx, interfaces.JWTLoginParams{
		Verifier: "unknown",
		IDToken:  signToken(t, jwt.MapClaims{"sub": "user-1"}),
	})
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)

	// Tampered token
	_, err = provider.LoginWithJWT(ctx, interfaces.JWTLoginParams{
		Verifier: "google",
		IDToken:  signToken(t, jwt.MapClaims{"sub": "user-1"}) + "x",
	})
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)

	// Expired token
	_, err = provider.LoginWithJWT(ctx, interfaces.JWTLoginParams{
		Verifier: "google",
		IDToken:  signToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}),
	})
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)

	// Subject mismatch
	_, err = provider.LoginWithJWT(ctx, interfaces.JWTLoginParams{
		Verifier:   "google",
		VerifierID: "someone-else",
		IDToken:    signToken(t, jwt.MapClaims{"sub": "user-1"}),
	})
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
}

func TestJWTProvider_LoginWithOauth_SingleVerifier(t *testing.T) {
	provider := testProvider()

	assertion, err := provider.LoginWithOauth(context.Background(), interfaces.OauthLoginParams{
		Kind: interfaces.LoginSingleVerifier,
		SubVerifierDetails: &interfaces.SubVerifierDetails{
			Verifier: "google",
			IDToken:  signToken(t, jwt.MapClaims{"sub": "user-1"}),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", assertion.UserInfo.VerifierID)
}

func TestJWTProvider_LoginWithOauth_Aggregate(t *testing.T) {
	provider := testProvider()
	ctx := context.Background()

	params := interfaces.OauthLoginParams{
		Kind:              interfaces.LoginAggregateVerifier,
		AggregateVerifier: "agg-main",
		SubVerifierDetailsList: []interfaces.SubVerifierDetails{
			{Verifier: "google", IDToken: signToken(t, jwt.MapClaims{"sub": "user-1"})},
			{Verifier: "discord", IDToken: signToken(t, jwt.MapClaims{"sub": "user-1"})},
		},
	}

	assertion, err := provider.LoginWithOauth(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "agg-main", assertion.UserInfo.Verifier)

	// Aggregate identity is keyed by the aggregate verifier, not the subs.
	single, err := provider.LoginWithJWT(ctx, interfaces.JWTLoginParams{
		Verifier: "google",
		IDToken:  signToken(t, jwt.MapClaims{"sub": "user-1"}),
	})
	require.NoError(t, err)
	assert.NotEqual(t, single.OAuthKey, assertion.OAuthKey)

	// Sub verifiers resolving to different identities are rejected.
	params.SubVerifierDetailsList[1].IDToken = signToken(t, jwt.MapClaims{"sub": "user-2"})
	_, err = provider.LoginWithOauth(ctx, params)
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
}

func TestJWTProvider_Aggregate_RejectsSubjectlessTokens(t *testing.T) {
	provider := testProvider()
	ctx := context.Background()

	// A subject-less first token must not let a later token's identity
	// slip through the cross-verifier match.
	_, err := provider.LoginWithOauth(ctx, interfaces.OauthLoginParams{
		Kind:              interfaces.LoginAggregateVerifier,
		AggregateVerifier: "agg-main",
		SubVerifierDetailsList: []interfaces.SubVerifierDetails{
			{Verifier: "google", IDToken: signToken(t, jwt.MapClaims{"email": "user@example.com"})},
			{Verifier: "discord", IDToken: signToken(t, jwt.MapClaims{"sub": "user-b"})},
		},
	})
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)

	_, err = provider.LoginWithOauth(ctx, interfaces.OauthLoginParams{
		Kind:              interfaces.LoginAggregateVerifier,
		AggregateVerifier: "agg-main",
		SubVerifierDetailsList: []interfaces.SubVerifierDetails{
			{Verifier: "google", IDToken: signToken(t, jwt.MapClaims{"sub": "user-a"})},
			{Verifier: "discord", IDToken: signToken(t, jwt.MapClaims{})},
		},
	})
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
}

func TestJWTProvider_OauthParamsValidation(t *testing.T) {
	provider := testProvider()

	_, err := provider.LoginWithOauth(context.Background(), interfaces.OauthLoginParams{
		Kind: interfaces.LoginSingleVerifier,
	})
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
}
