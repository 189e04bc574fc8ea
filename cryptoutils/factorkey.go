// Package cryptoutils provides the key material primitives used across
// the SDK: factor key generation and derivation, curve point handling,
// and authenticated encryption of share payloads to factor keys.
package cryptoutils

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/argon2"

	"github.com/keyshard/keyshard/interfaces"
)

// GenerateFactorKey creates a fresh cryptographically random factor key
// and its public counterpart.
func GenerateFactorKey() (interfaces.FactorKey, interfaces.FactorPubkey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return interfaces.FactorKey{}, interfaces.FactorPubkey{}, fmt.Errorf("failed to generate factor key: %w", err)
	}

	key, err := interfaces.NewFactorKeyFromBigInt(priv.D)
	if err != nil {
		return interfaces.FactorKey{}, interfaces.FactorPubkey{}, err
	}

	pub, err := interfaces.NewFactorPubkeyFromBytes(crypto.CompressPubkey(&priv.PublicKey))
	if err != nil {
		return interfaces.FactorKey{}, interfaces.FactorPubkey{}, err
	}

	return key, pub, nil
}

// FactorKeyFromPassword derives a factor key from a user password with
// argon2id. The same password and salt always yield the same key, so a
// password factor survives device loss.
func FactorKeyFromPassword(password, salt []byte) (interfaces.FactorKey, error) {
	raw := argon2.IDKey(password, salt, 1, 64*1024, 4, interfaces.FactorKeySize)

	// Reduce into the valid scalar range [1, N-1].
	order := crypto.S256().Params().N
	scalar := new(big.Int).SetBytes(raw)
	scalar.Mod(scalar, new(big.Int).Sub(order, big.NewInt(1)))
	scalar.Add(scalar, big.NewInt(1))

	return interfaces.NewFactorKeyFromBigInt(scalar)
}

// PublicFor computes the public counterpart of a factor key.
func PublicFor(key interfaces.FactorKey) (interfaces.FactorPubkey, error) {
	priv, err := crypto.ToECDSA(key.Bytes())
	if err != nil {
		return interfaces.FactorPubkey{}, fmt.Errorf("invalid factor key scalar: %w", err)
	}

	return interfaces.NewFactorPubkeyFromBytes(crypto.CompressPubkey(&priv.PublicKey))
}

// TssPubkeyFor computes the public key for raw signing key material.
func TssPubkeyFor(tssKey []byte) (interfaces.TssPubkey, error) {
	priv, err := crypto.ToECDSA(tssKey)
	if err != nil {
		return interfaces.TssPubkey{}, fmt.Errorf("invalid tss key scalar: %w", err)
	}

	return interfaces.NewTssPubkeyFromBytes(crypto.CompressPubkey(&priv.PublicKey))
}

// DeriveOAuthKey derives the stable account key for a verified identity.
// The same verifier and verifier ID always map to the same account.
func DeriveOAuthKey(verifier, verifierID string) string {
	digest := crypto.Keccak256([]byte(verifier), []byte("|"), []byte(verifierID))
	scalar := new(big.Int).SetBytes(digest)
	scalar.Mod(scalar, crypto.S256().Params().N)
	return fmt.Sprintf("%064x", scalar)
}
