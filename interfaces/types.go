// Package interfaces defines the core interfaces and types for the keyshard SDK.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Status is the coarse lifecycle state of a keyshard instance. It gates
// which operations are permitted at any point in time.
type Status int

const (
	// StatusNotInitialized is the state before Init has been called.
	StatusNotInitialized Status = iota
	// StatusInitialized means Init succeeded but the user has not logged in.
	StatusInitialized
	// StatusRequiredShare means login succeeded but no reconstruction
	// factor is known; the caller must supply one via InputFactorKey.
	StatusRequiredShare
	// StatusLoggedIn means the signing key has been reconstructed and all
	// factor operations are available.
	StatusLoggedIn
)

// String returns the status name as exposed on the public status surface.
func (s Status) String() string {
	switch s {
	case StatusNotInitialized:
		return "NOT_INITIALIZED"
	case StatusInitialized:
		return "INITIALIZED"
	case StatusRequiredShare:
		return "REQUIRED_SHARE"
	case StatusLoggedIn:
		return "LOGGED_IN"
	default:
		return "unknown"
	}
}

// ShareType is the TSS share index class a factor key encrypts.
type ShareType int

const (
	// ShareTypeDevice is the share index for device-held factors.
	ShareTypeDevice ShareType = 2
	// ShareTypeRecovery is the share index for recovery factors.
	ShareTypeRecovery ShareType = 3
)

// Index returns the TSS share index for this share type.
func (t ShareType) Index() int {
	return int(t)
}

// ShareDescription is the human-readable class of a factor, stored in
// factor metadata for UI identification.
type ShareDescription string

const (
	ShareDescriptionDevice            ShareDescription = "deviceShare"
	ShareDescriptionSeedPhrase        ShareDescription = "seedPhrase"
	ShareDescriptionPassword          ShareDescription = "passwordShare"
	ShareDescriptionSocial            ShareDescription = "socialShare"
	ShareDescriptionSecurityQuestions ShareDescription = "securityQuestions"
	ShareDescriptionOther             ShareDescription = "other"
)

// FactorKeySize is the fixed width of a factor key in bytes.
const FactorKeySize = 32

// FactorKey is a fixed-width secret scalar controlled by the end user.
// It decrypts exactly one share of the TSS key and is never persisted in
// plaintext by this system.
type FactorKey [FactorKeySize]byte

// NewFactorKeyFromBytes creates a factor key from raw bytes.
func NewFactorKeyFromBytes(b []byte) (FactorKey, error) {
	if len(b) != FactorKeySize {
		return FactorKey{}, fmt.Errorf("invalid factor key length: must be %d bytes", FactorKeySize)
	}

	var key FactorKey
	copy(key[:], b)
	return key, nil
}

// NewFactorKeyFromHex creates a factor key from a hex string.
func NewFactorKeyFromHex(s string) (FactorKey, error) {
	clean := strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return FactorKey{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewFactorKeyFromBytes(b)
}

// NewFactorKeyFromBigInt creates a factor key from a big integer,
// left-padding to the fixed width.
func NewFactorKeyFromBigInt(i *big.Int) (FactorKey, error) {
	if i == nil || i.Sign() <= 0 {
		return FactorKey{}, errors.New("factor key must be a positive integer")
	}
	if i.BitLen() > FactorKeySize*8 {
		return FactorKey{}, errors.New("factor key exceeds fixed width")
	}

	var key FactorKey
	i.FillBytes(key[:])
	return key, nil
}

// String returns the hex representation of the factor key.
func (k FactorKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns the raw 32-byte factor key.
func (k FactorKey) Bytes() []byte {
	return k[:]
}

// BigInt returns the factor key as a big integer.
func (k FactorKey) BigInt() *big.Int {
	return new(big.Int).SetBytes(k[:])
}

// IsZero reports whether the factor key is unset.
func (k FactorKey) IsZero() bool {
	return k == FactorKey{}
}

// FactorPubkeySize is the length of a compressed curve point in bytes.
const FactorPubkeySize = 33

// FactorPubkey is the public counterpart of a factor key, a compressed
// secp256k1 curve point. It identifies a factor in the factor store.
type FactorPubkey [FactorPubkeySize]byte

// NewFactorPubkeyFromBytes creates a factor public key from compressed
// point bytes.
func NewFactorPubkeyFromBytes(b []byte) (FactorPubkey, error) {
	if len(b) != FactorPubkeySize {
		return FactorPubkey{}, fmt.Errorf("invalid factor pubkey length: must be %d bytes", FactorPubkeySize)
	}
	if b[0] != 0x02 && b[0] != 0x03 {
		return FactorPubkey{}, errors.New("invalid factor pubkey: not a compressed point")
	}

	var pub FactorPubkey
	copy(pub[:], b)
	return pub, nil
}

// NewFactorPubkeyFromHex creates a factor public key from a hex string.
func NewFactorPubkeyFromHex(s string) (FactorPubkey, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != FactorPubkeySize*2 {
		return FactorPubkey{}, fmt.Errorf("invalid factor pubkey length: hex string must be %d characters", FactorPubkeySize*2)
	}

	b, err := hex.DecodeString(clean)
	if err != nil {
		return FactorPubkey{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewFactorPubkeyFromBytes(b)
}

// String returns the hex representation of the compressed point.
func (p FactorPubkey) String() string {
	return hex.EncodeToString(p[:])
}

// Bytes returns the raw compressed point.
func (p FactorPubkey) Bytes() []byte {
	return p[:]
}

// Equal compares two factor public keys.
func (p FactorPubkey) Equal(other FactorPubkey) bool {
	return p == other
}

// IsZero reports whether the pubkey is unset.
func (p FactorPubkey) IsZero() bool {
	return p == FactorPubkey{}
}

// Validate checks the compressed-point framing.
func (p FactorPubkey) Validate() error {
	_, err := NewFactorPubkeyFromBytes(p[:])
	return err
}

// TssPubkey is the public key of the threshold signing key, a compressed
// secp256k1 curve point.
type TssPubkey [FactorPubkeySize]byte

// NewTssPubkeyFromBytes creates a TSS public key from compressed point bytes.
func NewTssPubkeyFromBytes(b []byte) (TssPubkey, error) {
	p, err := NewFactorPubkeyFromBytes(b)
	if err != nil {
		return TssPubkey{}, err
	}
	return TssPubkey(p), nil
}

// NewTssPubkeyFromHex creates a TSS public key from a hex string.
func NewTssPubkeyFromHex(s string) (TssPubkey, error) {
	p, err := NewFactorPubkeyFromHex(s)
	if err != nil {
		return TssPubkey{}, err
	}
	return TssPubkey(p), nil
}

// String returns the hex representation of the compressed point.
func (p TssPubkey) String() string {
	return hex.EncodeToString(p[:])
}

// Bytes returns the raw compressed point.
func (p TssPubkey) Bytes() []byte {
	return p[:]
}

// IsZero reports whether the pubkey is unset.
func (p TssPubkey) IsZero() bool {
	return p == TssPubkey{}
}

// SigningMaterial is reconstructed private key material. It exists only
// transiently in memory and must be wiped once used.
type SigningMaterial []byte

// Bytes returns the raw key material.
func (m SigningMaterial) Bytes() []byte {
	return m
}

// String redacts the material from accidental logging.
func (m SigningMaterial) String() string {
	return "[redacted signing material]"
}

// Wipe zeroes the material in place.
func (m SigningMaterial) Wipe() {
	for i := range m {
		m[i] = 0
	}
}

// ShareRef is an opaque reference to one encrypted share of the TSS key.
// The ciphertext can only be opened by the matching factor key, and only
// while Nonce matches the share store's current nonce.
type ShareRef struct {
	// Index is the TSS share index this reference encrypts.
	Index int `json:"index"`

	// Nonce is the share polynomial generation this share belongs to.
	// Refs from older generations are stale and refuse to reconstruct.
	Nonce uint64 `json:"nonce"`

	// Ciphertext is the share payload, encrypted to the factor public key.
	Ciphertext []byte `json:"ciphertext"`
}

// IsZero reports whether the reference is unset.
func (r ShareRef) IsZero() bool {
	return r.Index == 0 && r.Nonce == 0 && len(r.Ciphertext) == 0
}

// FactorMetadata describes one factor share, keyed in the factor store by
// the factor's public key.
type FactorMetadata struct {
	// Share references the encrypted share payload and its TSS index.
	Share ShareRef `json:"share"`

	// Description is the human-readable factor class, defaulting to "other".
	Description ShareDescription `json:"description"`

	// AdditionalMetadata is caller-supplied data for UI identification.
	AdditionalMetadata map[string]string `json:"additionalMetadata,omitempty"`
}

// UserInfo is an immutable snapshot of identity-provider claims, attached
// to the session at login time.
type UserInfo struct {
	Verifier     string `json:"verifier"`
	VerifierID   string `json:"verifierId"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
	TypeOfLogin  string `json:"typeOfLogin,omitempty"`
}

// SessionData is the flat persisted session record. All binary values are
// hex-encoded strings so the snapshot survives any key-value storage
// collaborator.
type SessionData struct {
	OAuthKey      string   `json:"oAuthKey"`
	FactorKey     string   `json:"factorKey"`
	TssNonce      uint64   `json:"tssNonce"`
	TssShareIndex int      `json:"tssShareIndex"`
	TssPubKey     string   `json:"tssPubKey"`
	Signatures    []string `json:"signatures"`
	UserInfo      UserInfo `json:"userInfo"`
}

// KeyDetails describes how the user's signing key is currently managed.
type KeyDetails struct {
	TssPubkey         TssPubkey                   `json:"tssPubKey"`
	Threshold         int                         `json:"threshold"`
	TotalFactors      int                         `json:"totalFactors"`
	RequiredFactors   int                         `json:"requiredFactors"`
	TssNonce          uint64                      `json:"tssNonce"`
	ShareDescriptions map[string]ShareDescription `json:"shareDescriptions"`
}

// AccountMetadata is the durable per-account record held by the metadata
// service, keyed by the account's OAuth key.
type AccountMetadata struct {
	TssPubkey string                    `json:"tssPubKey"`
	TssNonce  uint64                    `json:"tssNonce"`
	Factors   map[string]FactorMetadata `json:"factors"`
}
