package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/keyshard/keyshard/interfaces"
)

// EncryptToFactorPubkey encrypts data so that only the holder of the
// matching factor key can open it. It implements ECIES over secp256k1
// with ECDH key agreement, SHA-256 key derivation, and AES-GCM for
// authenticated encryption. A fresh ephemeral key is generated per call.
func EncryptToFactorPubkey(factorPub interfaces.FactorPubkey, data []byte) ([]byte, error) {
	pub, err := crypto.DecompressPubkey(factorPub.Bytes())
	if err != nil {
		return nil, fmt.Errorf("invalid factor pubkey: %w", err)
	}

	ephemeral, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	// Derive shared secret using ECDH
	x, _ := pub.Curve.ScalarMult(pub.X, pub.Y, ephemeral.D.Bytes())
	sharedSecret := sha256.Sum256(x.Bytes())

	iv := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	aesBlock, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	ciphertext := aesGCM.Seal(nil, iv, data, nil)
	ephemeralPub := crypto.CompressPubkey(&ephemeral.PublicKey)

	// Format: [ephemeral key length (2 bytes)][ephemeral key][iv][ciphertext]
	result := make([]byte, 2+len(ephemeralPub)+len(iv)+len(ciphertext))
	binary.BigEndian.PutUint16(result[0:2], uint16(len(ephemeralPub)))
	copy(result[2:2+len(ephemeralPub)], ephemeralPub)
	copy(result[2+len(ephemeralPub):2+len(ephemeralPub)+len(iv)], iv)
	copy(result[2+len(ephemeralPub)+len(iv):], ciphertext)

	return result, nil
}

// DecryptWithFactorKey opens data produced by EncryptToFactorPubkey with
// the matching factor key.
func DecryptWithFactorKey(factorKey interfaces.FactorKey, encryptedData []byte) ([]byte, error) {
	priv, err := crypto.ToECDSA(factorKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("invalid factor key scalar: %w", err)
	}

	if len(encryptedData) < 2 {
		return nil, errors.New("encrypted data too short")
	}

	ephemeralKeyLen := int(binary.BigEndian.Uint16(encryptedData[0:2]))
	if len(encryptedData) < 2+ephemeralKeyLen+12 {
		return nil, errors.New("encrypted data has invalid format")
	}

	ephemeralPub, err := crypto.DecompressPubkey(encryptedData[2 : 2+ephemeralKeyLen])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ephemeral public key: %w", err)
	}

	// Derive shared secret using ECDH
	x, _ := ephemeralPub.Curve.ScalarMult(ephemeralPub.X, ephemeralPub.Y, priv.D.Bytes())
	sharedSecret := sha256.Sum256(x.Bytes())

	ivStart := 2 + ephemeralKeyLen
	iv := encryptedData[ivStart : ivStart+12]
	ciphertext := encryptedData[ivStart+12:]

	aesBlock, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aesGCM.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}
