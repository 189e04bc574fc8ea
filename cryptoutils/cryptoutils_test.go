package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyshard/keyshard/interfaces"
)

func TestGenerateFactorKey(t *testing.T) {
	key, pub, err := GenerateFactorKey()
	require.NoError(t, err)
	assert.False(t, key.IsZero())
	require.NoError(t, pub.Validate())

	derived, err := PublicFor(key)
	require.NoError(t, err)
	assert.True(t, pub.Equal(derived))

	// Fresh keys every call.
	other, _, err := GenerateFactorKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestFactorKeyFromPassword(t *testing.T) {
	salt := []byte("account-salt")

	key1, err := FactorKeyFromPassword([]byte("correct horse battery staple"), salt)
	require.NoError(t, err)
	key2, err := FactorKeyFromPassword([]byte("correct horse battery staple"), salt)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	different, err := FactorKeyFromPassword([]byte("hunter2"), salt)
	require.NoError(t, err)
	assert.NotEqual(t, key1, different)

	otherSalt, err := FactorKeyFromPassword([]byte("correct horse battery staple"), []byte("other-salt"))
	require.NoError(t, err)
	assert.NotEqual(t, key1, otherSalt)

	// Derived keys are valid scalars.
	_, err = PublicFor(key1)
	require.NoError(t, err)
}

func TestDeriveOAuthKey(t *testing.T) {
	key := DeriveOAuthKey("google", "user@example.com")
	assert.Len(t, key, 64)
	assert.Equal(t, key, DeriveOAuthKey("google", "user@example.com"))
	assert.NotEqual(t, key, DeriveOAuthKey("google", "other@example.com"))
	assert.NotEqual(t, key, DeriveOAuthKey("github", "user@example.com"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, pub, err := GenerateFactorKey()
	require.NoError(t, err)

	plaintext := []byte("share payload")
	ciphertext, err := EncryptToFactorPubkey(pub, plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), string(plaintext))

	got, err := DecryptWithFactorKey(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	// A fresh ephemeral key per call means ciphertexts never repeat.
	again, err := EncryptToFactorPubkey(pub, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, again)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	_, pub, err := GenerateFactorKey()
	require.NoError(t, err)
	wrong, _, err := GenerateFactorKey()
	require.NoError(t, err)

	ciphertext, err := EncryptToFactorPubkey(pub, []byte("share payload"))
	require.NoError(t, err)

	_, err = DecryptWithFactorKey(wrong, ciphertext)
	assert.Error(t, err)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	key, _, err := GenerateFactorKey()
	require.NoError(t, err)

	_, err = DecryptWithFactorKey(key, []byte{0x01})
	assert.Error(t, err)

	_, err = DecryptWithFactorKey(key, []byte{0x00, 0x21, 0x02})
	assert.Error(t, err)
}

func TestTamperedCiphertextFails(t *testing.T) {
	key, pub, err := GenerateFactorKey()
	require.NoError(t, err)

	ciphertext, err := EncryptToFactorPubkey(pub, []byte("share payload"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = DecryptWithFactorKey(key, ciphertext)
	assert.Error(t, err)
}

func TestTssPubkeyFor(t *testing.T) {
	key, pub, err := GenerateFactorKey()
	require.NoError(t, err)

	tssPub, err := TssPubkeyFor(key.Bytes())
	require.NoError(t, err)
	assert.Equal(t, pub.Bytes(), tssPub.Bytes())

	_, err = TssPubkeyFor([]byte("short"))
	assert.Error(t, err)
}

func TestFactorKeyRedaction(t *testing.T) {
	material := interfaces.SigningMaterial([]byte{1, 2, 3})
	assert.Equal(t, "[redacted signing material]", material.String())

	material.Wipe()
	assert.Equal(t, []byte{0, 0, 0}, material.Bytes())
}
