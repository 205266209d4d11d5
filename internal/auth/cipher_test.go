package auth

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *SecretCipher {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sc, err := NewSecretCipher(key)
	require.NoError(t, err)
	return sc
}

func TestSecretCipher_NewSecretCipher_InvalidKeyLength(t *testing.T) {
	tests := []int{0, 16, 24, 31, 33, 64}
	for _, length := range tests {
		sc, err := NewSecretCipher(make([]byte, length))
		assert.Error(t, err)
		assert.Nil(t, sc)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestSecretCipher_EncryptDecrypt_RoundTrip(t *testing.T) {
	sc := newTestCipher(t)

	plaintext := []byte("TB346789AB")
	ciphertext, nonce, err := sc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)
	assert.NotEmpty(t, nonce)

	decrypted, err := sc.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestSecretCipher_Encrypt_UniqueNonces(t *testing.T) {
	sc := newTestCipher(t)

	_, nonce1, err := sc.Encrypt([]byte("same input"))
	require.NoError(t, err)
	_, nonce2, err := sc.Encrypt([]byte("same input"))
	require.NoError(t, err)

	assert.NotEqual(t, nonce1, nonce2)
}

func TestSecretCipher_Decrypt_TamperedCiphertext(t *testing.T) {
	sc := newTestCipher(t)

	ciphertext, nonce, err := sc.Encrypt([]byte("TB346789AB"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF

	_, err = sc.Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}

func TestSecretCipher_Decrypt_WrongKey(t *testing.T) {
	sc := newTestCipher(t)
	other := newTestCipher(t)

	ciphertext, nonce, err := sc.Encrypt([]byte("TB346789AB"))
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}
