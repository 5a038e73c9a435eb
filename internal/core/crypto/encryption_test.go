package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Key Derivation Tests
// =============================================================================

func TestDeriveKey_Deterministic(t *testing.T) {
	key1 := DeriveKey("platform-secret")
	key2 := DeriveKey("platform-secret")

	assert.Len(t, key1, KeySize)
	assert.Equal(t, key1, key2)
}

func TestDeriveKey_DifferentSecrets(t *testing.T) {
	assert.NotEqual(t, DeriveKey("secret-a"), DeriveKey("secret-b"))
}

func TestRandomKey(t *testing.T) {
	key1, err := RandomKey()
	require.NoError(t, err)
	key2, err := RandomKey()
	require.NoError(t, err)

	assert.Len(t, key1, KeySize)
	assert.NotEqual(t, key1, key2)
}

// =============================================================================
// Encryption Tests
// =============================================================================

func TestEncrypt_Decrypt(t *testing.T) {
	plaintext := []byte("23bc46b1-71f6-4ed5-8c54-816aa4f8c502:123zO3xZCLrMN6v2BKK1dXYFpXlPkccOFqm12CdAsMgRU4VrNZ9lyGVCGuMDGIwP")
	key := DeriveKey("test-key")

	ciphertext, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_DifferentNonces(t *testing.T) {
	plaintext := []byte("Same message")
	key := DeriveKey("test-key")

	ciphertext1, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	ciphertext2, err := Encrypt(plaintext, key)
	require.NoError(t, err)

	assert.NotEqual(t, ciphertext1, ciphertext2)
}

func TestEncrypt_KeyTooShort(t *testing.T) {
	_, err := Encrypt([]byte("test"), []byte("too-short"))
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestDecrypt_KeyTooShort(t *testing.T) {
	_, err := Decrypt([]byte("some-ciphertext-data-that-is-long-enough"), []byte("too-short"))
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestDecrypt_WrongKey(t *testing.T) {
	ciphertext, err := Encrypt([]byte("secret"), DeriveKey("correct-key"))
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, DeriveKey("wrong-key"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_CiphertextTooShort(t *testing.T) {
	_, err := Decrypt([]byte("short"), DeriveKey("test-key"))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	key := DeriveKey("test-key")
	ciphertext, err := Encrypt([]byte("secret"), key)
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = Decrypt(ciphertext, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncrypt_LargePlaintext(t *testing.T) {
	plaintext := bytes.Repeat([]byte("x"), 64*1024)
	key := DeriveKey("test-key")

	ciphertext, err := Encrypt(plaintext, key)
	require.NoError(t, err)

	decrypted, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_LongerKeyUsesFirst32Bytes(t *testing.T) {
	key := make([]byte, 64)
	copy(key, []byte("this-is-a-much-longer-key-that-exceeds-32-bytes-limit"))

	ciphertext, err := Encrypt([]byte("test"), key)
	require.NoError(t, err)

	decrypted, err := Decrypt(ciphertext, key[:KeySize])
	require.NoError(t, err)
	assert.Equal(t, []byte("test"), decrypted)
}

// =============================================================================
// String Sealing Tests
// =============================================================================

func TestSealString_OpenString(t *testing.T) {
	key := DeriveKey("test-key")

	sealed, err := SealString("auth-key", key)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "auth-key")

	opened, err := OpenString(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "auth-key", opened)
}

func TestSealString_Empty(t *testing.T) {
	key := DeriveKey("test-key")

	sealed, err := SealString("", key)
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := OpenString("", key)
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestOpenString_InvalidBase64(t *testing.T) {
	_, err := OpenString("not-valid-base64!@#", DeriveKey("test-key"))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestOpenString_WrongKey(t *testing.T) {
	sealed, err := SealString("auth-key", DeriveKey("a"))
	require.NoError(t, err)

	_, err = OpenString(sealed, DeriveKey("b"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
