package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	plaintext := `{"access_token":"ya29.abc","refresh_token":"1//xyz"}`
	sealed, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEncryptEmptyStaysEmpty(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestNewEncryptorRejectsBadKeys(t *testing.T) {
	_, err := NewEncryptor("")
	assert.Error(t, err)

	_, err = NewEncryptor("not-base64!!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	_, err = NewEncryptor(short)
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = enc.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}
