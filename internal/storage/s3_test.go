package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCMEncryptDecrypt(t *testing.T) {
	plain := []byte("Title: Test Document\nDate: 1850")

	enc, err := encryptGCM(plain, "secret")
	require.NoError(t, err)
	assert.Equal(t, archiveMagic, string(enc[:8]))
	assert.NotContains(t, string(enc), "Test Document")

	dec, err := decryptGCM(enc, "secret")
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestGCMDecrypt_WrongPassword(t *testing.T) {
	enc, err := encryptGCM([]byte("payload"), "secret")
	require.NoError(t, err)

	_, err = decryptGCM(enc, "wrong")
	require.Error(t, err)
}

func TestGCMDecrypt_TruncatedData(t *testing.T) {
	_, err := decryptGCM([]byte("short"), "secret")
	require.Error(t, err)
}

func TestGCMEncrypt_FreshNoncePerCall(t *testing.T) {
	a, err := encryptGCM([]byte("same input"), "secret")
	require.NoError(t, err)
	b, err := encryptGCM([]byte("same input"), "secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
