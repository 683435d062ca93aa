package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)

	plaintext := []byte("addons:\n  postgres:\n    password: hunter2\n")
	sealed, err := SealBundle(plaintext, key)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "hunter2")

	opened, err := OpenBundle(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenBundleWrongKey(t *testing.T) {
	key, _ := DeriveKey("right")
	wrong, _ := DeriveKey("wrong")

	sealed, err := SealBundle([]byte("secret"), key)
	require.NoError(t, err)

	_, err = OpenBundle(sealed, wrong)
	assert.Error(t, err)
}

func TestSealBundleNonceVaries(t *testing.T) {
	key, _ := DeriveKey("k")

	a, err := SealBundle([]byte("same input"), key)
	require.NoError(t, err)
	b, err := SealBundle([]byte("same input"), key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDeriveKey(t *testing.T) {
	_, err := DeriveKey("")
	assert.Error(t, err)

	k1, err := DeriveKey("passphrase")
	require.NoError(t, err)
	k2, err := DeriveKey("passphrase")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestOpenBundleRejectsGarbage(t *testing.T) {
	key, _ := DeriveKey("k")

	_, err := OpenBundle([]byte("not base64 !!!"), key)
	assert.Error(t, err)

	_, err = OpenBundle([]byte("YQ=="), key) // valid base64, too short
	assert.Error(t, err)
}
