// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundtrip(t *testing.T) {
	cipher, err := NewCipher("correct horse battery staple")
	require.NoError(t, err)

	encrypted, err := cipher.EncryptString("sk-secret")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(encrypted))

	decrypted, err := cipher.DecryptString(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", decrypted)
}

func TestCipherUniqueCiphertexts(t *testing.T) {
	cipher, err := NewCipher("passphrase")
	require.NoError(t, err)

	a, err := cipher.EncryptString("same plaintext")
	require.NoError(t, err)
	b, err := cipher.EncryptString("same plaintext")
	require.NoError(t, err)

	// Fresh salt and nonce per value.
	assert.NotEqual(t, a, b)
}

func TestCipherWrongPassphrase(t *testing.T) {
	cipher1, err := NewCipher("right")
	require.NoError(t, err)
	cipher2, err := NewCipher("wrong")
	require.NoError(t, err)

	encrypted, err := cipher1.EncryptString("secret")
	require.NoError(t, err)

	_, err = cipher2.DecryptString(encrypted)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCipherPassthroughUnencrypted(t *testing.T) {
	cipher, err := NewCipher("passphrase")
	require.NoError(t, err)

	plain, err := cipher.DecryptString("sk-legacy-plaintext")
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy-plaintext", plain)
}

func TestCipherMalformedCiphertext(t *testing.T) {
	cipher, err := NewCipher("passphrase")
	require.NoError(t, err)

	_, err = cipher.DecryptString("ENC:not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = cipher.DecryptString("ENC:AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewCipherEmptyPassphrase(t *testing.T) {
	_, err := NewCipher("")
	assert.Error(t, err)
}
