package crypto

import (
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	t.Parallel()

	key := randomKey(t)
	plaintext := []byte("I have been feeling anxious lately")

	env, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	require.Len(t, env.Nonce, NonceSize)
	require.Len(t, env.Tag, TagSize)
	require.NotEqual(t, plaintext, env.Ciphertext)

	got, err := Decrypt(env, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestEncrypt_UniqueNonces(t *testing.T) {
	t.Parallel()

	key := randomKey(t)

	a, err := Encrypt([]byte("same text"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same text"), key)
	require.NoError(t, err)

	require.NotEqual(t, a.Nonce, b.Nonce)
	require.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	t.Parallel()

	key := randomKey(t)
	env, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0xff

	_, err = Decrypt(env, key)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeIntegrity))
}

func TestDecrypt_TamperedTag(t *testing.T) {
	t.Parallel()

	key := randomKey(t)
	env, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	env.Tag[0] ^= 0xff

	_, err = Decrypt(env, key)
	require.True(t, apperr.Is(err, apperr.CodeIntegrity))
}

func TestDecrypt_WrongKey(t *testing.T) {
	t.Parallel()

	env, err := Encrypt([]byte("hello"), randomKey(t))
	require.NoError(t, err)

	_, err = Decrypt(env, randomKey(t))
	require.True(t, apperr.Is(err, apperr.CodeIntegrity))
}

func TestEncrypt_RejectsShortKey(t *testing.T) {
	t.Parallel()

	_, err := Encrypt([]byte("hello"), make([]byte, 16))
	require.Error(t, err)
}

func TestEnvelope_JSONIsBase64(t *testing.T) {
	t.Parallel()

	key := randomKey(t)
	env, err := Encrypt([]byte("payload"), key)
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	got, err := Decrypt(decoded, key)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}
