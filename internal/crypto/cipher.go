// Package crypto implements the AEAD primitive and master-key vault used for
// conversation key wrapping and message body encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
)

const (
	// NonceSize is the AES-GCM nonce length (96 bits, the recommended size).
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// KeySize is the AES-256 key length.
	KeySize = 32
)

// Envelope is an AEAD-sealed payload. All three fields encode as base64 on
// the wire, which is the native JSON encoding for byte slices.
type Envelope struct {
	Nonce      []byte `json:"nonce"`
	Tag        []byte `json:"tag"`
	Ciphertext []byte `json:"ciphertext"`
}

// Encrypt seals plaintext under key with AES-256-GCM and a fresh random
// nonce. A nonce collision under the same key is possible in principle but
// negligible at 96 bits for this message volume.
func Encrypt(plaintext, key []byte) (Envelope, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return Envelope{}, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, apperr.Internal("failed to generate nonce", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)

	// GCM appends the tag to the ciphertext; the wire format keeps them apart.
	split := len(sealed) - TagSize
	return Envelope{
		Nonce:      nonce,
		Tag:        sealed[split:],
		Ciphertext: sealed[:split],
	}, nil
}

// Decrypt opens an envelope. A tag mismatch (tampered or corrupted data, or a
// wrong key) returns an INTEGRITY error; callers must treat it as fatal for
// the operation and never fall back to partial output.
func Decrypt(env Envelope, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(env.Nonce) != NonceSize {
		return nil, apperr.InvalidArg(fmt.Sprintf("nonce must be %d bytes", NonceSize))
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := aead.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return nil, apperr.Integrity("authentication tag verification failed", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, apperr.InvalidArg(fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Internal("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperr.Internal("failed to create GCM", err)
	}
	return aead, nil
}
