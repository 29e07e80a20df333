package crypto

import (
	"crypto/rand"

	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
)

// KeyVault wraps and unwraps per-conversation keys under a process-wide
// master key. The master key is loaded once at startup and never mutated, so
// the vault is safe for unbounded concurrent use.
type KeyVault struct {
	masterKey []byte
}

// NewKeyVault creates a vault holding the given 256-bit master key.
func NewKeyVault(masterKey []byte) (*KeyVault, error) {
	if len(masterKey) != KeySize {
		return nil, apperr.InvalidArg("master key must be 32 bytes")
	}
	key := make([]byte, KeySize)
	copy(key, masterKey)
	return &KeyVault{masterKey: key}, nil
}

// NewConversationKey generates a fresh random 256-bit conversation key.
func (v *KeyVault) NewConversationKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, apperr.Internal("failed to generate conversation key", err)
	}
	return key, nil
}

// Wrap encrypts a raw conversation key under the master key.
func (v *KeyVault) Wrap(rawKey []byte) (Envelope, error) {
	return Encrypt(rawKey, v.masterKey)
}

// Unwrap decrypts a wrapped conversation key. Returns an INTEGRITY error on
// tag failure; that conversation must be treated as unusable, never as empty.
func (v *KeyVault) Unwrap(wrapped Envelope) ([]byte, error) {
	return Decrypt(wrapped, v.masterKey)
}
