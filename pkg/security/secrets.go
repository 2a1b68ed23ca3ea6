package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// Sealer encrypts and decrypts opaque blobs at rest. pkg/bundle uses
// one to seal the SECRETS_<lattice> bucket's values before they reach
// the bus KV store (spec.md §6.4); the CONFIG_<lattice> bucket has no
// Sealer and is stored in the clear.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// AESGCMSealer seals blobs with AES-256-GCM, prepending the nonce to
// the returned ciphertext.
type AESGCMSealer struct {
	key []byte // 32 bytes for AES-256
}

// NewAESGCMSealer builds a Sealer from a 32-byte key.
func NewAESGCMSealer(key []byte) (*AESGCMSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &AESGCMSealer{key: key}, nil
}

// NewAESGCMSealerFromPassphrase derives a 32-byte key from passphrase
// with SHA-256.
func NewAESGCMSealerFromPassphrase(passphrase string) (*AESGCMSealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	hash := sha256.Sum256([]byte(passphrase))
	return NewAESGCMSealer(hash[:])
}

// DeriveSealKey derives a 32-byte AES key from arbitrary material, for
// example a lattice id, so every host in a lattice can seal and open
// the same secrets bucket without exchanging a key out of band.
func DeriveSealKey(material string) []byte {
	hash := sha256.Sum256([]byte(material))
	return hash[:]
}

// Seal encrypts plaintext with AES-256-GCM and prepends the nonce.
func (s *AESGCMSealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot seal empty data")
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal.
func (s *AESGCMSealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot open empty data")
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
