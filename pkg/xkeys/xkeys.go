// Package xkeys provides ephemeral X25519 keypair sealing used for the
// optional end-to-end confidentiality path in the invocation router
// (spec.md §4.7): a payload sealed to a recipient's public xkey can
// only be opened by the holder of the matching private key, even
// though it transits the bus through an intermediate host.
package xkeys

import (
	"fmt"

	"github.com/nats-io/nkeys"
)

// KeyPair wraps an nkeys curve keypair (prefix 'X') for Seal/Open.
type KeyPair struct {
	kp nkeys.KeyPair
}

// Generate creates a new ephemeral X25519 keypair.
func Generate() (*KeyPair, error) {
	kp, err := nkeys.CreateCurveKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating xkey: %w", err)
	}
	return &KeyPair{kp: kp}, nil
}

// FromSeed reconstructs a KeyPair from a previously generated seed.
func FromSeed(seed string) (*KeyPair, error) {
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("parsing xkey seed: %w", err)
	}
	return &KeyPair{kp: kp}, nil
}

// PublicKey returns the public xkey, safe to publish on the bus.
func (k *KeyPair) PublicKey() (string, error) {
	return k.kp.PublicKey()
}

// Seed returns the private seed. Callers must not log or transmit it.
func (k *KeyPair) Seed() (string, error) {
	seed, err := k.kp.Seed()
	if err != nil {
		return "", err
	}
	return string(seed), nil
}

// Seal encrypts plaintext for recipientPublicKey; only the holder of
// the matching private key can Open it.
func (k *KeyPair) Seal(plaintext []byte, recipientPublicKey string) ([]byte, error) {
	sealed, err := k.kp.Seal(plaintext, recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("sealing payload: %w", err)
	}
	return sealed, nil
}

// Open decrypts a payload sealed to this keypair's public key by
// senderPublicKey.
func (k *KeyPair) Open(sealed []byte, senderPublicKey string) ([]byte, error) {
	plaintext, err := k.kp.Open(sealed, senderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("opening sealed payload: %w", err)
	}
	return plaintext, nil
}
