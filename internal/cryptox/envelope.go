package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// Envelope layout: nonce(NonceSize) || tag(TagSize) || ciphertext.
// Both sizes are fixed; changing either makes stored envelopes unreadable.
const (
	NonceSize = 16
	TagSize   = 16
	Overhead  = NonceSize + TagSize
)

var (
	ErrInvalidKey           = errors.New("invalid key size")
	ErrMalformedEnvelope    = errors.New("malformed envelope")
	ErrAuthenticationFailed = errors.New("envelope authentication failed")
)

// SealEnvelope encrypts plaintext with AES-256-GCM under key using a fresh
// random nonce and returns nonce || tag || ciphertext.
func SealEnvelope(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - TagSize

	out := make([]byte, 0, Overhead+ctLen)
	out = append(out, nonce...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)
	return out, nil
}

// OpenEnvelope parses and authenticates envelope under key and returns the
// plaintext. A wrong key and a tampered envelope are indistinguishable, both
// give ErrAuthenticationFailed.
func OpenEnvelope(envelope, key []byte) ([]byte, error) {
	if len(envelope) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedEnvelope, len(envelope), Overhead)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := envelope[:NonceSize]
	tag := envelope[NonceSize:Overhead]
	ciphertext := envelope[Overhead:]

	buf := make([]byte, 0, len(ciphertext)+TagSize)
	buf = append(buf, ciphertext...)
	buf = append(buf, tag...)

	plaintext, err := aead.Open(nil, nonce, buf, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}
