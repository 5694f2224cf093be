// Package crypto encrypts exchange tokens at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key size.
	KeySize = 32
	// NonceSize is the standard GCM nonce size.
	NonceSize = 12

	hkdfInfo = "coinpilot token codec v1"
)

var (
	ErrEmptySecret       = errors.New("token encryption secret is empty")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Codec seals token strings with AES-256-GCM. Output layout: nonce (12 bytes) || ciphertext || tag.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the AES key from secret with HKDF-SHA256, so any secret length is accepted.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext. Empty input is valid and round-trips.
func (c *Codec) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Codec) Decrypt(blob []byte) (string, error) {
	if len(blob) < NonceSize+c.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := c.aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}
