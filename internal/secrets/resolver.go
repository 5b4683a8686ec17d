// Package secrets decrypts integration credentials.
//
// Values are AES-256-GCM ciphertexts stored as base64(nonce|ciphertext).
// The process-wide key is either 64 hex characters used as-is, or any other
// passphrase stretched to 32 bytes with HKDF-SHA256.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var hkdfInfo = []byte("pulsefeed secrets")

var (
	// ErrDecryption is wrapped by every decryption failure: malformed input,
	// a ciphertext produced with another key, or tampered data.
	ErrDecryption = errors.New("secret decryption failed")

	// ErrEmptyKey is returned by NewResolver for an empty key.
	ErrEmptyKey = errors.New("encryption key cannot be empty")
)

// Resolver encrypts and decrypts secret values with one key. It is safe for
// concurrent use and holds no state besides the cipher.
type Resolver struct {
	gcm cipher.AEAD
}

// NewResolver builds a Resolver from the process-wide encryption key.
func NewResolver(key string) (*Resolver, error) {
	raw, err := deriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: create GCM: %w", err)
	}
	return &Resolver{gcm: gcm}, nil
}

func deriveKey(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if len(key) == hex.EncodedLen(keySize) {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}

	raw := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, hkdfInfo), raw); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return raw, nil
}

// Encrypt seals plaintext with a random nonce.
func (r *Resolver) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, r.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := r.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. It is deterministic and has no
// side effects; the plaintext is returned to the caller only.
func (r *Resolver) Decrypt(encrypted string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecryption)
	}
	nonceSize := r.gcm.NonceSize()
	if len(data) < nonceSize+r.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := r.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrong key or corrupted value", ErrDecryption)
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh random key in the 64 hex character form.
func GenerateKey() (string, error) {
	raw := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("secrets: generate key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
