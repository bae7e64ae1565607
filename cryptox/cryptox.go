// Package cryptox implements sowback's session-key derivation and the
// AEAD seal/open used to optionally protect tunneled Data payloads.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeySize is the size in bytes of a derived session key (AES-256).
const SessionKeySize = 32

// hkdfInfo is the fixed HKDF "info" parameter every implementation of this
// protocol uses. Changing it would silently change the derived key for
// every deployment, so it is not configurable.
const hkdfInfo = "sowback-session-v1"

// nonceSize is the AES-256-GCM nonce length in bytes.
const nonceSize = 12

// DeriveSessionKey computes the 32-byte session key for (token, clientID)
// via HKDF-SHA256(ikm = token || clientID, salt = nil, info = hkdfInfo).
// Both peers call this with the same inputs and must get the same key.
func DeriveSessionKey(token []byte, clientID string) ([]byte, error) {
	ikm := make([]byte, 0, len(token)+len(clientID))
	ikm = append(ikm, token...)
	ikm = append(ikm, []byte(clientID)...)

	kdf := hkdf.New(sha256.New, ikm, nil, []byte(hkdfInfo))
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// TokensEqual performs a constant-time comparison of the configured token
// against a token presented on the wire.
func TokensEqual(configured, presented []byte) bool {
	return subtle.ConstantTimeCompare(configured, presented) == 1
}

// Seal encrypts plaintext under key with a fresh random 12-byte nonce,
// returning nonce || ciphertext || tag.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return sealed, nil
}

// Open reverses Seal, verifying the AEAD tag. Any tampering with the
// ciphertext or tag, or a key mismatch, makes this fail.
func Open(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < nonceSize {
		return nil, errors.New("cryptox: sealed payload shorter than nonce")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("cryptox: session key must be %d bytes, got %d", SessionKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}
