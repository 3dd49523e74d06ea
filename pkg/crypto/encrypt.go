// Package crypto seals the exchange API secret at rest. One scheme,
// AES-256-GCM with the 12-byte nonce prefixed to the sealed blob, one
// encoding, base64 — enough to keep the credential out of plaintext env
// dumps without inventing a key-management layer the engine doesn't
// have.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const keyLen = 32 // AES-256

var (
	ErrInvalidKeyLength = errors.New("sealing key must be exactly 32 bytes for AES-256")
	ErrMalformedBlob    = errors.New("sealed blob is not valid base64 or is truncated")
	ErrOpenFailed       = errors.New("unseal failed: wrong key or tampered blob")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keyLen {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key and returns base64(nonce ∥ sealed).
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	blob := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. A wrong key and a tampered blob are
// indistinguishable by design (GCM authentication); both return
// ErrOpenFailed.
func Decrypt(sealedBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	blob, err := base64.StdEncoding.DecodeString(sealedBase64)
	if err != nil || len(blob) < gcm.NonceSize() {
		return "", ErrMalformedBlob
	}
	plaintext, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}

// EncryptWithKeyString / DecryptWithKeyString adapt the []byte API to
// the string-typed ENCRYPTION_KEY env knob.
func EncryptWithKeyString(plaintext, keyString string) (string, error) {
	return Encrypt(plaintext, []byte(keyString))
}

func DecryptWithKeyString(sealedBase64, keyString string) (string, error) {
	return Decrypt(sealedBase64, []byte(keyString))
}
