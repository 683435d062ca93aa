package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// SealedExt is the filename suffix of encrypted secrets bundles.
const SealedExt = ".sealed"

// MasterKeyEnv is the environment variable holding the master passphrase.
const MasterKeyEnv = "SUPERDEPLOY_MASTER_KEY"

// DeriveKey derives a 32-byte AES-256 key from a passphrase.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	hash := sha256.Sum256([]byte(passphrase))
	return hash[:], nil
}

// MasterKeyFromEnv derives the master key from SUPERDEPLOY_MASTER_KEY.
func MasterKeyFromEnv() ([]byte, error) {
	passphrase := os.Getenv(MasterKeyEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("%s is not set", MasterKeyEnv)
	}
	return DeriveKey(passphrase)
}

// MasterKeyFromFile derives the master key from the passphrase stored in
// a file, trailing whitespace ignored.
func MasterKeyFromFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master key file: %w", err)
	}
	return DeriveKey(strings.TrimSpace(string(b)))
}

// SealBundle encrypts a plaintext secrets bundle with AES-256-GCM. The
// output is base64 with the nonce prepended inside the ciphertext, safe to
// commit next to plaintext configuration.
func SealBundle(plaintext, key []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot seal empty bundle")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(ciphertext))+1)
	base64.StdEncoding.Encode(out, ciphertext)
	out[len(out)-1] = '\n'
	return out, nil
}

// OpenBundle decrypts a bundle produced by SealBundle.
func OpenBundle(sealed, key []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, fmt.Errorf("cannot open empty bundle")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(sealed)))
	if err != nil {
		return nil, fmt.Errorf("sealed bundle is not valid base64: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("sealed bundle too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt bundle: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
