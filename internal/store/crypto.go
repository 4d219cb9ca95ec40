package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32 // AES-256

// hkdfInfo binds derived keys to this use so the same secret yields
// unrelated keys elsewhere.
var hkdfInfo = []byte("consolectl credential store v1")

// resolveKey returns the 32-byte AES key: derived from Secret when set,
// otherwise loaded from (or generated into) KeyFile.
func resolveKey(cfg Config) ([]byte, error) {
	if cfg.Secret != "" {
		return deriveKey(cfg.Secret)
	}
	if cfg.KeyFile == "" {
		if cfg.Path == MemoryPath {
			return randomKey()
		}
		return nil, errors.New("store: a secret or a key file is required")
	}
	return loadOrCreateKey(cfg.KeyFile)
}

func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("store: derive key: %w", err)
	}
	return key, nil
}

func randomKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("store: generate key: %w", err)
	}
	return key, nil
}

// loadOrCreateKey reads the key file, creating it with a random key on first
// use. The file is written to a temp file and renamed so a crash never
// leaves a truncated key behind.
func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil || len(key) != keySize {
			return nil, fmt.Errorf("store: key file %s is malformed", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("store: read key file: %w", err)
	}

	key, err := randomKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create key dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("store: write key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("store: write key file: %w", err)
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("store: encryption key must be exactly %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("store: create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: create GCM: %w", err)
	}
	return gcm, nil
}

// seal encrypts plain as base64(nonce + ciphertext) with a fresh nonce.
func seal(aead cipher.AEAD, plain []byte) (string, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(aead.Seal(nonce, nonce, plain, nil)), nil
}

func unseal(aead cipher.AEAD, value string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	n := aead.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("%w: too short", ErrCorrupt)
	}
	plain, err := aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return plain, nil
}
