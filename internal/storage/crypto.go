package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32

	// Argon2id parameters. Derivation runs once per process start.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// DeriveKey stretches a passphrase into a 32-byte AES-256 key using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
}

// newSalt returns random bytes suitable for DeriveKey.
func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// sealer encrypts values with AES-GCM. A nil sealer stores plaintext.
type sealer struct {
	gcm cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &sealer{gcm: gcm}, nil
}

// seal returns base64(nonce + ciphertext + tag). The storage key is bound as
// additional data so a value cannot be moved to another key.
func (s *sealer) seal(key, plaintext string) (string, error) {
	if s == nil {
		return plaintext, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := s.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(key))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *sealer) open(key, encoded string) (string, error) {
	if s == nil {
		return encoded, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
