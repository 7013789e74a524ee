package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens credential fields with an AEAD. The stored blob is
// base64(nonce || ciphertext || tag); the tag is verified on every open and
// a mismatch is a hard failure.
type Cipher struct {
	key []byte
}

func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Cipher{key: key}, nil
}

func (c *Cipher) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Open(blob string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("blob shorter than nonce")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// authentication failure: fail closed, never return partial plaintext
		return "", fmt.Errorf("open sealed credential: %w", err)
	}

	return string(plaintext), nil
}
