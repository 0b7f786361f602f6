package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required secret length (AES-256).
const KeySize = 32

var (
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	// ErrDecrypt is returned for any ciphertext that cannot be opened with the
	// configured key: wrong key, truncated record or tampered bytes.
	ErrDecrypt = errors.New("unable to decrypt credential")
)

// Cipher seals values with AES-GCM. The stored form is
// base64(nonce || ciphertext).
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Cipher{aead: aesGCM}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return string(plaintext), nil
}

// EncryptOptional leaves empty values empty so absent secrets stay absent.
func (c *Cipher) EncryptOptional(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return c.Encrypt(plaintext)
}

func (c *Cipher) DecryptOptional(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	return c.Decrypt(encoded)
}
