// Package crypto implements the at-rest transform for message content:
// nacl/secretbox with a process-wide key derived from the configured secret.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecrypt is returned when ciphertext cannot be opened (wrong key,
// truncated or tampered data, or legacy plaintext rows).
var ErrDecrypt = errors.New("cannot decrypt message content")

const nonceSize = 24

// Cipher encrypts and decrypts message content with a symmetric key.
type Cipher struct {
	key [32]byte
}

// New derives a 32-byte secretbox key from the configured secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("message secret is empty")
	}
	c := &Cipher{key: sha256.Sum256([]byte(secret))}
	return c, nil
}

// Encrypt seals plaintext and returns base64(nonce || box).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("cipher nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Callers on the read path treat ErrDecrypt as
// non-fatal and fall back to the stored value (history stays available
// even with an incompatible key).
func (c *Cipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
