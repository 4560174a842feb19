// Package tokencipher produces the opaque URL-safe tokens embedded in magic
// links.
//
// Tokens are AES-GCM ciphertexts of a delimited plaintext that binds the link
// to exactly one (link type, target, recipient) triple plus a random nonce, so
// a token cannot be replayed in a different context. Decryption reconstructs
// the structured payload for validation.
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	keySize   = 32
	nonceSize = 16 // random-token bytes, not the GCM nonce
)

// ErrInvalidToken is returned when a token cannot be decoded or authenticated.
var ErrInvalidToken = errors.New("invalid token")

// Cipher encrypts and decrypts magic-link tokens with a symmetric key.
type Cipher struct {
	aead cipher.AEAD
}

// New constructs a Cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("token cipher key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// GenerateRandomToken returns a fresh hex-encoded cryptographically secure
// random value, used to salt each token plaintext.
func (c *Cipher) GenerateRandomToken() (string, error) {
	buf := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Encrypt seals plaintext into a URL-safe opaque token. The GCM nonce is
// random per call and prepended to the ciphertext, so encrypting the same
// plaintext twice yields different tokens.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Returns ErrInvalidToken for anything that does
// not decode and authenticate.
func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrInvalidToken
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plaintext), nil
}
