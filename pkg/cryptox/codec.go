package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Codec seals and opens small payloads with AES-256-GCM. Authorization codes
// are Codec-sealed JSON blobs, so the code the user agent carries is opaque
// and tamper-evident.
type Codec struct {
	aead cipher.AEAD
}

var (
	// ErrBadKey reports an encryption key of the wrong length or encoding.
	ErrBadKey = errors.New("cryptox: encryption key must be 32 bytes, base64-encoded")
	// ErrOpenFailed reports a payload that is malformed, truncated, or
	// fails authentication.
	ErrOpenFailed = errors.New("cryptox: cannot open sealed payload")
)

// NewCodec builds a Codec from a base64-encoded (standard or raw) 32-byte key.
func NewCodec(encodedKey string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(encodedKey)
	}
	if err != nil || len(key) != 32 {
		return nil, ErrBadKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: init gcm: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Seal encrypts plaintext and returns a base64url string of nonce||ciphertext.
func (c *Codec) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptox: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Any structural or authentication
// failure yields ErrOpenFailed; callers treat that as an invalid grant, not
// a server fault.
func (c *Codec) Open(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrOpenFailed
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, ErrOpenFailed
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
