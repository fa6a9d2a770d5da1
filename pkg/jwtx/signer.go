package jwtx

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrBadPrivateKey indicates the PEM material could not be parsed as an
	// RSA private key.
	ErrBadPrivateKey = errors.New("jwtx: bad private key")
)

// Signer signs JWT claims and exposes the public half for verification and
// JWKS publication.
type Signer interface {
	// Sign produces a compact serialized JWT for the given claims.
	Sign(claims jwt.Claims) (string, error)

	// KeyID returns the identifier placed in the "kid" header.
	KeyID() string

	// Public returns the RSA public key matching the signing key.
	Public() *rsa.PublicKey
}

// RS256Signer signs tokens with a single RSA key.
type RS256Signer struct {
	key *rsa.PrivateKey
	kid string
}

// NewRS256Signer wraps an already-parsed private key. The kid is derived
// from the public key so that it stays stable across restarts.
func NewRS256Signer(key *rsa.PrivateKey) *RS256Signer {
	return &RS256Signer{key: key, kid: deriveKeyID(&key.PublicKey)}
}

// LoadRS256Signer reads a PEM-encoded RSA private key from disk. Both
// PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") encodings are
// accepted.
func LoadRS256Signer(path string) (*RS256Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jwtx: read private key: %w", err)
	}

	key, err := ParseRSAPrivateKeyPEM(raw)
	if err != nil {
		return nil, err
	}
	return NewRS256Signer(key), nil
}

// ParseRSAPrivateKeyPEM parses PKCS#1 or PKCS#8 PEM into an RSA key.
func ParseRSAPrivateKeyPEM(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrBadPrivateKey)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPrivateKey, err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPrivateKey, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS#8 key is not RSA", ErrBadPrivateKey)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrBadPrivateKey, block.Type)
	}
}

func (s *RS256Signer) Sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid

	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign token: %w", err)
	}
	return signed, nil
}

func (s *RS256Signer) KeyID() string { return s.kid }

func (s *RS256Signer) Public() *rsa.PublicKey { return &s.key.PublicKey }

// deriveKeyID hashes the public modulus so the kid changes exactly when the
// key does.
func deriveKeyID(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
