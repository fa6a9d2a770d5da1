package jwtx

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid covers any parse or signature failure.
	ErrTokenInvalid = errors.New("jwtx: token invalid")

	// ErrUnknownKey indicates the token's kid is not in the key set.
	ErrUnknownKey = errors.New("jwtx: unknown signing key")
)

// KeySet maps key IDs to RSA public keys.
type KeySet map[string]*rsa.PublicKey

// NewKeySet builds a single-key set from a signer.
func NewKeySet(s Signer) KeySet {
	return KeySet{s.KeyID(): s.Public()}
}

// RS256Verifier validates RS256 tokens against a key set.
type RS256Verifier struct {
	keys KeySet
}

func NewRS256Verifier(keys KeySet) *RS256Verifier {
	return &RS256Verifier{keys: keys}
}

// Verify parses the compact token into claims, checking the signature and
// the registered time claims. claims must be a pointer.
func (v *RS256Verifier) Verify(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}

func (v *RS256Verifier) keyFunc(tok *jwt.Token) (any, error) {
	kid, _ := tok.Header["kid"].(string)
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: kid=%q", ErrUnknownKey, kid)
	}
	return key, nil
}
