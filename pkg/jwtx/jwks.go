package jwtx

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"
)

// JWK is a single RSA public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the document served at the jwks_uri.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// NewRSAJWK encodes an RSA public key as a signing JWK.
func NewRSAJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// PublicJWKS builds the JWKS document for a key set.
func PublicJWKS(keys KeySet) JWKS {
	doc := JWKS{Keys: make([]JWK, 0, len(keys))}
	for kid, pub := range keys {
		doc.Keys = append(doc.Keys, NewRSAJWK(kid, pub))
	}
	return doc
}
