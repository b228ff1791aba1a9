package oidc

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// JWKSet is a JSON Web Key Set (RFC 7517).
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK is a JSON Web Key for an RSA public key (RFC 7518 §6.3).
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// PublishJWKS returns a key set containing exactly the given key.
func PublishJWKS(pub *rsa.PublicKey, keyID string) JWKSet {
	return JWKSet{Keys: []JWK{RSAPublicKeyToJWK(pub, keyID)}}
}

// RSAPublicKeyToJWK encodes pub with its modulus and exponent as minimal
// big-endian unsigned integers in unpadded base64url.
func RSAPublicKeyToJWK(pub *rsa.PublicKey, keyID string) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: keyID,
		Alg: "RS256",
		N:   EncodeSegment(pub.N.Bytes()),
		E:   EncodeSegment(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// PublicKeyFromJWK decodes an RSA JWK back into a public key.
func PublicKeyFromJWK(k JWK) (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	nBytes, err := DecodeSegment(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := DecodeSegment(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}

// Lookup returns the key with the given kid.
func (s JWKSet) Lookup(kid string) (JWK, bool) {
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return JWK{}, false
}

// KeyLookup adapts the set for ParseToken.
func (s JWKSet) KeyLookup() KeyLookup {
	return func(kid string) (*rsa.PublicKey, error) {
		k, ok := s.Lookup(kid)
		if !ok {
			return nil, fmt.Errorf("no published key with kid %q", kid)
		}
		return PublicKeyFromJWK(k)
	}
}

// EncodeSegment is unpadded base64url encoding.
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeSegment decodes unpadded base64url; padded input is rejected.
func DecodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
