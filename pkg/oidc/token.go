package oidc

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the access-token claims: sub, role, iat and exp.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// KeyLookup resolves a verification key by kid.
type KeyLookup func(kid string) (*rsa.PublicKey, error)

// ParseToken verifies an RS256 token, resolving the key through lookup by
// the header kid. exp is required.
func ParseToken(tokenStr string, lookup KeyLookup, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}, opts...)

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			kid, _ := tok.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no kid")
			}
			return lookup(kid)
		},
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
