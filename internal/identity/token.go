package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmerrifield20/authority/pkg/oidc"
)

// DefaultTokenTTL is the access-token lifetime used when none is configured.
const DefaultTokenTTL = time.Hour

// ErrSigning is returned when a token cannot be produced.
var ErrSigning = errors.New("token signing failed")

// SignToken signs an RS256 access token for subject. iat is now truncated to
// whole seconds and exp is iat+ttl. The header carries kid so verifiers can
// select the matching published key. The result depends only on its inputs.
func SignToken(subject, role, keyID string, key *rsa.PrivateKey, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if key == nil {
		return "", time.Time{}, fmt.Errorf("%w: no signing key", ErrSigning)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", ErrSigning)
	}
	iat := now.UTC().Truncate(time.Second)
	exp := iat.Add(ttl)

	claims := oidc.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return signed, exp, nil
}

// TokenIssuer issues and verifies access tokens with the active key pair.
type TokenIssuer struct {
	keys *KeyStore
	ttl  time.Duration
	now  func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. ttl defaults to DefaultTokenTTL.
func NewTokenIssuer(keys *KeyStore, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{keys: keys, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (t *TokenIssuer) SetClock(now func() time.Time) { t.now = now }

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue signs a token for subject with the current key.
func (t *TokenIssuer) Issue(subject, role string) (string, time.Time, error) {
	kp := t.keys.Current()
	if kp == nil {
		return "", time.Time{}, fmt.Errorf("%w: %w: no active key", ErrSigning, ErrKeyLoad)
	}
	return SignToken(subject, role, kp.KeyID, kp.Private, t.now(), t.ttl)
}

// Verify checks a token against the current key.
func (t *TokenIssuer) Verify(tokenStr string) (*oidc.Claims, error) {
	return oidc.ParseToken(tokenStr, t.lookup, jwt.WithTimeFunc(t.now))
}

func (t *TokenIssuer) lookup(kid string) (*rsa.PublicKey, error) {
	kp := t.keys.Current()
	if kp == nil {
		return nil, errors.New("no active key")
	}
	if kid != kp.KeyID {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return kp.Public, nil
}
