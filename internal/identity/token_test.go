package identity_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmerrifield20/authority/internal/identity"
	"github.com/jmerrifield20/authority/pkg/oidc"
)

func newTestTokenIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	return identity.NewTokenIssuer(identity.NewStaticKeyStore(testKeyPair(t, 0, "kid-1")), time.Hour)
}

func decodeSegmentJSON(t *testing.T, seg string) map[string]any {
	t.Helper()
	raw, err := oidc.DecodeSegment(seg)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
	return out
}

func TestSignToken_claimsAndHeader(t *testing.T) {
	key := testKey(t, 0)
	now := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)

	token, exp, err := identity.SignToken("alice", "user", "kid-1", key, now, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3-part JWT, got %d parts", len(parts))
	}

	header := decodeSegmentJSON(t, parts[0])
	if header["alg"] != "RS256" {
		t.Errorf("alg: got %v, want RS256", header["alg"])
	}
	if header["kid"] != "kid-1" {
		t.Errorf("kid: got %v, want kid-1", header["kid"])
	}

	claims := decodeSegmentJSON(t, parts[1])
	if claims["sub"] != "alice" || claims["role"] != "user" {
		t.Errorf("sub/role: got %v/%v", claims["sub"], claims["role"])
	}
	iat := int64(claims["iat"].(float64))
	expClaim := int64(claims["exp"].(float64))
	if iat != now.Unix() {
		t.Errorf("iat: got %d, want %d", iat, now.Unix())
	}
	if expClaim-iat != 3600 {
		t.Errorf("exp-iat: got %d, want 3600", expClaim-iat)
	}
	if exp.Unix() != expClaim {
		t.Errorf("returned expiry %d does not match exp claim %d", exp.Unix(), expClaim)
	}
	if len(claims) != 4 {
		t.Errorf("expected exactly sub, role, iat, exp; got %v", claims)
	}
}

func TestSignToken_deterministic(t *testing.T) {
	key := testKey(t, 0)
	now := time.Unix(1_700_000_000, 0)

	a, _, err := identity.SignToken("svc", "service", "kid-1", key, now, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := identity.SignToken("svc", "service", "kid-1", key, now, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("same inputs produced different tokens")
	}
}

func TestSignToken_errors(t *testing.T) {
	if _, _, err := identity.SignToken("a", "user", "kid", nil, time.Now(), time.Hour); !errors.Is(err, identity.ErrSigning) {
		t.Errorf("nil key: want ErrSigning, got %v", err)
	}
	if _, _, err := identity.SignToken("a", "user", "kid", testKey(t, 0), time.Now(), 0); !errors.Is(err, identity.ErrSigning) {
		t.Errorf("zero ttl: want ErrSigning, got %v", err)
	}
}

func TestTokenIssuer_ttlInvariant(t *testing.T) {
	for _, ttl := range []time.Duration{time.Second, time.Minute, time.Hour, 24 * time.Hour} {
		ti := identity.NewTokenIssuer(identity.NewStaticKeyStore(testKeyPair(t, 0, "kid-1")), ttl)
		token, _, err := ti.Issue("alice", "user")
		if err != nil {
			t.Fatal(err)
		}
		claims, err := ti.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if got := claims.ExpiresAt.Unix() - claims.IssuedAt.Unix(); got != int64(ttl/time.Second) {
			t.Errorf("ttl %s: exp-iat = %d", ttl, got)
		}
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, _, err := ti.Issue("alice", "admin")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject: got %q, want alice", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("Role: got %q, want admin", claims.Role)
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := newTestTokenIssuer(t)
	past := time.Now().Add(-2 * time.Hour)
	ti.SetClock(func() time.Time { return past })

	token, _, err := ti.Issue("alice", "user")
	if err != nil {
		t.Fatal(err)
	}

	ti.SetClock(time.Now)
	if _, err := ti.Verify(token); !errors.Is(err, oidc.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenIssuer_Verify_tamperedSignature(t *testing.T) {
	ti := newTestTokenIssuer(t)
	token, _, _ := ti.Issue("alice", "user")

	// Flip a mid-signature character; the final character carries padding bits.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	mid := len(sig) / 2
	if sig[mid] == 'a' {
		sig[mid] = 'b'
	} else {
		sig[mid] = 'a'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := ti.Verify(tampered); err == nil {
		t.Error("expected error for tampered token, got nil")
	}
}

func TestTokenIssuer_Verify_otherKeySameKid(t *testing.T) {
	ti := newTestTokenIssuer(t)

	forged, _, err := identity.SignToken("mallory", "admin", "kid-1", testKey(t, 1), time.Now(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(forged); err == nil {
		t.Error("token signed by a different key verified")
	}
}

func TestTokenIssuer_Verify_unknownKid(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, _, err := identity.SignToken("alice", "user", "kid-other", testKey(t, 0), time.Now(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(token); err == nil {
		t.Error("token with unknown kid verified")
	}
}

func TestTokenIssuer_Verify_rejectsHS256(t *testing.T) {
	ti := newTestTokenIssuer(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(signed); err == nil {
		t.Error("HS256 token accepted")
	}
}

func TestTokenIssuer_Issue_noKey(t *testing.T) {
	ti := identity.NewTokenIssuer(identity.NewKeyStore(nil, "a", "b", "kid", nil), time.Hour)

	_, _, err := ti.Issue("alice", "user")
	if !errors.Is(err, identity.ErrSigning) {
		t.Errorf("want ErrSigning, got %v", err)
	}
	if !errors.Is(err, identity.ErrKeyLoad) {
		t.Errorf("want ErrKeyLoad in chain, got %v", err)
	}
}
