package identity_test

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/jmerrifield20/authority/internal/identity"
)

var (
	keyOnce  sync.Once
	testKeys [2]*rsa.PrivateKey
	keyErr   error
)

// testKey returns one of two package-wide 2048-bit keys; generating RSA keys
// per test is slow.
func testKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		for n := range testKeys {
			testKeys[n], keyErr = rsa.GenerateKey(rand.Reader, 2048)
			if keyErr != nil {
				return
			}
		}
	})
	if keyErr != nil {
		t.Fatalf("generate test key: %v", keyErr)
	}
	return testKeys[i]
}

func testKeyPair(t *testing.T, i int, kid string) *identity.KeyPair {
	t.Helper()
	key := testKey(t, i)
	kp, err := identity.NewKeyPair(key, &key.PublicKey, kid)
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	return kp
}
