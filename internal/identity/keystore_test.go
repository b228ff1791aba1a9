package identity_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/authority/internal/identity"
)

func writeKeyFiles(t *testing.T, dir string, keyIdx int) (string, string) {
	t.Helper()
	key := testKey(t, keyIdx)
	pubPEM, err := identity.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	privPath := filepath.Join(dir, "private_key.pem")
	pubPath := filepath.Join(dir, "public_key.pem")
	if err := os.WriteFile(privPath, identity.EncodePrivateKeyPEM(key), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		t.Fatal(err)
	}
	return privPath, pubPath
}

func TestKeyStore_Load(t *testing.T) {
	dir := t.TempDir()
	privPath, pubPath := writeKeyFiles(t, dir, 0)

	ks := identity.NewKeyStore(identity.FileSource{}, privPath, pubPath, "kid-1", zap.NewNop())
	if ks.Current() != nil {
		t.Fatal("Current() should be nil before Load")
	}
	if err := ks.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	kp := ks.Current()
	if kp == nil {
		t.Fatal("Current() is nil after Load")
	}
	if kp.KeyID != "kid-1" {
		t.Errorf("KeyID: got %q, want kid-1", kp.KeyID)
	}
	if !kp.Private.Equal(testKey(t, 0)) {
		t.Error("loaded private key differs")
	}
	if err := ks.SelfTest(context.Background()); err != nil {
		t.Errorf("SelfTest() error: %v", err)
	}
}

func TestKeyStore_failedReloadKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	privPath, pubPath := writeKeyFiles(t, dir, 0)

	ks := identity.NewKeyStore(identity.FileSource{}, privPath, pubPath, "kid-1", zap.NewNop())
	if err := ks.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := ks.Current()

	// Replace only the public key: the pair no longer matches.
	other := testKey(t, 1)
	pubPEM, _ := identity.EncodePublicKeyPEM(&other.PublicKey)
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ks.Load(context.Background()); err == nil {
		t.Fatal("expected mismatch error on reload")
	}
	if ks.Current() != before {
		t.Error("failed reload replaced the active snapshot")
	}
}

func TestKeyStore_loadMissingFiles(t *testing.T) {
	dir := t.TempDir()
	ks := identity.NewKeyStore(nil, filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.pem"), "kid", nil)
	if err := ks.Load(context.Background()); err == nil {
		t.Fatal("expected error for missing key files")
	}
	if err := ks.SelfTest(context.Background()); err == nil {
		t.Error("SelfTest on empty store should fail")
	}
}

// Readers racing a rotation must always see a self-consistent pair.
func TestKeyStore_concurrentSwap(t *testing.T) {
	a := testKeyPair(t, 0, "kid-a")
	b := testKeyPair(t, 1, "kid-b")
	ks := identity.NewStaticKeyStore(a)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				kp := ks.Current()
				switch kp.KeyID {
				case "kid-a":
					if kp != a {
						t.Error("kid-a paired with wrong keys")
						return
					}
				case "kid-b":
					if kp != b {
						t.Error("kid-b paired with wrong keys")
						return
					}
				default:
					t.Errorf("unexpected kid %q", kp.KeyID)
					return
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			ks.Swap(b)
		} else {
			ks.Swap(a)
		}
	}
	close(stop)
	wg.Wait()
}
