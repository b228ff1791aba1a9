package identity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// KeyStore holds the active KeyPair. Readers call Current and always get a
// complete pair; Load and Swap replace the whole snapshot at once.
type KeyStore struct {
	src         KeySource
	privatePath string
	publicPath  string
	keyID       string
	logger      *zap.Logger

	current atomic.Pointer[KeyPair]
	loadMu  sync.Mutex // serialises Load; readers never take it
}

// NewKeyStore creates an empty KeyStore that loads from the given paths.
// Call Load before serving traffic.
func NewKeyStore(src KeySource, privatePath, publicPath, keyID string, logger *zap.Logger) *KeyStore {
	if src == nil {
		src = FileSource{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyStore{
		src:         src,
		privatePath: privatePath,
		publicPath:  publicPath,
		keyID:       keyID,
		logger:      logger,
	}
}

// NewStaticKeyStore returns a KeyStore pre-populated with kp and no backing
// files. Load on such a store fails.
func NewStaticKeyStore(kp *KeyPair) *KeyStore {
	ks := &KeyStore{keyID: kp.KeyID, logger: zap.NewNop()}
	ks.current.Store(kp)
	return ks
}

// Load reads both keys, self-tests the pair and makes it current. On any
// failure the previous snapshot, if any, stays active.
func (s *KeyStore) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.src == nil {
		return fmt.Errorf("%w: key store has no source", ErrKeyLoad)
	}
	priv, err := LoadPrivateKey(ctx, s.src, s.privatePath)
	if err != nil {
		return err
	}
	pub, err := LoadPublicKey(ctx, s.src, s.publicPath)
	if err != nil {
		return err
	}
	kp, err := NewKeyPair(priv, pub, s.keyID)
	if err != nil {
		return err
	}

	prev := s.current.Swap(kp)
	fields := []zap.Field{
		zap.String("kid", kp.KeyID),
		zap.Int("bits", kp.Public.N.BitLen()),
	}
	if prev != nil {
		s.logger.Info("signing key reloaded", fields...)
	} else {
		s.logger.Info("signing key loaded", fields...)
	}
	return nil
}

// Swap makes kp current and returns the previous pair.
func (s *KeyStore) Swap(kp *KeyPair) *KeyPair {
	return s.current.Swap(kp)
}

// Current returns the active pair, or nil before the first successful Load.
func (s *KeyStore) Current() *KeyPair {
	return s.current.Load()
}

// SelfTest runs KeyPair.SelfTest on the current snapshot.
func (s *KeyStore) SelfTest(_ context.Context) error {
	kp := s.Current()
	if kp == nil {
		return fmt.Errorf("%w: no active key", ErrKeyLoad)
	}
	return kp.SelfTest()
}
