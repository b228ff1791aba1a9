package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrKeyLoad is returned when key material cannot be read or parsed.
	ErrKeyLoad = errors.New("key load failed")

	// ErrKeyMismatch is returned when the public key does not verify
	// signatures made by the private key. It wraps ErrKeyLoad.
	ErrKeyMismatch = fmt.Errorf("%w: public key does not match private key", ErrKeyLoad)
)

// KeySource reads raw key bytes from durable storage.
type KeySource interface {
	ReadKey(ctx context.Context, path string) ([]byte, error)
}

// FileSource reads keys from the local filesystem.
type FileSource struct{}

// ReadKey implements KeySource.
func (FileSource) ReadKey(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// RoutingSource sends s3:// paths to S3 and everything else to Local.
type RoutingSource struct {
	Local KeySource
	S3    KeySource // nil disables s3:// paths
}

// ReadKey implements KeySource.
func (r RoutingSource) ReadKey(ctx context.Context, path string) ([]byte, error) {
	if strings.HasPrefix(path, s3Scheme) {
		if r.S3 == nil {
			return nil, fmt.Errorf("no S3 source configured for %s", path)
		}
		return r.S3.ReadKey(ctx, path)
	}
	local := r.Local
	if local == nil {
		local = FileSource{}
	}
	return local.ReadKey(ctx, path)
}

// LoadPrivateKey reads and parses an RSA private key (PKCS#1 or PKCS#8 PEM).
func LoadPrivateKey(ctx context.Context, src KeySource, path string) (*rsa.PrivateKey, error) {
	data, err := src.ReadKey(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key %s: %w", ErrKeyLoad, path, err)
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: private key %s: %w", ErrKeyLoad, path, err)
	}
	return key, nil
}

// LoadPublicKey reads and parses an RSA public key. PKIX ("PUBLIC KEY") is
// tried first, PKCS#1 ("RSA PUBLIC KEY") second.
func LoadPublicKey(ctx context.Context, src KeySource, path string) (*rsa.PublicKey, error) {
	data, err := src.ReadKey(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read public key %s: %w", ErrKeyLoad, path, err)
	}
	key, err := ParsePublicKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: public key %s: %w", ErrKeyLoad, path, err)
	}
	return key, nil
}

// ParsePrivateKeyPEM parses a PEM-encoded RSA private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}
	return key, nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key, PKIX first and
// PKCS#1 as the fallback.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	parsed, pkixErr := x509.ParsePKIXPublicKey(block.Bytes)
	if pkixErr == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", parsed)
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: pkix: %v; pkcs1: %w", pkixErr, err)
	}
	return key, nil
}

// KeyPair is one loaded signing key with its verification key and kid.
// A KeyPair is never modified after construction.
type KeyPair struct {
	Private  *rsa.PrivateKey
	Public   *rsa.PublicKey
	KeyID    string
	LoadedAt time.Time
}

// NewKeyPair validates the pair and runs SelfTest.
func NewKeyPair(priv *rsa.PrivateKey, pub *rsa.PublicKey, keyID string) (*KeyPair, error) {
	if priv == nil || pub == nil {
		return nil, fmt.Errorf("%w: private and public key are required", ErrKeyLoad)
	}
	if strings.TrimSpace(keyID) == "" {
		return nil, fmt.Errorf("%w: key id is required", ErrKeyLoad)
	}
	kp := &KeyPair{
		Private:  priv,
		Public:   pub,
		KeyID:    keyID,
		LoadedAt: time.Now().UTC(),
	}
	if err := kp.SelfTest(); err != nil {
		return nil, err
	}
	return kp, nil
}

// SelfTest signs a random nonce with the private key and verifies it with
// the public key using RS256.
func (kp *KeyPair) SelfTest() error {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("%w: generate nonce: %w", ErrKeyLoad, err)
	}
	msg := base64.RawURLEncoding.EncodeToString(nonce)

	sig, err := jwt.SigningMethodRS256.Sign(msg, kp.Private)
	if err != nil {
		return fmt.Errorf("%w: self-test sign: %w", ErrKeyLoad, err)
	}
	if err := jwt.SigningMethodRS256.Verify(msg, sig, kp.Public); err != nil {
		return fmt.Errorf("%w (kid %s)", ErrKeyMismatch, kp.KeyID)
	}
	return nil
}

// GenerateKeyFiles creates a fresh RSA key pair and writes it as a PKCS#1
// private key (0600) and a PKIX public key (0644). Parent directories are
// created with 0700.
func GenerateKeyFiles(privatePath, publicPath string, bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("RSA key size %d is below 2048 bits", bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	pubPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	for _, p := range []string{privatePath, publicPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return nil, fmt.Errorf("create key dir for %q: %w", p, err)
		}
	}
	if err := os.WriteFile(privatePath, EncodePrivateKeyPEM(key), 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes key as a PKCS#1 "RSA PRIVATE KEY" block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// EncodePublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
