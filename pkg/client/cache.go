package client

import (
	"sync"
	"time"

	"github.com/jmerrifield20/authority/pkg/oidc"
)

// jwksCache holds the last fetched key set until its TTL elapses.
type jwksCache struct {
	mu        sync.RWMutex
	keys      *oidc.JWKSet
	expiresAt time.Time
	ttl       time.Duration
}

func newJWKSCache(ttl time.Duration) *jwksCache {
	return &jwksCache{ttl: ttl}
}

func (jc *jwksCache) get(now time.Time) (*oidc.JWKSet, bool) {
	jc.mu.RLock()
	defer jc.mu.RUnlock()
	if jc.keys == nil || now.After(jc.expiresAt) {
		return nil, false
	}
	return jc.keys, true
}

func (jc *jwksCache) put(set *oidc.JWKSet, now time.Time) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.keys = set
	jc.expiresAt = now.Add(jc.ttl)
}
