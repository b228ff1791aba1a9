package password

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T, workers int) *Hasher {
	t.Helper()
	h, err := NewHasher(bcrypt.MinCost, workers)
	require.NoError(t, err)
	return h
}

func TestHashVerify_roundTrip(t *testing.T) {
	h := newTestHasher(t, 2)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "pw123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$"), "bcrypt hash prefix, got %q", hash[:4])
	assert.NotContains(t, hash, "pw123")

	ok, err := h.Verify(ctx, "pw123", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, "wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_malformedHash(t *testing.T) {
	h := newTestHasher(t, 1)

	ok, err := h.Verify(context.Background(), "pw123", "not-a-bcrypt-hash")
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrVerification)
	assert.NotErrorIs(t, err, ErrPoolJoin)
}

func TestHash_tooLong(t *testing.T) {
	h := newTestHasher(t, 1)
	ctx := context.Background()

	_, err := h.Hash(ctx, strings.Repeat("x", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	assert.NotErrorIs(t, err, ErrHashing)

	hash, err := h.Hash(ctx, strings.Repeat("x", MaxPasswordBytes))
	require.NoError(t, err)
	ok, err := h.Verify(ctx, strings.Repeat("x", MaxPasswordBytes), hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_tooLongIsMismatch(t *testing.T) {
	h := newTestHasher(t, 1)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "pw123")
	require.NoError(t, err)

	ok, err := h.Verify(ctx, strings.Repeat("x", 100), hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewHasher_rejectsCost(t *testing.T) {
	_, err := NewHasher(bcrypt.MinCost-1, 1)
	assert.Error(t, err)
	_, err = NewHasher(bcrypt.MaxCost+1, 1)
	assert.Error(t, err)

	h, err := NewHasher(bcrypt.MinCost, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, h.Workers(), 1)
}

func TestRun_boundsConcurrency(t *testing.T) {
	const workers = 2
	h := newTestHasher(t, workers)

	var cur, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.run(context.Background(), "test", func() error {
				n := atomic.AddInt32(&cur, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&cur, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(workers))
}

func TestRun_cancelWhileQueued(t *testing.T) {
	h := newTestHasher(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = h.run(context.Background(), "test", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Verify(ctx, "pw", "$2a$04$abcdefghijklmnopqrstuu")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolJoin)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestRun_cancelWhileRunning(t *testing.T) {
	h := newTestHasher(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.run(ctx, "test", func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, ErrPoolJoin)
	assert.ErrorIs(t, err, context.Canceled)

	// The abandoned worker still owns its slot until it finishes.
	assert.False(t, h.sem.TryAcquire(1))
	close(release)
	require.Eventually(t, func() bool {
		if h.sem.TryAcquire(1) {
			h.sem.Release(1)
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestRun_workerPanic(t *testing.T) {
	h := newTestHasher(t, 1)

	err := h.run(context.Background(), "test", func() error { panic("boom") })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolJoin)

	// The slot is released after a panic.
	_, err = h.Hash(context.Background(), "pw")
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	h := newTestHasher(t, 2)

	require.NoError(t, h.Close(context.Background()))

	_, err := h.Hash(context.Background(), "pw")
	assert.True(t, errors.Is(err, ErrPoolJoin), "got %v", err)
}

func TestObserver(t *testing.T) {
	var ops []string
	var mu sync.Mutex
	h, err := NewHasher(bcrypt.MinCost, 1, WithObserver(func(op string, _ time.Duration) {
		mu.Lock()
		ops = append(ops, op)
		mu.Unlock()
	}))
	require.NoError(t, err)

	hash, err := h.Hash(context.Background(), "pw")
	require.NoError(t, err)
	_, err = h.Verify(context.Background(), "pw", hash)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hash", "verify"}, ops)
}
