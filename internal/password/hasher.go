// Package password hashes and verifies user passwords with bcrypt.
//
// bcrypt is deliberately slow, so every hash and compare runs on a bounded
// pool of worker slots that is separate from the goroutines serving HTTP.
// A request waiting for a slot can be cancelled through its context.
package password

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

var (
	// ErrPasswordTooLong is returned by Hash for passwords over
	// MaxPasswordBytes. It is a caller error, not a hashing failure.
	ErrPasswordTooLong = fmt.Errorf("password exceeds %d bytes", MaxPasswordBytes)

	// ErrHashing is returned when bcrypt fails to produce a hash.
	ErrHashing = errors.New("password hashing failed")

	// ErrVerification is returned when a stored hash cannot be compared,
	// typically because it is malformed.
	ErrVerification = errors.New("password verification failed")

	// ErrPoolJoin is returned when a task could not be run to completion by
	// the worker pool: the caller was cancelled, the pool was closed, or the
	// worker failed. It is distinct from the failure of the operation itself.
	ErrPoolJoin = errors.New("password worker unavailable")
)

// Hasher runs bcrypt operations on a bounded worker pool.
type Hasher struct {
	cost    int
	workers int64
	sem     *semaphore.Weighted

	mu     sync.RWMutex
	closed bool

	onDone func(op string, d time.Duration)
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithObserver registers a callback invoked after every completed bcrypt
// operation with its name ("hash" or "verify") and duration.
func WithObserver(fn func(op string, d time.Duration)) Option {
	return func(h *Hasher) { h.onDone = fn }
}

// NewHasher creates a Hasher. cost must lie within bcrypt's bounds; workers
// below 1 defaults to runtime.NumCPU().
func NewHasher(cost, workers int, opts ...Option) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	h := &Hasher{
		cost:    cost,
		workers: int64(workers),
		sem:     semaphore.NewWeighted(int64(workers)),
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Cost returns the configured bcrypt cost.
func (h *Hasher) Cost() int { return h.cost }

// Workers returns the pool size.
func (h *Hasher) Workers() int { return int(h.workers) }

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	var hash []byte
	err := h.run(ctx, "hash", func() error {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), h.cost)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHashing, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A mismatch is (false, nil);
// a malformed hash is an error wrapping ErrVerification. A password over
// MaxPasswordBytes can never have been hashed, so it is a mismatch.
func (h *Hasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if len(password) > MaxPasswordBytes {
		return false, nil
	}
	var ok bool
	err := h.run(ctx, "verify", func() error {
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		switch {
		case err == nil:
			ok = true
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			ok = false
		default:
			return fmt.Errorf("%w: %w", ErrVerification, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Close stops the pool from accepting new work and waits for in-flight
// operations to finish or for ctx to expire.
func (h *Hasher) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	// Draining every slot means no worker is still running.
	if err := h.sem.Acquire(ctx, h.workers); err != nil {
		return fmt.Errorf("drain password workers: %w", err)
	}
	h.sem.Release(h.workers)
	return nil
}

// run executes fn on a pool slot. The caller blocks until fn returns or ctx
// is done; in the latter case the worker keeps its slot until bcrypt
// finishes, so the pool bound holds even for abandoned tasks.
func (h *Hasher) run(ctx context.Context, op string, fn func() error) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: pool closed", ErrPoolJoin)
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrPoolJoin, err)
	}
	poolInFlight.Inc()

	done := make(chan error, 1)
	go func() {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: worker panic: %v", ErrPoolJoin, r)
			}
			poolInFlight.Dec()
			h.sem.Release(1)
		}()
		err := fn()
		d := time.Since(start)
		opDuration.WithLabelValues(op).Observe(d.Seconds())
		if h.onDone != nil {
			h.onDone(op, d)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPoolJoin, ctx.Err())
	}
}
