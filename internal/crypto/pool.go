package crypto

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool runs hashing work on a bounded number of slots so that CPU- and memory-heavy
// Argon2 calls cannot crowd out request handling.
type Pool struct {
	h   *Hasher
	sem *semaphore.Weighted
}

// NewPool wraps h with at most workers concurrent operations; workers <= 0 means runtime.NumCPU().
func NewPool(h *Hasher, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{h: h, sem: semaphore.NewWeighted(int64(workers))}
}

// Hash hashes password once a slot is free. Waiting aborts with ctx.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.h.Hash(password)
}

// Verify checks password against encoded once a slot is free.
func (p *Pool) Verify(ctx context.Context, password, encoded string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.h.Verify(password, encoded)
}
