package storage

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// TransferLimiter bounds the number of concurrent large byte transfers a
// backend will perform at once, so a burst of large PUTs/GETs cannot exhaust
// process memory or file descriptors (core specification §5, "Streaming").
// Grounded on the teacher's own DynSemaphore concurrency-limiting idiom
// (cmn/sync.go), reimplemented on top of the standard weighted semaphore the
// example pack already depends on, since it natively supports a
// context-cancellable bounded acquire.
type TransferLimiter struct {
	sem *semaphore.Weighted
}

// NewTransferLimiter returns a limiter permitting at most n concurrent
// transfers.
func NewTransferLimiter(n int64) *TransferLimiter {
	if n <= 0 {
		n = 1
	}
	return &TransferLimiter{sem: semaphore.NewWeighted(n)}
}

// Acquire blocks until a transfer slot is free or ctx is cancelled.
func (l *TransferLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees a transfer slot.
func (l *TransferLimiter) Release() { l.sem.Release(1) }
