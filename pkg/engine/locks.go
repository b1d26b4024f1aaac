package engine

import (
	"context"
	"sync"
)

// RunLocker serializes all transitions of one run: the engine assumes
// single-writer-per-run and acquires the lock before any walk or resume.
type RunLocker interface {
	// Lock blocks until the run lock is held or ctx is done. The returned
	// function releases the lock.
	Lock(ctx context.Context, runID string) (func(), error)
}

// MemoryLocker is the in-process RunLocker: one mutex per run id. Suitable
// whenever a single process owns all triggers for a run.
type MemoryLocker struct {
	locks sync.Map // runID -> *sync.Mutex
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

func (l *MemoryLocker) Lock(_ context.Context, runID string) (func(), error) {
	value, _ := l.locks.LoadOrStore(runID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()

	return mu.Unlock, nil
}
