package redisclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// inProcessLocker serializes per doctor inside one process. It backs tests
// and single-node setups; anything multi-process needs the Redis locker.
type inProcessLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewInProcessLocker() Locker {
	return &inProcessLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *inProcessLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[doctorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
