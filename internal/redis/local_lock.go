package redisclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type localSlotLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
	wait  time.Duration
}

// NewLocalSlotLocker serializes slots inside a single process. It is used
// when LOCK_BACKEND=local and by tests.
func NewLocalSlotLocker(wait time.Duration) Locker {
	return &localSlotLocker{
		slots: make(map[uuid.UUID]chan struct{}),
		wait:  wait,
	}
}

func (l *localSlotLocker) sem(slotID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[slotID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[slotID] = ch
	}
	return ch
}

func (l *localSlotLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	ch := l.sem(slotID)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
	}
	defer func() { <-ch }()

	return fn(ctx)
}
