package task

import (
	"context"
	"fmt"
	"time"
)

// LockCoordinator mediates task lock reads and mutations. Cross-request races
// are settled by the store; the coordinator adds the TTL policy and publishes
// lock lifecycle events.
type LockCoordinator struct {
	store  Store
	ttl    time.Duration
	events *Events
}

func NewLockCoordinator(store Store, ttl time.Duration, events *Events) *LockCoordinator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LockCoordinator{store: store, ttl: ttl, events: events}
}

// Current returns the lock state for a task, the empty lock when none is
// held. Read-only; safe on any task id.
func (c *LockCoordinator) Current(ctx context.Context, taskID int64) (Lock, error) {
	return c.store.CurrentLock(ctx, taskID)
}

// Acquire claims the task for the user. Re-acquiring one's own live lock
// refreshes the TTL. ErrLockHeld when another user holds it, ErrStoreNotFound
// when the task does not exist.
func (c *LockCoordinator) Acquire(ctx context.Context, taskID, userID int64) (Lock, error) {
	lock, err := c.store.AcquireLock(ctx, taskID, userID, c.ttl)
	if err != nil {
		return Lock{}, err
	}
	c.events.Publish(Event{Type: EventLockAcquired, TaskID: taskID, UserID: userID})
	return lock, nil
}

// Release drops the user's lock on the task. ErrLockNotHeld when the user is
// not the current holder.
func (c *LockCoordinator) Release(ctx context.Context, taskID, userID int64) error {
	if err := c.store.ReleaseLock(ctx, taskID, userID); err != nil {
		return err
	}
	c.events.Publish(Event{Type: EventLockReleased, TaskID: taskID, UserID: userID})
	return nil
}

// SweepExpired releases every lock past its TTL and reports how many were
// dropped. Scheduled periodically from main.
func (c *LockCoordinator) SweepExpired(ctx context.Context) (int, error) {
	released, err := c.store.ReleaseExpiredLocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	for _, lock := range released {
		c.events.Publish(Event{Type: EventLockExpired, TaskID: lock.TaskID, UserID: lock.UserID})
	}
	return len(released), nil
}
