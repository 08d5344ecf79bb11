package task

import (
	"context"
	"strings"
	"time"
)

// Direction selects which sequence neighbor to fetch.
type Direction int

const (
	DirectionNext Direction = iota
	DirectionPrevious
)

// Store owns persisted tasks, their locks and the status audit trail.
type Store interface {
	Create(ctx context.Context, t Task) (Task, error)
	GetByID(ctx context.Context, id int64) (Task, error)
	SetStatus(ctx context.Context, id int64, status Status, byUser UserSummary) error

	// RandomCandidates returns up to limit tasks matching the filter, in
	// store-chosen random order. Locked state is not consulted here; the
	// selector filters locked tasks so both stores share one policy.
	RandomCandidates(ctx context.Context, params SearchParameters, limit int) ([]Task, error)

	// SequenceNeighbor returns the task within parentID whose id is the
	// nearest strictly greater (next) or strictly smaller (previous) than
	// currentID, restricted to statuses when non-empty. ErrStoreNotFound
	// when no neighbor exists in that direction; callers handle wrapping.
	SequenceNeighbor(ctx context.Context, parentID, currentID int64, dir Direction, statuses []Status) (Task, error)

	// SequenceBoundary returns the smallest (next wrap target) or largest
	// (previous wrap target) qualifying task id within the parent.
	SequenceBoundary(ctx context.Context, parentID int64, dir Direction, statuses []Status) (Task, error)

	CurrentLock(ctx context.Context, taskID int64) (Lock, error)
	AcquireLock(ctx context.Context, taskID, userID int64, ttl time.Duration) (Lock, error)
	ReleaseLock(ctx context.Context, taskID, userID int64) error
	ReleaseExpiredLocks(ctx context.Context) ([]Lock, error)

	LastModifiedUser(ctx context.Context, taskID int64) (UserSummary, error)

	Close() error
}

// NewStore picks the backing store: Postgres when a database URL is
// configured, otherwise the in-process store for local and test use.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
