package task

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for local runs and tests. It mirrors the
// Postgres store's contract exactly, including lock expiry semantics.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	tasks      map[int64]Task
	locks      map[int64]Lock
	audit      map[int64]auditRecord
	challenges map[int64]int64
}

type auditRecord struct {
	user UserSummary
	at   time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		tasks:      make(map[int64]Task),
		locks:      make(map[int64]Lock),
		audit:      make(map[int64]auditRecord),
		challenges: make(map[int64]int64),
	}
}

// RegisterChallenge records the challenge's owning project, the in-process
// counterpart of a row in the challenges table. Project-scoped searches only
// match tasks whose parent challenge has been registered, the same exclusion
// the Postgres join produces for an unknown challenge.
func (s *MemoryStore) RegisterChallenge(challengeID, projectID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challengeID] = projectID
}

func (s *MemoryStore) Create(_ context.Context, t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.nextID
		s.nextID++
	} else if t.ID >= s.nextID {
		s.nextID = t.ID + 1
	}
	now := time.Now().UTC()
	if t.Created.IsZero() {
		t.Created = now
	}
	if t.Modified.IsZero() {
		t.Modified = now
	}
	s.tasks[t.ID] = t
	return t, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return t, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id int64, status Status, byUser UserSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrStoreNotFound
	}
	now := time.Now().UTC()
	t.Status = status
	t.Modified = now
	if status != StatusCreated {
		mapped := now
		t.MappedOn = &mapped
	}
	s.tasks[id] = t
	s.audit[id] = auditRecord{user: byUser, at: now}
	return nil
}

func (s *MemoryStore) RandomCandidates(_ context.Context, params SearchParameters, limit int) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := make([]Task, 0, limit)
	for _, t := range s.tasks {
		if !s.matchesFilter(t, params) {
			continue
		}
		candidates = append(candidates, t)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// matchesFilter is called with the store lock held.
func (s *MemoryStore) matchesFilter(t Task, params SearchParameters) bool {
	if !params.MatchesStatus(t.Status) {
		return false
	}
	if params.ProjectID != nil {
		projectID, ok := s.challenges[t.ParentID]
		if !ok || projectID != *params.ProjectID {
			return false
		}
	}
	if params.ChallengeID != nil && t.ParentID != *params.ChallengeID {
		return false
	}
	if params.Priority != nil && t.Priority != *params.Priority {
		return false
	}
	return true
}

func (s *MemoryStore) SequenceNeighbor(_ context.Context, parentID, currentID int64, dir Direction, statuses []Status) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  Task
		found bool
	)
	for _, t := range s.tasks {
		if t.ParentID != parentID || !statusAllowed(t.Status, statuses) {
			continue
		}
		switch dir {
		case DirectionNext:
			if t.ID > currentID && (!found || t.ID < best.ID) {
				best, found = t, true
			}
		case DirectionPrevious:
			if t.ID < currentID && (!found || t.ID > best.ID) {
				best, found = t, true
			}
		}
	}
	if !found {
		return Task{}, ErrStoreNotFound
	}
	return best, nil
}

func (s *MemoryStore) SequenceBoundary(_ context.Context, parentID int64, dir Direction, statuses []Status) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, 8)
	for _, t := range s.tasks {
		if t.ParentID == parentID && statusAllowed(t.Status, statuses) {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return Task{}, ErrStoreNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if dir == DirectionNext {
		return s.tasks[ids[0]], nil
	}
	return s.tasks[ids[len(ids)-1]], nil
}

func statusAllowed(s Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, allowed := range statuses {
		if s == allowed {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CurrentLock(_ context.Context, taskID int64) (Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, ok := s.locks[taskID]
	if !ok || lockExpired(lock, time.Now().UTC()) {
		return Lock{TaskID: taskID}, nil
	}
	return lock, nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, taskID, userID int64, ttl time.Duration) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return Lock{}, ErrStoreNotFound
	}
	now := time.Now().UTC()
	if existing, ok := s.locks[taskID]; ok && !lockExpired(existing, now) && existing.UserID != userID {
		return Lock{}, ErrLockHeld
	}
	expires := now.Add(ttl)
	lock := Lock{
		TaskID:   taskID,
		UserID:   userID,
		Token:    uuid.NewString(),
		LockedAt: &now,
		Expires:  &expires,
	}
	s.locks[taskID] = lock
	return lock, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, taskID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[taskID]
	if !ok || lockExpired(lock, time.Now().UTC()) || lock.UserID != userID {
		return ErrLockNotHeld
	}
	delete(s.locks, taskID)
	return nil
}

func (s *MemoryStore) ReleaseExpiredLocks(_ context.Context) ([]Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var released []Lock
	for id, lock := range s.locks {
		if lockExpired(lock, now) {
			released = append(released, lock)
			delete(s.locks, id)
		}
	}
	return released, nil
}

func lockExpired(lock Lock, now time.Time) bool {
	return lock.Expires != nil && !lock.Expires.After(now)
}

func (s *MemoryStore) LastModifiedUser(_ context.Context, taskID int64) (UserSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.audit[taskID]
	if !ok {
		return UserSummary{}, ErrStoreNotFound
	}
	return record.user, nil
}

func (s *MemoryStore) Close() error { return nil }
