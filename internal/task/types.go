package task

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the stored task status code. The codes mirror the platform's
// public vocabulary and are stable across releases, which is why gaps exist.
type Status int

const (
	StatusCreated       Status = 0
	StatusFixed         Status = 1
	StatusFalsePositive Status = 2
	StatusSkipped       Status = 3
	StatusDeleted       Status = 4
	StatusAlreadyFixed  Status = 5
	StatusTooHard       Status = 6
	StatusDisabled      Status = 9
)

var statusNames = map[Status]string{
	StatusCreated:       "Created",
	StatusFixed:         "Fixed",
	StatusFalsePositive: "False_Positive",
	StatusSkipped:       "Skipped",
	StatusDeleted:       "Deleted",
	StatusAlreadyFixed:  "Already_Fixed",
	StatusTooHard:       "Too_Hard",
	StatusDisabled:      "Disabled",
}

// Name returns the display name for the status. Unrecognized codes fall back
// to "Created" for display only; the stored code is never rewritten.
func (s Status) Name() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Created"
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// DefaultStatuses is the candidate set used when a search carries no explicit
// status filter: everything a mapper can still act on.
func DefaultStatuses() []Status {
	return []Status{StatusCreated, StatusSkipped, StatusTooHard}
}

// Priority is the coarse urgency tier used to bias random selection.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityMedium Priority = 1
	PriorityLow    Priority = 2
)

func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// Point is a planar location used only for proximity ordering. Geometry stays
// an opaque JSON payload; the point is extracted once at task creation.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Task is a single unit of mapping work tied to a parent challenge.
type Task struct {
	ID          int64           `json:"id"`
	ParentID    int64           `json:"parentId"`
	Name        string          `json:"name"`
	Instruction string          `json:"instruction,omitempty"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	Location    *Point          `json:"location,omitempty"`
	MappedOn    *time.Time      `json:"mappedOn,omitempty"`
	Created     time.Time       `json:"created"`
	Modified    time.Time       `json:"modified"`
}

// Lock is the claim marker on a task. The zero value means "not locked";
// every task read for display pairs with a determinate Lock value.
type Lock struct {
	TaskID   int64      `json:"taskId,omitempty"`
	UserID   int64      `json:"userId,omitempty"`
	Token    string     `json:"token,omitempty"`
	LockedAt *time.Time `json:"lockedAt,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
}

func (l Lock) Locked() bool {
	return l.LockedAt != nil
}

// UserSummary identifies the last user to modify a task, derived from the
// audit trail rather than stored on the task itself.
type UserSummary struct {
	OSMID       int64  `json:"osmId"`
	ID          int64  `json:"userId"`
	DisplayName string `json:"displayName"`
}

var (
	// ErrTaskNotFound is returned only by the display projection path when
	// the addressed task does not exist.
	ErrTaskNotFound = errors.New("could not find task")

	// ErrStoreNotFound signals an absent row at the store boundary.
	ErrStoreNotFound = errors.New("task not found in store")

	// ErrLockHeld means another user currently holds the task lock.
	ErrLockHeld = errors.New("task is locked by another user")

	// ErrLockNotHeld means the caller asked to release a lock it does not hold.
	ErrLockNotHeld = errors.New("task lock not held by user")
)
