package task

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTaskCreated   EventType = "task_created"
	EventStatusChanged EventType = "task_status_changed"
	EventLockAcquired  EventType = "task_lock_acquired"
	EventLockReleased  EventType = "task_lock_released"
	EventLockExpired   EventType = "task_lock_expired"
)

// Event is one entry on the task activity feed.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	TaskID   int64     `json:"task_id"`
	ParentID int64     `json:"parent_id,omitempty"`
	UserID   int64     `json:"user_id,omitempty"`
	Status   *Status   `json:"status,omitempty"`
	At       time.Time `json:"at"`
}

// Events fans task activity out to subscribers. Slow subscribers drop events
// rather than block publishers.
type Events struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewEvents() *Events {
	return &Events{subs: make(map[int]chan Event)}
}

// Publish stamps and delivers the event to every subscriber. Safe on a nil
// hub so components can run without a feed attached.
func (e *Events) Publish(evt Event) {
	if e == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a feed consumer. The returned cancel func must be
// called to detach; the channel is closed on cancel.
func (e *Events) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
