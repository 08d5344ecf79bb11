package task

import (
	"context"
	"errors"
	"testing"
)

func TestSetStatusRecordsAuditTrail(t *testing.T) {
	store := NewMemoryStore()
	created := seedTask(t, store, Task{ParentID: 1, Name: "t", Status: StatusCreated})

	if _, err := store.LastModifiedUser(context.Background(), created.ID); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("LastModifiedUser before any change error = %v, want ErrStoreNotFound", err)
	}

	alice := UserSummary{OSMID: 100, ID: 7, DisplayName: "alice"}
	if err := store.SetStatus(context.Background(), created.ID, StatusFixed, alice); err != nil {
		t.Fatalf("SetStatus error = %v", err)
	}

	got, err := store.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID error = %v", err)
	}
	if got.Status != StatusFixed {
		t.Fatalf("status = %v, want Fixed", got.Status)
	}
	if got.MappedOn == nil {
		t.Fatalf("MappedOn not set on status change")
	}
	if !got.Modified.After(created.Modified) && !got.Modified.Equal(created.Modified) {
		t.Fatalf("Modified not advanced")
	}

	user, err := store.LastModifiedUser(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("LastModifiedUser error = %v", err)
	}
	if user != alice {
		t.Fatalf("LastModifiedUser = %+v, want %+v", user, alice)
	}
}

func TestSetStatusUnknownTask(t *testing.T) {
	store := NewMemoryStore()
	err := store.SetStatus(context.Background(), 404, StatusFixed, UserSummary{ID: 7})
	if !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("SetStatus error = %v, want ErrStoreNotFound", err)
	}
}

func TestRandomCandidatesHonorsChallengeAndPriority(t *testing.T) {
	store := NewMemoryStore()
	seedTask(t, store, Task{ParentID: 1, Name: "in", Status: StatusCreated, Priority: PriorityHigh})
	seedTask(t, store, Task{ParentID: 2, Name: "other-parent", Status: StatusCreated, Priority: PriorityHigh})
	seedTask(t, store, Task{ParentID: 1, Name: "low", Status: StatusCreated, Priority: PriorityLow})

	challengeID := int64(1)
	priority := PriorityHigh
	candidates, err := store.RandomCandidates(context.Background(), SearchParameters{
		ChallengeID: &challengeID,
		Priority:    &priority,
	}, 10)
	if err != nil {
		t.Fatalf("RandomCandidates error = %v", err)
	}
	if len(candidates) != 1 || candidates[0].Name != "in" {
		t.Fatalf("candidates = %+v, want only the scoped high-priority task", candidates)
	}
}

func TestRandomCandidatesHonorsProjectScope(t *testing.T) {
	store := NewMemoryStore()
	store.RegisterChallenge(1, 10)
	store.RegisterChallenge(2, 20)
	seedTask(t, store, Task{ParentID: 1, Name: "in-project", Status: StatusCreated})
	seedTask(t, store, Task{ParentID: 2, Name: "other-project", Status: StatusCreated})
	seedTask(t, store, Task{ParentID: 3, Name: "unregistered", Status: StatusCreated})

	projectID := int64(10)
	candidates, err := store.RandomCandidates(context.Background(), SearchParameters{ProjectID: &projectID}, 10)
	if err != nil {
		t.Fatalf("RandomCandidates error = %v", err)
	}
	if len(candidates) != 1 || candidates[0].Name != "in-project" {
		t.Fatalf("candidates = %+v, want only the task in project 10", candidates)
	}

	// A project with no registered challenge yields nothing rather than
	// falling back to an unscoped search.
	missing := int64(99)
	candidates, err = store.RandomCandidates(context.Background(), SearchParameters{ProjectID: &missing}, 10)
	if err != nil {
		t.Fatalf("RandomCandidates error = %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("candidates = %+v, want none for an unknown project", candidates)
	}
}

func TestRandomCandidatesLimit(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 10; i++ {
		seedTask(t, store, Task{ParentID: 1, Name: "t", Status: StatusCreated})
	}
	candidates, err := store.RandomCandidates(context.Background(), SearchParameters{}, 3)
	if err != nil {
		t.Fatalf("RandomCandidates error = %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("len(candidates) = %d, want 3", len(candidates))
	}
}

func TestEventsFanOut(t *testing.T) {
	events := NewEvents()
	first, cancelFirst := events.Subscribe()
	second, cancelSecond := events.Subscribe()
	defer cancelSecond()

	events.Publish(Event{Type: EventTaskCreated, TaskID: 5})
	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		evt := <-ch
		if evt.TaskID != 5 || evt.ID == "" || evt.At.IsZero() {
			t.Fatalf("%s subscriber event = %+v, want stamped task 5 event", name, evt)
		}
	}

	cancelFirst()
	if _, ok := <-first; ok {
		t.Fatalf("first channel still open after cancel")
	}

	events.Publish(Event{Type: EventLockAcquired, TaskID: 6})
	if evt := <-second; evt.TaskID != 6 {
		t.Fatalf("second subscriber event = %+v, want task 6", evt)
	}
}
