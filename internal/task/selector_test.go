package task

import (
	"context"
	"testing"
)

func seedTask(t *testing.T, store *MemoryStore, tk Task) Task {
	t.Helper()
	created, err := store.Create(context.Background(), tk)
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return created
}

func TestRandomRespectsFilter(t *testing.T) {
	store := NewMemoryStore()
	seedTask(t, store, Task{ParentID: 1, Name: "open", Status: StatusCreated})
	seedTask(t, store, Task{ParentID: 1, Name: "done", Status: StatusFixed})

	selector := NewSelector(store, 50, 5)
	for i := 0; i < 10; i++ {
		picked, err := selector.Random(context.Background(), 7, SearchParameters{})
		if err != nil {
			t.Fatalf("Random error = %v", err)
		}
		if picked == nil {
			t.Fatalf("Random = nil, want a task")
		}
		if picked.Status == StatusFixed {
			t.Fatalf("Random returned a Fixed task, filter should exclude it")
		}
	}
}

func TestRandomEmptyPool(t *testing.T) {
	store := NewMemoryStore()
	seedTask(t, store, Task{ParentID: 1, Name: "done", Status: StatusFixed})

	selector := NewSelector(store, 50, 5)
	picked, err := selector.Random(context.Background(), 7, SearchParameters{})
	if err != nil {
		t.Fatalf("Random error = %v", err)
	}
	if picked != nil {
		t.Fatalf("Random = %+v, want nil for empty pool", picked)
	}
}

func TestRandomSkipsTasksLockedByOthers(t *testing.T) {
	store := NewMemoryStore()
	locked := seedTask(t, store, Task{ParentID: 1, Name: "claimed", Status: StatusCreated})
	free := seedTask(t, store, Task{ParentID: 1, Name: "free", Status: StatusCreated})
	if _, err := store.AcquireLock(context.Background(), locked.ID, 42, defaultTestTTL); err != nil {
		t.Fatalf("AcquireLock error = %v", err)
	}

	selector := NewSelector(store, 50, 5)
	for i := 0; i < 10; i++ {
		picked, err := selector.Random(context.Background(), 7, SearchParameters{})
		if err != nil {
			t.Fatalf("Random error = %v", err)
		}
		if picked == nil || picked.ID != free.ID {
			t.Fatalf("Random = %+v, want unlocked task %d", picked, free.ID)
		}
	}

	// The holder itself may still get its own locked task.
	if _, err := store.AcquireLock(context.Background(), free.ID, 42, defaultTestTTL); err != nil {
		t.Fatalf("AcquireLock error = %v", err)
	}
	picked, err := selector.Random(context.Background(), 7, SearchParameters{})
	if err != nil {
		t.Fatalf("Random error = %v", err)
	}
	if picked != nil {
		t.Fatalf("Random = %+v, want nil when all tasks are locked by others", picked)
	}
}

func TestRandomWithPriorityExhaustsHigherTiers(t *testing.T) {
	store := NewMemoryStore()
	seedTask(t, store, Task{ParentID: 1, Name: "low-1", Status: StatusCreated, Priority: PriorityLow})
	seedTask(t, store, Task{ParentID: 1, Name: "low-2", Status: StatusCreated, Priority: PriorityLow})
	seedTask(t, store, Task{ParentID: 1, Name: "medium", Status: StatusCreated, Priority: PriorityMedium})

	selector := NewSelector(store, 50, 5)
	for i := 0; i < 20; i++ {
		picked, err := selector.RandomWithPriority(context.Background(), 7, SearchParameters{})
		if err != nil {
			t.Fatalf("RandomWithPriority error = %v", err)
		}
		if picked == nil {
			t.Fatalf("RandomWithPriority = nil, want a task")
		}
		if picked.Priority == PriorityLow {
			t.Fatalf("RandomWithPriority returned a Low task while Medium exists")
		}
	}
}

func TestRandomWithPriorityBeyondCandidateBound(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 30; i++ {
		seedTask(t, store, Task{ParentID: 1, Name: "low", Status: StatusCreated, Priority: PriorityLow})
	}
	high := seedTask(t, store, Task{ParentID: 1, Name: "high", Status: StatusCreated, Priority: PriorityHigh})

	// With a candidate bound far below the pool size, a single sample would
	// usually miss the lone High task; per-tier queries must not.
	selector := NewSelector(store, 5, 5)
	for i := 0; i < 20; i++ {
		picked, err := selector.RandomWithPriority(context.Background(), 7, SearchParameters{})
		if err != nil {
			t.Fatalf("RandomWithPriority error = %v", err)
		}
		if picked == nil || picked.ID != high.ID {
			t.Fatalf("RandomWithPriority = %+v, want High-priority task %d", picked, high.ID)
		}
	}
}

func TestRandomWithPriorityExplicitPriorityFilter(t *testing.T) {
	store := NewMemoryStore()
	seedTask(t, store, Task{ParentID: 1, Name: "high", Status: StatusCreated, Priority: PriorityHigh})
	medium := seedTask(t, store, Task{ParentID: 1, Name: "medium", Status: StatusCreated, Priority: PriorityMedium})

	selector := NewSelector(store, 50, 5)
	priority := PriorityMedium
	picked, err := selector.RandomWithPriority(context.Background(), 7, SearchParameters{Priority: &priority})
	if err != nil {
		t.Fatalf("RandomWithPriority error = %v", err)
	}
	if picked == nil || picked.ID != medium.ID {
		t.Fatalf("RandomWithPriority = %+v, want the explicitly filtered task %d", picked, medium.ID)
	}
}

func TestRandomWithPriorityFallsThroughLockedTier(t *testing.T) {
	store := NewMemoryStore()
	high := seedTask(t, store, Task{ParentID: 1, Name: "high", Status: StatusCreated, Priority: PriorityHigh})
	low := seedTask(t, store, Task{ParentID: 1, Name: "low", Status: StatusCreated, Priority: PriorityLow})
	if _, err := store.AcquireLock(context.Background(), high.ID, 42, defaultTestTTL); err != nil {
		t.Fatalf("AcquireLock error = %v", err)
	}

	selector := NewSelector(store, 50, 5)
	picked, err := selector.RandomWithPriority(context.Background(), 7, SearchParameters{})
	if err != nil {
		t.Fatalf("RandomWithPriority error = %v", err)
	}
	if picked == nil || picked.ID != low.ID {
		t.Fatalf("RandomWithPriority = %+v, want fall-through to task %d", picked, low.ID)
	}
}

func TestRandomProximityPrefersNearest(t *testing.T) {
	store := NewMemoryStore()
	ref := seedTask(t, store, Task{ParentID: 1, Name: "reference", Status: StatusFixed, Location: &Point{Lon: 0, Lat: 0}})
	near := seedTask(t, store, Task{ParentID: 1, Name: "near", Status: StatusCreated, Location: &Point{Lon: 0.001, Lat: 0}})
	seedTask(t, store, Task{ParentID: 1, Name: "far", Status: StatusCreated, Location: &Point{Lon: 10, Lat: 10}})

	selector := NewSelector(store, 50, 1)
	params := SearchParameters{Proximity: &ref.ID}
	for i := 0; i < 10; i++ {
		picked, err := selector.Random(context.Background(), 7, params)
		if err != nil {
			t.Fatalf("Random error = %v", err)
		}
		if picked == nil || picked.ID != near.ID {
			t.Fatalf("Random = %+v, want nearest task %d", picked, near.ID)
		}
	}
}

func TestSequenceWraps(t *testing.T) {
	store := NewMemoryStore()
	const parent = int64(7)
	for _, id := range []int64{1, 2, 3} {
		seedTask(t, store, Task{ID: id, ParentID: parent, Name: "t", Status: StatusCreated})
	}

	selector := NewSelector(store, 50, 5)
	next, err := selector.NextInSequence(context.Background(), parent, 3, nil)
	if err != nil {
		t.Fatalf("NextInSequence error = %v", err)
	}
	if next == nil || next.ID != 1 {
		t.Fatalf("NextInSequence(3) = %+v, want wrap to id 1", next)
	}

	prev, err := selector.PreviousInSequence(context.Background(), parent, 1, nil)
	if err != nil {
		t.Fatalf("PreviousInSequence error = %v", err)
	}
	if prev == nil || prev.ID != 3 {
		t.Fatalf("PreviousInSequence(1) = %+v, want wrap to id 3", prev)
	}
}

func TestSequenceHonorsStatusFilter(t *testing.T) {
	store := NewMemoryStore()
	const parent = int64(7)
	seedTask(t, store, Task{ID: 1, ParentID: parent, Name: "a", Status: StatusCreated})
	seedTask(t, store, Task{ID: 2, ParentID: parent, Name: "b", Status: StatusFixed})
	seedTask(t, store, Task{ID: 3, ParentID: parent, Name: "c", Status: StatusCreated})

	selector := NewSelector(store, 50, 5)
	next, err := selector.NextInSequence(context.Background(), parent, 1, []Status{StatusCreated})
	if err != nil {
		t.Fatalf("NextInSequence error = %v", err)
	}
	if next == nil || next.ID != 3 {
		t.Fatalf("NextInSequence(1) = %+v, want id 3 (structural neighbor 2 is Fixed)", next)
	}
}

func TestSequenceEmptyParent(t *testing.T) {
	store := NewMemoryStore()
	selector := NewSelector(store, 50, 5)
	next, err := selector.NextInSequence(context.Background(), 99, 1, nil)
	if err != nil {
		t.Fatalf("NextInSequence error = %v", err)
	}
	if next != nil {
		t.Fatalf("NextInSequence = %+v, want nil for empty parent", next)
	}
}

func TestSequenceIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	const parent = int64(7)
	for _, id := range []int64{1, 2, 3} {
		seedTask(t, store, Task{ID: id, ParentID: parent, Name: "t", Status: StatusCreated})
	}

	selector := NewSelector(store, 50, 5)
	first, err := selector.NextInSequence(context.Background(), parent, 1, nil)
	if err != nil {
		t.Fatalf("NextInSequence error = %v", err)
	}
	second, err := selector.NextInSequence(context.Background(), parent, 1, nil)
	if err != nil {
		t.Fatalf("NextInSequence error = %v", err)
	}
	if first == nil || second == nil || first.ID != second.ID {
		t.Fatalf("NextInSequence not idempotent: %+v vs %+v", first, second)
	}
}
