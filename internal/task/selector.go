package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Selector implements the task selection strategies over a Store. It holds no
// mutable state; every call re-reads the store so lock and status checks are
// never stale.
type Selector struct {
	store         Store
	candidateMax  int
	proximityPool int
}

// NewSelector builds a Selector. candidateMax bounds how many random
// candidates are pulled from the store per call; proximityPool is the size of
// the nearest-neighbor pool a proximity-biased pick draws from.
func NewSelector(store Store, candidateMax, proximityPool int) *Selector {
	if candidateMax <= 0 {
		candidateMax = 50
	}
	if proximityPool <= 0 {
		proximityPool = 5
	}
	return &Selector{store: store, candidateMax: candidateMax, proximityPool: proximityPool}
}

// Random picks one task uniformly at random from the filtered candidate pool,
// skipping tasks locked by another user. A proximity id in params biases the
// pick toward the nearest candidates. Returns (nil, nil) when nothing matches.
func (s *Selector) Random(ctx context.Context, userID int64, params SearchParameters) (*Task, error) {
	candidates, err := s.store.RandomCandidates(ctx, params, s.candidateMax)
	if err != nil {
		return nil, fmt.Errorf("load random candidates: %w", err)
	}
	return s.pickFrom(ctx, userID, candidates, params.Proximity)
}

// RandomWithPriority behaves like Random but exhausts the highest non-empty
// priority tier before considering lower tiers. Each tier is queried
// separately; partitioning a single bounded sample could miss high-tier
// tasks when the matching pool exceeds candidateMax.
func (s *Selector) RandomWithPriority(ctx context.Context, userID int64, params SearchParameters) (*Task, error) {
	if params.Priority != nil {
		return s.Random(ctx, userID, params)
	}
	for _, tier := range []Priority{PriorityHigh, PriorityMedium, PriorityLow} {
		tierParams := params
		tierParams.Priority = &tier
		candidates, err := s.store.RandomCandidates(ctx, tierParams, s.candidateMax)
		if err != nil {
			return nil, fmt.Errorf("load random candidates: %w", err)
		}
		if len(candidates) == 0 {
			continue
		}
		picked, err := s.pickFrom(ctx, userID, candidates, params.Proximity)
		if err != nil {
			return nil, err
		}
		if picked != nil {
			return picked, nil
		}
		// Tier fully locked out; fall through to the next one.
	}
	return nil, nil
}

// NextInSequence returns the task in the parent with the smallest id strictly
// greater than currentID under the status filter, wrapping to the smallest
// qualifying id. (nil, nil) when the parent has no qualifying task.
func (s *Selector) NextInSequence(ctx context.Context, parentID, currentID int64, statuses []Status) (*Task, error) {
	return s.sequence(ctx, parentID, currentID, DirectionNext, statuses)
}

// PreviousInSequence is the symmetric walk, wrapping to the largest id.
func (s *Selector) PreviousInSequence(ctx context.Context, parentID, currentID int64, statuses []Status) (*Task, error) {
	return s.sequence(ctx, parentID, currentID, DirectionPrevious, statuses)
}

func (s *Selector) sequence(ctx context.Context, parentID, currentID int64, dir Direction, statuses []Status) (*Task, error) {
	t, err := s.store.SequenceNeighbor(ctx, parentID, currentID, dir, statuses)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, ErrStoreNotFound) {
		return nil, fmt.Errorf("sequence neighbor: %w", err)
	}
	t, err = s.store.SequenceBoundary(ctx, parentID, dir, statuses)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("sequence wrap: %w", err)
	}
	return &t, nil
}

// pickFrom narrows candidates to the proximity pool if requested, then walks
// the (already shuffled) pool and returns the first task not locked by
// someone else.
func (s *Selector) pickFrom(ctx context.Context, userID int64, candidates []Task, proximity *int64) (*Task, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if proximity != nil {
		narrowed, err := s.nearestPool(ctx, *proximity, candidates)
		if err != nil {
			return nil, err
		}
		candidates = narrowed
	}
	// Candidates arrive in random order from the store; a second shuffle
	// keeps the proximity pool pick uniform too.
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	for i := range candidates {
		lock, err := s.store.CurrentLock(ctx, candidates[i].ID)
		if err != nil {
			return nil, fmt.Errorf("check candidate lock: %w", err)
		}
		if lock.Locked() && lock.UserID != userID {
			continue
		}
		return &candidates[i], nil
	}
	return nil, nil
}

// nearestPool keeps the proximityPool candidates closest to the reference
// task. Tasks without a location sort last. An unknown reference task or one
// without a location disables the proximity bias rather than failing.
func (s *Selector) nearestPool(ctx context.Context, proximityID int64, candidates []Task) ([]Task, error) {
	ref, err := s.store.GetByID(ctx, proximityID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return candidates, nil
		}
		return nil, fmt.Errorf("load proximity task: %w", err)
	}
	if ref.Location == nil {
		return candidates, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return distanceTo(ref.Location, candidates[i].Location) < distanceTo(ref.Location, candidates[j].Location)
	})
	if len(candidates) > s.proximityPool {
		candidates = candidates[:s.proximityPool]
	}
	return candidates, nil
}

// distanceTo is a squared planar distance. It only orders nearby candidates,
// so no geodesic precision is needed.
func distanceTo(from, to *Point) float64 {
	if to == nil {
		return math.MaxFloat64
	}
	dLon := from.Lon - to.Lon
	dLat := from.Lat - to.Lat
	return dLon*dLon + dLat*dLat
}
