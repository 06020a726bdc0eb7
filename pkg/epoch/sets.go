package epoch

import lru "github.com/hashicorp/golang-lru/v2"

// epochSet is a bounded dedup set over epoch ids (spec.md §4.1: "all sets
// are bounded to the most recent ~100 epochs"). Manipulated only from the
// single block-polling goroutine, so it carries no internal locking of its
// own — see Monitor's doc comment on the no-lock invariant this relies on.
type epochSet struct {
	cache *lru.Cache[int64, struct{}]
}

const epochSetCapacity = 100

func newEpochSet() *epochSet {
	c, err := lru.New[int64, struct{}](epochSetCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// epochSetCapacity never is.
		panic(err)
	}
	return &epochSet{cache: c}
}

func (s *epochSet) Add(epochID int64) { s.cache.Add(epochID, struct{}{}) }

func (s *epochSet) Contains(epochID int64) bool {
	_, ok := s.cache.Get(epochID)
	return ok
}

func (s *epochSet) Remove(epochID int64) { s.cache.Remove(epochID) }
