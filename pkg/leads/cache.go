package leads

import "sync"

// Cache holds at most two assignments — the current epoch's and the next
// one's prefetched ahead of time (spec.md §4.2, "cache stores at most two
// epochs"). It is two fixed slots rather than an arbitrary map so a reader
// can cheaply validate that the slot it was handed actually belongs to the
// epoch it asked for, guarding against stale key/value mismatch.
type Cache struct {
	mu      sync.Mutex
	current *Assignment
	next    *Assignment
}

// NewCache builds an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached assignment for epochID, if present. The slot's own
// EpochID is always compared against epochID before returning it — a
// corrupted or stale slot is reported as a miss, never served.
func (c *Cache) Get(epochID int64) (*Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.EpochID == epochID {
		return c.current, true
	}
	if c.next != nil && c.next.EpochID == epochID {
		return c.next, true
	}
	return nil, false
}

// Put stores a, replacing whichever slot it belongs in. An assignment for an
// epoch older than what's already cached is dropped rather than evicting a
// newer one — prefetch results can arrive out of order under retry.
func (c *Cache) Put(a *Assignment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.current == nil || a.EpochID == c.current.EpochID:
		c.current = a
	case a.EpochID == c.current.EpochID+1:
		c.next = a
	case a.EpochID > c.current.EpochID+1:
		// A later epoch became current while this was in flight; slide the
		// window forward instead of dropping the newer result.
		c.current = a
		c.next = nil
	// a.EpochID < c.current.EpochID: stale, discarded.
	default:
	}
}
