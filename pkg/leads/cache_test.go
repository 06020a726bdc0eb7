package leads

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheGetMissesOnEmptyCache(t *testing.T) {
	c := NewCache()
	_, ok := c.Get(5)
	assert.False(t, ok)
}

func TestCachePutThenGetCurrent(t *testing.T) {
	c := NewCache()
	c.Put(&Assignment{EpochID: 5})

	got, ok := c.Get(5)
	assert.True(t, ok)
	assert.Equal(t, int64(5), got.EpochID)
}

func TestCacheHoldsCurrentAndNext(t *testing.T) {
	c := NewCache()
	c.Put(&Assignment{EpochID: 5})
	c.Put(&Assignment{EpochID: 6})

	_, ok := c.Get(5)
	assert.True(t, ok)
	_, ok = c.Get(6)
	assert.True(t, ok)
}

func TestCacheGetRejectsEpochMismatch(t *testing.T) {
	c := NewCache()
	c.Put(&Assignment{EpochID: 5})

	_, ok := c.Get(7)
	assert.False(t, ok)
}

func TestCacheSlidesWindowForwardOnEpochJump(t *testing.T) {
	c := NewCache()
	c.Put(&Assignment{EpochID: 5})
	c.Put(&Assignment{EpochID: 6})
	c.Put(&Assignment{EpochID: 9}) // a big jump, e.g. after downtime

	_, ok := c.Get(5)
	assert.False(t, ok)
	_, ok = c.Get(9)
	assert.True(t, ok)
	_, ok = c.Get(6)
	assert.False(t, ok)
}

func TestCacheDiscardsStaleEpoch(t *testing.T) {
	c := NewCache()
	c.Put(&Assignment{EpochID: 10})
	c.Put(&Assignment{EpochID: 5}) // stale, e.g. a slow prefetch retry landing late

	got, ok := c.Get(10)
	assert.True(t, ok)
	assert.Equal(t, int64(10), got.EpochID)
	_, ok = c.Get(5)
	assert.False(t, ok)
}
