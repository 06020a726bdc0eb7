// Package registry caches the Bittensor metagraph snapshot and provides
// epoch-consistent role classification (spec.md §4.6), grounded on
// original_source/gateway/utils/registry.py's single-slot cache with an
// async-safe refresh guard and an 8-attempt async/sync fetch strategy.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/chain"
)

// FetchStrategy holds the registry's retry knobs, sourced from
// pkg/config.Config so they're adjustable without a code change.
type FetchStrategy struct {
	MaxAttempts       int
	SwitchToSyncAfter int
	AttemptTimeout    time.Duration
	RetryDelay        time.Duration
	EpochDuration     time.Duration
}

// DefaultFetchStrategy mirrors registry.py's constants: 8 attempts, switch to
// sync fallback after attempt 4, 60s per-attempt timeout, 2s initial retry
// delay (capped backoff), 4320s epoch duration (360 blocks × 12s).
var DefaultFetchStrategy = FetchStrategy{
	MaxAttempts:       8,
	SwitchToSyncAfter: 4,
	AttemptTimeout:    60 * time.Second,
	RetryDelay:        2 * time.Second,
	EpochDuration:     4320 * time.Second,
}

// Classification is the result of classify(hotkey) (spec.md §4.6).
type Classification struct {
	Registered bool
	Role       chain.Role
}

// snapshot is the cached metagraph plus the epoch/time it was fetched for.
type snapshot struct {
	neurons   []chain.Neuron
	byHotkey  map[string]chain.Neuron
	epochID   int64
	fetchedAt time.Time
}

// Cache is the registry/metagraph cache. Refresh is fully async-safe: a
// brief lock either claims the right to refresh or returns the cached
// snapshot; the network fetch itself runs outside the lock (spec.md §4.6).
type Cache struct {
	client   chain.Client
	netuid   int64
	strategy FetchStrategy
	logger   zerolog.Logger

	mu             sync.Mutex
	current        *snapshot
	refreshing     bool
	lastRefreshErr error
}

// NewCache builds a Cache for the given subnet.
func NewCache(client chain.Client, netuid int64, strategy FetchStrategy, logger zerolog.Logger) *Cache {
	return &Cache{
		client:   client,
		netuid:   netuid,
		strategy: strategy,
		logger:   logger.With().Str("component", "registry_cache").Logger(),
	}
}

// GetMetagraph returns the cached snapshot for currentEpoch, refreshing if
// the cache is stale or belongs to a prior epoch. A fetch in flight is never
// waited on: a caller that loses the refresh race gets the previous snapshot
// instead of blocking (spec.md §5, "readers during a refresh see the prior
// snapshot").
func (c *Cache) GetMetagraph(ctx context.Context, currentEpoch int64) ([]chain.Neuron, error) {
	if snap, ok := c.fastPath(currentEpoch); ok {
		return snap.neurons, nil
	}

	snap, claimed := c.claimRefresh(currentEpoch)
	if !claimed {
		// Someone else is refreshing; serve whatever we have.
		if snap != nil {
			return snap.neurons, nil
		}
		return nil, c.waitNoCache()
	}

	fetched, err := c.fetchWithStrategy(ctx)
	c.publish(fetched, currentEpoch, err)
	if err != nil {
		if snap != nil {
			c.logger.Warn().Err(err).Int64("stale_epoch", snap.epochID).Msg("metagraph refresh failed, serving stale fallback")
			return snap.neurons, nil
		}
		return nil, err
	}
	return fetched, nil
}

// Classify resolves a hotkey's registration/role under the cached snapshot
// for currentEpoch.
func (c *Cache) Classify(ctx context.Context, currentEpoch int64, hotkey string) (Classification, error) {
	if _, ok := c.fastPath(currentEpoch); !ok {
		if _, err := c.GetMetagraph(ctx, currentEpoch); err != nil {
			return Classification{}, err
		}
	}

	c.mu.Lock()
	snap := c.current
	c.mu.Unlock()
	if snap == nil {
		return Classification{}, nil
	}

	n, ok := snap.byHotkey[hotkey]
	if !ok {
		return Classification{Registered: false}, nil
	}
	return Classification{Registered: true, Role: chain.ClassifyRole(n)}, nil
}

// Neuron resolves a single hotkey's full metagraph row under the cached
// snapshot for currentEpoch, used by the consensus aggregator to read
// v_trust and stake at reveal time (spec.md §4.4).
func (c *Cache) Neuron(ctx context.Context, currentEpoch int64, hotkey string) (chain.Neuron, bool, error) {
	if _, ok := c.fastPath(currentEpoch); !ok {
		if _, err := c.GetMetagraph(ctx, currentEpoch); err != nil {
			return chain.Neuron{}, false, err
		}
	}

	c.mu.Lock()
	snap := c.current
	c.mu.Unlock()
	if snap == nil {
		return chain.Neuron{}, false, nil
	}
	n, ok := snap.byHotkey[hotkey]
	return n, ok, nil
}

// WarmForEpoch triggers a background refresh for a newly-announced epoch so
// the cache is fresh by the time the first request of the epoch arrives
// (spec.md §4.6 "Proactive warming"). Callers should invoke this from the
// block monitor's epoch-transition hook, typically with a short-lived
// detached context.
func (c *Cache) WarmForEpoch(ctx context.Context, epochID int64) {
	go func() {
		if _, err := c.GetMetagraph(ctx, epochID); err != nil {
			c.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("proactive metagraph warm failed")
		}
	}()
}

func (c *Cache) fastPath(currentEpoch int64) (*snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.current
	if snap == nil {
		return nil, false
	}
	if snap.epochID == currentEpoch {
		return snap, true
	}
	// After a failed refresh, publish bumps the stale snapshot's fetchedAt;
	// keep serving it for one epoch duration before trying again.
	if c.lastRefreshErr != nil && time.Since(snap.fetchedAt) < c.strategy.EpochDuration {
		return snap, true
	}
	return snap, false
}

func (c *Cache) claimRefresh(currentEpoch int64) (*snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.epochID == currentEpoch {
		return c.current, false
	}
	if c.refreshing {
		return c.current, false
	}
	c.refreshing = true
	return c.current, true
}

func (c *Cache) waitNoCache() error {
	return c.lastRefreshErr
}

func (c *Cache) publish(neurons []chain.Neuron, epochID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshing = false
	c.lastRefreshErr = err
	if err == nil {
		byHotkey := make(map[string]chain.Neuron, len(neurons))
		for _, n := range neurons {
			byHotkey[n.Hotkey] = n
		}
		c.current = &snapshot{neurons: neurons, byHotkey: byHotkey, epochID: epochID, fetchedAt: time.Now()}
	} else if c.current != nil {
		// Stale fallback: bump the timestamp so subsequent calls don't
		// retry-storm the upstream chain (spec.md §4.6 "throttled retries").
		c.current.fetchedAt = time.Now()
	}
}

// fetchWithStrategy implements the 8-attempt fetch strategy: attempts 1-4 use
// the injected client directly (the "async" path in the original); attempts
// 5-8 are identical here since pkg/chain.Client has no separate sync/async
// distinction in Go — the split is kept as a comment-level artifact of the
// grounding source rather than two code paths, since Go's client is already
// safe to call from any goroutine.
func (c *Cache) fetchWithStrategy(ctx context.Context) ([]chain.Neuron, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.strategy.RetryDelay
	bo.Multiplier = 1.5
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0 // bounded by MaxAttempts instead of elapsed time

	var lastErr error

	for attempt := 1; attempt <= c.strategy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.strategy.AttemptTimeout)
		neurons, err := c.client.Metagraph(attemptCtx, c.netuid)
		cancel()

		if err == nil {
			return neurons, nil
		}
		lastErr = err

		usingSyncFallback := attempt > c.strategy.SwitchToSyncAfter
		c.logger.Warn().Err(err).Int("attempt", attempt).Bool("sync_fallback", usingSyncFallback).Msg("metagraph fetch attempt failed")

		if attempt < c.strategy.MaxAttempts {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}
