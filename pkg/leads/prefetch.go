package leads

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/database"
)

// PrefetchRetryDelay and PrefetchAttemptTimeout match spec.md §4.2's
// prefetch retry policy: unbounded attempts, 5s between tries, 30s budget
// for each one.
const (
	PrefetchRetryDelay     = 5 * time.Second
	PrefetchAttemptTimeout = 30 * time.Second
)

// Prefetcher runs the background fetch-ahead for the next epoch's
// assignment, triggered from pkg/epoch's block monitor during blocks
// [351, 360] of the current epoch.
type Prefetcher struct {
	leadRepo *database.LeadRepository
	registry RegistrySource
	cache    *Cache
	logger   zerolog.Logger

	mu       sync.Mutex
	inFlight map[int64]bool
}

// NewPrefetcher builds a Prefetcher writing into cache.
func NewPrefetcher(leadRepo *database.LeadRepository, registry RegistrySource, cache *Cache, logger zerolog.Logger) *Prefetcher {
	return &Prefetcher{
		leadRepo: leadRepo,
		registry: registry,
		cache:    cache,
		logger:   logger.With().Str("component", "leads_prefetch").Logger(),
		inFlight: make(map[int64]bool),
	}
}

// Trigger starts a background prefetch for epochID unless one is already
// running. It is idempotent and safe to call on every matching block —
// pkg/epoch's monitor calls it once per block in the prefetch window, but
// only the first call per epoch actually starts a goroutine.
func (p *Prefetcher) Trigger(ctx context.Context, epochID int64) {
	p.mu.Lock()
	if p.inFlight[epochID] {
		p.mu.Unlock()
		return
	}
	if _, ok := p.cache.Get(epochID); ok {
		p.mu.Unlock()
		return
	}
	p.inFlight[epochID] = true
	p.mu.Unlock()

	go p.run(ctx, epochID)
}

func (p *Prefetcher) run(ctx context.Context, epochID int64) {
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, epochID)
		p.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, PrefetchAttemptTimeout)
		assignment, err := Compute(attemptCtx, p.leadRepo, p.registry, epochID)
		cancel()

		if err == nil {
			p.cache.Put(assignment)
			return
		}

		p.logger.Warn().Err(err).Int64("epoch_id", epochID).Int("attempt", attempt).Msg("prefetch attempt failed")

		select {
		case <-time.After(PrefetchRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}
