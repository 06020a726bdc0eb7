package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/epoch"
)

// WarmerPollInterval matches original_source/gateway/tasks/metagraph_warmer.go:
// frequent enough to catch an epoch boundary within a few seconds of it
// happening, cheap enough to run forever.
const WarmerPollInterval = 30 * time.Second

// MetagraphWarmer proactively fetches a new epoch's metagraph as soon as
// that epoch begins, so the registry cache's single in-flight-fetch
// guard (pkg/registry.Cache) is already past its network round trip by the
// time request traffic for the new epoch actually needs it — callers during
// the fetch keep serving the prior epoch's cached snapshot.
type MetagraphWarmer struct {
	chain     chain.Client
	metagraph MetagraphSource
	logger    zerolog.Logger

	lastWarmedEpoch int64
	everWarmed      bool
}

// NewMetagraphWarmer builds a MetagraphWarmer.
func NewMetagraphWarmer(chainClient chain.Client, metagraph MetagraphSource, logger zerolog.Logger) *MetagraphWarmer {
	return &MetagraphWarmer{
		chain:     chainClient,
		metagraph: metagraph,
		logger:    logger.With().Str("component", "metagraph_warmer").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (w *MetagraphWarmer) Run(ctx context.Context) {
	ticker := time.NewTicker(WarmerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkOnce(ctx)
		}
	}
}

func (w *MetagraphWarmer) checkOnce(ctx context.Context) {
	height, err := w.chain.CurrentBlock(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("poll current block failed, will retry next tick")
		return
	}
	currentEpoch := height / epoch.BlocksPerEpoch

	if w.everWarmed && currentEpoch == w.lastWarmedEpoch {
		return
	}
	w.everWarmed = true
	w.lastWarmedEpoch = currentEpoch

	if _, err := w.metagraph.GetMetagraph(ctx, currentEpoch); err != nil {
		w.logger.Warn().Err(err).Int64("epoch_id", currentEpoch).Msg("metagraph warm fetch failed")
	}
}
