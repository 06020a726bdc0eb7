// Package tasks runs the gateway's long-lived background actors: the
// chain-block poller that drives the epoch state machine, the checkpoint
// batcher and daily anchor that carry transparency-log events to permanent
// storage, the deregistered-miner sweep, and the metagraph warmer. Every
// actor follows the same shape as the teacher's pkg/anchor.AnchorSchedulerService
// (a struct holding its dependencies and a ticker-driven loop selecting on
// ctx.Done() alongside the ticker) rather than a bare goroutine. Each one
// exposes a single Run(ctx) method that returns when ctx is cancelled, so it
// can be started, stopped, and tested in isolation.
package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/epoch"
)

// BlockPollInterval matches the teacher and original_source's epoch
// monitor: poll, never subscribe (spec.md §6.5).
const BlockPollInterval = 12 * time.Second

// BlockPoller polls the chain tip and feeds every observed height to an
// epoch.Monitor, one block at a time, in order. It is the single caller of
// Monitor.OnBlock in the process — the concurrency contract OnBlock
// documents depends on that.
type BlockPoller struct {
	chain   chain.Client
	monitor *epoch.Monitor
	logger  zerolog.Logger

	interval   time.Duration
	lastHeight int64
	haveLast   bool
}

// NewBlockPoller builds a BlockPoller against monitor.
func NewBlockPoller(chainClient chain.Client, monitor *epoch.Monitor, logger zerolog.Logger) *BlockPoller {
	return &BlockPoller{
		chain:    chainClient,
		monitor:  monitor,
		logger:   logger.With().Str("component", "block_poller").Logger(),
		interval: BlockPollInterval,
	}
}

// Run polls until ctx is cancelled. A failed poll is logged and retried on
// the next tick — the chain client's own transport has no subscription to
// lose, so there is nothing to reconnect.
func (p *BlockPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *BlockPoller) pollOnce(ctx context.Context) {
	height, err := p.chain.CurrentBlock(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("poll current block failed, will retry next tick")
		return
	}
	if p.haveLast && height <= p.lastHeight {
		return
	}
	p.haveLast = true
	p.lastHeight = height
	p.monitor.OnBlock(ctx, height)
}
