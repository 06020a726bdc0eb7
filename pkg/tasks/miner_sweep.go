package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/database"
)

// ActiveMinerSource resolves which miners currently hold a non-terminal
// lead; *database.LeadRepository satisfies this.
type ActiveMinerSource interface {
	DistinctActiveMinerHotkeys(ctx context.Context) ([]string, error)
	RemoveByMinerHotkey(ctx context.Context, minerHotkey string) (int64, error)
}

// MetagraphSource resolves the registered neuron set for an epoch;
// *registry.Cache satisfies this.
type MetagraphSource interface {
	GetMetagraph(ctx context.Context, currentEpoch int64) ([]chain.Neuron, error)
}

// MinerSweep marks every pending_validation, validating, or denied lead
// belonging to a miner no longer present in the metagraph as removed
// (spec.md §4.8), grounded on
// original_source/gateway/tasks/miner_cleanup.go's
// cleanup_deregistered_miner_leads: fetch the (already-cached) metagraph,
// diff against the active-lead miner set, then mark each deregistered
// miner's leads removed and log one event summarizing the sweep. Nothing is
// deleted: lead rows stay with status removed, and their validation
// evidence rows are not touched.
type MinerSweep struct {
	leads     ActiveMinerSource
	metagraph MetagraphSource
	events    EventAppender
	logger    zerolog.Logger
}

// NewMinerSweep builds a MinerSweep. Its Run method has the epoch.SweepFunc
// signature and is meant to be passed directly to epoch.NewMonitor.
func NewMinerSweep(leads ActiveMinerSource, metagraph MetagraphSource, events EventAppender, logger zerolog.Logger) *MinerSweep {
	return &MinerSweep{
		leads:     leads,
		metagraph: metagraph,
		events:    events,
		logger:    logger.With().Str("component", "miner_sweep").Logger(),
	}
}

type deregisteredMinerRemovalPayload struct {
	EpochID       int64    `json:"epoch_id"`
	RemovedMiners []string `json:"removed_miners"`
	LeadsRemoved  int64    `json:"leads_removed"`
}

// Run performs one sweep for epochID. A metagraph fetch failure skips the
// sweep entirely for this trigger — original_source does the same rather
// than risk removing leads from a miner that is in fact still registered
// but briefly unreachable.
func (m *MinerSweep) Run(ctx context.Context, epochID int64) {
	neurons, err := m.metagraph.GetMetagraph(ctx, epochID)
	if err != nil {
		m.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("metagraph fetch failed, skipping sweep this epoch")
		return
	}
	registered := make(map[string]struct{}, len(neurons))
	for _, n := range neurons {
		registered[n.Hotkey] = struct{}{}
	}

	active, err := m.leads.DistinctActiveMinerHotkeys(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("load active miner hotkeys failed, skipping sweep this epoch")
		return
	}

	var removedMiners []string
	var totalRemoved int64
	for _, hotkey := range active {
		if _, ok := registered[hotkey]; ok {
			continue
		}
		n, err := m.leads.RemoveByMinerHotkey(ctx, hotkey)
		if err != nil {
			m.logger.Error().Err(err).Str("miner_hotkey", hotkey).Msg("remove leads for deregistered miner failed")
			continue
		}
		if n > 0 {
			removedMiners = append(removedMiners, hotkey)
			totalRemoved += n
		}
	}

	if len(removedMiners) == 0 {
		return
	}

	m.logger.Info().Int64("epoch_id", epochID).Strs("miners", removedMiners).Int64("leads_removed", totalRemoved).Msg("deregistered miner sweep removed leads")
	if err := m.events.LogEvent(ctx, database.EventTypeDeregisteredMinerRemoval, deregisteredMinerRemovalPayload{
		EpochID:       epochID,
		RemovedMiners: removedMiners,
		LeadsRemoved:  totalRemoved,
	}); err != nil {
		m.logger.Error().Err(err).Int64("epoch_id", epochID).Msg("log DEREGISTERED_MINER_REMOVAL event failed")
	}
}
