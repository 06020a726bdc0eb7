// Package epoch implements the gateway's epoch state machine and block
// monitor (spec.md §4.1): a deterministic on_block handler driven by a
// polled, never-subscribed block height stream.
package epoch

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/database"
)

// BlocksPerEpoch is the fixed epoch window size (spec.md §2, §4.1).
const BlocksPerEpoch = 360

const (
	consensusWindowStart = 328
	consensusWindowEnd   = 330
	prefetchWindowStart  = 351
	prefetchWindowEnd    = 360
	sweepBlock           = 357
	startupGraceBlocks   = 10
)

// EventLogger is the transparency-log write surface Monitor depends on.
type EventLogger interface {
	LogEvent(ctx context.Context, eventType database.EventType, payload interface{}) error
}

// EpochInitializer runs the atomic initialize_epoch operation (pkg/leads).
type EpochInitializer interface {
	Initialize(ctx context.Context, epochID int64, createdBy string) (*database.EpochAssignment, error)
}

// LeadPrefetcher schedules the background prefetch for an epoch's
// assignment (pkg/leads).
type LeadPrefetcher interface {
	Trigger(ctx context.Context, epochID int64)
}

// ConsensusRecomputer re-runs the aggregator for one lead. *validation.Store
// returns the recomputed result alongside the error; the wiring in
// pkg/appctx adapts that down to the error-only shape this batch pass
// needs, since the result itself is already persisted by Recompute.
type ConsensusRecomputer interface {
	Recompute(ctx context.Context, leadID uuid.UUID, epochID int64) error
}

// SweepFunc schedules the deregistered-miner sweep for an upcoming epoch
// (spec.md §4.8); pkg/tasks supplies the actual implementation so this
// package never needs to depend on it.
type SweepFunc func(ctx context.Context, epochID int64)

// Monitor is the single-process, single-goroutine epoch state machine.
//
// CONCURRENCY: OnBlock must only ever be called from one goroutine at a
// time, in non-decreasing block-height order — the dedup sets below carry
// no internal locking because spec.md §5 places all of their manipulation
// on a single event-loop thread. Callers that need to poll the chain from a
// worker pool must still serialize the resulting OnBlock calls.
type Monitor struct {
	epochs      *database.EpochRepository
	initializer EpochInitializer
	prefetcher  LeadPrefetcher
	recompute   ConsensusRecomputer
	sweep       SweepFunc
	events      EventLogger
	logger      zerolog.Logger

	initializing    *epochSet
	initialized     *epochSet
	validationEnded *epochSet
	processing      *epochSet
	consensusDone   *epochSet

	firstBlockSeen   bool
	firstBlockHeight int64
}

// NewMonitor builds a Monitor. sweep may be nil to disable the sweep
// trigger (e.g. a deployment that runs it out-of-band).
func NewMonitor(epochs *database.EpochRepository, initializer EpochInitializer, prefetcher LeadPrefetcher, recompute ConsensusRecomputer, sweep SweepFunc, events EventLogger, logger zerolog.Logger) *Monitor {
	return &Monitor{
		epochs:          epochs,
		initializer:     initializer,
		prefetcher:      prefetcher,
		recompute:       recompute,
		sweep:           sweep,
		events:          events,
		logger:          logger.With().Str("component", "epoch_monitor").Logger(),
		initializing:    newEpochSet(),
		initialized:     newEpochSet(),
		validationEnded: newEpochSet(),
		processing:      newEpochSet(),
		consensusDone:   newEpochSet(),
	}
}

// OnBlock is idempotent and may trigger up to four actions per invocation
// (spec.md §4.1): epoch initialization, validation-end, the consensus batch
// pass, and the per-block prefetch/sweep schedulers. No transition here is
// fatal — a failed action is logged and left for the next poll to retry.
func (m *Monitor) OnBlock(ctx context.Context, blockHeight int64) {
	if !m.firstBlockSeen {
		m.firstBlockSeen = true
		m.firstBlockHeight = blockHeight
	}
	withinStartupGrace := blockHeight < m.firstBlockHeight+startupGraceBlocks

	epochID := blockHeight / BlocksPerEpoch
	blockWithinEpoch := blockHeight % BlocksPerEpoch

	m.tryInitialize(ctx, epochID)
	m.tryEndValidation(ctx, epochID-1)
	if !withinStartupGrace && blockWithinEpoch >= consensusWindowStart && blockWithinEpoch <= consensusWindowEnd {
		m.tryComputeConsensus(ctx, epochID-1)
	}

	if blockWithinEpoch == sweepBlock && m.sweep != nil {
		m.sweep(ctx, epochID+1)
	}
	if blockWithinEpoch >= prefetchWindowStart && blockWithinEpoch <= prefetchWindowEnd {
		m.prefetcher.Trigger(ctx, epochID+1)
	}
}

func (m *Monitor) tryInitialize(ctx context.Context, epochID int64) {
	if m.initialized.Contains(epochID) || m.initializing.Contains(epochID) {
		return
	}
	if _, err := m.epochs.Upsert(ctx, epochID, epochID*BlocksPerEpoch, (epochID+1)*BlocksPerEpoch); err != nil {
		m.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("epoch row upsert failed, will retry next block")
		return
	}

	m.initializing.Add(epochID)
	if _, err := m.initializer.Initialize(ctx, epochID, epochInitializationCreatedBy); err != nil {
		m.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("initialize_epoch failed, remains pending_init")
		m.initializing.Remove(epochID)
		return
	}

	if err := m.epochs.SetState(ctx, epochID, database.EpochStateActive); err != nil {
		m.logger.Error().Err(err).Int64("epoch_id", epochID).Msg("failed to persist active epoch state")
	}
	m.initializing.Remove(epochID)
	m.initialized.Add(epochID)
}

func (m *Monitor) tryEndValidation(ctx context.Context, epochID int64) {
	if epochID < 0 || !m.initialized.Contains(epochID) || m.validationEnded.Contains(epochID) {
		return
	}

	if err := m.events.LogEvent(ctx, database.EventTypeEpochEnd, epochEndPayload{EpochID: epochID}); err != nil {
		m.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("EPOCH_END log failed, will retry next block")
		return
	}
	assignment, err := m.epochs.GetAssignment(ctx, epochID)
	if err != nil {
		m.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("load assignment for EPOCH_INPUTS failed")
	} else if err := m.events.LogEvent(ctx, database.EventTypeEpochInputs, epochInputsPayload{
		EpochID:          epochID,
		AssignedLeadIDs:  assignment.AssignedLeadIDs,
		ValidatorHotkeys: assignment.ValidatorHotkeys,
	}); err != nil {
		m.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("EPOCH_INPUTS log failed")
	}

	if err := m.epochs.SetState(ctx, epochID, database.EpochStateValidationEnded); err != nil {
		m.logger.Error().Err(err).Int64("epoch_id", epochID).Msg("failed to persist validation_ended epoch state")
	}
	m.validationEnded.Add(epochID)
}

func (m *Monitor) tryComputeConsensus(ctx context.Context, epochID int64) {
	if epochID < 0 || !m.validationEnded.Contains(epochID) || m.consensusDone.Contains(epochID) || m.processing.Contains(epochID) {
		return
	}
	m.processing.Add(epochID)

	assignment, err := m.epochs.GetAssignment(ctx, epochID)
	if err != nil {
		m.logger.Warn().Err(err).Int64("epoch_id", epochID).Msg("load assignment for consensus batch failed, will retry")
		m.processing.Remove(epochID)
		return
	}

	var leadIDs []uuid.UUID
	if err := decodeLeadIDs(assignment.AssignedLeadIDs, &leadIDs); err != nil {
		m.logger.Error().Err(err).Int64("epoch_id", epochID).Msg("decode assigned lead ids failed")
		m.processing.Remove(epochID)
		return
	}

	for _, leadID := range leadIDs {
		if err := m.recompute.Recompute(ctx, leadID, epochID); err != nil {
			m.logger.Warn().Err(err).Int64("epoch_id", epochID).Str("lead_id", leadID.String()).Msg("consensus recompute failed for lead")
		}
	}

	if err := m.epochs.SetState(ctx, epochID, database.EpochStateConsensusComputed); err != nil {
		m.logger.Error().Err(err).Int64("epoch_id", epochID).Msg("failed to persist consensus_computed epoch state")
	}
	m.processing.Remove(epochID)
	m.consensusDone.Add(epochID)
}

const epochInitializationCreatedBy = "epoch_lifecycle"

type epochEndPayload struct {
	EpochID int64 `json:"epoch_id"`
}

type epochInputsPayload struct {
	EpochID          int64           `json:"epoch_id"`
	AssignedLeadIDs  json.RawMessage `json:"assigned_lead_ids"`
	ValidatorHotkeys json.RawMessage `json:"validator_hotkeys"`
}

func decodeLeadIDs(raw json.RawMessage, out *[]uuid.UUID) error {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return err
	}
	parsed := make([]uuid.UUID, len(ids))
	for i, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		parsed[i] = id
	}
	*out = parsed
	return nil
}
