package tasks

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/arweave"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/metrics"
	"github.com/leadpoet/validator-gateway/pkg/tee"
	"github.com/leadpoet/validator-gateway/pkg/translog"
)

// CheckpointInterval matches original_source/gateway/tasks/hourly_batch.go's
// BATCH_INTERVAL: a fixed cadence keeps Arweave upload cost predictable
// regardless of traffic.
const CheckpointInterval = 3 * time.Hour

// EmergencyBufferThreshold forces an out-of-cadence checkpoint if the
// enclave's unconfirmed buffer grows past this size, so a traffic spike
// never leaves an unbounded amount of unanchored history in memory.
const EmergencyBufferThreshold = 8000

// EventAppender is the transparency-log write surface CheckpointBatcher
// depends on for its own ARWEAVE_CHECKPOINT record.
type EventAppender interface {
	LogEvent(ctx context.Context, eventType database.EventType, payload interface{}) error
}

// CheckpointBatcher periodically builds a checkpoint from the enclave's
// buffered events, uploads it to permanent storage, and clears the buffer
// once the upload is confirmed (spec.md §4.5.5), grounded on
// original_source/gateway/tasks/hourly_batch.go's
// build→compress→upload→confirm→clear flow.
type CheckpointBatcher struct {
	enclave     *tee.Enclave
	checkpoints *database.CheckpointRepository
	arweave     arweave.Client
	events      EventAppender
	metrics     *metrics.Registry
	logger      zerolog.Logger

	pollConfig       arweave.PollConfig
	nextCheckpointNo int64
}

// NewCheckpointBatcher builds a CheckpointBatcher. startingCheckpointNumber
// is one past the highest checkpoint_number already persisted (0 on a fresh
// deployment).
func NewCheckpointBatcher(
	enclave *tee.Enclave,
	checkpoints *database.CheckpointRepository,
	arweaveClient arweave.Client,
	events EventAppender,
	m *metrics.Registry,
	startingCheckpointNumber int64,
	logger zerolog.Logger,
) *CheckpointBatcher {
	return &CheckpointBatcher{
		enclave:          enclave,
		checkpoints:      checkpoints,
		arweave:          arweaveClient,
		events:           events,
		metrics:          m,
		logger:           logger.With().Str("component", "checkpoint_batcher").Logger(),
		pollConfig:       arweave.DefaultPollConfig(),
		nextCheckpointNo: startingCheckpointNumber,
	}
}

type arweaveCheckpointPayload struct {
	CheckpointNumber int64  `json:"checkpoint_number"`
	MerkleRoot       string `json:"merkle_root"`
	EventCount       int    `json:"event_count"`
	TxID             string `json:"tx_id"`
}

// Run ticks on CheckpointInterval, additionally checking the enclave's
// buffer every minute so the emergency threshold is never more than a
// minute late.
func (b *CheckpointBatcher) Run(ctx context.Context) {
	cadence := time.NewTicker(CheckpointInterval)
	defer cadence.Stop()
	emergencyCheck := time.NewTicker(time.Minute)
	defer emergencyCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cadence.C:
			b.runOnce(ctx)
		case <-emergencyCheck.C:
			if b.enclave.GetBufferStats().Size >= EmergencyBufferThreshold {
				b.logger.Warn().Msg("emergency checkpoint threshold reached, batching early")
				b.runOnce(ctx)
			}
		}
	}
}

func (b *CheckpointBatcher) runOnce(ctx context.Context) {
	cp, err := translog.BuildCheckpoint(b.enclave)
	if err != nil {
		b.logger.Error().Err(err).Msg("build checkpoint failed")
		return
	}

	checkpointNumber := b.nextCheckpointNo
	row, err := b.checkpoints.Create(ctx, cp.ToRow(checkpointNumber))
	if err != nil {
		b.logger.Error().Err(err).Int64("checkpoint_number", checkpointNumber).Msg("persist checkpoint failed")
		return
	}
	b.nextCheckpointNo++

	if b.metrics != nil {
		b.metrics.CheckpointsBuiltTotal.Inc()
		b.metrics.CheckpointEventCount.Observe(float64(cp.EventCount))
	}

	result, err := arweave.UploadAndConfirm(ctx, b.arweave, cp.CompressedBatch, map[string]string{
		"checkpoint_number": strconv.FormatInt(checkpointNumber, 10),
	}, b.pollConfig)
	if err != nil {
		b.logger.Error().Err(err).Int64("checkpoint_number", checkpointNumber).Msg("arweave upload/confirm failed, buffer retained for next pass")
		return
	}

	if err := b.checkpoints.MarkUploaded(ctx, checkpointNumber, result.TxID); err != nil {
		b.logger.Error().Err(err).Int64("checkpoint_number", checkpointNumber).Msg("mark checkpoint uploaded failed")
		return
	}

	if err := b.events.LogEvent(ctx, database.EventTypeArweaveCheckpoint, arweaveCheckpointPayload{
		CheckpointNumber: checkpointNumber,
		MerkleRoot:       hex.EncodeToString(row.MerkleRoot),
		EventCount:       cp.EventCount,
		TxID:             result.TxID,
	}); err != nil {
		b.logger.Error().Err(err).Int64("checkpoint_number", checkpointNumber).Msg("log ARWEAVE_CHECKPOINT event failed")
	}

	// Only now is it safe to drop the events this checkpoint covers: the
	// upload is confirmed on permanent storage (spec.md §4.5.5 step 3).
	if cp.UpToSeq >= 0 {
		cleared := b.enclave.ClearBuffer(cp.UpToSeq)
		b.logger.Info().Int64("checkpoint_number", checkpointNumber).Int("cleared", cleared).Str("tx_id", result.TxID).Msg("checkpoint anchored")
	}
}
