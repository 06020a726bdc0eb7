package tasks

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/database"
)

// AnchorInterval matches original_source/gateway/tasks/anchor.go's daily
// cadence: infrequent enough that even an on-chain extrinsic submission
// (out of scope here — see AnchorTask's doc comment) would stay cheap.
const AnchorInterval = 24 * time.Hour

// AnchorTask periodically republishes the latest confirmed checkpoint's
// Merkle root as an ANCHOR_ROOT transparency event, the public record a
// verifier checks without needing to trust any single gateway's read path.
// A real deployment would also submit this root as Bittensor subnet
// metadata via a substrate extrinsic; that on-chain leg is out of scope
// (spec.md Non-goals) and left as the one step original_source's own
// daily_anchor_task marks "(Future)".
type AnchorTask struct {
	checkpoints *database.CheckpointRepository
	events      EventAppender
	logger      zerolog.Logger
}

// NewAnchorTask builds an AnchorTask.
func NewAnchorTask(checkpoints *database.CheckpointRepository, events EventAppender, logger zerolog.Logger) *AnchorTask {
	return &AnchorTask{
		checkpoints: checkpoints,
		events:      events,
		logger:      logger.With().Str("component", "anchor_task").Logger(),
	}
}

type anchorRootPayload struct {
	CheckpointNumber int64  `json:"checkpoint_number"`
	MerkleRoot       string `json:"merkle_root"`
	PermanentTxID    string `json:"permanent_tx_id,omitempty"`
}

// Run ticks once per AnchorInterval until ctx is cancelled.
func (a *AnchorTask) Run(ctx context.Context) {
	ticker := time.NewTicker(AnchorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *AnchorTask) runOnce(ctx context.Context) {
	latest, err := a.checkpoints.Latest(ctx)
	if err != nil {
		if errors.Is(err, database.ErrCheckpointNotFound) {
			a.logger.Debug().Msg("no checkpoint yet, nothing to anchor")
			return
		}
		a.logger.Error().Err(err).Msg("load latest checkpoint for anchoring failed")
		return
	}

	if err := a.events.LogEvent(ctx, database.EventTypeAnchorRoot, anchorRootPayload{
		CheckpointNumber: latest.CheckpointNumber,
		MerkleRoot:       hex.EncodeToString(latest.MerkleRoot),
		PermanentTxID:    latest.PermanentTxID.String,
	}); err != nil {
		a.logger.Error().Err(err).Int64("checkpoint_number", latest.CheckpointNumber).Msg("log ANCHOR_ROOT event failed")
	}
}
