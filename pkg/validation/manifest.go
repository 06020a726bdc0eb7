package validation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/merkle"
)

// emptyManifestRoot is returned for a validator with zero submitted
// evidence, mirroring the all-zero placeholder the original gateway used
// in place of a Merkle root over an empty leaf set (64 hex zeros, the
// length of a hex-encoded SHA-256 digest).
var emptyManifestRoot = strings.Repeat("0", sha256HexLen)

const sha256HexLen = 64

// EvidenceIDSource resolves the evidence ids a validator submitted during an
// epoch; *database.EvidenceRepository implements it.
type EvidenceIDSource interface {
	IDsByValidatorEpoch(ctx context.Context, validatorHotkey string, epochID int64) ([]uuid.UUID, error)
}

// ManifestInput is a validator's claim of epoch work completion
// (original_source/gateway/api/manifest.py's ManifestPayload).
type ManifestInput struct {
	EpochID         int64
	ValidationCount int
	ManifestRoot    string // hex
	ValidatorHotkey string
}

// ManifestEvent is the ManifestInput as recorded to the transparency log.
type ManifestEvent struct {
	EpochID         int64  `json:"epoch_id"`
	ValidationCount int    `json:"validation_count"`
	ManifestRoot    string `json:"manifest_root"`
	ValidatorHotkey string `json:"validator_hotkey"`
}

// EpochStateSource resolves whether an epoch has finished its validation
// window; *database.EpochRepository implements it.
type EpochStateSource interface {
	Get(ctx context.Context, epochID int64) (*database.Epoch, error)
}

// Manifest verifies and records validator epoch-completion manifests
// (SPEC_FULL.md §4 supplemented feature, grounded on
// original_source/gateway/api/manifest.py).
type Manifest struct {
	evidence EvidenceIDSource
	epochs   EpochStateSource
	events   EventLogger
}

// NewManifest builds a Manifest verifier.
func NewManifest(evidence EvidenceIDSource, epochs EpochStateSource, events EventLogger) *Manifest {
	return &Manifest{evidence: evidence, epochs: epochs, events: events}
}

// isEpochClosed reports whether state has left the active validation window
// (spec.md §4.1's implicit "closed" point, between validation_ended and
// consensus_computed).
func isEpochClosed(state database.EpochState) bool {
	return state == database.EpochStateValidationEnded ||
		state == database.EpochStateClosed ||
		state == database.EpochStateConsensusComputed
}

// Submit verifies a validator's claimed manifest root against the evidence
// it actually committed, then logs EPOCH_MANIFEST. Steps mirror
// manifest.py's submit_epoch_manifest: epoch-closed gate, count match,
// recomputed Merkle root match.
func (m *Manifest) Submit(ctx context.Context, in ManifestInput) error {
	epoch, err := m.epochs.Get(ctx, in.EpochID)
	if err != nil {
		return gatewayerr.Transient("load epoch for manifest check", err)
	}
	if !isEpochClosed(epoch.State) {
		return gatewayerr.Temporal("epoch is still active; wait for it to close before submitting a manifest")
	}

	ids, err := m.evidence.IDsByValidatorEpoch(ctx, in.ValidatorHotkey, in.EpochID)
	if err != nil {
		return gatewayerr.Transient("load validator evidence for manifest check", err)
	}
	if len(ids) != in.ValidationCount {
		return gatewayerr.Data("validation_count does not match the validator's committed evidence count")
	}

	computed := computeManifestRoot(ids)
	if !strings.EqualFold(computed, in.ManifestRoot) {
		return gatewayerr.Data("manifest_root does not match the recomputed root over committed evidence ids")
	}

	return m.events.LogEvent(ctx, database.EventTypeEpochManifest, ManifestEvent{
		EpochID:         in.EpochID,
		ValidationCount: in.ValidationCount,
		ManifestRoot:    computed,
		ValidatorHotkey: in.ValidatorHotkey,
	})
}

// computeManifestRoot hashes each evidence id's string form as a leaf, ordered
// by the caller (IDsByValidatorEpoch orders by evidence_id), matching
// manifest.py's compute_merkle_root(evidence_ids).
func computeManifestRoot(ids []uuid.UUID) string {
	if len(ids) == 0 {
		return emptyManifestRoot
	}
	leaves := make([][]byte, len(ids))
	for i, id := range ids {
		leaves[i] = merkle.HashData([]byte(id.String()))
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return emptyManifestRoot
	}
	return hex.EncodeToString(tree.Root())
}

// ManifestRecord is one decoded EPOCH_MANIFEST transparency event, used by
// the read-only stats/history endpoints.
type ManifestRecord struct {
	EpochID         int64  `json:"epoch_id"`
	ValidationCount int    `json:"validation_count"`
	ManifestRoot    string `json:"manifest_root"`
	ValidatorHotkey string `json:"validator_hotkey"`
	Timestamp       string `json:"timestamp"`
}

// ManifestEventSource resolves recent EPOCH_MANIFEST events;
// *database.TransparencyRepository implements it.
type ManifestEventSource interface {
	ByEventType(ctx context.Context, eventType database.EventType, limit int) ([]*database.TransparencyEvent, error)
}

// StatsForEpoch reports how many distinct validators submitted a manifest
// for epochID, against totalValidators (the caller passes the number of
// distinct validators that committed evidence for that epoch), mirroring
// manifest.py's get_manifest_stats.
func StatsForEpoch(ctx context.Context, events ManifestEventSource, epochID int64, totalValidators int, limit int) (submitted []string, missing int, err error) {
	records, err := recentManifests(ctx, events, limit)
	if err != nil {
		return nil, 0, err
	}

	seen := make(map[string]struct{})
	for _, r := range records {
		if r.EpochID != epochID {
			continue
		}
		if _, ok := seen[r.ValidatorHotkey]; ok {
			continue
		}
		seen[r.ValidatorHotkey] = struct{}{}
		submitted = append(submitted, r.ValidatorHotkey)
	}

	if totalValidators > len(submitted) {
		missing = totalValidators - len(submitted)
	}
	return submitted, missing, nil
}

// HistoryForValidator returns the validator's most recent manifests, newest
// first, up to limit.
func HistoryForValidator(ctx context.Context, events ManifestEventSource, validatorHotkey string, limit int) ([]ManifestRecord, error) {
	records, err := recentManifests(ctx, events, limit*8) // oversample since ByEventType isn't per-validator
	if err != nil {
		return nil, err
	}

	var out []ManifestRecord
	for _, r := range records {
		if r.ValidatorHotkey != validatorHotkey {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func recentManifests(ctx context.Context, events ManifestEventSource, limit int) ([]ManifestRecord, error) {
	rows, err := events.ByEventType(ctx, database.EventTypeEpochManifest, limit)
	if err != nil {
		return nil, gatewayerr.Transient("query manifest events", err)
	}

	out := make([]ManifestRecord, 0, len(rows))
	for _, row := range rows {
		var ev ManifestEvent
		if jsonErr := json.Unmarshal(row.Payload, &ev); jsonErr != nil {
			continue // tolerate a malformed historical row rather than failing the whole page
		}
		out = append(out, ManifestRecord{
			EpochID:         ev.EpochID,
			ValidationCount: ev.ValidationCount,
			ManifestRoot:    ev.ManifestRoot,
			ValidatorHotkey: ev.ValidatorHotkey,
			Timestamp:       row.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out, nil
}
