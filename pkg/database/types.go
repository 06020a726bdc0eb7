// Package database provides the row types backing the gateway's persistent
// store. These map directly onto the schema in migrations/.
package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// LEAD TYPES
// ============================================================================

// LeadStatus tracks a lead's position in the commit-reveal lifecycle.
type LeadStatus string

const (
	LeadStatusPendingValidation LeadStatus = "pending_validation"
	LeadStatusValidating        LeadStatus = "validating"
	LeadStatusApproved          LeadStatus = "approved"
	LeadStatusDenied            LeadStatus = "denied"
	LeadStatusRemoved           LeadStatus = "removed"
)

// Lead represents a single submitted lead record.
// Maps to: leads_private table.
type Lead struct {
	LeadID             uuid.UUID       `db:"lead_id" json:"lead_id"`
	MinerHotkey        string          `db:"miner_hotkey" json:"miner_hotkey"`
	LeadBlob           json.RawMessage `db:"lead_blob" json:"lead_blob"`
	LeadBlobHash       []byte          `db:"lead_blob_hash" json:"lead_blob_hash"`
	EmailHash          []byte          `db:"email_hash" json:"email_hash"`
	LinkedInComboHash  sql.NullString  `db:"linkedin_combo_hash" json:"linkedin_combo_hash,omitempty"`
	Status             LeadStatus      `db:"status" json:"status"`
	CreatedTS          time.Time       `db:"created_ts" json:"created_ts"`
	ConsensusSnapshot  json.RawMessage `db:"consensus_snapshot" json:"consensus_snapshot,omitempty"`
	ICPMultiplier      sql.NullFloat64 `db:"icp_multiplier" json:"icp_multiplier,omitempty"`
}

// NewLead is used to insert a freshly submitted lead.
type NewLead struct {
	MinerHotkey       string
	LeadBlob          json.RawMessage
	LeadBlobHash      []byte
	EmailHash         []byte
	LinkedInComboHash string // empty if not computable
}

// ============================================================================
// EPOCH TYPES
// ============================================================================

// EpochState is the per-epoch lifecycle state (spec.md §4.1).
type EpochState string

const (
	EpochStatePendingInit        EpochState = "pending_init"
	EpochStateActive             EpochState = "active"
	EpochStateValidationEnded    EpochState = "validation_ended"
	EpochStateClosed             EpochState = "closed"
	EpochStateConsensusComputed  EpochState = "consensus_computed"
)

// Epoch represents one 360-block validation window.
// Maps to: epochs table.
type Epoch struct {
	EpochID    int64      `db:"epoch_id" json:"epoch_id"`
	StartBlock int64      `db:"start_block" json:"start_block"`
	EndBlock   int64      `db:"end_block" json:"end_block"`
	CloseBlock int64      `db:"close_block" json:"close_block"`
	State      EpochState `db:"state" json:"state"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// EpochAssignment is the materialized lead queue for an epoch, carried in the
// EPOCH_INITIALIZATION transparency event payload and mirrored here for fast
// read access (spec.md §3 EpochAssignment / §4.2).
// Maps to: epoch_assignments table.
type EpochAssignment struct {
	EpochID          int64           `db:"epoch_id" json:"epoch_id"`
	AssignedLeadIDs  json.RawMessage `db:"assigned_lead_ids" json:"assigned_lead_ids"` // JSON array of uuid strings, ordered
	QueueMerkleRoot  sql.NullString  `db:"queue_merkle_root" json:"queue_merkle_root,omitempty"`
	ValidatorHotkeys json.RawMessage `db:"validator_hotkeys" json:"validator_hotkeys"`
	PendingLeadCount int             `db:"pending_lead_count" json:"pending_lead_count"`
	CreatedBy        string          `db:"created_by" json:"created_by"` // "epoch_lifecycle" or "leads_fallback"
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// ============================================================================
// VALIDATION EVIDENCE TYPES
// ============================================================================

// Decision is the validator's revealed verdict on a lead.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// ValidationEvidence is one validator's commit-reveal row for one lead in one
// epoch (spec.md §3 ValidationEvidence / §4.3).
// Maps to: validation_evidence_private table.
type ValidationEvidence struct {
	EvidenceID          uuid.UUID       `db:"evidence_id" json:"evidence_id"`
	ValidatorHotkey     string          `db:"validator_hotkey" json:"validator_hotkey"`
	LeadID              uuid.UUID       `db:"lead_id" json:"lead_id"`
	EpochID             int64           `db:"epoch_id" json:"epoch_id"`
	DecisionHash        []byte          `db:"decision_hash" json:"decision_hash"`
	RepScoreHash        []byte          `db:"rep_score_hash" json:"rep_score_hash"`
	RejectionReasonHash []byte          `db:"rejection_reason_hash" json:"rejection_reason_hash"`
	EvidenceBlob        json.RawMessage `db:"evidence_blob" json:"evidence_blob,omitempty"`
	Decision            sql.NullString  `db:"decision" json:"decision,omitempty"`
	RepScore            sql.NullInt32   `db:"rep_score" json:"rep_score,omitempty"`
	RejectionReason      sql.NullString `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Salt                sql.NullString  `db:"salt" json:"salt,omitempty"`
	VTrust              sql.NullFloat64 `db:"v_trust" json:"v_trust,omitempty"`
	Stake               sql.NullFloat64 `db:"stake" json:"stake,omitempty"`
	CommittedAt         time.Time       `db:"committed_at" json:"committed_at"`
	RevealedTS          sql.NullTime    `db:"revealed_ts" json:"revealed_ts,omitempty"`
}

// NewValidationCommit is used to insert the commit-phase row.
type NewValidationCommit struct {
	ValidatorHotkey     string
	LeadID              uuid.UUID
	EpochID             int64
	DecisionHash        []byte
	RepScoreHash        []byte
	RejectionReasonHash []byte
	EvidenceBlob        json.RawMessage
}

// RevealInput is used to apply the reveal-phase update.
type RevealInput struct {
	EvidenceID      uuid.UUID
	Decision        Decision
	RepScore        int
	RejectionReason string
	Salt            string
}

// ============================================================================
// TRANSPARENCY LOG TYPES
// ============================================================================

// EventType enumerates the closed set of transparency log event kinds
// (spec.md §4.5.4).
type EventType string

const (
	EventTypeSubmission               EventType = "SUBMISSION"
	EventTypeValidationCommit         EventType = "VALIDATION_COMMIT"
	EventTypeReveal                   EventType = "REVEAL"
	EventTypeEpochInitialization      EventType = "EPOCH_INITIALIZATION"
	EventTypeEpochEnd                 EventType = "EPOCH_END"
	EventTypeEpochInputs              EventType = "EPOCH_INPUTS"
	EventTypeConsensusResult          EventType = "CONSENSUS_RESULT"
	EventTypeArweaveCheckpoint        EventType = "ARWEAVE_CHECKPOINT"
	EventTypeDeregisteredMinerRemoval EventType = "DEREGISTERED_MINER_REMOVAL"
	EventTypeEnclaveRestart           EventType = "ENCLAVE_RESTART"
	EventTypeAnchorRoot               EventType = "ANCHOR_ROOT"

	// EventTypeEpochManifest is a supplemented event kind (not in spec.md's
	// closed set) carrying a validator's proof of epoch work completion;
	// see pkg/validation.Manifest.
	EventTypeEpochManifest EventType = "EPOCH_MANIFEST"
)

// TransparencyEvent is one hash-chained log entry (spec.md §3, §4.5).
// Maps to: transparency_log table.
type TransparencyEvent struct {
	EventID          int64           `db:"event_id" json:"event_id"` // monotonic log-local primary key
	EventType        EventType       `db:"event_type" json:"event_type"`
	BootID           uuid.UUID       `db:"boot_id" json:"boot_id"`
	MonotonicSeq     int64           `db:"monotonic_seq" json:"monotonic_seq"`
	PrevEventHash    []byte          `db:"prev_event_hash" json:"prev_event_hash"`
	Timestamp        time.Time       `db:"timestamp" json:"timestamp"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	EventHash        []byte          `db:"event_hash" json:"event_hash"`
	EnclavePubkey    []byte          `db:"enclave_pubkey" json:"enclave_pubkey"`
	EnclaveSignature []byte          `db:"enclave_signature" json:"enclave_signature"`
	CheckpointNumber sql.NullInt64   `db:"checkpoint_number" json:"checkpoint_number,omitempty"`
}

// ============================================================================
// CHECKPOINT TYPES
// ============================================================================

// Checkpoint is a periodically-popped, Merkle-rooted batch of transparency
// events, compressed and anchored to permanent storage (spec.md §3, §4.5.5).
// Maps to: checkpoints table.
type Checkpoint struct {
	CheckpointNumber int64           `db:"checkpoint_number" json:"checkpoint_number"`
	EventCount       int             `db:"event_count" json:"event_count"`
	MerkleRoot       []byte          `db:"merkle_root" json:"merkle_root"`
	TreeLevels       json.RawMessage `db:"tree_levels" json:"tree_levels"`
	RangeStart       time.Time       `db:"range_start" json:"range_start"`
	RangeEnd         time.Time       `db:"range_end" json:"range_end"`
	HeaderSignature  []byte          `db:"header_signature" json:"header_signature"`
	CompressedBatch  []byte          `db:"compressed_batch" json:"-"`
	PermanentTxID    sql.NullString  `db:"permanent_tx_id" json:"permanent_tx_id,omitempty"`
	UploadedAt       sql.NullTime    `db:"uploaded_at" json:"uploaded_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// ============================================================================
// UUID HELPERS
// ============================================================================

// NullUUID re-exports uuid.NullUUID for nullable-UUID database columns.
type NullUUID = uuid.NullUUID

// ParseUUID parses a string into a UUID.
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// NewUUID generates a new random UUID.
func NewUUID() uuid.UUID {
	return uuid.New()
}
