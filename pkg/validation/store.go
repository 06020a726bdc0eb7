// Package validation implements the commit-reveal protocol's persistence
// and the stake-weighted consensus aggregator (spec.md §4.3, §4.4), grounded
// on original_source/gateway/utils/consensus.py's compute_weighted_consensus
// and original_source/gateway/api/validation.py's commit/reveal handlers.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/registry"
)

// EventLogger is the transparency-log write surface the store depends on.
// pkg/translog.Logger satisfies this; kept as an interface here so pkg/validation
// never imports the enclave/hash-chain machinery directly.
type EventLogger interface {
	LogEvent(ctx context.Context, eventType database.EventType, payload interface{}) error
}

// RateLimiter is the per-miner counter surface (spec.md §4.7); pkg/ratelimit
// implements it. ReserveSubmission is the CAS-style increment at /submit
// (bumps both submissions and slot_reservations, gated by the rolling-window
// cap). MarkResolved releases the slot reservation once a lead reaches a
// terminal consensus outcome; rejected=true additionally bumps the
// rejections counter (spec.md §4.7's mark_submission_failed — never
// double-counted against submissions).
type RateLimiter interface {
	ReserveSubmission(ctx context.Context, minerHotkey string) error
	MarkResolved(ctx context.Context, minerHotkey string, rejected bool) error
}

// RegistrySource resolves role and stake/trust for a hotkey at a given epoch;
// *registry.Cache implements it.
type RegistrySource interface {
	Classify(ctx context.Context, currentEpoch int64, hotkey string) (registry.Classification, error)
	Neuron(ctx context.Context, currentEpoch int64, hotkey string) (chain.Neuron, bool, error)
}

// SubmitInput is one miner's lead submission (spec.md §4.3.1).
type SubmitInput struct {
	MinerHotkey       string
	LeadBlob          json.RawMessage
	EmailNormalized   string // lowercased, trimmed email; hashed here
	LinkedInComboHash string // already computed by pkg/linkedin, may be empty
}

// CommitInput is one validator's hash-commitment (spec.md §4.3.2).
type CommitInput struct {
	ValidatorHotkey     string
	LeadID              uuid.UUID
	EpochID             int64
	DecisionHash        []byte
	RepScoreHash        []byte
	RejectionReasonHash []byte
	EvidenceBlob        json.RawMessage
}

// RevealInput is one validator's reveal of a prior commit (spec.md §4.3.3).
type RevealInput struct {
	EvidenceID      uuid.UUID
	ValidatorHotkey string
	CurrentEpochID  int64 // epoch the reveal call is happening in
	Decision        database.Decision
	RepScore        int
	RejectionReason string
	Salt            string
}

// RevealResult reports what a reveal call did, including the idempotent
// re-reveal case (spec.md §4.3.3 "no state change").
type RevealResult struct {
	AlreadyRevealed bool
	Evidence        *database.ValidationEvidence
	Consensus       *Result // nil for an idempotent re-reveal; otherwise the eager recompute after this reveal (§4.3.3)
}

// Store implements the commit-reveal ingress and ties reveals to the eager
// consensus recomputation (spec.md §4.3, §4.4).
type Store struct {
	leads      *database.LeadRepository
	epochs     *database.EpochRepository
	evidence   *database.EvidenceRepository
	registry   RegistrySource
	events     EventLogger
	limiter    RateLimiter
	aggregator *Aggregator

	// leaseMu guards leases; each lead gets its own *sync.Mutex so an eager
	// per-reveal recompute can never race the block-330 batch pass into an
	// inconsistent status for the same lead (spec.md §9 Open Question 2).
	leaseMu sync.Mutex
	leases  map[uuid.UUID]*sync.Mutex
}

// NewStore builds a Store.
func NewStore(leads *database.LeadRepository, epochs *database.EpochRepository, evidence *database.EvidenceRepository, registry RegistrySource, events EventLogger, limiter RateLimiter) *Store {
	return &Store{
		leads:      leads,
		epochs:     epochs,
		evidence:   evidence,
		registry:   registry,
		events:     events,
		limiter:    limiter,
		aggregator: NewAggregator(),
		leases:     make(map[uuid.UUID]*sync.Mutex),
	}
}

// leaseFor returns the exclusive lock for leadID, creating it on first use.
func (s *Store) leaseFor(leadID uuid.UUID) *sync.Mutex {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	lease, ok := s.leases[leadID]
	if !ok {
		lease = &sync.Mutex{}
		s.leases[leadID] = lease
	}
	return lease
}

// Submit ingests a miner's lead (spec.md §4.3.1). Caller authentication
// (signature + registered-miner check) is expected to have already happened
// in pkg/auth; Submit enforces the remaining content-level gates: dedup and
// rate limiting.
func (s *Store) Submit(ctx context.Context, in SubmitInput) (*database.Lead, error) {
	emailHash := sha256.Sum256([]byte(in.EmailNormalized))

	exists, err := s.leads.ExistsByDedupHashes(ctx, emailHash[:], in.LinkedInComboHash)
	if err != nil {
		return nil, gatewayerr.Transient("check lead dedup", err)
	}
	if exists {
		return nil, gatewayerr.Data("lead already submitted (email or linkedin match)")
	}

	if err := s.limiter.ReserveSubmission(ctx, in.MinerHotkey); err != nil {
		return nil, err
	}

	blobHash := sha256.Sum256(canonicalize(in.LeadBlob))
	lead, err := s.leads.Create(ctx, database.NewLead{
		MinerHotkey:       in.MinerHotkey,
		LeadBlob:          in.LeadBlob,
		LeadBlobHash:      blobHash[:],
		EmailHash:         emailHash[:],
		LinkedInComboHash: in.LinkedInComboHash,
	})
	if err != nil {
		if err == database.ErrDuplicateLead {
			return nil, gatewayerr.Wrap(gatewayerr.CodeData, "lead already submitted (email or linkedin match)", err)
		}
		return nil, gatewayerr.Transient("insert lead", err)
	}

	if err := s.events.LogEvent(ctx, database.EventTypeSubmission, submissionPayload{
		LeadID:      lead.LeadID.String(),
		MinerHotkey: lead.MinerHotkey,
		EmailHash:   hex.EncodeToString(lead.EmailHash),
	}); err != nil {
		return nil, gatewayerr.Invariant("log submission event", err)
	}

	return lead, nil
}

type submissionPayload struct {
	LeadID      string `json:"lead_id"`
	MinerHotkey string `json:"miner_hotkey"`
	EmailHash   string `json:"email_hash"`
}

// canonicalize is a best-effort compaction used only for lead_blob_hash;
// the transparency log's own hashing goes through pkg/canonical, but the
// lead blob is caller-opaque JSON so a plain compact round-trip is enough
// to make the hash stable across re-serialization with the same keys.
func canonicalize(raw json.RawMessage) []byte {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// maxCommitBlock is the tightened end of the validation-commit window
// (spec.md §4.3.2 allows [0,355]; implementers may tighten to leave margin
// before the validation-end block at 360 — this gateway uses 350).
const maxCommitBlock = 350

// Commit records a validator's hash-commitment for a lead (spec.md §4.3.2).
// blockWithinEpoch is the caller-supplied current position within epochID.
func (s *Store) Commit(ctx context.Context, in CommitInput, blockWithinEpoch int64) (*database.ValidationEvidence, error) {
	cls, err := s.registry.Classify(ctx, in.EpochID, in.ValidatorHotkey)
	if err != nil {
		return nil, gatewayerr.Transient("classify validator", err)
	}
	if !cls.Registered || cls.Role != chain.RoleValidator {
		return nil, gatewayerr.Auth("hotkey is not a registered active validator")
	}

	if blockWithinEpoch < 0 || blockWithinEpoch > maxCommitBlock {
		return nil, gatewayerr.Temporal("epoch is not in its active commit window")
	}

	assignment, err := s.epochs.GetAssignment(ctx, in.EpochID)
	if err != nil {
		if err == database.ErrAssignmentNotFound {
			return nil, gatewayerr.Wrap(gatewayerr.CodeData, "epoch has no materialized assignment yet", err)
		}
		return nil, gatewayerr.Transient("load epoch assignment", err)
	}
	if !leadInAssignment(assignment, in.LeadID) {
		return nil, gatewayerr.Data("lead is not assigned to this epoch")
	}

	if _, err := s.evidence.FindCommit(ctx, in.ValidatorHotkey, in.LeadID, in.EpochID); err == nil {
		return nil, gatewayerr.Data("validator has already committed for this lead in this epoch")
	} else if err != database.ErrEvidenceNotFound {
		return nil, gatewayerr.Transient("check prior commit", err)
	}

	e, err := s.evidence.Commit(ctx, database.NewValidationCommit{
		ValidatorHotkey:     in.ValidatorHotkey,
		LeadID:              in.LeadID,
		EpochID:             in.EpochID,
		DecisionHash:        in.DecisionHash,
		RepScoreHash:        in.RepScoreHash,
		RejectionReasonHash: in.RejectionReasonHash,
		EvidenceBlob:        in.EvidenceBlob,
	})
	if err != nil {
		if err == database.ErrDuplicateEvidence {
			return nil, gatewayerr.Wrap(gatewayerr.CodeData, "validator has already committed for this lead in this epoch", err)
		}
		return nil, gatewayerr.Transient("insert validation commit", err)
	}

	if err := s.events.LogEvent(ctx, database.EventTypeValidationCommit, commitPayload{
		EvidenceID:      e.EvidenceID.String(),
		ValidatorHotkey: e.ValidatorHotkey,
		LeadID:          e.LeadID.String(),
		EpochID:         e.EpochID,
	}); err != nil {
		return nil, gatewayerr.Invariant("log validation commit event", err)
	}

	return e, nil
}

type commitPayload struct {
	EvidenceID      string `json:"evidence_id"`
	ValidatorHotkey string `json:"validator_hotkey"`
	LeadID          string `json:"lead_id"`
	EpochID         int64  `json:"epoch_id"`
}

func leadInAssignment(a *database.EpochAssignment, leadID uuid.UUID) bool {
	var ids []string
	if err := json.Unmarshal(a.AssignedLeadIDs, &ids); err != nil {
		return false
	}
	target := leadID.String()
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// maxRevealBlock bounds the reveal window within the following epoch
// (spec.md §4.3.3: blocks [0, 328] of epoch_id+1).
const maxRevealBlock = 328

// Reveal applies a validator's reveal, verifies it against the stored
// commitment hashes, and eagerly recomputes consensus for the lead
// (spec.md §4.3.3, §4.4).
func (s *Store) Reveal(ctx context.Context, in RevealInput, blockWithinCurrentEpoch int64) (*RevealResult, error) {
	e, err := s.evidence.GetByOwner(ctx, in.EvidenceID, in.ValidatorHotkey)
	if err != nil {
		if err == database.ErrEvidenceNotFound {
			return nil, gatewayerr.Wrap(gatewayerr.CodeAuth, "evidence not found or not owned by this validator", err)
		}
		return nil, gatewayerr.Transient("load evidence", err)
	}

	if e.RevealedTS.Valid {
		if e.Decision.String == string(in.Decision) && int(e.RepScore.Int32) == in.RepScore &&
			e.RejectionReason.String == in.RejectionReason && e.Salt.String == in.Salt {
			return &RevealResult{AlreadyRevealed: true, Evidence: e}, nil
		}
		return nil, gatewayerr.Data("evidence already revealed with different values")
	}

	if in.CurrentEpochID != e.EpochID+1 {
		return nil, gatewayerr.Temporal("reveal must occur in the epoch immediately following the commit")
	}
	if blockWithinCurrentEpoch < 0 || blockWithinCurrentEpoch > maxRevealBlock {
		return nil, gatewayerr.Temporal("reveal window has closed for this epoch")
	}

	if in.Decision != database.DecisionApprove && in.Decision != database.DecisionDeny {
		return nil, gatewayerr.Data("decision must be approve or deny")
	}
	if in.RepScore < 0 || in.RepScore > 48 {
		return nil, gatewayerr.Data("rep_score must be in [0, 48]")
	}
	if in.Decision == database.DecisionApprove && in.RejectionReason != "pass" {
		return nil, gatewayerr.Data(`rejection_reason must be "pass" when decision is approve`)
	}

	if !hashesMatch(e, in) {
		return nil, gatewayerr.Data("revealed values do not match the committed hashes")
	}

	neuron, found, err := s.registry.Neuron(ctx, in.CurrentEpochID, in.ValidatorHotkey)
	if err != nil {
		return nil, gatewayerr.Transient("load validator stake/trust", err)
	}
	var vTrust, stake float64
	if found {
		vTrust, stake = neuron.ValidatorTrust, neuron.Stake
	}

	if err := s.evidence.Reveal(ctx, e.EvidenceID, database.RevealInput{
		EvidenceID:      e.EvidenceID,
		Decision:        in.Decision,
		RepScore:        in.RepScore,
		RejectionReason: in.RejectionReason,
		Salt:            in.Salt,
	}, vTrust, stake); err != nil {
		return nil, gatewayerr.Transient("apply reveal", err)
	}

	if err := s.events.LogEvent(ctx, database.EventTypeReveal, revealPayload{
		EvidenceID:      e.EvidenceID.String(),
		ValidatorHotkey: e.ValidatorHotkey,
		LeadID:          e.LeadID.String(),
		EpochID:         e.EpochID,
		Decision:        string(in.Decision),
		RepScore:        in.RepScore,
		RejectionReason: in.RejectionReason,
		Salt:            in.Salt,
	}); err != nil {
		return nil, gatewayerr.Invariant("log reveal event", err)
	}

	result, err := s.Recompute(ctx, e.LeadID, e.EpochID)
	if err != nil {
		return nil, err
	}

	e.Decision.String, e.Decision.Valid = string(in.Decision), true
	e.RepScore.Int32, e.RepScore.Valid = int32(in.RepScore), true
	e.RejectionReason.String, e.RejectionReason.Valid = in.RejectionReason, true
	e.Salt.String, e.Salt.Valid = in.Salt, true

	return &RevealResult{Evidence: e, Consensus: result}, nil
}

type revealPayload struct {
	EvidenceID      string `json:"evidence_id"`
	ValidatorHotkey string `json:"validator_hotkey"`
	LeadID          string `json:"lead_id"`
	EpochID         int64  `json:"epoch_id"`
	Decision        string `json:"decision"`
	RepScore        int    `json:"rep_score"`
	RejectionReason string `json:"rejection_reason"`
	Salt            string `json:"salt"`
}

func hashesMatch(e *database.ValidationEvidence, in RevealInput) bool {
	decisionHash := sha256.Sum256([]byte(string(in.Decision) + in.Salt))
	repScoreHash := sha256.Sum256([]byte(strconv.Itoa(in.RepScore) + in.Salt))
	reasonHash := sha256.Sum256([]byte(in.RejectionReason + in.Salt))

	return bytesEqual(decisionHash[:], e.DecisionHash) &&
		bytesEqual(repScoreHash[:], e.RepScoreHash) &&
		bytesEqual(reasonHash[:], e.RejectionReasonHash)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Recompute re-runs the aggregator over every currently-revealed row for a
// lead and persists the outcome, per spec.md §4.4's edge case: zero reveals
// leaves the lead pending rather than denying it. Serialized per lead so an
// eager per-reveal call and the block-330 batch pass never race each other.
func (s *Store) Recompute(ctx context.Context, leadID uuid.UUID, epochID int64) (*Result, error) {
	lease := s.leaseFor(leadID)
	lease.Lock()
	defer lease.Unlock()

	rows, err := s.evidence.RevealedForLead(ctx, leadID, epochID)
	if err != nil {
		return nil, gatewayerr.Transient("load revealed evidence", err)
	}

	result := s.aggregator.Recompute(leadID, epochID, rows)
	if result == NoRevealsYet {
		return result, nil
	}

	snapshot, err := json.Marshal(consensusSnapshot{
		EpochID:                result.EpochID,
		FinalDecision:          string(result.FinalDecision),
		FinalRepScore:          result.FinalRepScore,
		PrimaryRejectionReason: result.PrimaryRejectionReason,
		ValidatorCount:         result.ValidatorCount,
		ConsensusWeight:        result.ConsensusWeight,
		ApprovalRatio:          result.ApprovalRatio,
	})
	if err != nil {
		return nil, gatewayerr.Invariant("marshal consensus snapshot", err)
	}

	status := database.LeadStatusDenied
	if result.FinalDecision == database.DecisionApprove {
		status = database.LeadStatusApproved
	}

	icpMultiplier := icpMultiplierFromEvidence(rows, result.FinalDecision)

	// transitioned is false when this lead already reached a terminal status
	// on an earlier call (an eager per-reveal recompute re-running after a
	// later reveal, or racing the block-330 batch pass recomputing the same
	// lead): the rate limiter's rejection counter and slot reservation must
	// only ever be touched once per lead (spec.md §4.4, property P11 — "the
	// miner's rejection counter is incremented exactly once").
	transitioned, err := s.leads.FinalizeConsensus(ctx, leadID, status, snapshot, icpMultiplier)
	if err != nil {
		return nil, gatewayerr.Transient("finalize lead consensus", err)
	}

	if transitioned {
		lead, err := s.leads.Get(ctx, leadID)
		if err == nil {
			if err := s.limiter.MarkResolved(ctx, lead.MinerHotkey, status == database.LeadStatusDenied); err != nil {
				return nil, gatewayerr.Invariant("release submission slot", err)
			}
		}
	}

	if err := s.events.LogEvent(ctx, database.EventTypeConsensusResult, consensusResultPayload{
		LeadID:                 leadID.String(),
		EpochID:                result.EpochID,
		FinalDecision:          string(result.FinalDecision),
		FinalRepScore:          result.FinalRepScore,
		PrimaryRejectionReason: result.PrimaryRejectionReason,
		ValidatorCount:         result.ValidatorCount,
		ConsensusWeight:        result.ConsensusWeight,
		ApprovalRatio:          result.ApprovalRatio,
		ICPMultiplier:          icpMultiplier,
	}); err != nil {
		return nil, gatewayerr.Invariant("log consensus result event", err)
	}

	return result, nil
}

type consensusSnapshot struct {
	EpochID                int64   `json:"epoch_id"`
	FinalDecision          string  `json:"final_decision"`
	FinalRepScore          float64 `json:"final_rep_score"`
	PrimaryRejectionReason string  `json:"primary_rejection_reason"`
	ValidatorCount         int     `json:"validator_count"`
	ConsensusWeight        float64 `json:"consensus_weight"`
	ApprovalRatio          float64 `json:"approval_ratio"`
}

type consensusResultPayload struct {
	LeadID                 string  `json:"lead_id"`
	EpochID                int64   `json:"epoch_id"`
	FinalDecision          string  `json:"final_decision"`
	FinalRepScore          float64 `json:"final_rep_score"`
	PrimaryRejectionReason string  `json:"primary_rejection_reason"`
	ValidatorCount         int     `json:"validator_count"`
	ConsensusWeight        float64 `json:"consensus_weight"`
	ApprovalRatio          float64 `json:"approval_ratio"`
	ICPMultiplier          bool    `json:"is_icp_multiplier"`
}

// icpMultiplierFromEvidence extracts is_icp_multiplier from each approving
// validator's evidence_blob and returns the mode across approvers, ties
// broken by first occurrence (spec.md §4.4 "ICP multiplier").
func icpMultiplierFromEvidence(rows []*database.ValidationEvidence, finalDecision database.Decision) bool {
	if finalDecision != database.DecisionApprove {
		return false
	}

	var trueCount, falseCount int
	var firstSeen bool
	firstSet := false
	for _, e := range rows {
		if e.Decision.String != string(database.DecisionApprove) {
			continue
		}
		var blob struct {
			IsICPMultiplier bool `json:"is_icp_multiplier"`
		}
		if err := json.Unmarshal(e.EvidenceBlob, &blob); err != nil {
			continue
		}
		if blob.IsICPMultiplier {
			trueCount++
		} else {
			falseCount++
		}
		if !firstSet {
			firstSeen = blob.IsICPMultiplier
			firstSet = true
		}
	}

	switch {
	case trueCount > falseCount:
		return true
	case falseCount > trueCount:
		return false
	default:
		return firstSeen
	}
}
