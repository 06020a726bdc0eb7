package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// EvidenceRepository persists ValidationEvidence rows.
type EvidenceRepository struct {
	client *Client
}

// NewEvidenceRepository creates a new EvidenceRepository.
func NewEvidenceRepository(client *Client) *EvidenceRepository {
	return &EvidenceRepository{client: client}
}

// Commit inserts the commit-phase row. Returns ErrDuplicateEvidence if a
// (validator_hotkey, lead_id, epoch_id) row already exists (spec.md §4.3.2).
func (r *EvidenceRepository) Commit(ctx context.Context, in NewValidationCommit) (*ValidationEvidence, error) {
	e := &ValidationEvidence{}
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO validation_evidence_private
			(evidence_id, validator_hotkey, lead_id, epoch_id, decision_hash, rep_score_hash, rejection_reason_hash, evidence_blob, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING evidence_id, validator_hotkey, lead_id, epoch_id, decision_hash, rep_score_hash, rejection_reason_hash,
			evidence_blob, decision, rep_score, rejection_reason, salt, v_trust, stake, committed_at, revealed_ts
	`, uuid.New(), in.ValidatorHotkey, in.LeadID, in.EpochID, in.DecisionHash, in.RepScoreHash, in.RejectionReasonHash, in.EvidenceBlob).Scan(
		&e.EvidenceID, &e.ValidatorHotkey, &e.LeadID, &e.EpochID, &e.DecisionHash, &e.RepScoreHash, &e.RejectionReasonHash,
		&e.EvidenceBlob, &e.Decision, &e.RepScore, &e.RejectionReason, &e.Salt, &e.VTrust, &e.Stake, &e.CommittedAt, &e.RevealedTS,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEvidence
		}
		return nil, fmt.Errorf("insert validation commit: %w", err)
	}
	return e, nil
}

// Get fetches an evidence row by id.
func (r *EvidenceRepository) Get(ctx context.Context, evidenceID uuid.UUID) (*ValidationEvidence, error) {
	e := &ValidationEvidence{}
	err := r.client.QueryRowContext(ctx, `
		SELECT evidence_id, validator_hotkey, lead_id, epoch_id, decision_hash, rep_score_hash, rejection_reason_hash,
			evidence_blob, decision, rep_score, rejection_reason, salt, v_trust, stake, committed_at, revealed_ts
		FROM validation_evidence_private WHERE evidence_id = $1
	`, evidenceID).Scan(
		&e.EvidenceID, &e.ValidatorHotkey, &e.LeadID, &e.EpochID, &e.DecisionHash, &e.RepScoreHash, &e.RejectionReasonHash,
		&e.EvidenceBlob, &e.Decision, &e.RepScore, &e.RejectionReason, &e.Salt, &e.VTrust, &e.Stake, &e.CommittedAt, &e.RevealedTS,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEvidenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get validation evidence: %w", err)
	}
	return e, nil
}

// GetByOwner fetches an evidence row and verifies it belongs to validatorHotkey.
func (r *EvidenceRepository) GetByOwner(ctx context.Context, evidenceID uuid.UUID, validatorHotkey string) (*ValidationEvidence, error) {
	e, err := r.Get(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if e.ValidatorHotkey != validatorHotkey {
		return nil, ErrEvidenceNotFound
	}
	return e, nil
}

// Reveal applies the reveal-phase update, stamping v_trust/stake from the
// epoch-snapshot metagraph at call time (spec.md §4.3.3).
func (r *EvidenceRepository) Reveal(ctx context.Context, evidenceID uuid.UUID, in RevealInput, vTrust, stake float64) error {
	res, err := r.client.ExecContext(ctx, `
		UPDATE validation_evidence_private
		SET decision = $1, rep_score = $2, rejection_reason = $3, salt = $4, v_trust = $5, stake = $6, revealed_ts = now()
		WHERE evidence_id = $7
	`, string(in.Decision), in.RepScore, in.RejectionReason, in.Salt, vTrust, stake, evidenceID)
	if err != nil {
		return fmt.Errorf("reveal validation evidence: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrEvidenceNotFound
	}
	return nil
}

// FindCommit locates an existing commit row for a (validator, lead, epoch) triple.
func (r *EvidenceRepository) FindCommit(ctx context.Context, validatorHotkey string, leadID uuid.UUID, epochID int64) (*ValidationEvidence, error) {
	e := &ValidationEvidence{}
	err := r.client.QueryRowContext(ctx, `
		SELECT evidence_id, validator_hotkey, lead_id, epoch_id, decision_hash, rep_score_hash, rejection_reason_hash,
			evidence_blob, decision, rep_score, rejection_reason, salt, v_trust, stake, committed_at, revealed_ts
		FROM validation_evidence_private
		WHERE validator_hotkey = $1 AND lead_id = $2 AND epoch_id = $3
	`, validatorHotkey, leadID, epochID).Scan(
		&e.EvidenceID, &e.ValidatorHotkey, &e.LeadID, &e.EpochID, &e.DecisionHash, &e.RepScoreHash, &e.RejectionReasonHash,
		&e.EvidenceBlob, &e.Decision, &e.RepScore, &e.RejectionReason, &e.Salt, &e.VTrust, &e.Stake, &e.CommittedAt, &e.RevealedTS,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEvidenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find validation commit: %w", err)
	}
	return e, nil
}

// IDsByValidatorEpoch returns every evidence_id a validator committed during
// an epoch, ordered for deterministic manifest root computation.
func (r *EvidenceRepository) IDsByValidatorEpoch(ctx context.Context, validatorHotkey string, epochID int64) ([]uuid.UUID, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT evidence_id FROM validation_evidence_private
		WHERE validator_hotkey = $1 AND epoch_id = $2
		ORDER BY evidence_id
	`, validatorHotkey, epochID)
	if err != nil {
		return nil, fmt.Errorf("query validator evidence ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan validator evidence id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ByEpoch returns every evidence row committed during epochID, revealed or
// not, for the reveal-progress read endpoint (spec.md §6.1 /reveal/stats).
func (r *EvidenceRepository) ByEpoch(ctx context.Context, epochID int64) ([]*ValidationEvidence, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT evidence_id, validator_hotkey, lead_id, epoch_id, decision_hash, rep_score_hash, rejection_reason_hash,
			evidence_blob, decision, rep_score, rejection_reason, salt, v_trust, stake, committed_at, revealed_ts
		FROM validation_evidence_private
		WHERE epoch_id = $1
	`, epochID)
	if err != nil {
		return nil, fmt.Errorf("query evidence by epoch: %w", err)
	}
	defer rows.Close()

	var out []*ValidationEvidence
	for rows.Next() {
		e := &ValidationEvidence{}
		if err := rows.Scan(
			&e.EvidenceID, &e.ValidatorHotkey, &e.LeadID, &e.EpochID, &e.DecisionHash, &e.RepScoreHash, &e.RejectionReasonHash,
			&e.EvidenceBlob, &e.Decision, &e.RepScore, &e.RejectionReason, &e.Salt, &e.VTrust, &e.Stake, &e.CommittedAt, &e.RevealedTS,
		); err != nil {
			return nil, fmt.Errorf("scan evidence by epoch: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RevealedForLead returns every revealed (decision non-null) evidence row for
// a lead in an epoch, the input to the consensus aggregator (spec.md §4.4).
func (r *EvidenceRepository) RevealedForLead(ctx context.Context, leadID uuid.UUID, epochID int64) ([]*ValidationEvidence, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT evidence_id, validator_hotkey, lead_id, epoch_id, decision_hash, rep_score_hash, rejection_reason_hash,
			evidence_blob, decision, rep_score, rejection_reason, salt, v_trust, stake, committed_at, revealed_ts
		FROM validation_evidence_private
		WHERE lead_id = $1 AND epoch_id = $2 AND decision IS NOT NULL AND rep_score IS NOT NULL
	`, leadID, epochID)
	if err != nil {
		return nil, fmt.Errorf("query revealed evidence: %w", err)
	}
	defer rows.Close()

	var out []*ValidationEvidence
	for rows.Next() {
		e := &ValidationEvidence{}
		if err := rows.Scan(
			&e.EvidenceID, &e.ValidatorHotkey, &e.LeadID, &e.EpochID, &e.DecisionHash, &e.RepScoreHash, &e.RejectionReasonHash,
			&e.EvidenceBlob, &e.Decision, &e.RepScore, &e.RejectionReason, &e.Salt, &e.VTrust, &e.Stake, &e.CommittedAt, &e.RevealedTS,
		); err != nil {
			return nil, fmt.Errorf("scan revealed evidence: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
