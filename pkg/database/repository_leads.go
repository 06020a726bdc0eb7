package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// LeadRepository persists Lead rows.
type LeadRepository struct {
	client *Client
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(client *Client) *LeadRepository {
	return &LeadRepository{client: client}
}

// Create inserts a new pending lead. Returns ErrDuplicateLead on a unique
// constraint violation against email_hash or linkedin_combo_hash.
func (r *LeadRepository) Create(ctx context.Context, in NewLead) (*Lead, error) {
	var linkedin sql.NullString
	if in.LinkedInComboHash != "" {
		linkedin = sql.NullString{String: in.LinkedInComboHash, Valid: true}
	}

	lead := &Lead{}
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO leads_private
			(lead_id, miner_hotkey, lead_blob, lead_blob_hash, email_hash, linkedin_combo_hash, status, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING lead_id, miner_hotkey, lead_blob, lead_blob_hash, email_hash, linkedin_combo_hash, status, created_ts, consensus_snapshot, icp_multiplier
	`, uuid.New(), in.MinerHotkey, in.LeadBlob, in.LeadBlobHash, in.EmailHash, linkedin, LeadStatusPendingValidation).Scan(
		&lead.LeadID, &lead.MinerHotkey, &lead.LeadBlob, &lead.LeadBlobHash, &lead.EmailHash,
		&lead.LinkedInComboHash, &lead.Status, &lead.CreatedTS, &lead.ConsensusSnapshot, &lead.ICPMultiplier,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateLead
		}
		return nil, fmt.Errorf("insert lead: %w", err)
	}
	return lead, nil
}

// Get fetches a lead by id.
func (r *LeadRepository) Get(ctx context.Context, leadID uuid.UUID) (*Lead, error) {
	lead := &Lead{}
	err := r.client.QueryRowContext(ctx, `
		SELECT lead_id, miner_hotkey, lead_blob, lead_blob_hash, email_hash, linkedin_combo_hash, status, created_ts, consensus_snapshot, icp_multiplier
		FROM leads_private WHERE lead_id = $1
	`, leadID).Scan(
		&lead.LeadID, &lead.MinerHotkey, &lead.LeadBlob, &lead.LeadBlobHash, &lead.EmailHash,
		&lead.LinkedInComboHash, &lead.Status, &lead.CreatedTS, &lead.ConsensusSnapshot, &lead.ICPMultiplier,
	)
	if err == sql.ErrNoRows {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

// ByIDs fetches every lead row in ids, in no particular order, for
// materializing an epoch's assignment into full lead payloads
// (GET /epoch/{id}/leads, spec.md §6.1).
func (r *LeadRepository) ByIDs(ctx context.Context, ids []uuid.UUID) ([]*Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.client.QueryContext(ctx, `
		SELECT lead_id, miner_hotkey, lead_blob, lead_blob_hash, email_hash, linkedin_combo_hash, status, created_ts, consensus_snapshot, icp_multiplier
		FROM leads_private WHERE lead_id = ANY($1)
	`, uuidArray(ids))
	if err != nil {
		return nil, fmt.Errorf("query leads by ids: %w", err)
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		lead := &Lead{}
		if err := rows.Scan(
			&lead.LeadID, &lead.MinerHotkey, &lead.LeadBlob, &lead.LeadBlobHash, &lead.EmailHash,
			&lead.LinkedInComboHash, &lead.Status, &lead.CreatedTS, &lead.ConsensusSnapshot, &lead.ICPMultiplier,
		); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, lead)
	}
	return out, rows.Err()
}

// ExistsByDedupHashes reports whether a non-removed lead already carries
// either hash (spec.md §4.3.1 duplicate gate).
func (r *LeadRepository) ExistsByDedupHashes(ctx context.Context, emailHash []byte, linkedinComboHash string) (bool, error) {
	var exists bool
	err := r.client.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM leads_private
			WHERE status != $1
			AND (email_hash = $2 OR ($3 != '' AND linkedin_combo_hash = $3))
		)
	`, LeadStatusRemoved, emailHash, linkedinComboHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check lead dedup: %w", err)
	}
	return exists, nil
}

// OldestPending returns up to limit pending leads, oldest first, paginating
// in batches to respect a backing store's per-request row cap, mirroring the
// original gateway's FIFO assignment scan.
func (r *LeadRepository) OldestPending(ctx context.Context, limit int) ([]*Lead, error) {
	const pageSize = 500
	var leads []*Lead

	offset := 0
	for len(leads) < limit {
		rows, err := r.client.QueryContext(ctx, `
			SELECT lead_id, miner_hotkey, lead_blob, lead_blob_hash, email_hash, linkedin_combo_hash, status, created_ts, consensus_snapshot, icp_multiplier
			FROM leads_private
			WHERE status = $1
			ORDER BY created_ts ASC
			LIMIT $2 OFFSET $3
		`, LeadStatusPendingValidation, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("query pending leads: %w", err)
		}

		fetched := 0
		for rows.Next() {
			lead := &Lead{}
			if err := rows.Scan(
				&lead.LeadID, &lead.MinerHotkey, &lead.LeadBlob, &lead.LeadBlobHash, &lead.EmailHash,
				&lead.LinkedInComboHash, &lead.Status, &lead.CreatedTS, &lead.ConsensusSnapshot, &lead.ICPMultiplier,
			); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan pending lead: %w", err)
			}
			leads = append(leads, lead)
			fetched++
			if len(leads) >= limit {
				break
			}
		}
		rows.Close()

		if fetched < pageSize {
			break
		}
		offset += pageSize
	}

	if len(leads) > limit {
		leads = leads[:limit]
	}
	return leads, nil
}

// CountPending returns the total number of pending_validation leads.
func (r *LeadRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.client.QueryRowContext(ctx, `SELECT count(*) FROM leads_private WHERE status = $1`, LeadStatusPendingValidation).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending leads: %w", err)
	}
	return count, nil
}

// SetStatus transitions a lead to a new status. Callers are responsible for
// enforcing the monotonic lifecycle (spec.md §3 Lead invariants).
func (r *LeadRepository) SetStatus(ctx context.Context, leadID uuid.UUID, status LeadStatus) error {
	res, err := r.client.ExecContext(ctx, `UPDATE leads_private SET status = $1 WHERE lead_id = $2`, status, leadID)
	if err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// SetIDsStatus bulk-transitions a batch of leads (e.g. pending_validation -> validating).
func (r *LeadRepository) SetIDsStatus(ctx context.Context, leadIDs []uuid.UUID, status LeadStatus) error {
	if len(leadIDs) == 0 {
		return nil
	}
	_, err := r.client.ExecContext(ctx, `UPDATE leads_private SET status = $1 WHERE lead_id = ANY($2)`, status, uuidArray(leadIDs))
	if err != nil {
		return fmt.Errorf("bulk update lead status: %w", err)
	}
	return nil
}

// FinalizeConsensus records the consensus outcome and status for a lead.
// Every call writes status/consensus_snapshot/icp_multiplier unconditionally
// — the block-330 batch pass's recompute is authoritative and must be able
// to overwrite an earlier eager per-reveal recompute's values if later
// reveals changed the weighted outcome (spec.md §9 Open Question 2). The
// returned bool reports whether the lead's status was NOT already terminal
// (approved/denied) before this write — i.e. whether this call is the one
// transition into a terminal status — by reading the pre-update status in
// the same statement. Callers use it to charge a once-per-lead side effect
// (pkg/validation.Store releases the rate limiter's slot reservation and
// rejection counter here) exactly once regardless of how many times eager
// reveals or the batch pass re-run consensus for the same lead (spec.md
// §4.4, property P11: "the miner's rejection counter is incremented exactly
// once").
func (r *LeadRepository) FinalizeConsensus(ctx context.Context, leadID uuid.UUID, status LeadStatus, snapshot json.RawMessage, icpMultiplier float64) (bool, error) {
	var priorStatus LeadStatus
	err := r.client.QueryRowContext(ctx, `
		UPDATE leads_private AS l
		SET status = $1, consensus_snapshot = $2, icp_multiplier = $3
		FROM (SELECT status FROM leads_private WHERE lead_id = $4) AS old
		WHERE l.lead_id = $4
		RETURNING old.status
	`, status, snapshot, icpMultiplier, leadID).Scan(&priorStatus)
	if err == sql.ErrNoRows {
		return false, ErrLeadNotFound
	}
	if err != nil {
		return false, fmt.Errorf("finalize lead consensus: %w", err)
	}

	transitioned := priorStatus != LeadStatusApproved && priorStatus != LeadStatusDenied
	return transitioned, nil
}

// DistinctActiveMinerHotkeys returns every miner hotkey holding at least one
// non-terminal lead (pending_validation, validating, or denied), the
// candidate set the deregistered-miner sweep checks against the metagraph
// (spec.md §4.8).
func (r *LeadRepository) DistinctActiveMinerHotkeys(ctx context.Context) ([]string, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT DISTINCT miner_hotkey FROM leads_private
		WHERE status NOT IN ($1, $2)
	`, LeadStatusApproved, LeadStatusRemoved)
	if err != nil {
		return nil, fmt.Errorf("query distinct active miner hotkeys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var hotkey string
		if err := rows.Scan(&hotkey); err != nil {
			return nil, fmt.Errorf("scan miner hotkey: %w", err)
		}
		out = append(out, hotkey)
	}
	return out, rows.Err()
}

// RemoveByMinerHotkey marks every pending_validation, validating, or denied
// lead from a deregistered miner as removed (spec.md §4.8) — the same status
// set DistinctActiveMinerHotkeys selects candidates from.
func (r *LeadRepository) RemoveByMinerHotkey(ctx context.Context, minerHotkey string) (int64, error) {
	res, err := r.client.ExecContext(ctx, `
		UPDATE leads_private SET status = $1
		WHERE miner_hotkey = $2 AND status NOT IN ($1, $3)
	`, LeadStatusRemoved, minerHotkey, LeadStatusApproved)
	if err != nil {
		return 0, fmt.Errorf("remove leads for deregistered miner: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
