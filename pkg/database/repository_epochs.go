package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// EpochRepository persists Epoch and EpochAssignment rows.
type EpochRepository struct {
	client *Client
}

// NewEpochRepository creates a new EpochRepository.
func NewEpochRepository(client *Client) *EpochRepository {
	return &EpochRepository{client: client}
}

// Upsert creates an epoch row if absent, or returns the existing one.
func (r *EpochRepository) Upsert(ctx context.Context, epochID, startBlock, endBlock int64) (*Epoch, error) {
	e := &Epoch{}
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO epochs (epoch_id, start_block, end_block, close_block, state, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $4, now(), now())
		ON CONFLICT (epoch_id) DO UPDATE SET epoch_id = epochs.epoch_id
		RETURNING epoch_id, start_block, end_block, close_block, state, created_at, updated_at
	`, epochID, startBlock, endBlock, EpochStatePendingInit).Scan(
		&e.EpochID, &e.StartBlock, &e.EndBlock, &e.CloseBlock, &e.State, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert epoch: %w", err)
	}
	return e, nil
}

// Get fetches an epoch by id.
func (r *EpochRepository) Get(ctx context.Context, epochID int64) (*Epoch, error) {
	e := &Epoch{}
	err := r.client.QueryRowContext(ctx, `
		SELECT epoch_id, start_block, end_block, close_block, state, created_at, updated_at
		FROM epochs WHERE epoch_id = $1
	`, epochID).Scan(&e.EpochID, &e.StartBlock, &e.EndBlock, &e.CloseBlock, &e.State, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEpochNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get epoch: %w", err)
	}
	return e, nil
}

// SetState transitions an epoch's state (spec.md §4.1 state machine).
func (r *EpochRepository) SetState(ctx context.Context, epochID int64, state EpochState) error {
	res, err := r.client.ExecContext(ctx, `UPDATE epochs SET state = $1, updated_at = now() WHERE epoch_id = $2`, state, epochID)
	if err != nil {
		return fmt.Errorf("set epoch state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrEpochNotFound
	}
	return nil
}

// CreateAssignment materializes the EpochAssignment derived from the
// EPOCH_INITIALIZATION event. createdBy is either "epoch_lifecycle" or
// "leads_fallback" (spec.md §4.2).
func (r *EpochRepository) CreateAssignment(ctx context.Context, epochID int64, leadIDs []string, queueMerkleRoot string, validatorHotkeys []string, pendingCount int, createdBy string) (*EpochAssignment, error) {
	leadIDsJSON, err := json.Marshal(leadIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal lead ids: %w", err)
	}
	validatorsJSON, err := json.Marshal(validatorHotkeys)
	if err != nil {
		return nil, fmt.Errorf("marshal validator hotkeys: %w", err)
	}

	var root sql.NullString
	if queueMerkleRoot != "" {
		root = sql.NullString{String: queueMerkleRoot, Valid: true}
	}

	a := &EpochAssignment{}
	err = r.client.QueryRowContext(ctx, `
		INSERT INTO epoch_assignments
			(epoch_id, assigned_lead_ids, queue_merkle_root, validator_hotkeys, pending_lead_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING epoch_id, assigned_lead_ids, queue_merkle_root, validator_hotkeys, pending_lead_count, created_by, created_at
	`, epochID, leadIDsJSON, root, validatorsJSON, pendingCount, createdBy).Scan(
		&a.EpochID, &a.AssignedLeadIDs, &a.QueueMerkleRoot, &a.ValidatorHotkeys, &a.PendingLeadCount, &a.CreatedBy, &a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return r.GetAssignment(ctx, epochID)
		}
		return nil, fmt.Errorf("insert epoch assignment: %w", err)
	}
	return a, nil
}

// GetAssignment fetches the materialized assignment for an epoch, if any.
func (r *EpochRepository) GetAssignment(ctx context.Context, epochID int64) (*EpochAssignment, error) {
	a := &EpochAssignment{}
	err := r.client.QueryRowContext(ctx, `
		SELECT epoch_id, assigned_lead_ids, queue_merkle_root, validator_hotkeys, pending_lead_count, created_by, created_at
		FROM epoch_assignments WHERE epoch_id = $1
	`, epochID).Scan(&a.EpochID, &a.AssignedLeadIDs, &a.QueueMerkleRoot, &a.ValidatorHotkeys, &a.PendingLeadCount, &a.CreatedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get epoch assignment: %w", err)
	}
	return a, nil
}
