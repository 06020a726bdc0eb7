package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CheckpointRepository persists Checkpoint rows.
type CheckpointRepository struct {
	client *Client
}

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(client *Client) *CheckpointRepository {
	return &CheckpointRepository{client: client}
}

// Create inserts a new checkpoint (spec.md §4.5.5). An empty checkpoint
// (EventCount == 0) is still inserted to maintain continuous cadence.
func (r *CheckpointRepository) Create(ctx context.Context, c *Checkpoint) (*Checkpoint, error) {
	out := &Checkpoint{}
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO checkpoints
			(checkpoint_number, event_count, merkle_root, tree_levels, range_start, range_end, header_signature, compressed_batch, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING checkpoint_number, event_count, merkle_root, tree_levels, range_start, range_end, header_signature, compressed_batch, permanent_tx_id, uploaded_at, created_at
	`, c.CheckpointNumber, c.EventCount, c.MerkleRoot, c.TreeLevels, c.RangeStart, c.RangeEnd, c.HeaderSignature, c.CompressedBatch).Scan(
		&out.CheckpointNumber, &out.EventCount, &out.MerkleRoot, &out.TreeLevels, &out.RangeStart, &out.RangeEnd,
		&out.HeaderSignature, &out.CompressedBatch, &out.PermanentTxID, &out.UploadedAt, &out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}
	return out, nil
}

// Get fetches a checkpoint by number.
func (r *CheckpointRepository) Get(ctx context.Context, checkpointNumber int64) (*Checkpoint, error) {
	out := &Checkpoint{}
	err := r.client.QueryRowContext(ctx, `
		SELECT checkpoint_number, event_count, merkle_root, tree_levels, range_start, range_end, header_signature, compressed_batch, permanent_tx_id, uploaded_at, created_at
		FROM checkpoints WHERE checkpoint_number = $1
	`, checkpointNumber).Scan(
		&out.CheckpointNumber, &out.EventCount, &out.MerkleRoot, &out.TreeLevels, &out.RangeStart, &out.RangeEnd,
		&out.HeaderSignature, &out.CompressedBatch, &out.PermanentTxID, &out.UploadedAt, &out.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return out, nil
}

// Latest returns the highest checkpoint_number on record, or ErrCheckpointNotFound.
func (r *CheckpointRepository) Latest(ctx context.Context) (*Checkpoint, error) {
	out := &Checkpoint{}
	err := r.client.QueryRowContext(ctx, `
		SELECT checkpoint_number, event_count, merkle_root, tree_levels, range_start, range_end, header_signature, compressed_batch, permanent_tx_id, uploaded_at, created_at
		FROM checkpoints ORDER BY checkpoint_number DESC LIMIT 1
	`).Scan(
		&out.CheckpointNumber, &out.EventCount, &out.MerkleRoot, &out.TreeLevels, &out.RangeStart, &out.RangeEnd,
		&out.HeaderSignature, &out.CompressedBatch, &out.PermanentTxID, &out.UploadedAt, &out.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}
	return out, nil
}

// MarkUploaded records the permanent-storage transaction id once a
// checkpoint's compressed batch has been confirmed on Arweave (spec.md §6.4).
func (r *CheckpointRepository) MarkUploaded(ctx context.Context, checkpointNumber int64, txID string) error {
	res, err := r.client.ExecContext(ctx, `
		UPDATE checkpoints SET permanent_tx_id = $1, uploaded_at = now() WHERE checkpoint_number = $2
	`, txID, checkpointNumber)
	if err != nil {
		return fmt.Errorf("mark checkpoint uploaded: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

// PendingUpload returns confirmed checkpoints that have not yet been
// anchored to permanent storage, oldest first.
func (r *CheckpointRepository) PendingUpload(ctx context.Context, limit int) ([]*Checkpoint, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT checkpoint_number, event_count, merkle_root, tree_levels, range_start, range_end, header_signature, compressed_batch, permanent_tx_id, uploaded_at, created_at
		FROM checkpoints
		WHERE permanent_tx_id IS NULL
		ORDER BY checkpoint_number ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending checkpoint uploads: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		c := &Checkpoint{}
		if err := rows.Scan(
			&c.CheckpointNumber, &c.EventCount, &c.MerkleRoot, &c.TreeLevels, &c.RangeStart, &c.RangeEnd,
			&c.HeaderSignature, &c.CompressedBatch, &c.PermanentTxID, &c.UploadedAt, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending checkpoint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
