package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TransparencyRepository persists hash-chained transparency log events and
// the checkpoints that batch them (spec.md §3, §4.5).
type TransparencyRepository struct {
	client *Client
}

// NewTransparencyRepository creates a new TransparencyRepository.
func NewTransparencyRepository(client *Client) *TransparencyRepository {
	return &TransparencyRepository{client: client}
}

// Append durably persists a signed transparency event. The enclave's
// in-process hash chain is the source of truth for ordering; this is the
// durable mirror queried by the public log endpoints.
func (r *TransparencyRepository) Append(ctx context.Context, e *TransparencyEvent) (*TransparencyEvent, error) {
	out := &TransparencyEvent{}
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO transparency_log
			(event_type, boot_id, monotonic_seq, prev_event_hash, timestamp, payload, event_hash, enclave_pubkey, enclave_signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING event_id, event_type, boot_id, monotonic_seq, prev_event_hash, timestamp, payload, event_hash, enclave_pubkey, enclave_signature, checkpoint_number
	`, e.EventType, e.BootID, e.MonotonicSeq, e.PrevEventHash, e.Timestamp, e.Payload, e.EventHash, e.EnclavePubkey, e.EnclaveSignature).Scan(
		&out.EventID, &out.EventType, &out.BootID, &out.MonotonicSeq, &out.PrevEventHash, &out.Timestamp,
		&out.Payload, &out.EventHash, &out.EnclavePubkey, &out.EnclaveSignature, &out.CheckpointNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("append transparency event: %w", err)
	}
	return out, nil
}

// Tail returns the most recent event across all boots (the query does not
// use bootID), used to recover (boot_id, monotonic_seq, prev_event_hash)
// across a process restart.
func (r *TransparencyRepository) Tail(ctx context.Context, bootID []byte) (*TransparencyEvent, error) {
	out := &TransparencyEvent{}
	err := r.client.QueryRowContext(ctx, `
		SELECT event_id, event_type, boot_id, monotonic_seq, prev_event_hash, timestamp, payload, event_hash, enclave_pubkey, enclave_signature, checkpoint_number
		FROM transparency_log
		ORDER BY event_id DESC LIMIT 1
	`).Scan(
		&out.EventID, &out.EventType, &out.BootID, &out.MonotonicSeq, &out.PrevEventHash, &out.Timestamp,
		&out.Payload, &out.EventHash, &out.EnclavePubkey, &out.EnclaveSignature, &out.CheckpointNumber,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transparency log tail: %w", err)
	}
	return out, nil
}

// UnCheckpointed returns events not yet assigned to a checkpoint, oldest
// first, up to limit, for the checkpoint builder to pop off the buffer.
func (r *TransparencyRepository) UnCheckpointed(ctx context.Context, limit int) ([]*TransparencyEvent, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT event_id, event_type, boot_id, monotonic_seq, prev_event_hash, timestamp, payload, event_hash, enclave_pubkey, enclave_signature, checkpoint_number
		FROM transparency_log
		WHERE checkpoint_number IS NULL
		ORDER BY event_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query uncheckpointed events: %w", err)
	}
	defer rows.Close()

	var out []*TransparencyEvent
	for rows.Next() {
		e := &TransparencyEvent{}
		if err := rows.Scan(
			&e.EventID, &e.EventType, &e.BootID, &e.MonotonicSeq, &e.PrevEventHash, &e.Timestamp,
			&e.Payload, &e.EventHash, &e.EnclavePubkey, &e.EnclaveSignature, &e.CheckpointNumber,
		); err != nil {
			return nil, fmt.Errorf("scan uncheckpointed event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkCheckpointed assigns the given checkpoint number to a set of events.
func (r *TransparencyRepository) MarkCheckpointed(ctx context.Context, eventIDs []int64, checkpointNumber int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := r.client.ExecContext(ctx, `
		UPDATE transparency_log SET checkpoint_number = $1 WHERE event_id = ANY($2)
	`, checkpointNumber, int64Array(eventIDs))
	if err != nil {
		return fmt.Errorf("mark events checkpointed: %w", err)
	}
	return nil
}

// ByEventType returns the most recent limit events of one kind, newest
// first, for operational read endpoints that scan a single event type
// (e.g. manifest stats) rather than the full log.
func (r *TransparencyRepository) ByEventType(ctx context.Context, eventType EventType, limit int) ([]*TransparencyEvent, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT event_id, event_type, boot_id, monotonic_seq, prev_event_hash, timestamp, payload, event_hash, enclave_pubkey, enclave_signature, checkpoint_number
		FROM transparency_log
		WHERE event_type = $1
		ORDER BY event_id DESC
		LIMIT $2
	`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("query events by type: %w", err)
	}
	defer rows.Close()

	var out []*TransparencyEvent
	for rows.Next() {
		e := &TransparencyEvent{}
		if err := rows.Scan(
			&e.EventID, &e.EventType, &e.BootID, &e.MonotonicSeq, &e.PrevEventHash, &e.Timestamp,
			&e.Payload, &e.EventHash, &e.EnclavePubkey, &e.EnclaveSignature, &e.CheckpointNumber,
		); err != nil {
			return nil, fmt.Errorf("scan event by type: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ByEventHash looks up an event by its denormalised event_hash column, used
// for fast duplicate-submission gating (spec.md §4.3.1).
func (r *TransparencyRepository) ByEventHash(ctx context.Context, eventHash []byte) (*TransparencyEvent, error) {
	out := &TransparencyEvent{}
	err := r.client.QueryRowContext(ctx, `
		SELECT event_id, event_type, boot_id, monotonic_seq, prev_event_hash, timestamp, payload, event_hash, enclave_pubkey, enclave_signature, checkpoint_number
		FROM transparency_log WHERE event_hash = $1
	`, eventHash).Scan(
		&out.EventID, &out.EventType, &out.BootID, &out.MonotonicSeq, &out.PrevEventHash, &out.Timestamp,
		&out.Payload, &out.EventHash, &out.EnclavePubkey, &out.EnclaveSignature, &out.CheckpointNumber,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup event by hash: %w", err)
	}
	return out, nil
}
