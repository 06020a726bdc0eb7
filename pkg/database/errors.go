// Package database sentinel errors for repository operations: explicit
// errors instead of ambiguous nil, nil returns.
package database

import "errors"

var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrLeadNotFound is returned when a lead row is not found.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrEpochNotFound is returned when an epoch row is not found.
	ErrEpochNotFound = errors.New("epoch not found")

	// ErrAssignmentNotFound is returned when an epoch has no materialized assignment yet.
	ErrAssignmentNotFound = errors.New("epoch assignment not found")

	// ErrEvidenceNotFound is returned when a validation evidence row is not found.
	ErrEvidenceNotFound = errors.New("validation evidence not found")

	// ErrDuplicateEvidence is returned when a (validator, lead, epoch) commit already exists.
	ErrDuplicateEvidence = errors.New("validation evidence already committed")

	// ErrDuplicateLead is returned when a lead's email_hash or linkedin_combo_hash collides.
	ErrDuplicateLead = errors.New("duplicate lead")

	// ErrCheckpointNotFound is returned when a checkpoint row is not found.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
