package leads

import (
	"context"

	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

// EventLogger is the transparency-log write surface Initializer depends on.
// pkg/translog.Logger satisfies this.
type EventLogger interface {
	LogEvent(ctx context.Context, eventType database.EventType, payload interface{}) error
}

// CreatedByLifecycle and CreatedByFallback are the two materialization
// paths spec.md §4.2 distinguishes.
const (
	CreatedByLifecycle = "epoch_lifecycle"
	CreatedByFallback  = "leads_fallback"
)

type epochInitializationPayload struct {
	EpochID          int64    `json:"epoch_id"`
	LeadIDs          []string `json:"lead_ids"`
	QueueMerkleRoot  string   `json:"queue_merkle_root"`
	ValidatorHotkeys []string `json:"validator_hotkeys"`
	PendingLeadCount int      `json:"pending_lead_count"`
	CreatedBy        string   `json:"created_by"`
}

// Initializer performs the atomic initialize_epoch operation: compute the
// assignment, log one EPOCH_INITIALIZATION event carrying it, then persist
// the materialized row. If the log write fails, nothing is persisted — the
// next caller (pkg/epoch's state machine retry, or a validator's ingress
// request racing the boundary) simply tries again.
type Initializer struct {
	leadRepo  *database.LeadRepository
	epochRepo *database.EpochRepository
	registry  RegistrySource
	events    EventLogger
	cache     *Cache
}

// NewInitializer builds an Initializer.
func NewInitializer(leadRepo *database.LeadRepository, epochRepo *database.EpochRepository, registry RegistrySource, events EventLogger, cache *Cache) *Initializer {
	return &Initializer{leadRepo: leadRepo, epochRepo: epochRepo, registry: registry, events: events, cache: cache}
}

// Initialize computes (or reuses a cached) assignment for epochID, logs it,
// and materializes the epoch_assignments row. createdBy distinguishes the
// normal epoch-lifecycle path from the ingress-triggered fallback path
// (spec.md §4.2's race-at-boundary handling); epochRepo.CreateAssignment
// already resolves a concurrent double-materialization via its unique
// constraint, re-reading the canonical row on conflict.
func (init *Initializer) Initialize(ctx context.Context, epochID int64, createdBy string) (*database.EpochAssignment, error) {
	assignment, ok := init.cache.Get(epochID)
	if !ok {
		var err error
		assignment, err = Compute(ctx, init.leadRepo, init.registry, epochID)
		if err != nil {
			return nil, err
		}
	}

	leadIDs := make([]string, len(assignment.LeadIDs))
	for i, id := range assignment.LeadIDs {
		leadIDs[i] = id.String()
	}

	payload := epochInitializationPayload{
		EpochID:          epochID,
		LeadIDs:          leadIDs,
		QueueMerkleRoot:  assignment.QueueMerkleRoot,
		ValidatorHotkeys: assignment.ValidatorHotkeys,
		PendingLeadCount: assignment.PendingLeadCount,
		CreatedBy:        createdBy,
	}
	if err := init.events.LogEvent(ctx, database.EventTypeEpochInitialization, payload); err != nil {
		return nil, gatewayerr.Invariant("log epoch initialization event", err)
	}

	row, err := init.epochRepo.CreateAssignment(ctx, epochID, leadIDs, assignment.QueueMerkleRoot, assignment.ValidatorHotkeys, assignment.PendingLeadCount, createdBy)
	if err != nil {
		return nil, gatewayerr.Invariant("persist epoch assignment", err)
	}

	init.cache.Put(assignment)
	return row, nil
}
