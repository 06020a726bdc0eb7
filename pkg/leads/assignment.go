// Package leads computes and caches each epoch's lead assignment (spec.md
// §4.2): the oldest up-to-50 pending leads, in submission order, published
// identically to every validator of that epoch alongside a Merkle root over
// their ids.
package leads

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/merkle"
)

// AssignmentSize is the fixed batch size spec.md §4.2 assigns per epoch.
const AssignmentSize = 50

// RegistrySource resolves the validator set for an epoch; *registry.Cache
// implements it.
type RegistrySource interface {
	GetMetagraph(ctx context.Context, currentEpoch int64) ([]chain.Neuron, error)
}

// Assignment is the epoch's published lead queue, computed once and then
// identical for every reader.
type Assignment struct {
	EpochID          int64
	LeadIDs          []uuid.UUID
	QueueMerkleRoot  string // hex, "" if the queue was empty
	ValidatorHotkeys []string
	PendingLeadCount int
}

// Compute selects the oldest AssignmentSize pending leads for epochID,
// hashes their ids in submission order into a Merkle root, and resolves the
// epoch's validator set from the registry. Leads ranked 51+ are left
// untouched — they keep their original timestamps and queue priority for a
// later epoch (spec.md §4.2).
func Compute(ctx context.Context, leadRepo *database.LeadRepository, registry RegistrySource, epochID int64) (*Assignment, error) {
	pending, err := leadRepo.OldestPending(ctx, AssignmentSize)
	if err != nil {
		return nil, gatewayerr.Transient("load pending leads", err)
	}

	pendingCount, err := leadRepo.CountPending(ctx)
	if err != nil {
		return nil, gatewayerr.Transient("count pending leads", err)
	}

	leadIDs := make([]uuid.UUID, len(pending))
	leaves := make([][]byte, len(pending))
	for i, lead := range pending {
		leadIDs[i] = lead.LeadID
		leaves[i] = merkle.HashData([]byte(lead.LeadID.String()))
	}

	var root string
	if len(leaves) > 0 {
		tree, err := merkle.BuildTree(leaves)
		if err != nil {
			return nil, gatewayerr.Invariant("build queue merkle tree", err)
		}
		root = tree.RootHex()
	}

	neurons, err := registry.GetMetagraph(ctx, epochID)
	if err != nil {
		return nil, gatewayerr.Transient("load metagraph for validator set", err)
	}
	var validators []string
	for _, n := range neurons {
		if chain.ClassifyRole(n) == chain.RoleValidator {
			validators = append(validators, n.Hotkey)
		}
	}

	return &Assignment{
		EpochID:          epochID,
		LeadIDs:          leadIDs,
		QueueMerkleRoot:  root,
		ValidatorHotkeys: validators,
		PendingLeadCount: pendingCount,
	}, nil
}
