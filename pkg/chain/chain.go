// Package chain defines the Bittensor chain client surface the gateway
// depends on (spec.md §6.5). The protocol itself is out of scope — this
// package specifies only the interface, a polling HTTP implementation
// suitable for a public Subtensor archive node's REST gateway, and an
// in-memory fake for tests.
package chain

import (
	"context"
	"fmt"

	"github.com/leadpoet/validator-gateway/pkg/ss58"
)

// Neuron is one row of a metagraph snapshot (spec.md §6.5).
type Neuron struct {
	Hotkey          string
	Stake           float64
	ValidatorTrust  float64
	Active          bool
	ValidatorPermit bool
}

// ValidatorStakeFloor is the stake threshold in the role-classification rule
// (spec.md §4.6): a neuron is a validator iff
// (active AND validator_permit) OR (stake > ValidatorStakeFloor AND validator_permit).
const ValidatorStakeFloor = 500_000.0

// Role classifies a neuron under spec.md §4.6's rule.
type Role string

const (
	RoleValidator Role = "validator"
	RoleMiner     Role = "miner"
)

// ClassifyRole applies the role rule to a single neuron.
func ClassifyRole(n Neuron) Role {
	if n.ValidatorPermit && (n.Active || n.Stake > ValidatorStakeFloor) {
		return RoleValidator
	}
	return RoleMiner
}

// Client is the Bittensor chain interface the gateway depends on.
type Client interface {
	// CurrentBlock polls the chain tip. Never subscribes (spec.md §6.5).
	CurrentBlock(ctx context.Context) (int64, error)

	// Metagraph fetches the full neuron set for a subnet.
	Metagraph(ctx context.Context, netuid int64) ([]Neuron, error)

	// VerifySignature checks an Ed25519 signature against a claimed SS58 hotkey.
	VerifySignature(message, signature []byte, hotkeySS58 string) (bool, error)
}

// ss58Verifier is embedded by every Client implementation so they all share
// the same signature-verification logic instead of reimplementing it.
type ss58Verifier struct{}

func (ss58Verifier) VerifySignature(message, signature []byte, hotkeySS58 string) (bool, error) {
	return ss58.VerifyEd25519(message, signature, hotkeySS58)
}

func fmtErr(op string, err error) error {
	return fmt.Errorf("chain: %s: %w", op, err)
}
