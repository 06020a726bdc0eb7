package chain

import (
	"context"
	"sync"
)

// Fake is an in-memory Client for tests: a settable block height and neuron
// set, no network calls.
type Fake struct {
	ss58Verifier

	mu          sync.RWMutex
	blockHeight int64
	neurons     []Neuron
}

// NewFake builds an empty Fake at block 0 with no neurons.
func NewFake() *Fake {
	return &Fake{}
}

// SetBlock sets the block height CurrentBlock returns.
func (f *Fake) SetBlock(height int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockHeight = height
}

// SetNeurons replaces the neuron set Metagraph returns.
func (f *Fake) SetNeurons(neurons []Neuron) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.neurons = append([]Neuron(nil), neurons...)
}

func (f *Fake) CurrentBlock(ctx context.Context) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.blockHeight, nil
}

func (f *Fake) Metagraph(ctx context.Context, netuid int64) ([]Neuron, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Neuron(nil), f.neurons...), nil
}

var _ Client = (*Fake)(nil)
