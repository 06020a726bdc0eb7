package tasks

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/database"
)

type fakeActiveMiners struct {
	active  []string
	removed map[string]int64
}

func (f *fakeActiveMiners) DistinctActiveMinerHotkeys(ctx context.Context) ([]string, error) {
	return f.active, nil
}

func (f *fakeActiveMiners) RemoveByMinerHotkey(ctx context.Context, minerHotkey string) (int64, error) {
	if f.removed == nil {
		f.removed = make(map[string]int64)
	}
	f.removed[minerHotkey] = 3
	return 3, nil
}

type fakeMetagraphSource struct {
	neurons []chain.Neuron
}

func (f *fakeMetagraphSource) GetMetagraph(ctx context.Context, currentEpoch int64) ([]chain.Neuron, error) {
	return f.neurons, nil
}

type fakeEventAppender struct {
	logged []database.EventType
}

func (f *fakeEventAppender) LogEvent(ctx context.Context, eventType database.EventType, payload interface{}) error {
	f.logged = append(f.logged, eventType)
	return nil
}

func TestMinerSweepRemovesOnlyDeregisteredMiners(t *testing.T) {
	leads := &fakeActiveMiners{active: []string{"5HStillHere", "5HGone"}}
	metagraph := &fakeMetagraphSource{neurons: []chain.Neuron{{Hotkey: "5HStillHere"}}}
	events := &fakeEventAppender{}

	sweep := NewMinerSweep(leads, metagraph, events, zerolog.Nop())
	sweep.Run(context.Background(), 42)

	require.Len(t, leads.removed, 1)
	assert.Equal(t, int64(3), leads.removed["5HGone"])
	_, stillTracked := leads.removed["5HStillHere"]
	assert.False(t, stillTracked)

	require.Len(t, events.logged, 1)
	assert.Equal(t, database.EventTypeDeregisteredMinerRemoval, events.logged[0])
}

func TestMinerSweepLogsNoEventWhenNoMinerDeregistered(t *testing.T) {
	leads := &fakeActiveMiners{active: []string{"5HStillHere"}}
	metagraph := &fakeMetagraphSource{neurons: []chain.Neuron{{Hotkey: "5HStillHere"}}}
	events := &fakeEventAppender{}

	sweep := NewMinerSweep(leads, metagraph, events, zerolog.Nop())
	sweep.Run(context.Background(), 42)

	assert.Empty(t, leads.removed)
	assert.Empty(t, events.logged)
}

func TestMetagraphWarmerWarmsOncePerEpoch(t *testing.T) {
	fakeChain := chain.NewFake()
	fakeChain.SetBlock(360) // epoch 1
	metagraph := &fakeMetagraphSource{}

	w := NewMetagraphWarmer(fakeChain, metagraph, zerolog.Nop())
	w.checkOnce(context.Background())
	w.checkOnce(context.Background())

	assert.Equal(t, int64(1), w.lastWarmedEpoch)
	assert.True(t, w.everWarmed)
}
