package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpoet/validator-gateway/pkg/chain"
)

func fastStrategy() FetchStrategy {
	return FetchStrategy{
		MaxAttempts:       3,
		SwitchToSyncAfter: 1,
		AttemptTimeout:    time.Second,
		RetryDelay:        time.Millisecond,
		EpochDuration:     time.Hour,
	}
}

func TestGetMetagraphFetchesOnce(t *testing.T) {
	fake := chain.NewFake()
	fake.SetNeurons([]chain.Neuron{{Hotkey: "hk1", ValidatorPermit: true, Active: true}})

	c := NewCache(fake, 1, fastStrategy(), zerolog.Nop())
	neurons, err := c.GetMetagraph(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, neurons, 1)
	assert.Equal(t, "hk1", neurons[0].Hotkey)
}

func TestGetMetagraphCachesWithinEpoch(t *testing.T) {
	fake := chain.NewFake()
	fake.SetNeurons([]chain.Neuron{{Hotkey: "hk1"}})

	c := NewCache(fake, 1, fastStrategy(), zerolog.Nop())
	_, err := c.GetMetagraph(context.Background(), 10)
	require.NoError(t, err)

	fake.SetNeurons([]chain.Neuron{{Hotkey: "hk2"}})
	neurons, err := c.GetMetagraph(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, neurons, 1)
	assert.Equal(t, "hk1", neurons[0].Hotkey, "cache should not refetch within the same epoch")
}

func TestClassify(t *testing.T) {
	fake := chain.NewFake()
	fake.SetNeurons([]chain.Neuron{
		{Hotkey: "validator1", ValidatorPermit: true, Active: true},
		{Hotkey: "miner1", ValidatorPermit: false, Active: true},
	})

	c := NewCache(fake, 1, fastStrategy(), zerolog.Nop())

	cls, err := c.Classify(context.Background(), 10, "validator1")
	require.NoError(t, err)
	assert.True(t, cls.Registered)
	assert.Equal(t, chain.RoleValidator, cls.Role)

	cls, err = c.Classify(context.Background(), 10, "unknown-hotkey")
	require.NoError(t, err)
	assert.False(t, cls.Registered)
}
