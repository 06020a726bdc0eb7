package epoch

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLeadIDsParsesOrderedList(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	raw, err := json.Marshal([]string{a.String(), b.String()})
	require.NoError(t, err)

	var ids []uuid.UUID
	require.NoError(t, decodeLeadIDs(raw, &ids))
	assert.Equal(t, []uuid.UUID{a, b}, ids)
}

func TestDecodeLeadIDsRejectsMalformedEntry(t *testing.T) {
	raw := json.RawMessage(`["not-a-uuid"]`)
	var ids []uuid.UUID
	assert.Error(t, decodeLeadIDs(raw, &ids))
}

func TestDecodeLeadIDsEmptyArray(t *testing.T) {
	raw := json.RawMessage(`[]`)
	var ids []uuid.UUID
	require.NoError(t, decodeLeadIDs(raw, &ids))
	assert.Empty(t, ids)
}

func TestBlockWithinEpochDerivation(t *testing.T) {
	// Sanity-checks the derived-quantity arithmetic OnBlock relies on
	// (spec.md §4.1): epoch_id = block_height / 360, block_within_epoch =
	// block_height mod 360.
	cases := []struct {
		block           int64
		wantEpoch       int64
		wantWithinEpoch int64
	}{
		{0, 0, 0},
		{359, 0, 359},
		{360, 1, 0},
		{719, 1, 359},
		{720, 2, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.wantEpoch, c.block/BlocksPerEpoch)
		assert.Equal(t, c.wantWithinEpoch, c.block%BlocksPerEpoch)
	}
}
