package validation

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadpoet/validator-gateway/pkg/database"
)

func TestComputeRevealStatsCountsRevealedAndUnrevealed(t *testing.T) {
	rows := []*database.ValidationEvidence{
		{ValidatorHotkey: "a", Decision: sql.NullString{String: "approve", Valid: true}},
		{ValidatorHotkey: "b", Decision: sql.NullString{}},
		{ValidatorHotkey: "c", Decision: sql.NullString{}},
	}

	stats := ComputeRevealStats(7, rows)
	assert.Equal(t, int64(7), stats.EpochID)
	assert.Equal(t, 3, stats.TotalCommits)
	assert.Equal(t, 1, stats.TotalReveals)
	assert.Equal(t, 2, stats.UnrevealedCount)
	assert.ElementsMatch(t, []string{"b", "c"}, stats.UnrevealedValidators)
	assert.InDelta(t, 33.33, stats.RevealPercentage, 0.01)
}

func TestComputeRevealStatsEmptyEpoch(t *testing.T) {
	stats := ComputeRevealStats(1, nil)
	assert.Equal(t, 0, stats.TotalCommits)
	assert.Equal(t, float64(0), stats.RevealPercentage)
	assert.Empty(t, stats.UnrevealedValidators)
}
