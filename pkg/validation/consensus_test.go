package validation

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/leadpoet/validator-gateway/pkg/database"
)

func revealed(decision database.Decision, repScore int32, rejectionReason string, vTrust, stake float64) *database.ValidationEvidence {
	return &database.ValidationEvidence{
		EvidenceID:      uuid.New(),
		Decision:        sql.NullString{String: string(decision), Valid: true},
		RepScore:        sql.NullInt32{Int32: repScore, Valid: true},
		RejectionReason: sql.NullString{String: rejectionReason, Valid: rejectionReason != ""},
		VTrust:          sql.NullFloat64{Float64: vTrust, Valid: true},
		Stake:           sql.NullFloat64{Float64: stake, Valid: true},
	}
}

func TestRecomputeNoRevealsYet(t *testing.T) {
	a := NewAggregator()
	leadID := uuid.New()
	got := a.Recompute(leadID, 10, nil)
	assert.Same(t, NoRevealsYet, got)
}

func TestRecomputeUnanimousApprove(t *testing.T) {
	a := NewAggregator()
	leadID := uuid.New()
	evidence := []*database.ValidationEvidence{
		revealed(database.DecisionApprove, 40, "pass", 1.0, 1000),
		revealed(database.DecisionApprove, 48, "pass", 0.5, 2000),
	}
	got := a.Recompute(leadID, 10, evidence)
	assert.Equal(t, database.DecisionApprove, got.FinalDecision)
	assert.Equal(t, "pass", got.PrimaryRejectionReason)
	assert.Equal(t, 1.0, got.ApprovalRatio)
	assert.Equal(t, 2, got.ValidatorCount)
}

func TestRecomputeMajorityDenyPicksHeaviestReason(t *testing.T) {
	a := NewAggregator()
	leadID := uuid.New()
	evidence := []*database.ValidationEvidence{
		revealed(database.DecisionDeny, 0, "stale_data", 1.0, 3000),
		revealed(database.DecisionDeny, 0, "bad_email", 1.0, 1000),
		revealed(database.DecisionApprove, 40, "pass", 1.0, 500),
	}
	got := a.Recompute(leadID, 10, evidence)
	assert.Equal(t, database.DecisionDeny, got.FinalDecision)
	assert.Equal(t, "stale_data", got.PrimaryRejectionReason)
	assert.Less(t, got.ApprovalRatio, 0.5)
}

func TestRecomputeIgnoresInvalidRejectionReasons(t *testing.T) {
	a := NewAggregator()
	leadID := uuid.New()
	evidence := []*database.ValidationEvidence{
		revealed(database.DecisionDeny, 0, "{}", 1.0, 5000),
		revealed(database.DecisionDeny, 0, "", 1.0, 5000),
	}
	got := a.Recompute(leadID, 10, evidence)
	assert.Equal(t, database.DecisionDeny, got.FinalDecision)
	assert.Equal(t, "unknown", got.PrimaryRejectionReason)
}

func TestRecomputeZeroTotalWeightDenies(t *testing.T) {
	a := NewAggregator()
	leadID := uuid.New()
	evidence := []*database.ValidationEvidence{
		revealed(database.DecisionApprove, 40, "pass", 0, 0),
	}
	got := a.Recompute(leadID, 10, evidence)
	assert.Equal(t, database.DecisionDeny, got.FinalDecision)
	assert.Equal(t, 0.0, got.ApprovalRatio)
}

func TestSelectPrimaryRejectionReasonTiesBreakLexicographically(t *testing.T) {
	got := selectPrimaryRejectionReason(map[string]float64{"zzz": 10, "aaa": 10})
	assert.Equal(t, "aaa", got)
}

func TestComputeStats(t *testing.T) {
	results := []*Result{
		{FinalDecision: database.DecisionApprove, FinalRepScore: 40, ValidatorCount: 3},
		{FinalDecision: database.DecisionDeny, FinalRepScore: 0, ValidatorCount: 2},
	}
	stats := ComputeStats(results)
	assert.Equal(t, 2, stats.TotalLeads)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Denied)
	assert.Equal(t, 0.5, stats.ApprovalRate)
}

func TestComputeStatsEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, ComputeStats(nil))
}
