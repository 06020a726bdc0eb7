// Package validation implements the commit-reveal protocol's persistence
// and the stake-weighted consensus aggregator (spec.md §4.3, §4.4), grounded
// on original_source/gateway/utils/consensus.py's compute_weighted_consensus.
package validation

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/leadpoet/validator-gateway/pkg/database"
)

// invalidRejectionReasons mirrors consensus.py's INVALID_REJECTION_REASONS:
// placeholder values that must never be counted as a meaningful rejection
// reason, even though they pass the non-empty-string check.
var invalidRejectionReasons = map[string]bool{
	"{}":                  true,
	`""`:                  true,
	"null":                true,
	"":                    true,
	`{"message": "pass"}`: true,
}

// Result is the outcome of one consensus computation for a (lead, epoch).
type Result struct {
	LeadID                 uuid.UUID
	EpochID                int64
	FinalDecision          database.Decision
	FinalRepScore          float64
	PrimaryRejectionReason string
	ValidatorCount         int
	ConsensusWeight        float64
	ApprovalRatio          float64
}

// NoRevealsYet is returned by Recompute when zero validators have revealed
// for a lead — per spec.md §9's resolved Open Question, this must NOT be
// persisted as a "deny" status transition the way the Python reference
// implementation's raw zero-reveal return would suggest; the lead stays
// pending_validation until at least one reveal lands.
var NoRevealsYet = &Result{FinalDecision: "", ValidatorCount: 0}

// Aggregator computes stake-weighted consensus over revealed evidence.
type Aggregator struct {
	// CountZeroRevealAsRejection controls whether a lead with no reveals
	// counts against the submitting miner's rejection counter (spec.md §9,
	// Open Question 1). Defaults to false: non-participation by validators
	// is not a quality signal about the lead and would be gameable.
	CountZeroRevealAsRejection bool
}

// NewAggregator builds an Aggregator with the spec's default policy.
func NewAggregator() *Aggregator {
	return &Aggregator{CountZeroRevealAsRejection: false}
}

// Recompute aggregates a set of revealed evidence rows for one lead in one
// epoch into a consensus Result. evidence must already be filtered to rows
// with non-null decision and rep_score (database.EvidenceRepository.RevealedForLead
// does this). Returns NoRevealsYet if evidence is empty — callers must check
// for this sentinel before persisting a status transition.
func (a *Aggregator) Recompute(leadID uuid.UUID, epochID int64, evidence []*database.ValidationEvidence) *Result {
	if len(evidence) == 0 {
		return NoRevealsYet
	}

	var totalWeight, weightedRepScore, weightedApproval float64
	rejectionWeights := make(map[string]float64)

	for _, e := range evidence {
		vTrust := e.VTrust.Float64
		stake := e.Stake.Float64
		weight := vTrust * stake
		totalWeight += weight

		weightedRepScore += float64(e.RepScore.Int32) * weight

		if e.Decision.String == string(database.DecisionApprove) {
			weightedApproval += weight
			continue
		}

		reason := e.RejectionReason.String
		if reason != "" && !invalidRejectionReasons[reason] {
			rejectionWeights[reason] += weight
		}
	}

	var finalRepScore, approvalRatio float64
	if totalWeight > 0 {
		finalRepScore = weightedRepScore / totalWeight
		approvalRatio = weightedApproval / totalWeight
	}

	decision := database.DecisionDeny
	if approvalRatio > 0.5 {
		decision = database.DecisionApprove
	}

	primaryReason := "pass"
	if decision != database.DecisionApprove {
		primaryReason = selectPrimaryRejectionReason(rejectionWeights)
	}

	return &Result{
		LeadID:                 leadID,
		EpochID:                epochID,
		FinalDecision:          decision,
		FinalRepScore:          round(finalRepScore, 4),
		PrimaryRejectionReason: primaryReason,
		ValidatorCount:         len(evidence),
		ConsensusWeight:        round(totalWeight, 2),
		ApprovalRatio:          round(approvalRatio, 4),
	}
}

// selectPrimaryRejectionReason picks the reason with the highest cumulative
// (v_trust × stake) weight, breaking ties lexicographically for determinism.
func selectPrimaryRejectionReason(weights map[string]float64) string {
	if len(weights) == 0 {
		return "unknown"
	}

	reasons := make([]string, 0, len(weights))
	for r := range weights {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	best := reasons[0]
	for _, r := range reasons[1:] {
		if weights[r] > weights[best] {
			best = r
		}
	}
	return best
}

func round(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

// Stats aggregates a batch of Results the way consensus.py's
// get_consensus_stats does, for the /reveal/stats endpoint.
type Stats struct {
	TotalLeads        int
	Approved          int
	Denied            int
	ApprovalRate      float64
	AvgRepScore       float64
	AvgValidatorCount float64
}

// ComputeStats summarizes a batch of consensus results.
func ComputeStats(results []*Result) Stats {
	if len(results) == 0 {
		return Stats{}
	}

	var approved int
	var repScoreSum, validatorSum float64
	for _, r := range results {
		if r.FinalDecision == database.DecisionApprove {
			approved++
		}
		repScoreSum += r.FinalRepScore
		validatorSum += float64(r.ValidatorCount)
	}

	n := float64(len(results))
	return Stats{
		TotalLeads:        len(results),
		Approved:          approved,
		Denied:            len(results) - approved,
		ApprovalRate:      round(float64(approved)/n, 4),
		AvgRepScore:       round(repScoreSum/n, 4),
		AvgValidatorCount: round(validatorSum/n, 2),
	}
}
