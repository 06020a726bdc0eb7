package validation

import "github.com/leadpoet/validator-gateway/pkg/database"

// RevealStats summarizes reveal progress for one epoch
// (original_source/gateway/api/reveal.py's get_reveal_stats).
type RevealStats struct {
	EpochID              int64    `json:"epoch_id"`
	TotalCommits         int      `json:"total_commits"`
	TotalReveals         int      `json:"total_reveals"`
	RevealPercentage     float64  `json:"reveal_percentage"`
	UnrevealedCount      int      `json:"unrevealed_count"`
	UnrevealedValidators []string `json:"unrevealed_validators"`
}

// ComputeRevealStats derives RevealStats from every commit row for epochID,
// revealed or not.
func ComputeRevealStats(epochID int64, rows []*database.ValidationEvidence) RevealStats {
	stats := RevealStats{EpochID: epochID, TotalCommits: len(rows)}

	seen := make(map[string]struct{})
	for _, e := range rows {
		if e.Decision.Valid {
			stats.TotalReveals++
			continue
		}
		if _, ok := seen[e.ValidatorHotkey]; ok {
			continue
		}
		seen[e.ValidatorHotkey] = struct{}{}
		stats.UnrevealedValidators = append(stats.UnrevealedValidators, e.ValidatorHotkey)
	}
	stats.UnrevealedCount = len(stats.UnrevealedValidators)

	if stats.TotalCommits > 0 {
		stats.RevealPercentage = round(float64(stats.TotalReveals)/float64(stats.TotalCommits)*100, 2)
	}
	return stats
}
