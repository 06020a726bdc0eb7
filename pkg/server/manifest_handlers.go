package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/validation"
)

type manifestRequest struct {
	EpochID         int64  `json:"epoch_id"`
	ValidationCount int    `json:"validation_count"`
	ManifestRoot    string `json:"manifest_root"`
}

// handleManifestSubmit implements POST /manifest (SPEC_FULL.md §4, grounded
// on original_source/gateway/api/manifest.py): a validator proves it
// processed its epoch assignment by submitting a Merkle root over the
// evidence ids it committed.
func (s *Server) handleManifestSubmit(w http.ResponseWriter, r *http.Request) {
	var req manifestRequest
	id, _, err := s.decodeSigned(r, &req)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	if err := s.manifest.Submit(r.Context(), validation.ManifestInput{
		EpochID:         req.EpochID,
		ValidationCount: req.ValidationCount,
		ManifestRoot:    req.ManifestRoot,
		ValidatorHotkey: id.Hotkey,
	}); err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// defaultManifestHistoryPage bounds GET /manifest/validator/{hk} when the
// caller omits ?limit.
const defaultManifestHistoryPage = 20

type manifestStatsResponse struct {
	EpochID         int64    `json:"epoch_id"`
	TotalValidators int      `json:"total_validators"`
	Submitted       []string `json:"submitted_validators"`
	MissingCount    int      `json:"missing_count"`
}

// handleManifestStats implements GET /manifest/stats?epoch_id=N
// (SPEC_FULL.md §4, original_source/gateway/api/manifest.py's
// get_manifest_stats). totalValidators is the distinct set of validators who
// committed evidence for the epoch (revealed or not), matching the original's own denominator
// more closely than a registry-wide validator count would.
func (s *Server) handleManifestStats(w http.ResponseWriter, r *http.Request) {
	epochID, err := strconv.ParseInt(r.URL.Query().Get("epoch_id"), 10, 64)
	if err != nil {
		s.writeErr(w, gatewayerr.Data("epoch_id query parameter must be an integer"))
		return
	}

	rows, err := s.evidence.ByEpoch(r.Context(), epochID)
	if err != nil {
		s.writeErr(w, gatewayerr.Transient("load epoch evidence", err))
		return
	}
	seen := make(map[string]struct{})
	for _, e := range rows {
		seen[e.ValidatorHotkey] = struct{}{}
	}

	submitted, missing, err := validation.StatsForEpoch(r.Context(), s.transparency, epochID, len(seen), 1000)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, manifestStatsResponse{
		EpochID:         epochID,
		TotalValidators: len(seen),
		Submitted:       submitted,
		MissingCount:    missing,
	})
}

// handleManifestHistory implements GET /manifest/validator/{hk}
// (SPEC_FULL.md §4, original_source/gateway/api/manifest.py's
// get_validator_manifests).
func (s *Server) handleManifestHistory(w http.ResponseWriter, r *http.Request) {
	hotkey := chi.URLParam(r, "hk")
	limit := defaultManifestHistoryPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeErr(w, gatewayerr.Data("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	history, err := validation.HistoryForValidator(r.Context(), s.transparency, hotkey, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
