package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/validation"
)

type validateRequest struct {
	LeadID              string          `json:"lead_id"`
	DecisionHash        string          `json:"decision_hash"`
	RepScoreHash        string          `json:"rep_score_hash"`
	RejectionReasonHash string          `json:"rejection_reason_hash"`
	EvidenceBlob        json.RawMessage `json:"evidence_blob"`
}

type validateResponse struct {
	EvidenceID string `json:"evidence_id"`
}

// handleValidate implements POST /validate (spec.md §4.3.2, §6.1): a
// validator commits hashed decision/rep_score/rejection_reason for a lead
// in its assignment.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	id, _, err := s.decodeSigned(r, &req)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		s.writeErr(w, gatewayerr.Data("lead_id is not a valid uuid"))
		return
	}
	decisionHash, err1 := hex.DecodeString(req.DecisionHash)
	repScoreHash, err2 := hex.DecodeString(req.RepScoreHash)
	reasonHash, err3 := hex.DecodeString(req.RejectionReasonHash)
	if err1 != nil || err2 != nil || err3 != nil {
		s.writeErr(w, gatewayerr.Data("commit hashes must be valid hex"))
		return
	}

	epochID, blockWithinEpoch, err := s.currentBlockPosition(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}

	e, err := s.store.Commit(r.Context(), validation.CommitInput{
		ValidatorHotkey:     id.Hotkey,
		LeadID:              leadID,
		EpochID:             epochID,
		DecisionHash:        decisionHash,
		RepScoreHash:        repScoreHash,
		RejectionReasonHash: reasonHash,
		EvidenceBlob:        req.EvidenceBlob,
	}, blockWithinEpoch)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{EvidenceID: e.EvidenceID.String()})
}

type revealRequest struct {
	EvidenceID      string `json:"evidence_id"`
	Decision        string `json:"decision"`
	RepScore        int    `json:"rep_score"`
	RejectionReason string `json:"rejection_reason"`
	Salt            string `json:"salt"`
}

type revealResponse struct {
	AlreadyRevealed bool              `json:"already_revealed"`
	EvidenceID      string            `json:"evidence_id"`
	Consensus       *consensusOutcome `json:"consensus,omitempty"`
}

type consensusOutcome struct {
	FinalDecision          string  `json:"final_decision"`
	FinalRepScore          float64 `json:"final_rep_score"`
	PrimaryRejectionReason string  `json:"primary_rejection_reason"`
	ValidatorCount         int     `json:"validator_count"`
	ConsensusWeight        float64 `json:"consensus_weight"`
	ApprovalRatio          float64 `json:"approval_ratio"`
}

// handleReveal implements POST /reveal (spec.md §4.3.3, §6.1): a validator
// reveals a prior commit, and the lead's consensus is eagerly recomputed.
func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	id, _, err := s.decodeSigned(r, &req)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	evidenceID, err := uuid.Parse(req.EvidenceID)
	if err != nil {
		s.writeErr(w, gatewayerr.Data("evidence_id is not a valid uuid"))
		return
	}

	epochID, blockWithinEpoch, err := s.currentBlockPosition(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}

	res, err := s.store.Reveal(r.Context(), validation.RevealInput{
		EvidenceID:      evidenceID,
		ValidatorHotkey: id.Hotkey,
		CurrentEpochID:  epochID,
		Decision:        database.Decision(req.Decision),
		RepScore:        req.RepScore,
		RejectionReason: req.RejectionReason,
		Salt:            req.Salt,
	}, blockWithinEpoch)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	resp := revealResponse{AlreadyRevealed: res.AlreadyRevealed, EvidenceID: res.Evidence.EvidenceID.String()}
	if res.Consensus != nil && res.Consensus != validation.NoRevealsYet {
		resp.Consensus = &consensusOutcome{
			FinalDecision:          string(res.Consensus.FinalDecision),
			FinalRepScore:          res.Consensus.FinalRepScore,
			PrimaryRejectionReason: res.Consensus.PrimaryRejectionReason,
			ValidatorCount:         res.Consensus.ValidatorCount,
			ConsensusWeight:        res.Consensus.ConsensusWeight,
			ApprovalRatio:          res.Consensus.ApprovalRatio,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevealStats implements GET /reveal/stats?epoch_id=N (spec.md §6.1,
// original_source/gateway/api/reveal.py's get_reveal_stats).
func (s *Server) handleRevealStats(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, validation.ComputeRevealStats(epochID, rows))
}
