package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

// epochIDFromPath parses the {id} chi path parameter into an epoch id.
func epochIDFromPath(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, gatewayerr.Data("epoch id must be an integer")
	}
	return id, nil
}

type epochInfoResponse struct {
	EpochID    int64               `json:"epoch_id"`
	StartBlock int64               `json:"start_block"`
	EndBlock   int64               `json:"end_block"`
	CloseBlock int64               `json:"close_block"`
	State      database.EpochState `json:"state"`
}

func toEpochInfoResponse(e *database.Epoch) epochInfoResponse {
	return epochInfoResponse{
		EpochID:    e.EpochID,
		StartBlock: e.StartBlock,
		EndBlock:   e.EndBlock,
		CloseBlock: e.CloseBlock,
		State:      e.State,
	}
}

// handleEpochCurrent implements GET /epoch/current (spec.md §6.1): public
// metadata for the epoch the chain tip currently falls in.
func (s *Server) handleEpochCurrent(w http.ResponseWriter, r *http.Request) {
	epochID, err := s.currentEpochID(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}

	e, err := s.epochs.Get(r.Context(), epochID)
	if err != nil {
		if err == database.ErrEpochNotFound {
			s.writeErr(w, gatewayerr.Wrap(gatewayerr.CodeData, "current epoch has no row yet", err))
			return
		}
		s.writeErr(w, gatewayerr.Transient("load current epoch", err))
		return
	}
	writeJSON(w, http.StatusOK, toEpochInfoResponse(e))
}

// handleEpochInfo implements GET /epoch/{id}/info (spec.md §6.1).
func (s *Server) handleEpochInfo(w http.ResponseWriter, r *http.Request) {
	epochID, err := epochIDFromPath(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	e, err := s.epochs.Get(r.Context(), epochID)
	if err != nil {
		if err == database.ErrEpochNotFound {
			s.writeErr(w, gatewayerr.Wrap(gatewayerr.CodeData, "unknown epoch", err))
			return
		}
		s.writeErr(w, gatewayerr.Transient("load epoch", err))
		return
	}
	writeJSON(w, http.StatusOK, toEpochInfoResponse(e))
}

type epochLeadsResponse struct {
	EpochID         int64       `json:"epoch_id"`
	QueueMerkleRoot string      `json:"queue_merkle_root"`
	Leads           []leadBrief `json:"leads"`
}

type leadBrief struct {
	LeadID       string `json:"lead_id"`
	MinerHotkey  string `json:"miner_hotkey"`
	LeadBlob     []byte `json:"lead_blob"`
	LeadBlobHash string `json:"lead_blob_hash"`
}

// maxLeadDistributionBlock bounds GET /epoch/{id}/leads to the same window
// Store.Commit enforces for POST /validate (original_source/gateway/api/epoch.py
// step 3.5: "within lead distribution window").
const maxLeadDistributionBlock = 350

// handleEpochLeads implements GET /epoch/{id}/leads (spec.md §6.1): a
// validator fetches its epoch's fixed 50-lead assignment. Authenticated by a
// detached signature over "GET_EPOCH_LEADS:<id>:<hotkey>" passed as query
// parameters, since a GET request carries no signed body.
func (s *Server) handleEpochLeads(w http.ResponseWriter, r *http.Request) {
	epochID, err := epochIDFromPath(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	hotkey := r.URL.Query().Get("validator_hotkey")
	signature := r.URL.Query().Get("signature")
	if hotkey == "" || signature == "" {
		s.writeErr(w, gatewayerr.Data("validator_hotkey and signature query parameters are required"))
		return
	}

	message := fmt.Sprintf("GET_EPOCH_LEADS:%d:%s", epochID, hotkey)
	id, err := s.verifySignedMessage(r, hotkey, message, signature)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if id.Role != chain.RoleValidator {
		s.writeErr(w, gatewayerr.Auth("hotkey is not a registered validator"))
		return
	}

	currentEpoch, blockWithinEpoch, err := s.currentBlockPosition(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if epochID != currentEpoch {
		s.writeErr(w, gatewayerr.Temporal("epoch is not the currently active epoch"))
		return
	}
	if blockWithinEpoch > maxLeadDistributionBlock {
		s.writeErr(w, gatewayerr.Temporal("lead distribution window has closed for this epoch"))
		return
	}

	assignment, ok := s.leadsCache.Get(epochID)
	if !ok {
		s.writeErr(w, gatewayerr.Data("epoch assignment not yet materialized"))
		return
	}

	fullLeads, err := s.leadRepo.ByIDs(r.Context(), assignment.LeadIDs)
	if err != nil {
		s.writeErr(w, gatewayerr.Transient("load assigned leads", err))
		return
	}

	briefs := make([]leadBrief, len(fullLeads))
	for i, l := range fullLeads {
		briefs[i] = leadBrief{
			LeadID:       l.LeadID.String(),
			MinerHotkey:  l.MinerHotkey,
			LeadBlob:     l.LeadBlob,
			LeadBlobHash: hexEncode(l.LeadBlobHash),
		}
	}

	writeJSON(w, http.StatusOK, epochLeadsResponse{
		EpochID:         epochID,
		QueueMerkleRoot: assignment.QueueMerkleRoot,
		Leads:           briefs,
	})
}
