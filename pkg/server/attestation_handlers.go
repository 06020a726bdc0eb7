package server

import (
	"net/http"

	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

// handleAttestationDocument implements GET /attestation/document (spec.md
// §6.1): the signed document binding the enclave's pubkey to its code hash.
func (s *Server) handleAttestationDocument(w http.ResponseWriter, r *http.Request) {
	if s.enclave == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "enclave not configured")
		return
	}
	att, err := s.enclave.GetAttestation()
	if err != nil {
		s.writeErr(w, gatewayerr.Systemic("build attestation document", err))
		return
	}
	writeJSON(w, http.StatusOK, att)
}

// handleAttestationPubkey implements GET /attestation/pubkey: just the
// enclave's signing key, for callers that already trust the document and
// only need the key to verify subsequent event signatures.
func (s *Server) handleAttestationPubkey(w http.ResponseWriter, r *http.Request) {
	if s.enclave == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "enclave not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": s.enclave.PublicKey()})
}

type attestationHealthResponse struct {
	Healthy    bool    `json:"healthy"`
	BootID     string  `json:"boot_id"`
	BufferSize int     `json:"buffer_size"`
	OldestAgeS float64 `json:"oldest_age_seconds"`
}

// handleAttestationHealth implements GET /attestation/health: the enclave's
// buffer stats, so an operator can tell a checkpoint pass is keeping up.
func (s *Server) handleAttestationHealth(w http.ResponseWriter, r *http.Request) {
	if s.enclave == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "enclave not configured")
		return
	}
	stats := s.enclave.GetBufferStats()
	writeJSON(w, http.StatusOK, attestationHealthResponse{
		Healthy:    true,
		BootID:     s.enclave.BootID().String(),
		BufferSize: stats.Size,
		OldestAgeS: stats.AgeSeconds,
	})
}
