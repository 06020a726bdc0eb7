package server

import (
	"net/http"
	"strings"

	"github.com/leadpoet/validator-gateway/pkg/linkedin"
	"github.com/leadpoet/validator-gateway/pkg/validation"
)

// submitFingerprint carries the fields Submit's dedup logic needs, read
// alongside (and left inside) the opaque lead blob the miner sends
// (spec.md §6.2 "Lead fingerprint").
type submitFingerprint struct {
	Email              string `json:"email"`
	LinkedInProfileURL string `json:"linkedin_profile_url"`
	LinkedInCompanyURL string `json:"linkedin_company_url"`
}

type submitResponse struct {
	LeadID string `json:"lead_id"`
	Status string `json:"status"`
}

// handleSubmit implements POST /submit (spec.md §6.1): a miner submits a
// lead, authenticated by a signature over the canonical JSON of the payload.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var fp submitFingerprint
	id, payload, err := s.decodeSigned(r, &fp)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	lead, err := s.store.Submit(r.Context(), validation.SubmitInput{
		MinerHotkey:       id.Hotkey,
		LeadBlob:          payload,
		EmailNormalized:   normalizeEmail(fp.Email),
		LinkedInComboHash: linkedin.ComboHash(fp.LinkedInProfileURL, fp.LinkedInCompanyURL),
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{LeadID: lead.LeadID.String(), Status: string(lead.Status)})
}

// normalizeEmail applies spec.md §6.2's email_hash input normalization:
// lower(trim(email)).
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
