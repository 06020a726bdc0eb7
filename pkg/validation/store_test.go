package validation

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/leadpoet/validator-gateway/pkg/database"
)

func TestLeadInAssignment(t *testing.T) {
	id := uuid.New()
	ids, _ := json.Marshal([]string{id.String(), uuid.New().String()})
	a := &database.EpochAssignment{AssignedLeadIDs: ids}

	assert.True(t, leadInAssignment(a, id))
	assert.False(t, leadInAssignment(a, uuid.New()))
}

func TestLeadInAssignmentMalformedJSON(t *testing.T) {
	a := &database.EpochAssignment{AssignedLeadIDs: json.RawMessage(`not-json`)}
	assert.False(t, leadInAssignment(a, uuid.New()))
}

func TestHashesMatch(t *testing.T) {
	in := RevealInput{Decision: database.DecisionApprove, RepScore: 40, RejectionReason: "pass", Salt: "abc123"}
	e := commitFromReveal(in)

	assert.True(t, hashesMatch(e, in))

	tampered := in
	tampered.RepScore = 41
	assert.False(t, hashesMatch(e, tampered))
}

// commitFromReveal builds the stored evidence hashes the way Commit would
// have, so hashesMatch can be exercised without a database round-trip.
func commitFromReveal(in RevealInput) *database.ValidationEvidence {
	decisionHash := sha256.Sum256([]byte(string(in.Decision) + in.Salt))
	repScoreHash := sha256.Sum256([]byte(strconv.Itoa(in.RepScore) + in.Salt))
	reasonHash := sha256.Sum256([]byte(in.RejectionReason + in.Salt))
	return &database.ValidationEvidence{
		DecisionHash:        decisionHash[:],
		RepScoreHash:        repScoreHash[:],
		RejectionReasonHash: reasonHash[:],
	}
}

func TestICPMultiplierFromEvidenceModeWins(t *testing.T) {
	rows := []*database.ValidationEvidence{
		approvingEvidence(true),
		approvingEvidence(true),
		approvingEvidence(false),
	}
	assert.True(t, icpMultiplierFromEvidence(rows, database.DecisionApprove))
}

func TestICPMultiplierFromEvidenceDeniedIsFalse(t *testing.T) {
	rows := []*database.ValidationEvidence{approvingEvidence(true)}
	assert.False(t, icpMultiplierFromEvidence(rows, database.DecisionDeny))
}

func TestICPMultiplierFromEvidenceTieBreaksFirstOccurrence(t *testing.T) {
	rows := []*database.ValidationEvidence{approvingEvidence(false), approvingEvidence(true)}
	assert.False(t, icpMultiplierFromEvidence(rows, database.DecisionApprove))
}

func approvingEvidence(isICP bool) *database.ValidationEvidence {
	blob, _ := json.Marshal(map[string]bool{"is_icp_multiplier": isICP})
	return &database.ValidationEvidence{
		Decision:     sql.NullString{String: string(database.DecisionApprove), Valid: true},
		EvidenceBlob: blob,
	}
}

func TestCanonicalizeCompactsJSON(t *testing.T) {
	out := canonicalize(json.RawMessage(`{  "a" : 1 , "b" : [1, 2]  }`))
	assert.Equal(t, `{"a":1,"b":[1,2]}`, string(out))
}

func TestCanonicalizeFallsBackOnInvalidJSON(t *testing.T) {
	out := canonicalize(json.RawMessage(`not json`))
	assert.Equal(t, "not json", string(out))
}
