package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/leadpoet/validator-gateway/pkg/auth"
	"github.com/leadpoet/validator-gateway/pkg/canonical"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

// signedEnvelope is the wire shape every POST endpoint decodes: a payload
// plus the hex-encoded Ed25519 signature over that payload's canonical JSON
// (spec.md §6.1 "Message signed: canonical JSON of body").
type signedEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Hotkey    string          `json:"hotkey"`
	Signature string          `json:"signature"` // hex-encoded
}

// decodeSigned reads a signedEnvelope from the request body, verifies its
// signature over the canonicalized payload, and unmarshals payload into out.
// It returns the raw payload bytes alongside the verified identity so
// callers that also need the lead blob verbatim (handleSubmit) don't have
// to re-read the request body.
func (s *Server) decodeSigned(r *http.Request, out interface{}) (auth.Identity, json.RawMessage, error) {
	var env signedEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return auth.Identity{}, nil, gatewayerr.Data("malformed request body: " + err.Error())
	}

	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return auth.Identity{}, nil, gatewayerr.Auth("signature is not valid hex")
	}

	message, err := canonical.JSON(json.RawMessage(env.Payload))
	if err != nil {
		return auth.Identity{}, nil, gatewayerr.Data("payload is not valid JSON")
	}

	epochID, err := s.currentEpochID(r.Context())
	if err != nil {
		return auth.Identity{}, nil, err
	}

	id, err := s.auth.Verify(r.Context(), epochID, env.Hotkey, message, sig)
	if err != nil {
		return auth.Identity{}, nil, err
	}

	if err := json.Unmarshal(env.Payload, out); err != nil {
		return auth.Identity{}, nil, gatewayerr.Data("payload does not match expected shape: " + err.Error())
	}
	return id, env.Payload, nil
}

// verifySignedMessage checks a detached signature over an exact message
// string, for endpoints signing a fixed template rather than a JSON body
// (spec.md §6.1's `GET /epoch/{id}/leads`: "GET_EPOCH_LEADS:<id>:<hotkey>").
func (s *Server) verifySignedMessage(r *http.Request, hotkey, message, signatureHex string) (auth.Identity, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return auth.Identity{}, gatewayerr.Auth("signature is not valid hex")
	}
	epochID, err := s.currentEpochID(r.Context())
	if err != nil {
		return auth.Identity{}, err
	}
	return s.auth.Verify(r.Context(), epochID, hotkey, []byte(message), sig)
}
