package canonical

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SignedEvent is the envelope hashed and signed for every transparency log
// entry (spec.md §4.5.1). Field order in the struct is irrelevant — JSON
// canonicalizes by key — but the set of fields is exactly this closed list;
// timestamp lives only here, never inside Payload.
type SignedEvent struct {
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	BootID        uuid.UUID       `json:"boot_id"`
	MonotonicSeq  int64           `json:"monotonic_seq"`
	PrevEventHash string          `json:"prev_event_hash"` // hex
	Payload       json.RawMessage `json:"payload"`
}

// LogEntry is the fully-formed, signed transparency log record returned by
// the enclave's append_event RPC.
type LogEntry struct {
	SignedEvent      SignedEvent `json:"signed_event"`
	EventHash        string      `json:"event_hash"`        // hex, SHA-256(canonical_json(signed_event))
	EnclavePubkey    string      `json:"enclave_pubkey"`    // hex
	EnclaveSignature string      `json:"enclave_signature"` // hex, Ed25519 over canonical signed_event bytes
}

// HashEventBytes returns the canonical JSON bytes of e, the input to both the
// event_hash digest and the Ed25519 signature.
func HashEventBytes(e SignedEvent) ([]byte, error) {
	return JSON(e)
}
