// Package tee implements the gateway's enclave boundary: Ed25519 event
// signing over a single hash-chained tip, attestation document generation,
// and checkpoint building, grounded on
// original_source/gateway/tee/enclave_signer.go,
// original_source/gateway/tee/gateway_tee_service.py, and
// original_source/gateway/utils/tee_client.py's RPC surface (append_event,
// get_public_key, get_attestation, get_buffer_stats, build_checkpoint,
// clear_buffer). This process plays both sides of that vsock boundary: no
// real Nitro enclave is in scope, so the same signing key and hash chain
// simply live in this process's memory instead of a second isolated one.
package tee

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpoet/validator-gateway/pkg/canonical"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

// Attestation mirrors the enclave's get_attestation result: a document
// binding the signing pubkey to a measurement of the running code.
type Attestation struct {
	Document  string `json:"attestation_document"`
	PublicKey string `json:"public_key"`
	CodeHash  string `json:"code_hash"`
	PCR0      string `json:"pcr0"`
	PCR1      string `json:"pcr1"`
	PCR2      string `json:"pcr2"`
}

// BufferStats mirrors get_buffer_stats.
type BufferStats struct {
	Size       int       `json:"size"`
	FirstSeq   int64     `json:"first_seq"`
	LastSeq    int64     `json:"last_seq"`
	OldestAt   time.Time `json:"oldest_at"`
	AgeSeconds float64   `json:"age_seconds"`
}

// Enclave is an in-process stand-in for the Nitro enclave: it owns the
// Ed25519 signing key, the single hash-chain tip, the monotonic sequence
// counter, and the unconfirmed event buffer. Every exported method
// corresponds to one RPC of the vsock boundary in tee_client.py.
//
// SINGLE-PROCESS REQUIREMENT: exactly one Enclave may be advancing a given
// chain at a time (spec.md §4.5.2) — the gateway process enforces this by
// constructing exactly one Enclave at startup, not by a lock shared across
// processes.
type Enclave struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	bootID   uuid.UUID
	codeHash string

	mu            sync.Mutex
	monotonicSeq  int64
	prevEventHash string // hex, "" only before the very first event this boot
	buffer        []canonical.LogEntry
	bufferSince   time.Time
}

// New generates a fresh Ed25519 keypair and starts a new boot session,
// chaining it to priorTip (the last event_hash persisted before this
// process started, or "" on a genuinely fresh deployment).
func New(codeHash string, priorTip string) (*Enclave, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, gatewayerr.Systemic("enclave key generation failed", err)
	}
	return &Enclave{
		priv:          priv,
		pub:           pub,
		bootID:        uuid.New(),
		codeHash:      codeHash,
		prevEventHash: priorTip,
		bufferSince:   time.Now(),
	}, nil
}

// NewFromKey restores an Enclave around a persisted signing key, for a
// restart that must keep presenting the same enclave_pubkey.
func NewFromKey(priv ed25519.PrivateKey, codeHash string, priorTip string) (*Enclave, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, gatewayerr.Systemic("persisted enclave key has the wrong size", fmt.Errorf("got %d bytes", len(priv)))
	}
	return &Enclave{
		priv:          priv,
		pub:           priv.Public().(ed25519.PublicKey),
		bootID:        uuid.New(),
		codeHash:      codeHash,
		prevEventHash: priorTip,
		bufferSince:   time.Now(),
	}, nil
}

// PublicKey returns the enclave's signing key, hex-encoded.
func (e *Enclave) PublicKey() string {
	return hex.EncodeToString(e.pub)
}

// BootID returns the UUID fixed for this enclave's process lifetime.
func (e *Enclave) BootID() uuid.UUID {
	return e.bootID
}

// AppendEvent is the append_event RPC: it builds a SignedEvent chained to
// the current tip, signs it, advances the tip and sequence, and buffers the
// resulting LogEntry for the next checkpoint. The entire operation is the
// critical section spec.md §4.5.2 requires — tip read, event build, hash,
// sign, and tip advance all happen under one lock.
func (e *Enclave) AppendEvent(eventType string, payload []byte) (canonical.LogEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seq := e.monotonicSeq
	e.monotonicSeq++

	signed := canonical.SignedEvent{
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		BootID:        e.bootID,
		MonotonicSeq:  seq,
		PrevEventHash: e.prevEventHash,
		Payload:       payload,
	}

	entry, err := e.signLocked(signed)
	if err != nil {
		return canonical.LogEntry{}, err
	}

	e.prevEventHash = entry.EventHash
	if len(e.buffer) == 0 {
		e.bufferSince = time.Now()
	}
	e.buffer = append(e.buffer, entry)

	return entry, nil
}

// SignCheckpointHeader signs the canonical JSON of a checkpoint header. This
// is the one other signature the enclave produces besides append_event's
// per-event signature. It signs whatever value canonicalizes; its only
// caller, pkg/translog.BuildCheckpoint, passes a checkpoint header.
func (e *Enclave) SignCheckpointHeader(header interface{}) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	canon, err := canonical.JSON(header)
	if err != nil {
		return nil, gatewayerr.Invariant("canonicalize checkpoint header", err)
	}
	return ed25519.Sign(e.priv, canon), nil
}

func (e *Enclave) signLocked(signed canonical.SignedEvent) (canonical.LogEntry, error) {
	bytesToSign, err := canonical.HashEventBytes(signed)
	if err != nil {
		return canonical.LogEntry{}, gatewayerr.Invariant("canonicalize signed_event", err)
	}

	hash := sha256Hex(bytesToSign)
	signature := ed25519.Sign(e.priv, bytesToSign)

	return canonical.LogEntry{
		SignedEvent:      signed,
		EventHash:        hash,
		EnclavePubkey:    e.PublicKey(),
		EnclaveSignature: hex.EncodeToString(signature),
	}, nil
}

// GetAttestation is the get_attestation RPC. The attestation document here
// is itself a signed canonical structure over {pubkey, code_hash, boot_id}
// rather than a real Nitro Security Module document — there is no hardware
// root of trust to call out to — but it carries the same binding the real
// attestation's user_data does: enclave pubkey to code measurement.
func (e *Enclave) GetAttestation() (Attestation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	body := struct {
		PublicKey string    `json:"public_key"`
		CodeHash  string    `json:"code_hash"`
		BootID    uuid.UUID `json:"boot_id"`
	}{
		PublicKey: e.PublicKey(),
		CodeHash:  e.codeHash,
		BootID:    e.bootID,
	}
	canon, err := canonical.JSON(body)
	if err != nil {
		return Attestation{}, gatewayerr.Invariant("canonicalize attestation body", err)
	}
	signature := ed25519.Sign(e.priv, canon)
	pcr := sha256Hex([]byte(e.codeHash))

	return Attestation{
		Document:  hex.EncodeToString(signature),
		PublicKey: e.PublicKey(),
		CodeHash:  e.codeHash,
		PCR0:      pcr,
		PCR1:      pcr,
		PCR2:      pcr,
	}, nil
}

// GetBufferStats is the get_buffer_stats RPC.
func (e *Enclave) GetBufferStats() BufferStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.buffer) == 0 {
		return BufferStats{}
	}
	return BufferStats{
		Size:       len(e.buffer),
		FirstSeq:   e.buffer[0].SignedEvent.MonotonicSeq,
		LastSeq:    e.buffer[len(e.buffer)-1].SignedEvent.MonotonicSeq,
		OldestAt:   e.bufferSince,
		AgeSeconds: time.Since(e.bufferSince).Seconds(),
	}
}

// ClearBuffer is the clear_buffer RPC, called only after a checkpoint's
// events have been durably uploaded to permanent storage. It drops exactly
// the events that were present when upTo was captured by BuildCheckpoint,
// never a later append that raced in behind the lock.
func (e *Enclave) ClearBuffer(upToSeq int64) (cleared int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := 0
	for i < len(e.buffer) && e.buffer[i].SignedEvent.MonotonicSeq <= upToSeq {
		i++
	}
	cleared = i
	e.buffer = e.buffer[i:]
	e.bufferSince = time.Now()
	return cleared
}

// Snapshot returns a copy of the currently buffered entries, for the
// checkpoint builder (pkg/translog) to hash without holding the enclave
// lock across a potentially slow Merkle build.
func (e *Enclave) Snapshot() []canonical.LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]canonical.LogEntry, len(e.buffer))
	copy(out, e.buffer)
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
