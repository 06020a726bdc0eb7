package translog

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/leadpoet/validator-gateway/pkg/canonical"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/merkle"
	"github.com/leadpoet/validator-gateway/pkg/tee"
)

// Checkpoint is the host-side view of the enclave's build_checkpoint
// result, ready to be persisted and uploaded (spec.md §4.5.5).
type Checkpoint struct {
	EventCount      int
	MerkleRoot      []byte
	TreeLevels      json.RawMessage
	RangeStart      time.Time
	RangeEnd        time.Time
	HeaderSignature []byte
	CompressedBatch []byte
	UpToSeq         int64 // highest MonotonicSeq covered, for ClearBuffer
}

// checkpointHeader is the canonical structure the enclave signs — event
// count, Merkle root, and time range, so a verifier can recompute the exact
// bytes that were signed from the checkpoint's public fields.
type checkpointHeader struct {
	EventCount int       `json:"event_count"`
	MerkleRoot string    `json:"merkle_root"` // hex
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
}

// treeLevel mirrors one row of InclusionProof-friendly sibling data per
// event, keyed by leaf index, so a verifier can reconstruct inclusion
// proofs without re-walking the whole tree.
type treeLevel struct {
	LeafIndex int      `json:"leaf_index"`
	EventHash string   `json:"event_hash"`
	Siblings  []string `json:"siblings"` // hex, bottom-up
}

// BuildCheckpoint snapshots enclave's current buffer, builds a Merkle tree
// over the canonical JSON of each buffered event (pkg/merkle.BuildTree
// already implements spec.md's SHA-256-leaves, odd-node-duplication rule),
// gzips the raw events, and has the enclave sign the resulting header. It
// never clears the buffer or persists anything — see enclave.ClearBuffer,
// called only once the caller has confirmed the upload (spec.md §4.5.5
// step 3: "events remain in the enclave buffer until confirmed").
//
// An empty buffer still produces a valid, signed zero-event checkpoint so
// a fixed cadence can be maintained without gaps.
func BuildCheckpoint(enclave *tee.Enclave) (*Checkpoint, error) {
	events := enclave.Snapshot()

	leaves := make([][]byte, len(events))
	for i, e := range events {
		leafBytes, err := canonical.JSON(e.SignedEvent)
		if err != nil {
			return nil, gatewayerr.Invariant("canonicalize event for checkpoint leaf", err)
		}
		leaves[i] = merkle.HashData(leafBytes)
	}

	var root []byte
	var levels []treeLevel
	if len(leaves) > 0 {
		tree, err := merkle.BuildTree(leaves)
		if err != nil {
			return nil, gatewayerr.Invariant("build checkpoint merkle tree", err)
		}
		root = tree.Root()
		levels = make([]treeLevel, len(events))
		for i, e := range events {
			proof, err := tree.GenerateProof(i)
			if err != nil {
				return nil, gatewayerr.Invariant("generate checkpoint inclusion proof", err)
			}
			if valid, err := merkle.VerifyProof(leaves[i], proof, root); err != nil || !valid {
				if err == nil {
					err = fmt.Errorf("proof for event %s did not verify against the checkpoint root", e.EventHash)
				}
				return nil, gatewayerr.Invariant("checkpoint inclusion proof failed self-verification", err)
			}

			siblings := make([]string, len(proof.Path))
			for j, node := range proof.Path {
				siblings[j] = node.Hash
			}
			levels[i] = treeLevel{LeafIndex: i, EventHash: e.EventHash, Siblings: siblings}
		}
	}

	var rangeStart, rangeEnd time.Time
	if len(events) > 0 {
		rangeStart = events[0].SignedEvent.Timestamp
		rangeEnd = events[len(events)-1].SignedEvent.Timestamp
	} else {
		rangeStart = time.Now().UTC()
		rangeEnd = rangeStart
	}

	header := checkpointHeader{
		EventCount: len(events),
		MerkleRoot: hex.EncodeToString(root),
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	}
	signature, err := enclave.SignCheckpointHeader(header)
	if err != nil {
		return nil, err
	}

	compressed, err := gzipEvents(events)
	if err != nil {
		return nil, gatewayerr.Invariant("compress checkpoint events", err)
	}

	treeLevelsJSON, err := json.Marshal(levels)
	if err != nil {
		return nil, gatewayerr.Invariant("marshal checkpoint tree levels", err)
	}

	var upToSeq int64 = -1
	if len(events) > 0 {
		upToSeq = events[len(events)-1].SignedEvent.MonotonicSeq
	}

	return &Checkpoint{
		EventCount:      len(events),
		MerkleRoot:      root,
		TreeLevels:      treeLevelsJSON,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		HeaderSignature: signature,
		CompressedBatch: compressed,
		UpToSeq:         upToSeq,
	}, nil
}

// ToRow converts cp into the row CheckpointRepository.Create expects,
// stamping checkpointNumber (the caller tracks this counter — e.g. one past
// the highest persisted checkpoint_number).
func (cp *Checkpoint) ToRow(checkpointNumber int64) *database.Checkpoint {
	return &database.Checkpoint{
		CheckpointNumber: checkpointNumber,
		EventCount:       cp.EventCount,
		MerkleRoot:       cp.MerkleRoot,
		TreeLevels:       cp.TreeLevels,
		RangeStart:       cp.RangeStart,
		RangeEnd:         cp.RangeEnd,
		HeaderSignature:  cp.HeaderSignature,
		CompressedBatch:  cp.CompressedBatch,
	}
}

func gzipEvents(events []canonical.LogEntry) ([]byte, error) {
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
