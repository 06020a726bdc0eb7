// Package canonical implements the deterministic JSON serialization used
// everywhere a hash or signature must be reproducible: the transparency
// log's signed_event envelope, Merkle leaves, and signed HTTP payloads.
// Grounded on the enclave's canonicalization discipline (gateway/tee/merkle.py,
// gateway/tee/enclave_signer.py in the original implementation): keys sorted,
// no extra whitespace, UTF-8 throughout.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// JSON renders v as canonical JSON: object keys sorted recursively and
// separators tightened to "," and ":" (no spaces). v is first round-tripped
// through encoding/json so arbitrary structs, not just map[string]any, can be
// canonicalized.
func JSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustJSON is JSON but panics on error, for call sites where v is a known
// static Go struct and a marshal failure indicates a programming error.
func MustJSON(v interface{}) []byte {
	b, err := JSON(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Hash returns SHA-256 of the canonical JSON encoding of v — the Merkle leaf
// hash formula from spec.md §6.2: SHA-256(utf8(canonical_json(v))).
func Hash(v interface{}) ([]byte, error) {
	b, err := JSON(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		// Scalars (string, json.Number, bool, nil) re-marshal deterministically
		// through encoding/json with no further structure to sort.
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
