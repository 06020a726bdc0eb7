// Package ss58 decodes Substrate SS58-encoded addresses (Bittensor hotkeys)
// and verifies Ed25519 signatures over them, implementing spec.md §6.5's
// verify_ed25519(message, signature, hotkey_ss58) chain-interface primitive.
//
// SS58 format: base58(prefix_bytes || public_key || checksum[0:2]), where
// checksum = blake2b_512("SS58PRE" || prefix_bytes || public_key). Bittensor
// hotkeys use network prefix 42 (the generic Substrate prefix).
package ss58

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// GenericSubstratePrefix is the network identifier Bittensor hotkeys use.
const GenericSubstratePrefix = 42

const checksumPrefix = "SS58PRE"

var (
	ErrInvalidLength    = errors.New("ss58: invalid decoded length")
	ErrChecksumMismatch = errors.New("ss58: checksum mismatch")
	ErrInvalidSignature = errors.New("ss58: invalid signature length")
)

// Decode decodes an SS58 address string into its raw 32-byte Ed25519 public
// key, verifying the embedded checksum.
func Decode(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("ss58: base58 decode: %w", err)
	}

	// 1-byte prefix + 32-byte public key + 2-byte checksum, the common case
	// for Bittensor hotkeys (prefix < 64).
	if len(raw) != 35 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(raw))
	}

	body := raw[:33]
	wantChecksum := raw[33:35]

	checksum, err := ss58Checksum(body)
	if err != nil {
		return nil, err
	}
	if checksum[0] != wantChecksum[0] || checksum[1] != wantChecksum[1] {
		return nil, ErrChecksumMismatch
	}

	pubkey := make([]byte, 32)
	copy(pubkey, raw[1:33])
	return ed25519.PublicKey(pubkey), nil
}

func ss58Checksum(body []byte) ([]byte, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, fmt.Errorf("ss58: blake2b init: %w", err)
	}
	h.Write([]byte(checksumPrefix))
	h.Write(body)
	return h.Sum(nil), nil
}

// VerifyEd25519 implements spec.md §6.5's verify_ed25519: decode hotkeySS58
// to its public key and check signature over message.
func VerifyEd25519(message, signature []byte, hotkeySS58 string) (bool, error) {
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: got %d bytes", ErrInvalidSignature, len(signature))
	}

	pubkey, err := Decode(hotkeySS58)
	if err != nil {
		return false, err
	}

	return ed25519.Verify(pubkey, message, signature), nil
}
