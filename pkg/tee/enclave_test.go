package tee

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpoet/validator-gateway/pkg/canonical"
)

func TestAppendEventChainsHashes(t *testing.T) {
	e, err := New("deadbeef", "")
	require.NoError(t, err)

	first, err := e.AppendEvent("SUBMISSION", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "", first.SignedEvent.PrevEventHash)
	assert.Equal(t, int64(0), first.SignedEvent.MonotonicSeq)

	second, err := e.AppendEvent("VALIDATION_COMMIT", []byte(`{"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, first.EventHash, second.SignedEvent.PrevEventHash)
	assert.Equal(t, int64(1), second.SignedEvent.MonotonicSeq)
}

func TestAppendEventRestartChainsToPriorTip(t *testing.T) {
	e, err := New("deadbeef", "previous-tip-hash")
	require.NoError(t, err)

	entry, err := e.AppendEvent("ENCLAVE_RESTART", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "previous-tip-hash", entry.SignedEvent.PrevEventHash)
}

func TestAppendEventSignatureVerifies(t *testing.T) {
	e, err := New("deadbeef", "")
	require.NoError(t, err)

	entry, err := e.AppendEvent("SUBMISSION", []byte(`{"a":1}`))
	require.NoError(t, err)

	bytesToVerify, err := canonical.HashEventBytes(entry.SignedEvent)
	require.NoError(t, err)

	sig, err := hex.DecodeString(entry.EnclaveSignature)
	require.NoError(t, err)
	pub, err := hex.DecodeString(entry.EnclavePubkey)
	require.NoError(t, err)

	assert.True(t, ed25519.Verify(pub, bytesToVerify, sig))
}

func TestGetAttestationBindsPubkeyAndCodeHash(t *testing.T) {
	e, err := New("code-hash-123", "")
	require.NoError(t, err)

	att, err := e.GetAttestation()
	require.NoError(t, err)
	assert.Equal(t, e.PublicKey(), att.PublicKey)
	assert.Equal(t, "code-hash-123", att.CodeHash)
	assert.NotEmpty(t, att.Document)
}

func TestBufferStatsAndClear(t *testing.T) {
	e, err := New("deadbeef", "")
	require.NoError(t, err)

	assert.Equal(t, 0, e.GetBufferStats().Size)

	e.AppendEvent("SUBMISSION", []byte(`{}`))
	e.AppendEvent("SUBMISSION", []byte(`{}`))
	e.AppendEvent("SUBMISSION", []byte(`{}`))

	stats := e.GetBufferStats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, int64(0), stats.FirstSeq)
	assert.Equal(t, int64(2), stats.LastSeq)

	cleared := e.ClearBuffer(1)
	assert.Equal(t, 2, cleared)
	assert.Equal(t, 1, e.GetBufferStats().Size)
}

func TestClearBufferDoesNotDropLaterAppends(t *testing.T) {
	e, err := New("deadbeef", "")
	require.NoError(t, err)

	e.AppendEvent("SUBMISSION", []byte(`{}`))
	snap := e.Snapshot()
	upTo := snap[len(snap)-1].SignedEvent.MonotonicSeq

	e.AppendEvent("SUBMISSION", []byte(`{}`))
	e.ClearBuffer(upTo)

	assert.Equal(t, 1, e.GetBufferStats().Size)
}

func TestNewFromKeyRestoresPublicKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	e, err := NewFromKey(priv, "deadbeef", "")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(pub), e.PublicKey())
}
