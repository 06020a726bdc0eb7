package ss58

import (
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encode is a test-only helper mirroring the Decode algorithm in reverse, so
// these tests don't depend on a fixed external SS58 fixture.
func encode(t *testing.T, pubkey ed25519.PublicKey) string {
	t.Helper()
	body := append([]byte{GenericSubstratePrefix}, pubkey...)
	checksum, err := ss58Checksum(body)
	require.NoError(t, err)
	raw := append(body, checksum[:2]...)
	return base58.Encode(raw)
}

func TestDecodeRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	addr := encode(t, pub)
	decoded, err := Decode(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), []byte(decoded))
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	addr := encode(t, pub)
	raw, err := base58.Decode(addr)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	corrupted := base58.Encode(raw)

	_, err = Decode(corrupted)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr := encode(t, pub)

	message := []byte("GET_EPOCH_LEADS:42:5FHneW")
	sig := ed25519.Sign(priv, message)

	ok, err := VerifyEd25519(message, sig, addr)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyEd25519([]byte("tampered"), sig, addr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyEd25519RejectsShortSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr := encode(t, pub)

	_, err = VerifyEd25519([]byte("msg"), []byte("short"), addr)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
