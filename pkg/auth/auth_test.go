package auth

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/registry"
	"github.com/leadpoet/validator-gateway/pkg/ss58"
)

// encodeSS58 mirrors pkg/ss58.Decode in reverse so tests don't depend on a
// fixed external fixture.
func encodeSS58(t *testing.T, pubkey ed25519.PublicKey) string {
	t.Helper()
	body := append([]byte{ss58.GenericSubstratePrefix}, pubkey...)
	h, err := blake2b.New512(nil)
	require.NoError(t, err)
	h.Write([]byte("SS58PRE"))
	h.Write(body)
	checksum := h.Sum(nil)
	return base58.Encode(append(body, checksum[:2]...))
}

type fakeClassifier struct {
	cls registry.Classification
	err error
}

func (f fakeClassifier) Classify(ctx context.Context, currentEpoch int64, hotkey string) (registry.Classification, error) {
	if f.err != nil {
		return registry.Classification{}, f.err
	}
	return f.cls, nil
}

func TestVerifySucceedsForValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	hotkey := encodeSS58(t, pub)

	msg := []byte("GET_EPOCH_LEADS:17:" + hotkey)
	sig := ed25519.Sign(priv, msg)

	a := New(fakeClassifier{cls: registry.Classification{Registered: true, Role: chain.RoleValidator}})
	id, err := a.Verify(context.Background(), 17, hotkey, msg, sig)
	require.NoError(t, err)
	assert.Equal(t, hotkey, id.Hotkey)
	assert.Equal(t, chain.RoleValidator, id.Role)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	hotkey := encodeSS58(t, pub)

	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	msg := []byte("payload")
	badSig := ed25519.Sign(otherPriv, msg)

	a := New(fakeClassifier{cls: registry.Classification{Registered: true, Role: chain.RoleMiner}})
	_, err = a.Verify(context.Background(), 1, hotkey, msg, badSig)
	require.Error(t, err)
	code, ok := gatewayerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.CodeAuth, code)
}

func TestVerifyRejectsUnregisteredHotkey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	hotkey := encodeSS58(t, pub)
	msg := []byte("payload")
	sig := ed25519.Sign(priv, msg)

	a := New(fakeClassifier{cls: registry.Classification{Registered: false}})
	_, err = a.Verify(context.Background(), 1, hotkey, msg, sig)
	require.Error(t, err)
	code, _ := gatewayerr.CodeOf(err)
	assert.Equal(t, gatewayerr.CodeAuth, code)
}
