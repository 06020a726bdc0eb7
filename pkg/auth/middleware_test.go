package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/registry"
)

type fakeEpochSource struct{ epoch int64 }

func (f fakeEpochSource) CurrentEpochID(ctx context.Context) (int64, error) {
	return f.epoch, nil
}

func TestRequireAllowsMatchingRole(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	hotkey := encodeSS58(t, pub)

	a := New(fakeClassifier{cls: registry.Classification{Registered: true, Role: chain.RoleValidator}})
	msgFn := OperationMessage("GET_EPOCH_LEADS", func(r *http.Request) string { return "17" })

	var sawIdentity Identity
	handler := a.Require(chain.RoleValidator, fakeEpochSource{epoch: 17}, msgFn)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			require.True(t, ok)
			sawIdentity = id
			w.WriteHeader(http.StatusOK)
		}),
	)

	msg := []byte("GET_EPOCH_LEADS:17:" + hotkey)
	sig := ed25519.Sign(priv, msg)

	req := httptest.NewRequest(http.MethodGet, "/epoch/17/leads", nil)
	req.Header.Set(HeaderHotkey, hotkey)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, hotkey, sawIdentity.Hotkey)
}

func TestRequireRejectsRoleMismatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	hotkey := encodeSS58(t, pub)

	a := New(fakeClassifier{cls: registry.Classification{Registered: true, Role: chain.RoleMiner}})
	msgFn := OperationMessage("GET_EPOCH_LEADS", func(r *http.Request) string { return "17" })
	handler := a.Require(chain.RoleValidator, fakeEpochSource{epoch: 17}, msgFn)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run for mismatched role")
		}),
	)

	msg := []byte("GET_EPOCH_LEADS:17:" + hotkey)
	sig := ed25519.Sign(priv, msg)

	req := httptest.NewRequest(http.MethodGet, "/epoch/17/leads", nil)
	req.Header.Set(HeaderHotkey, hotkey)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireRejectsMissingHeaders(t *testing.T) {
	a := New(fakeClassifier{cls: registry.Classification{Registered: true, Role: chain.RoleMiner}})
	msgFn := OperationMessage("GET_EPOCH_LEADS", func(r *http.Request) string { return "17" })
	handler := a.Require("", fakeEpochSource{epoch: 17}, msgFn)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run without headers")
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/epoch/17/leads", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}
