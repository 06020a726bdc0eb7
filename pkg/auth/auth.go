// Package auth implements wallet-signature authentication and role
// classification for every privileged boundary call (spec.md §4.7),
// grounded on pkg/ss58's verify_ed25519 primitive and pkg/registry's
// metagraph-backed classify(hotkey).
package auth

import (
	"context"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/registry"
	"github.com/leadpoet/validator-gateway/pkg/ss58"
)

// Identity is the authenticated caller attached to a request's context
// once its signature has verified and its hotkey has been classified.
type Identity struct {
	Hotkey string
	Role   chain.Role
}

// Classifier resolves a hotkey's registration and role under the metagraph
// snapshot cached for currentEpoch. *registry.Cache satisfies this.
type Classifier interface {
	Classify(ctx context.Context, currentEpoch int64, hotkey string) (registry.Classification, error)
}

// Authenticator verifies detached Ed25519 signatures over SS58 hotkeys and
// classifies the signer's role.
type Authenticator struct {
	registry Classifier
}

// New builds an Authenticator backed by the given registry classifier.
func New(registry Classifier) *Authenticator {
	return &Authenticator{registry: registry}
}

// Verify checks signature over message as produced by hotkey, then resolves
// the hotkey's role under the metagraph snapshot for currentEpoch. It
// returns a gatewayerr.CodeAuth error for any failure in this chain — bad
// signature, malformed hotkey, or an unregistered hotkey — per spec.md §4.7
// ("Authentication failure... surfaced as client error; no retry; not
// logged as event").
func (a *Authenticator) Verify(ctx context.Context, currentEpoch int64, hotkey string, message, signature []byte) (Identity, error) {
	ok, err := ss58.VerifyEd25519(message, signature, hotkey)
	if err != nil {
		return Identity{}, gatewayerr.Auth("malformed hotkey or signature: " + err.Error())
	}
	if !ok {
		return Identity{}, gatewayerr.Auth("signature does not match claimed hotkey")
	}

	cls, err := a.registry.Classify(ctx, currentEpoch, hotkey)
	if err != nil {
		return Identity{}, gatewayerr.Transient("registry classification unavailable", err)
	}
	if !cls.Registered {
		return Identity{}, gatewayerr.Auth("hotkey is not a registered actor")
	}

	return Identity{Hotkey: hotkey, Role: cls.Role}, nil
}
