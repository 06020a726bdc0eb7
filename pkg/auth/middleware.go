package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

// Header names carrying the caller's claimed hotkey and the detached
// signature over the operation's canonical message (spec.md §4.7).
const (
	HeaderHotkey    = "X-Leadpoet-Hotkey"
	HeaderSignature = "X-Leadpoet-Signature"
)

type ctxKey struct{}

// WithIdentity attaches an authenticated Identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFromContext retrieves the Identity attached by the Require
// middleware, ok=false if the request was never authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// EpochSource resolves the gateway's current epoch, used to pick which
// cached metagraph snapshot a hotkey is classified against.
type EpochSource interface {
	CurrentEpochID(ctx context.Context) (int64, error)
}

// MessageFunc reconstructs the canonical message a caller must have signed
// for a given request, e.g. "GET_EPOCH_LEADS:<epoch_id>:<hotkey>" for a
// read, or the canonical JSON body for a write (spec.md §4.7).
type MessageFunc func(r *http.Request, hotkey string) ([]byte, error)

// CanonicalBodyMessage is a MessageFunc for POST/PUT endpoints: the signed
// message is the canonical (compact, sorted-key) JSON of the request body.
// The body is replaced with a fresh reader so downstream handlers can still
// decode it.
func CanonicalBodyMessage(r *http.Request, hotkey string) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canon, nil
}

// OperationMessage builds a MessageFunc for GET-style endpoints whose
// signed message is a fixed operation tag plus a resource id, e.g.
// OperationMessage("GET_EPOCH_LEADS", epochIDFromPath).
func OperationMessage(operation string, resourceID func(r *http.Request) string) MessageFunc {
	return func(r *http.Request, hotkey string) ([]byte, error) {
		return []byte(fmt.Sprintf("%s:%s:%s", operation, resourceID(r), hotkey)), nil
	}
}

// Require returns middleware that authenticates a request against message,
// optionally restricting the caller to role (the zero Role accepts either
// registered role). On success the resolved Identity is attached to the
// request's context; on failure it writes the mapped gatewayerr status and
// short-circuits the chain.
func (a *Authenticator) Require(role chain.Role, epochs EpochSource, message MessageFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hotkey := r.Header.Get(HeaderHotkey)
			sigHex := r.Header.Get(HeaderSignature)
			if hotkey == "" || sigHex == "" {
				writeError(w, gatewayerr.Auth("missing hotkey or signature header"))
				return
			}

			signature, err := hex.DecodeString(sigHex)
			if err != nil {
				writeError(w, gatewayerr.Auth("signature header is not valid hex"))
				return
			}

			msg, err := message(r, hotkey)
			if err != nil {
				writeError(w, gatewayerr.Data("could not reconstruct signed message"))
				return
			}

			epochID, err := epochs.CurrentEpochID(r.Context())
			if err != nil {
				writeError(w, gatewayerr.Transient("resolve current epoch", err))
				return
			}

			id, err := a.Verify(r.Context(), epochID, hotkey, msg, signature)
			if err != nil {
				writeError(w, err)
				return
			}

			if role != "" && id.Role != role {
				writeError(w, gatewayerr.Auth("hotkey is not authorized for this endpoint"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, ok := gatewayerr.CodeOf(err)
	if !ok {
		code = gatewayerr.CodeSystemic
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gatewayerr.HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}
