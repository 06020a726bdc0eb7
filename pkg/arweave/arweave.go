// Package arweave is the gateway's client for the permanent, write-once
// storage layer checkpoint batches are anchored to (spec.md §4.5.5, §6.4).
// The network itself is out of scope here: this package specifies the
// upload-then-poll-confirm contract a real Arweave gateway HTTP API
// satisfies, grounded on pkg/chain's thin REST-transport style.
package arweave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

// Status is the lifecycle of an uploaded transaction as reported by the
// gateway's confirmation poll.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// UploadResult is what a successful write-once upload returns: the
// immutable transaction id stored in the ARWEAVE_CHECKPOINT event payload.
type UploadResult struct {
	TxID string
}

// Client is the permanent-storage port pkg/tasks' checkpoint batcher
// depends on.
type Client interface {
	// Upload submits a write-once blob and returns its transaction id.
	// The blob is not yet confirmed on-chain when this returns.
	Upload(ctx context.Context, data []byte, tags map[string]string) (UploadResult, error)
	// Confirm polls the network for txID's current status.
	Confirm(ctx context.Context, txID string) (Status, error)
}

// HTTPClient talks to an Arweave-compatible gateway over its HTTP API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPClient builds a Client backed by the gateway at baseURL (the
// ARWEAVE_GATEWAY_URL configuration value).
func NewHTTPClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "arweave").Logger(),
	}
}

type uploadRequest struct {
	Data []byte            `json:"data"`
	Tags map[string]string `json:"tags,omitempty"`
}

type uploadResponse struct {
	TxID string `json:"tx_id"`
}

// Upload POSTs data (and any tags, e.g. content-type / checkpoint-number
// markers) to the gateway's write-once endpoint.
func (c *HTTPClient) Upload(ctx context.Context, data []byte, tags map[string]string) (UploadResult, error) {
	body, err := json.Marshal(uploadRequest{Data: data, Tags: tags})
	if err != nil {
		return UploadResult{}, gatewayerr.Invariant("marshal arweave upload body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", bytes.NewReader(body))
	if err != nil {
		return UploadResult{}, gatewayerr.Transient("build arweave upload request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, gatewayerr.Transient("arweave upload request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return UploadResult{}, gatewayerr.Transient("arweave upload failed", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResult{}, gatewayerr.Invariant("decode arweave upload response", err)
	}
	return UploadResult{TxID: out.TxID}, nil
}

type statusResponse struct {
	Status Status `json:"status"`
}

// Confirm checks the on-chain status of a previously uploaded transaction.
func (c *HTTPClient) Confirm(ctx context.Context, txID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tx/"+txID+"/status", nil)
	if err != nil {
		return "", gatewayerr.Transient("build arweave status request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gatewayerr.Transient("arweave status request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StatusPending, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", gatewayerr.Transient("arweave status check failed", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", gatewayerr.Invariant("decode arweave status response", err)
	}
	return out.Status, nil
}

var _ Client = (*HTTPClient)(nil)

// NoopClient confirms every upload immediately without any network call,
// for deployments that run with ARWEAVE_ENABLED=false (local development,
// tests). Checkpoints still build and chain correctly; they simply never
// leave the gateway's own database.
type NoopClient struct{}

// NewNoopClient builds a Client that fabricates an immediately-confirmed
// transaction id for every upload.
func NewNoopClient() *NoopClient { return &NoopClient{} }

func (NoopClient) Upload(ctx context.Context, data []byte, tags map[string]string) (UploadResult, error) {
	return UploadResult{TxID: "noop-" + fmt.Sprint(len(data))}, nil
}

func (NoopClient) Confirm(ctx context.Context, txID string) (Status, error) {
	return StatusConfirmed, nil
}

var _ Client = (*NoopClient)(nil)

// PollConfig bounds UploadAndConfirm's confirmation poll.
type PollConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultPollConfig matches the teacher's metagraph-fetch retry shape,
// scaled for Arweave's slower (minutes, not seconds) confirmation latency.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxAttempts:    8,
		InitialDelay:   5 * time.Second,
		MaxDelay:       2 * time.Minute,
		AttemptTimeout: 10 * time.Second,
	}
}

// uploadRetryAttempts is the upload call's own retry budget, distinct from
// PollConfig's confirmation-poll attempts (spec.md §4.5.5 step 3: "Upload to
// permanent public storage. Retry three times with exponential backoff").
const uploadRetryAttempts = 3

// uploadWithRetry makes up to three Upload attempts in total (the first try
// plus two retries) with exponential backoff, mirroring original_source/gateway/utils/
// arweave_client.py's MAX_RETRIES = 3 around the equivalent POST call. A
// single Upload attempt either succeeds or fails outright (no partial
// writes), so retrying just re-issues the same request.
func uploadWithRetry(ctx context.Context, client Client, data []byte, tags map[string]string) (UploadResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	var result UploadResult
	err := backoff.Retry(func() error {
		var err error
		result, err = client.Upload(ctx, data, tags)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uploadRetryAttempts-1), ctx))
	if err != nil {
		return UploadResult{}, gatewayerr.Transient("arweave upload failed after retries", err)
	}
	return result, nil
}

// UploadAndConfirm uploads data, then polls Confirm until the network
// reports StatusConfirmed or the attempt budget is exhausted. A checkpoint
// whose events never reach confirmation is left in the enclave's buffer —
// ClearBuffer is only called by pkg/tasks once this returns a confirmed
// result — so confirmation failure here never loses an event, only delays
// anchoring.
func UploadAndConfirm(ctx context.Context, client Client, data []byte, tags map[string]string, cfg PollConfig) (UploadResult, error) {
	result, err := uploadWithRetry(ctx, client, data, tags)
	if err != nil {
		return UploadResult{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		status, err := client.Confirm(attemptCtx, result.TxID)
		cancel()

		if err != nil {
			lastErr = err
		} else {
			switch status {
			case StatusConfirmed:
				return result, nil
			case StatusFailed:
				return UploadResult{}, gatewayerr.Transient("arweave transaction failed confirmation", fmt.Errorf("tx %s status=%s", result.TxID, status))
			}
			lastErr = nil
		}

		if attempt < cfg.MaxAttempts {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return UploadResult{}, ctx.Err()
			}
		}
	}

	if lastErr != nil {
		return UploadResult{}, gatewayerr.Transient("arweave confirmation polling exhausted", lastErr)
	}
	return UploadResult{}, gatewayerr.Transient("arweave confirmation polling exhausted", fmt.Errorf("tx %s still pending after %d attempts", result.TxID, cfg.MaxAttempts))
}
