package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient polls a Subtensor REST gateway for block height and metagraph
// data. The timeout-and-retry strategy around this client (8 attempts, 60s
// each, switch-to-sync after 4) lives in pkg/registry, which wraps a Client
// with caching and fallback — this type is a thin, stateless HTTP transport.
type HTTPClient struct {
	ss58Verifier
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient builds a Client backed by a Subtensor REST gateway at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type blockResponse struct {
	BlockHeight int64 `json:"block_height"`
}

// CurrentBlock fetches the chain tip via GET /block.
func (c *HTTPClient) CurrentBlock(ctx context.Context) (int64, error) {
	var out blockResponse
	if err := c.getJSON(ctx, "/block", &out); err != nil {
		return 0, fmtErr("current_block", err)
	}
	return out.BlockHeight, nil
}

type neuronResponse struct {
	Hotkey          string  `json:"hotkey"`
	Stake           float64 `json:"stake"`
	ValidatorTrust  float64 `json:"validator_trust"`
	Active          bool    `json:"active"`
	ValidatorPermit bool    `json:"validator_permit"`
}

// Metagraph fetches the neuron set for netuid via GET /metagraph/{netuid}.
func (c *HTTPClient) Metagraph(ctx context.Context, netuid int64) ([]Neuron, error) {
	var out []neuronResponse
	path := fmt.Sprintf("/metagraph/%d", netuid)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmtErr("metagraph", err)
	}

	neurons := make([]Neuron, len(out))
	for i, n := range out {
		neurons[i] = Neuron{
			Hotkey:          n.Hotkey,
			Stake:           n.Stake,
			ValidatorTrust:  n.ValidatorTrust,
			Active:          n.Active,
			ValidatorPermit: n.ValidatorPermit,
		}
	}
	return neurons, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Client = (*HTTPClient)(nil)
