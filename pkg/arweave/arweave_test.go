package arweave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientUploadAndConfirm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tx":
			var req uploadRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "v1", req.Tags["checkpoint_version"])
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(uploadResponse{TxID: "tx-123"})
		case r.Method == http.MethodGet && r.URL.Path == "/tx/tx-123/status":
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(statusResponse{Status: StatusConfirmed})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())

	result, err := client.Upload(context.Background(), []byte("batch"), map[string]string{"checkpoint_version": "v1"})
	require.NoError(t, err)
	assert.Equal(t, "tx-123", result.TxID)

	status, err := client.Confirm(context.Background(), "tx-123")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
}

func TestHTTPClientConfirmNotFoundIsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	status, err := client.Confirm(context.Background(), "unknown-tx")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
}

type fakeClient struct {
	uploadResult UploadResult
	uploadErr    error
	statuses     []Status
	call         int
}

func (f *fakeClient) Upload(_ context.Context, _ []byte, _ map[string]string) (UploadResult, error) {
	return f.uploadResult, f.uploadErr
}

func (f *fakeClient) Confirm(_ context.Context, _ string) (Status, error) {
	if f.call >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	s := f.statuses[f.call]
	f.call++
	return s, nil
}

func TestUploadAndConfirmSucceedsAfterPendingRetries(t *testing.T) {
	client := &fakeClient{
		uploadResult: UploadResult{TxID: "tx-abc"},
		statuses:     []Status{StatusPending, StatusPending, StatusConfirmed},
	}
	cfg := PollConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, AttemptTimeout: time.Second}

	result, err := UploadAndConfirm(context.Background(), client, []byte("batch"), nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, "tx-abc", result.TxID)
}

func TestUploadAndConfirmReturnsErrorOnFailedStatus(t *testing.T) {
	client := &fakeClient{
		uploadResult: UploadResult{TxID: "tx-abc"},
		statuses:     []Status{StatusFailed},
	}
	cfg := PollConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, AttemptTimeout: time.Second}

	_, err := UploadAndConfirm(context.Background(), client, []byte("batch"), nil, cfg)
	assert.Error(t, err)
}

func TestUploadAndConfirmExhaustsAttemptsWhileStillPending(t *testing.T) {
	client := &fakeClient{
		uploadResult: UploadResult{TxID: "tx-abc"},
		statuses:     []Status{StatusPending, StatusPending, StatusPending},
	}
	cfg := PollConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, AttemptTimeout: time.Second}

	_, err := UploadAndConfirm(context.Background(), client, []byte("batch"), nil, cfg)
	assert.Error(t, err)
}

func TestUploadAndConfirmPropagatesUploadFailureWithoutPolling(t *testing.T) {
	client := &fakeClient{uploadErr: assertErr("upload rejected")}
	cfg := DefaultPollConfig()

	_, err := UploadAndConfirm(context.Background(), client, []byte("batch"), nil, cfg)
	assert.Error(t, err)
	assert.Equal(t, 0, client.call)
}

type testErr string

func (e testErr) Error() string { return string(e) }

func assertErr(msg string) error { return testErr(msg) }
