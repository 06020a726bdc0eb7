package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveSubmissionWithinCap(t *testing.T) {
	c := NewCounters(Limits{SubmissionCap: 2, RejectionCapRatio: 0.5, Window: time.Hour})

	require.NoError(t, c.ReserveSubmission(context.Background(), "hot1"))
	require.NoError(t, c.ReserveSubmission(context.Background(), "hot1"))

	submissions, _, slots := c.Snapshot("hot1")
	assert.Equal(t, 2, submissions)
	assert.Equal(t, 2, slots)
}

func TestReserveSubmissionRejectsOverCap(t *testing.T) {
	c := NewCounters(Limits{SubmissionCap: 1, RejectionCapRatio: 0.5, Window: time.Hour})

	require.NoError(t, c.ReserveSubmission(context.Background(), "hot1"))
	err := c.ReserveSubmission(context.Background(), "hot1")
	assert.Error(t, err)
}

func TestReserveSubmissionRejectsOverRejectionRatio(t *testing.T) {
	c := NewCounters(Limits{SubmissionCap: 100, RejectionCapRatio: 0.5, Window: time.Hour})
	ctx := context.Background()

	require.NoError(t, c.ReserveSubmission(ctx, "hot1"))
	require.NoError(t, c.MarkResolved(ctx, "hot1", true))

	err := c.ReserveSubmission(ctx, "hot1")
	assert.Error(t, err)
}

func TestMarkResolvedReleasesSlotWithoutDoubleCountingSubmissions(t *testing.T) {
	c := NewCounters(DefaultLimits)
	ctx := context.Background()

	require.NoError(t, c.ReserveSubmission(ctx, "hot1"))
	require.NoError(t, c.MarkResolved(ctx, "hot1", false))

	submissions, rejections, slots := c.Snapshot("hot1")
	assert.Equal(t, 1, submissions)
	assert.Equal(t, 0, rejections)
	assert.Equal(t, 0, slots)
}

func TestMarkResolvedRejectedIncrementsRejectionsOnly(t *testing.T) {
	c := NewCounters(DefaultLimits)
	ctx := context.Background()

	require.NoError(t, c.ReserveSubmission(ctx, "hot1"))
	require.NoError(t, c.MarkResolved(ctx, "hot1", true))

	submissions, rejections, slots := c.Snapshot("hot1")
	assert.Equal(t, 1, submissions)
	assert.Equal(t, 1, rejections)
	assert.Equal(t, 0, slots)
}

func TestResetIfStaleRollsWindow(t *testing.T) {
	c := NewCounters(Limits{SubmissionCap: 1, RejectionCapRatio: 0.5, Window: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, c.ReserveSubmission(ctx, "hot1"))
	require.Error(t, c.ReserveSubmission(ctx, "hot1"))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.ReserveSubmission(ctx, "hot1"))
}

func TestPriorityMiddlewareValidatorBypassesSemaphore(t *testing.T) {
	m := NewPriorityMiddleware(0, zerolog.Nop())
	called := false
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/epoch/current/validate", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPriorityMiddlewareThrottlesMinerRequests(t *testing.T) {
	m := NewPriorityMiddleware(1, zerolog.Nop())

	block := make(chan struct{})
	release := make(chan struct{})
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(block)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}()

	<-block
	select {
	case m.sem <- struct{}{}:
		t.Fatal("semaphore slot should be held by the in-flight miner request")
	default:
	}

	close(release)
	wg.Wait()
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("/v1/submit", minerPaths))
	assert.True(t, matchesAny("/epoch/17/reveal", validatorPaths))
	assert.False(t, matchesAny("/healthz", validatorPaths))
}
