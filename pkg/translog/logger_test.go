package translog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpoet/validator-gateway/pkg/canonical"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/tee"
)

type fakeAppender struct {
	fail bool
	rows []*database.TransparencyEvent
}

func (f *fakeAppender) Append(_ context.Context, e *database.TransparencyEvent) (*database.TransparencyEvent, error) {
	if f.fail {
		return nil, errors.New("durable mirror unavailable")
	}
	f.rows = append(f.rows, e)
	return e, nil
}

func TestLogEventPersistsDecodedRow(t *testing.T) {
	enclave, err := tee.New("deadbeef", "")
	require.NoError(t, err)
	appender := &fakeAppender{}
	logger := NewLogger(enclave, appender, nil, zerolog.Nop())

	err = logger.LogEvent(context.Background(), database.EventTypeSubmission, map[string]any{"lead_id": "abc"})
	require.NoError(t, err)

	require.Len(t, appender.rows, 1)
	row := appender.rows[0]
	assert.Equal(t, database.EventTypeSubmission, row.EventType)
	assert.Equal(t, int64(0), row.MonotonicSeq)
	assert.Empty(t, row.PrevEventHash)
	assert.NotEmpty(t, row.EventHash)
	assert.NotEmpty(t, row.EnclavePubkey)
	assert.NotEmpty(t, row.EnclaveSignature)
}

func TestLogEventChainsPrevHashAcrossCalls(t *testing.T) {
	enclave, err := tee.New("deadbeef", "")
	require.NoError(t, err)
	appender := &fakeAppender{}
	logger := NewLogger(enclave, appender, nil, zerolog.Nop())

	require.NoError(t, logger.LogEvent(context.Background(), database.EventTypeSubmission, map[string]any{"a": 1}))
	require.NoError(t, logger.LogEvent(context.Background(), database.EventTypeReveal, map[string]any{"a": 2}))

	require.Len(t, appender.rows, 2)
	assert.Empty(t, appender.rows[0].PrevEventHash)
	assert.NotEmpty(t, appender.rows[1].PrevEventHash)
	assert.Equal(t, appender.rows[0].EventHash, appender.rows[1].PrevEventHash)
}

func TestLogEventFallsBackToFileOnDurableWriteFailure(t *testing.T) {
	enclave, err := tee.New("deadbeef", "")
	require.NoError(t, err)
	appender := &fakeAppender{fail: true}

	path := filepath.Join(t.TempDir(), "translog.jsonl")
	fallback, err := OpenFileFallback(path)
	require.NoError(t, err)
	defer fallback.Close()

	logger := NewLogger(enclave, appender, fallback, zerolog.Nop())

	err = logger.LogEvent(context.Background(), database.EventTypeSubmission, map[string]any{"lead_id": "abc"})
	require.Error(t, err)

	fallback.Close()

	data, err := readAllLines(path)
	require.NoError(t, err)
	require.Len(t, data, 1)

	var entry canonical.LogEntry
	require.NoError(t, json.Unmarshal([]byte(data[0]), &entry))
	assert.Equal(t, "SUBMISSION", entry.SignedEvent.EventType)
	assert.NotEmpty(t, entry.EventHash)
}

func TestFileFallbackAppendsMultipleLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.jsonl")
	fb, err := OpenFileFallback(path)
	require.NoError(t, err)

	entry := canonical.LogEntry{SignedEvent: canonical.SignedEvent{EventType: "REVEAL"}, EventHash: "aa"}
	require.NoError(t, fb.Append(entry))
	require.NoError(t, fb.Append(entry))
	require.NoError(t, fb.Close())

	lines, err := readAllLines(path)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
