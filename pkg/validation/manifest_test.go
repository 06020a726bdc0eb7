package validation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

type fakeEvidenceIDSource struct {
	ids []uuid.UUID
}

func (f *fakeEvidenceIDSource) IDsByValidatorEpoch(_ context.Context, _ string, _ int64) ([]uuid.UUID, error) {
	return f.ids, nil
}

type fakeEpochStateSource struct {
	state database.EpochState
}

func (f *fakeEpochStateSource) Get(_ context.Context, epochID int64) (*database.Epoch, error) {
	return &database.Epoch{EpochID: epochID, State: f.state}, nil
}

type fakeManifestLogger struct {
	logged []database.EventType
}

func (f *fakeManifestLogger) LogEvent(_ context.Context, eventType database.EventType, _ interface{}) error {
	f.logged = append(f.logged, eventType)
	return nil
}

func TestManifestSubmitRejectsWhileEpochActive(t *testing.T) {
	m := NewManifest(&fakeEvidenceIDSource{}, &fakeEpochStateSource{state: database.EpochStateActive}, &fakeManifestLogger{})

	err := m.Submit(context.Background(), ManifestInput{EpochID: 5})
	var ge *gatewayerr.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, gatewayerr.CodeTemporal, ge.Code)
}

func TestManifestSubmitRejectsCountMismatch(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	m := NewManifest(&fakeEvidenceIDSource{ids: ids}, &fakeEpochStateSource{state: database.EpochStateValidationEnded}, &fakeManifestLogger{})

	err := m.Submit(context.Background(), ManifestInput{EpochID: 5, ValidationCount: 1, ManifestRoot: emptyManifestRoot})
	var ge *gatewayerr.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, gatewayerr.CodeData, ge.Code)
}

func TestManifestSubmitRejectsRootMismatch(t *testing.T) {
	ids := []uuid.UUID{uuid.New()}
	m := NewManifest(&fakeEvidenceIDSource{ids: ids}, &fakeEpochStateSource{state: database.EpochStateValidationEnded}, &fakeManifestLogger{})

	err := m.Submit(context.Background(), ManifestInput{EpochID: 5, ValidationCount: 1, ManifestRoot: emptyManifestRoot})
	var ge *gatewayerr.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, gatewayerr.CodeData, ge.Code)
}

func TestManifestSubmitSucceedsAndLogs(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	logger := &fakeManifestLogger{}
	m := NewManifest(&fakeEvidenceIDSource{ids: ids}, &fakeEpochStateSource{state: database.EpochStateConsensusComputed}, logger)

	root := computeManifestRoot(ids)
	err := m.Submit(context.Background(), ManifestInput{
		EpochID:         5,
		ValidationCount: len(ids),
		ManifestRoot:    root,
		ValidatorHotkey: "5HNonceHotkey",
	})
	require.NoError(t, err)
	require.Len(t, logger.logged, 1)
	assert.Equal(t, database.EventTypeEpochManifest, logger.logged[0])
}

func TestManifestSubmitEmptyEvidenceUsesZeroRoot(t *testing.T) {
	logger := &fakeManifestLogger{}
	m := NewManifest(&fakeEvidenceIDSource{}, &fakeEpochStateSource{state: database.EpochStateValidationEnded}, logger)

	err := m.Submit(context.Background(), ManifestInput{EpochID: 5, ValidationCount: 0, ManifestRoot: emptyManifestRoot})
	require.NoError(t, err)
}

func TestComputeManifestRootDeterministicOrdering(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	assert.Equal(t, computeManifestRoot(ids), computeManifestRoot(ids))
}

type fakeManifestEventSource struct {
	events []*database.TransparencyEvent
}

func (f *fakeManifestEventSource) ByEventType(_ context.Context, _ database.EventType, limit int) ([]*database.TransparencyEvent, error) {
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func manifestRow(t *testing.T, ev ManifestEvent) *database.TransparencyEvent {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return &database.TransparencyEvent{Payload: payload, Timestamp: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}
}

func TestStatsForEpochCountsDistinctValidatorsForThatEpochOnly(t *testing.T) {
	src := &fakeManifestEventSource{events: []*database.TransparencyEvent{
		manifestRow(t, ManifestEvent{EpochID: 5, ValidatorHotkey: "a"}),
		manifestRow(t, ManifestEvent{EpochID: 5, ValidatorHotkey: "a"}), // duplicate resubmission
		manifestRow(t, ManifestEvent{EpochID: 5, ValidatorHotkey: "b"}),
		manifestRow(t, ManifestEvent{EpochID: 6, ValidatorHotkey: "c"}), // different epoch
	}}

	submitted, missing, err := StatsForEpoch(context.Background(), src, 5, 3, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, submitted)
	assert.Equal(t, 1, missing)
}

func TestHistoryForValidatorFiltersAndLimits(t *testing.T) {
	src := &fakeManifestEventSource{events: []*database.TransparencyEvent{
		manifestRow(t, ManifestEvent{EpochID: 1, ValidatorHotkey: "a"}),
		manifestRow(t, ManifestEvent{EpochID: 2, ValidatorHotkey: "b"}),
		manifestRow(t, ManifestEvent{EpochID: 3, ValidatorHotkey: "a"}),
	}}

	history, err := HistoryForValidator(context.Background(), src, "a", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].EpochID)
}
