package preheat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingZoneIsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	state, err := store.Load(t.Context(), "nowhere")
	require.NoError(t, err)

	assert.Equal(t, stateVersion, state.Version)
	assert.Empty(t, state.Sessions)
	assert.True(t, state.LastOffTime.IsZero())
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	state := ZoneState{
		Sessions:    []HeatingSession{session(0.05, 5)},
		LastOffTime: time.Date(2026, 1, 16, 8, 30, 0, 0, time.UTC),
		LastAdvice: &Advice{
			MarginAdjustment: 0.05,
			Confidence:       0.8,
			Provider:         "heuristic",
			Timestamp:        noon,
		},
		FeedbackHistory: []AnticipationResult{resultEarly(3, true)},
	}

	require.NoError(t, store.Save(t.Context(), "living", state))

	loaded, err := store.Load(t.Context(), "living")
	require.NoError(t, err)

	assert.Equal(t, stateVersion, loaded.Version)
	assert.Equal(t, state.Sessions, loaded.Sessions)
	assert.Equal(t, state.LastOffTime, loaded.LastOffTime)
	assert.Equal(t, state.FeedbackHistory, loaded.FeedbackHistory)
	require.NotNil(t, loaded.LastAdvice)
	assert.Equal(t, 0.05, loaded.LastAdvice.MarginAdjustment)
}

func TestFileStore_ZonesAreIndependent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(t.Context(), "living",
		ZoneState{Sessions: []HeatingSession{session(0.05, 5)}}))

	state, err := store.Load(t.Context(), "bedroom")
	require.NoError(t, err)
	assert.Empty(t, state.Sessions)
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(t.Context(), "living", ZoneState{}))

	_, err = os.Stat(filepath.Join(dir, "preheat_living.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "preheat_living.json"), []byte("{nope"), 0o644))

	_, err = store.Load(t.Context(), "living")
	assert.Error(t, err)
}

func TestFileStore_UnknownFieldsIgnored(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	data := []byte(`{"version":1,"sessions":[],"feedback_history":[],"future_field":42}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "preheat_living.json"), data, 0o644))

	state, err := store.Load(t.Context(), "living")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Version)
}
