package preheat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(speed, outdoor float64) HeatingSession {
	return HeatingSession{
		Date:        time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC),
		TempStart:   17,
		TempEnd:     19,
		OutdoorAvg:  outdoor,
		Delta:       2,
		DurationMin: 2 / speed,
		Speed:       speed,
	}
}

func TestThermalModel_Empty(t *testing.T) {
	model := NewThermalModel()

	_, ok := model.Inertia()
	assert.False(t, ok)

	_, ok = model.EstimateMinutes(18, 20, 5, 1.15)
	assert.False(t, ok)
}

func TestThermalModel_RecordEvicts(t *testing.T) {
	model := NewThermalModel()

	for i := 0; i < maxSessions+20; i++ {
		s := session(0.05, 5)
		s.TempStart = float64(i) // distinguishable
		model.Record(s)
	}

	assert.Equal(t, maxSessions, model.Len())

	// Oldest dropped, newest kept.
	sessions := model.Sessions()
	assert.Equal(t, float64(20), sessions[0].TempStart)
	assert.Equal(t, float64(maxSessions+19), sessions[len(sessions)-1].TempStart)
}

func TestThermalModel_LoadTruncates(t *testing.T) {
	var history []HeatingSession
	for i := 0; i < maxSessions+5; i++ {
		history = append(history, session(0.05, 5))
	}

	model := NewThermalModel()
	model.Load(history)

	assert.Equal(t, maxSessions, model.Len())
}

func TestThermalModel_InvalidSessionsIgnored(t *testing.T) {
	model := NewThermalModel()

	// Too short and zero speed never contribute to the statistics.
	model.Record(HeatingSession{Speed: 0.05, DurationMin: 3})
	model.Record(HeatingSession{Speed: 0, DurationMin: 30})

	_, ok := model.Inertia()
	assert.False(t, ok)
}

func TestThermalModel_Inertia(t *testing.T) {
	model := NewThermalModel()
	model.Record(session(0.05, 5))
	model.Record(session(0.06, 5))
	model.Record(session(0.055, 5))

	inertia, ok := model.Inertia()
	require.True(t, ok)

	assert.Equal(t, 3, inertia.Sessions)
	assert.InDelta(t, 0.055, inertia.AvgSpeed, 1e-9)
	assert.InDelta(t, 0.055, inertia.MedianSpeed, 1e-9)
	assert.InDelta(t, 0.05, inertia.MinSpeed, 1e-9)
	assert.InDelta(t, 0.06, inertia.MaxSpeed, 1e-9)
	assert.InDelta(t, 18.2, inertia.MinPerDeg, 1e-9)
	assert.InDelta(t, 0.055, inertia.ByOutdoor[5], 1e-9)
}

func TestEstimateMinutes_TargetBelowCurrent(t *testing.T) {
	model := NewThermalModel()
	model.Record(session(0.05, 5))

	minutes, ok := model.EstimateMinutes(21, 20, 5, 1.15)
	require.True(t, ok)
	assert.Zero(t, minutes)
}

func TestEstimateMinutes_MedianWithMargin(t *testing.T) {
	model := NewThermalModel()
	model.Record(session(0.05, 5))
	model.Record(session(0.06, 5))
	model.Record(session(0.055, 4))

	// 2° at the bucket median 0.055°C/min with a 15% margin, rounded up.
	minutes, ok := model.EstimateMinutes(18, 20, 5, 1.15)
	require.True(t, ok)
	assert.Equal(t, 42.0, minutes)
}

func TestEstimateMinutes_FallsBackToGlobalMean(t *testing.T) {
	model := NewThermalModel()
	model.Record(session(0.05, 5))
	model.Record(session(0.06, 6))

	// No session anywhere near -20°C; the global mean 0.055 applies.
	minutes, ok := model.EstimateMinutes(18, 20, -20, 1.0)
	require.True(t, ok)
	assert.Equal(t, 37.0, minutes)
}

func TestEstimateMinutes_ColderBucketIsSlower(t *testing.T) {
	model := NewThermalModel()
	model.Record(session(0.03, -5))
	model.Record(session(0.03, -6))
	model.Record(session(0.06, 10))
	model.Record(session(0.06, 11))

	cold, ok := model.EstimateMinutes(17, 20, -5, 1.0)
	require.True(t, ok)

	mild, ok := model.EstimateMinutes(17, 20, 10, 1.0)
	require.True(t, ok)

	assert.Greater(t, cold, mild)
}

func TestThermalModel_Reset(t *testing.T) {
	model := NewThermalModel()
	model.Record(session(0.05, 5))
	model.Reset()

	assert.Zero(t, model.Len())

	_, ok := model.Inertia()
	assert.False(t, ok)
}

func TestHeatingSession_JSONRoundTrip(t *testing.T) {
	s := session(0.05, 5)
	s.Anticipated = true

	data, err := json.Marshal(s)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"speed_degc_per_min"`)
	assert.Contains(t, string(data), `"temp_ext_avg"`)

	var decoded HeatingSession
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s, decoded)
}
