package preheat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMaybeFloat(t *testing.T) {
	tests := []struct {
		in    string
		value float64
		ok    bool
	}{
		{"19.5", 19.5, true},
		{`"19.5"`, 19.5, true},
		{"  -3.2 ", -3.2, true},
		{"0", 0, true},
		{"", 0, false},
		{"unavailable", 0, false},
		{"Unknown", 0, false},
		{"none", 0, false},
		{"null", 0, false},
		{"not a number", 0, false},
	}

	for _, tt := range tests {
		v, ok := parseMaybeFloat(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		assert.Equal(t, tt.value, v, "input %q", tt.in)
	}
}

func TestClimateState_Unmarshal(t *testing.T) {
	var state climateState

	require.NoError(t, json.Unmarshal([]byte(`{"action":"Heating","setpoint":19.5}`), &state))
	assert.Equal(t, "Heating", state.Action)
	require.NotNil(t, state.Setpoint)
	assert.Equal(t, 19.5, *state.Setpoint)

	state = climateState{}
	require.NoError(t, json.Unmarshal([]byte(`{"action":"off","setpoint":null}`), &state))
	assert.Nil(t, state.Setpoint)
}

func TestForecast_Unmarshal(t *testing.T) {
	payload := `{
		"condition": "snowy",
		"temperature": -2.5,
		"forecast": [
			{"datetime": "2026-01-17T09:00:00+00:00", "condition": "snowy", "templow": -5, "temperature": -1}
		]
	}`

	var f Forecast

	require.NoError(t, json.Unmarshal([]byte(payload), &f))
	assert.Equal(t, "snowy", f.Condition)

	require.Len(t, f.Entries, 1)
	entry := f.Entries[0]
	assert.Equal(t, "2026-01-17T09:00:00+00:00", entry.Time)
	require.NotNil(t, entry.Low)
	assert.Equal(t, -5.0, *entry.Low)
	require.NotNil(t, entry.High)
	assert.Equal(t, -1.0, *entry.High)
}
