package preheat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Friday.
var friday = time.Date(2026, 1, 16, 16, 50, 0, 0, time.UTC)

func resolverAt(t *testing.T, now time.Time) *Resolver {
	t.Helper()

	r := NewResolver(nil)
	r.now = func() time.Time { return now }

	return r
}

func eventSchedule(setpoint float64) *Schedule {
	return &Schedule{
		Setpoint: setpoint,
		Events: []Event{
			{Start: "08:00", End: "17:00", Value: "16"},
			{Start: "17:00", End: "21:00", Value: "19.5"},
		},
	}
}

func TestResolver_NilSchedule(t *testing.T) {
	r := resolverAt(t, friday)

	_, ok := r.Next(nil)
	assert.False(t, ok)
}

func TestResolver_NextFromEvents(t *testing.T) {
	r := resolverAt(t, friday)

	next, ok := r.Next(eventSchedule(16))
	require.True(t, ok)

	assert.Equal(t, SourceEvents, next.Source)
	assert.Equal(t, 19.5, next.TargetTemp)
	assert.Equal(t, time.Date(2026, 1, 16, 17, 0, 0, 0, time.UTC), next.TargetTime)
	assert.True(t, next.IsHeatingUp())

	minutes, ok := next.MinutesUntil(friday)
	require.True(t, ok)
	assert.Equal(t, 10.0, minutes)
}

func TestResolver_NoIncreaseLeftToday_ScansTomorrow(t *testing.T) {
	// 18:00, inside the evening event; tomorrow 08:00 does not rise above
	// the 19.5 setpoint, so nothing qualifies until the 17:00 event.
	now := time.Date(2026, 1, 16, 18, 0, 0, 0, time.UTC)
	r := resolverAt(t, now)

	next, ok := r.Next(eventSchedule(16))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 17, 17, 0, 0, 0, time.UTC), next.TargetTime)
	assert.Equal(t, 19.5, next.TargetTemp)
}

func TestResolver_WeekdayFilter(t *testing.T) {
	s := &Schedule{
		Setpoint: 16,
		Events: []Event{
			{Start: "17:00", End: "21:00", Value: "19.5", Days: []string{"saturday", "sunday"}},
		},
	}

	r := resolverAt(t, friday) // weekend-only event, tomorrow is Saturday

	next, ok := r.Next(s)
	require.True(t, ok)
	assert.Equal(t, SourceEvents, next.Source)
	assert.Equal(t, time.Date(2026, 1, 17, 17, 0, 0, 0, time.UTC), next.TargetTime)
}

func TestResolver_OvernightEvent(t *testing.T) {
	s := &Schedule{
		Setpoint: 16,
		Events: []Event{
			{Start: "22:00", End: "06:00", Value: "15"},
			{Start: "23:00", Value: "19.5"},
		},
	}

	now := time.Date(2026, 1, 16, 22, 30, 0, 0, time.UTC)
	r := resolverAt(t, now)

	next, ok := r.Next(s)
	require.True(t, ok)
	assert.Equal(t, 19.5, next.TargetTemp)
	assert.Equal(t, time.Date(2026, 1, 16, 23, 0, 0, 0, time.UTC), next.TargetTime)
}

func TestResolver_SmallIncreaseIgnored(t *testing.T) {
	s := &Schedule{
		Setpoint: 19.4,
		Events: []Event{
			{Start: "08:00", End: "17:00", Value: "19.4"},
			{Start: "17:00", End: "21:00", Value: "19.5"},
		},
	}

	r := resolverAt(t, friday)

	next, ok := r.Next(s)
	require.True(t, ok)
	assert.Equal(t, SourceCurrent, next.Source)
	assert.False(t, next.IsHeatingUp())
}

func TestResolver_PresetStrategy(t *testing.T) {
	comfort, eco := 20.0, 16.0
	s := &Schedule{Setpoint: 16, Comfort: &comfort, Eco: &eco}

	r := resolverAt(t, friday)

	next, ok := r.Next(s)
	require.True(t, ok)
	assert.Equal(t, SourcePreset, next.Source)
	assert.Equal(t, 20.0, next.TargetTemp)
	assert.True(t, next.TargetTime.IsZero())

	_, known := next.MinutesUntil(friday)
	assert.False(t, known)
}

func TestResolver_PresetNotApplicableAtComfort(t *testing.T) {
	comfort, eco := 20.0, 16.0
	s := &Schedule{Setpoint: 20, Comfort: &comfort, Eco: &eco}

	r := resolverAt(t, friday)

	next, ok := r.Next(s)
	require.True(t, ok)
	assert.Equal(t, SourceCurrent, next.Source)
}

func TestResolver_CurrentFallback(t *testing.T) {
	r := resolverAt(t, friday)

	next, ok := r.Next(&Schedule{Setpoint: 18})
	require.True(t, ok)
	assert.Equal(t, SourceCurrent, next.Source)
	assert.Equal(t, 18.0, next.TargetTemp)
	assert.Equal(t, 18.0, next.CurrentTemp)
}

func TestResolver_MalformedEventSkipped(t *testing.T) {
	s := &Schedule{
		Setpoint: 16,
		Events: []Event{
			{Start: "nonsense", Value: "21"},
			{Start: "08:00", End: "17:00", Value: "16"},
			{Start: "17:00", End: "21:00", Value: "19.5"},
		},
	}

	r := resolverAt(t, friday)

	next, ok := r.Next(s)
	require.True(t, ok)
	assert.Equal(t, 19.5, next.TargetTemp)
}

func TestResolver_TransitionsToday(t *testing.T) {
	s := &Schedule{
		Setpoint: 16,
		Events: []Event{
			{Start: "06:00", End: "08:00", Value: "19"},
			{Start: "08:00", End: "17:00", Value: "16"},
			{Start: "17:00", End: "21:00", Value: "19.5"},
			{Start: "21:00", End: "23:00", Value: "19.5"}, // no change
		},
	}

	r := resolverAt(t, friday)

	transitions := r.TransitionsToday(s)
	require.Len(t, transitions, 2)
	assert.Equal(t, 16.0, transitions[0].TargetTemp)
	assert.Equal(t, 19.5, transitions[1].TargetTemp)
}

func TestEvent_UnmarshalAliases(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Event
	}{
		{
			name: "canonical",
			in:   `{"start":"17:00","end":"21:00","state":"19.5"}`,
			want: Event{Start: "17:00", End: "21:00", Value: "19.5"},
		},
		{
			name: "from to temperature",
			in:   `{"from":"17:00","to":"21:00","temperature":19.5}`,
			want: Event{Start: "17:00", End: "21:00", Value: "19.5"},
		},
		{
			name: "time_start with days",
			in:   `{"time_start":"17:00","time_end":"21:00","value":20,"days":["monday","tuesday"]}`,
			want: Event{Start: "17:00", End: "21:00", Value: "20", Days: []string{"monday", "tuesday"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(tc.in), &ev))
			assert.Equal(t, tc.want, ev)
		})
	}
}

func TestParseClock_Formats(t *testing.T) {
	for _, s := range []string{"17:00", "17:00:00", "5:00 PM", "5:00 pm"} {
		clock, err := parseClock(s)
		require.NoError(t, err, s)
		assert.Equal(t, 17, clock.Hour(), s)
	}

	_, err := parseClock("25 o'clock")
	assert.Error(t, err)
}
