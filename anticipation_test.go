package preheat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActuator struct {
	calls []float64
	err   error
}

func (a *fakeActuator) SetTargetTemperature(_ context.Context, value float64) error {
	if a.err != nil {
		return a.err
	}

	a.calls = append(a.calls, value)

	return nil
}

func ptr(v float64) *float64 { return &v }

func engineAt(now time.Time) (*Engine, *fakeActuator) {
	actuator := &fakeActuator{}
	engine := NewEngine("living", actuator, nil)
	engine.now = func() time.Time { return now }

	return engine, actuator
}

var noon = time.Date(2026, 1, 16, 12, 0, 0, 0, time.UTC)

func timedInput(indoor, next, needed float64, target time.Time) EngineInput {
	return EngineInput{
		Indoor:        ptr(indoor),
		NextSetpoint:  ptr(next),
		MinutesNeeded: ptr(needed),
		TargetTime:    target,
	}
}

func TestEngine_StartsWhenWindowReached(t *testing.T) {
	engine, actuator := engineAt(noon)

	// 30 minutes needed, transition in 10: long past due.
	state := engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(10*time.Minute)))

	require.True(t, state.Active)
	assert.Equal(t, 20.0, state.TargetTemp)
	assert.Equal(t, 30.0, state.MinutesNeeded)
	assert.Equal(t, 18.0, state.TempAtStart)
	assert.Equal(t, []float64{20}, actuator.calls)
}

func TestEngine_WaitsOutsideWindow(t *testing.T) {
	engine, actuator := engineAt(noon)

	// 30 needed, transition in 60: 60-30 > 2 minute buffer.
	state := engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(time.Hour)))

	assert.False(t, state.Active)
	assert.Empty(t, actuator.calls)
}

func TestEngine_StartBufferBoundary(t *testing.T) {
	engine, _ := engineAt(noon)

	// 30 needed, transition in 32: exactly at the 2 minute buffer.
	state := engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(32*time.Minute)))

	assert.True(t, state.Active)
}

func TestEngine_UnknownTimeEstimatesTarget(t *testing.T) {
	engine, _ := engineAt(noon)

	in := timedInput(18, 20, 30, time.Time{})
	in.CurrentScheduled = ptr(16.0)

	state := engine.Evaluate(t.Context(), in)

	require.True(t, state.Active)
	assert.Equal(t, noon.Add(30*time.Minute), state.TargetTime)
}

func TestEngine_UnknownTimeNoRiseStaysIdle(t *testing.T) {
	engine, _ := engineAt(noon)

	in := timedInput(18, 20, 30, time.Time{})
	in.CurrentScheduled = ptr(19.9) // 20 is not a real rise over 19.9

	state := engine.Evaluate(t.Context(), in)
	assert.False(t, state.Active)
}

func TestEngine_MissingDataDeactivates(t *testing.T) {
	engine, _ := engineAt(noon)

	engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(10*time.Minute)))
	require.True(t, engine.State().Active)

	in := timedInput(18, 20, 30, noon.Add(10*time.Minute))
	in.Indoor = nil

	state := engine.Evaluate(t.Context(), in)
	assert.False(t, state.Active)
}

func TestEngine_ReachedDeactivates(t *testing.T) {
	engine, actuator := engineAt(noon)

	engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(10*time.Minute)))
	require.True(t, engine.State().Active)

	// Within the reached band of the target.
	state := engine.Evaluate(t.Context(), timedInput(19.85, 20, 5, noon.Add(10*time.Minute)))

	assert.False(t, state.Active)
	assert.Equal(t, []float64{20}, actuator.calls)
}

func TestEngine_GateBlocksActivationOnly(t *testing.T) {
	engine, actuator := engineAt(noon)

	in := timedInput(18, 20, 30, noon.Add(10*time.Minute))
	in.GateActive = true

	state := engine.Evaluate(t.Context(), in)
	assert.False(t, state.Active)
	assert.Empty(t, actuator.calls)

	// Once Active the gate no longer interferes.
	in.GateActive = false
	engine.Evaluate(t.Context(), in)
	require.True(t, engine.State().Active)

	in.GateActive = true
	state = engine.Evaluate(t.Context(), in)
	assert.True(t, state.Active)
}

func TestEngine_ResendAfterInterval(t *testing.T) {
	now := noon
	actuator := &fakeActuator{}
	engine := NewEngine("living", actuator, nil)
	engine.now = func() time.Time { return now }

	target := noon.Add(30 * time.Minute)

	engine.Evaluate(t.Context(), timedInput(18, 20, 30, target))
	require.Len(t, actuator.calls, 1)

	// 5 minutes later: too soon to resend.
	now = noon.Add(5 * time.Minute)
	engine.Evaluate(t.Context(), timedInput(18.2, 20, 25, target))
	assert.Len(t, actuator.calls, 1)

	// 11 minutes after the first send: resends.
	now = noon.Add(11 * time.Minute)
	state := engine.Evaluate(t.Context(), timedInput(18.4, 20, 22, target))
	assert.Len(t, actuator.calls, 2)
	assert.Equal(t, 19.0, state.MinutesRemaining)
}

func TestEngine_DriftTriggersResend(t *testing.T) {
	now := noon
	actuator := &fakeActuator{}
	engine := NewEngine("living", actuator, nil)
	engine.now = func() time.Time { return now }

	target := noon.Add(30 * time.Minute)

	engine.Evaluate(t.Context(), timedInput(18, 20, 30, target))
	require.Len(t, actuator.calls, 1)

	// Someone turned the thermostat down; resend immediately.
	now = noon.Add(2 * time.Minute)
	in := timedInput(18.1, 20, 28, target)
	in.ReportedSetpoint = ptr(17.0)

	engine.Evaluate(t.Context(), in)
	assert.Len(t, actuator.calls, 2)
	assert.Equal(t, 20.0, actuator.calls[1])
}

func TestEngine_FailedSendStaysActive(t *testing.T) {
	engine, actuator := engineAt(noon)
	actuator.err = errors.New("broker down")

	state := engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(10*time.Minute)))

	assert.True(t, state.Active)
	assert.Empty(t, actuator.calls)
}

func TestEngine_StaysActiveBelowBandOutsideWindow(t *testing.T) {
	engine, actuator := engineAt(noon)

	engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(10*time.Minute)))
	require.True(t, engine.State().Active)
	require.Len(t, actuator.calls, 1)

	// The estimate improved mid-cycle and the start window is no longer
	// due, but the room is still below the band; the cycle must run to
	// the reached check, not end mid-heating.
	state := engine.Evaluate(t.Context(), timedInput(18.5, 20, 10, noon.Add(20*time.Minute)))
	assert.True(t, state.Active)
	assert.Len(t, actuator.calls, 1)
}

func TestEngine_StaysActiveWhenTransitionMovesOut(t *testing.T) {
	engine, _ := engineAt(noon)

	engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(10*time.Minute)))
	require.True(t, engine.State().Active)

	// The schedule pushed the transition hours out; the heat already put
	// into the room is kept, not abandoned below the band.
	state := engine.Evaluate(t.Context(), timedInput(18, 20, 30, noon.Add(8*time.Hour)))
	assert.True(t, state.Active)
}
