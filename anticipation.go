package preheat

import (
	"context"
	"log/slog"
	"math"
	"time"

	"endobit.io/app/log"
)

const (
	// reachedBand: the target counts as reached once the indoor temperature
	// is within this of the setpoint.
	reachedBand = 0.2
	// startBuffer: start when the ideal start time is within two minutes,
	// matching the polling cadence.
	startBuffer = 2.0
	// resendInterval: while active, the setpoint command is repeated this
	// often to fight manual overrides.
	resendInterval = 10 * time.Minute
	// driftThreshold: a reported setpoint this far from the intended target
	// triggers an immediate resend.
	driftThreshold = 0.3
	// commandTimeout bounds a single actuator send.
	commandTimeout = 10 * time.Second
)

// AnticipationState is the engine's single mutable state for a zone. Active
// implies TargetTemp and TargetTime are set; TargetTime may be an estimate
// when the schedule source gave none.
type AnticipationState struct {
	Active           bool      `json:"active"`
	TargetTemp       float64   `json:"target_temp,omitzero"`
	TargetTime       time.Time `json:"target_time,omitzero"`
	MinutesNeeded    float64   `json:"minutes_needed,omitzero"`
	MinutesRemaining float64   `json:"minutes_remaining,omitzero"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	TempAtStart      float64   `json:"temp_at_start,omitzero"`
}

// EngineInput is everything one evaluation needs. Nil pointers mean the value
// is unavailable this cycle. A zero TargetTime means the transition moment is
// unknown.
type EngineInput struct {
	Indoor           *float64
	Outdoor          *float64
	MinutesNeeded    *float64
	NextSetpoint     *float64
	CurrentScheduled *float64
	ReportedSetpoint *float64
	TargetTime       time.Time
	GateActive       bool
}

// Engine is the per-zone anticipation state machine: Idle until a transition
// is imminent, Active while heating early toward it. Evaluate is invoked once
// per control cycle; the only outward side effect is the setpoint command.
type Engine struct {
	zone     string
	logger   *slog.Logger
	actuator Actuator

	state      AnticipationState
	lastSent   float64
	lastSentAt time.Time
	now        func() time.Time
}

func NewEngine(zone string, actuator Actuator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		zone:     zone,
		logger:   logger,
		actuator: actuator,
		now:      time.Now,
	}
}

// State returns the current state.
func (e *Engine) State() AnticipationState { return e.state }

// Deactivate resets the engine to Idle without marking success.
func (e *Engine) Deactivate() { e.deactivate() }

// Evaluate runs one step of the state machine and returns the updated state.
func (e *Engine) Evaluate(ctx context.Context, in EngineInput) AnticipationState {
	now := e.now()

	if in.Indoor == nil || in.NextSetpoint == nil || in.MinutesNeeded == nil {
		if e.state.Active {
			e.logger.Debug("anticipation lost its inputs, deactivating", "zone", e.zone)
			e.deactivate()
		}

		return e.state
	}

	indoor, next, needed := *in.Indoor, *in.NextSetpoint, *in.MinutesNeeded

	if indoor >= next-reachedBand {
		if e.state.Active {
			if !e.state.TargetTime.IsZero() {
				e.logger.Info("target temperature reached",
					"zone", e.zone,
					log.Format("%.1f", "indoor", indoor),
					log.Format("%.1f", "target", next),
					log.Format("%.0f", "minutes_early", e.state.TargetTime.Sub(now).Minutes()))
			}

			e.deactivate()
		}

		return e.state
	}

	if in.GateActive && !e.state.Active {
		e.logger.Debug("anti-short-cycle gate set, anticipation deferred", "zone", e.zone)

		return e.state
	}

	shouldStart := false
	targetTime := in.TargetTime

	if !targetTime.IsZero() && needed > 0 {
		untilTransition := targetTime.Sub(now).Minutes()
		shouldStart = untilTransition-needed <= startBuffer || untilTransition < 0
	} else if targetTime.IsZero() &&
		in.CurrentScheduled != nil && next > *in.CurrentScheduled+heatingUpThreshold {
		shouldStart = true
		targetTime = now.Add(minutes(needed))
	}

	switch {
	case shouldStart && !e.state.Active:
		if next-indoor > heatingUpThreshold && needed > 0 {
			if targetTime.IsZero() {
				targetTime = now.Add(minutes(needed))
			}

			e.state = AnticipationState{
				Active:           true,
				TargetTemp:       next,
				TargetTime:       targetTime,
				MinutesNeeded:    needed,
				MinutesRemaining: needed,
				StartedAt:        now,
				TempAtStart:      indoor,
			}

			e.logger.Info("anticipation activated",
				"zone", e.zone,
				log.Format("%.1f", "indoor", indoor),
				log.Format("%.1f", "target", next),
				log.Format("%.0f", "minutes_needed", needed),
				"target_time", targetTime.Format("15:04"))

			e.send(ctx, next)
		}

	case e.state.Active:
		// Still below the band, so the cycle keeps going even if the start
		// window has moved out from under it.
		if !e.state.TargetTime.IsZero() {
			e.state.MinutesRemaining = max(0, e.state.TargetTime.Sub(now).Minutes())
		}

		resend := e.lastSentAt.IsZero() || now.Sub(e.lastSentAt) > resendInterval

		if in.ReportedSetpoint != nil &&
			math.Abs(*in.ReportedSetpoint-e.state.TargetTemp) > driftThreshold {
			e.logger.Warn("actuator setpoint drifted, resending",
				"zone", e.zone,
				log.Format("%.1f", "reported", *in.ReportedSetpoint),
				log.Format("%.1f", "intended", e.state.TargetTemp))

			resend = true
		}

		if resend {
			e.send(ctx, e.state.TargetTemp)
		}
	}

	return e.state
}

// send issues the setpoint command. A failure is logged only: the machine
// stays Active and the normal resend rules retry on the next cycle.
func (e *Engine) send(ctx context.Context, value float64) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	e.logger.Info("sending setpoint", "zone", e.zone, log.Format("%.1f", "setpoint", value))

	if err := e.actuator.SetTargetTemperature(ctx, value); err != nil {
		e.logger.Error("setpoint command failed", "zone", e.zone, "error", err)

		return
	}

	e.lastSent = value
	e.lastSentAt = e.now()
}

func (e *Engine) deactivate() {
	e.state = AnticipationState{}
	e.lastSent = 0
	e.lastSentAt = time.Time{}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
