// Package preheat implements a closed-loop predictive preheating engine for
// heated zones. It learns a zone's thermal inertia from observed heating
// sessions, resolves the next scheduled setpoint increase, and commands the
// actuator early enough that the zone reaches the target temperature on time.
// A feedback loop measures arrival accuracy and continuously recalibrates the
// safety margin toward a small lead time.
package preheat

import "context"

// Readings is a non-blocking snapshot source for a zone's inputs, typically
// backed by cached MQTT state. Every accessor reports ok=false when the value
// is unavailable or non-numeric; absence propagates, it is never an error.
type Readings interface {
	// Indoor returns the zone's indoor temperature.
	Indoor() (float64, bool)
	// Outdoor returns the outdoor temperature.
	Outdoor() (float64, bool)
	// HvacAction returns whether the actuator is currently heating.
	HvacAction() (HvacAction, bool)
	// Setpoint returns the actuator's reported target temperature.
	Setpoint() (float64, bool)
	// Schedule returns the zone's current schedule document.
	Schedule() (Schedule, bool)
	// Forecast returns the current weather forecast, or nil.
	Forecast() *Forecast
}

// Actuator commands a zone's heating device. SetTargetTemperature is
// idempotent; resending the same value is harmless.
type Actuator interface {
	SetTargetTemperature(ctx context.Context, value float64) error
}

// HvacAction is the actuator's reported activity.
type HvacAction string

const (
	ActionHeating HvacAction = "heating"
	ActionIdle    HvacAction = "idle"
	ActionOff     HvacAction = "off"
)

// Forecast is the weather context handed to the advisor.
type Forecast struct {
	Condition   string          `json:"condition,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Entries     []ForecastEntry `json:"forecast,omitempty"`
}

// ForecastEntry is one forecast slot.
type ForecastEntry struct {
	Time      string   `json:"datetime,omitempty"`
	Condition string   `json:"condition,omitempty"`
	Low       *float64 `json:"templow,omitempty"`
	High      *float64 `json:"temperature,omitempty"`
}
