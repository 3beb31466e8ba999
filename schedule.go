package preheat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// A transition is only worth heating for if the setpoint rises by more than
// this; smaller moves are treated as noise.
const heatingUpThreshold = 0.3

// Event is a raw schedule entry as published by the schedule source. Sources
// disagree on field names; UnmarshalJSON accepts the common aliases
// (start/from/time_start, end/to/time_end, state/value/temperature).
type Event struct {
	Start string
	End   string
	Days  []string
	Value string
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	pick := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := raw[k]; ok && v != nil {
				switch x := v.(type) {
				case string:
					return x
				case float64:
					return strconv.FormatFloat(x, 'f', -1, 64)
				}
			}
		}

		return ""
	}

	e.Start = pick("start", "from", "time_start")
	e.End = pick("end", "to", "time_end")
	e.Value = pick("state", "value", "temperature")

	if v, ok := raw["days"]; ok {
		if list, ok := v.([]any); ok {
			for _, d := range list {
				if s, ok := d.(string); ok {
					e.Days = append(e.Days, s)
				}
			}
		}
	}

	return nil
}

// Schedule is the cached schedule document for a zone: the current numeric
// setpoint plus either an event list or a comfort/eco preset pair.
type Schedule struct {
	Setpoint float64  `json:"setpoint"`
	Events   []Event  `json:"events,omitempty"`
	Comfort  *float64 `json:"comfort,omitempty"`
	Eco      *float64 `json:"eco,omitempty"`
	Preset   string   `json:"preset,omitempty"`
}

// TransitionSource identifies which resolution strategy produced a
// NextTransition.
type TransitionSource int

const (
	SourceEvents TransitionSource = iota // events
	SourcePreset                         // preset
	SourceCurrent                        // current
)

func (s TransitionSource) String() string {
	switch s {
	case SourceEvents:
		return "events"
	case SourcePreset:
		return "preset"
	default:
		return "current"
	}
}

// MarshalText implements the encoding.TextMarshaler interface for s.
func (s TransitionSource) MarshalText() (text []byte, err error) {
	return []byte(s.String()), nil
}

// NextTransition is the next point at which the scheduled setpoint will
// increase. A zero TargetTime means the moment is unknown (preset strategy).
// Recomputed every cycle, never persisted.
type NextTransition struct {
	TargetTime  time.Time
	TargetTemp  float64
	CurrentTemp float64
	Source      TransitionSource
}

// IsHeatingUp reports whether this transition requires heating.
func (t NextTransition) IsHeatingUp() bool {
	return t.TargetTemp > t.CurrentTemp+heatingUpThreshold
}

func (t NextTransition) Delta() float64 { return t.TargetTemp - t.CurrentTemp }

// MinutesUntil is the time left before the transition, floored at zero. ok is
// false when the transition time is unknown.
func (t NextTransition) MinutesUntil(now time.Time) (float64, bool) {
	if t.TargetTime.IsZero() {
		return 0, false
	}

	return max(0, t.TargetTime.Sub(now).Minutes()), true
}

// Resolver inspects a schedule document and determines the next setpoint
// increase. Strategies are tried in order: event list, two-level preset,
// current-setpoint fallback.
type Resolver struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Resolver{logger: logger, now: time.Now}
}

// span is an event resolved onto a concrete day.
type span struct {
	start, end time.Time
	value      float64
}

// Next returns the upcoming setpoint increase. When no strategy finds one the
// fallback reports the current setpoint with no transition; multi-day-ahead
// schedules beyond tomorrow are not searched.
func (r *Resolver) Next(s *Schedule) (NextTransition, bool) {
	if s == nil {
		return NextTransition{}, false
	}

	if t, ok := r.fromEvents(s); ok {
		return t, true
	}

	if t, ok := r.fromPresets(s); ok {
		return t, true
	}

	return NextTransition{
		TargetTemp:  s.Setpoint,
		CurrentTemp: s.Setpoint,
		Source:      SourceCurrent,
	}, true
}

func (r *Resolver) fromEvents(s *Schedule) (NextTransition, bool) {
	if len(s.Events) == 0 {
		return NextTransition{}, false
	}

	now := r.now()
	today := r.daySpans(s.Events, now)

	if len(today) > 0 {
		// Locate the event covering now, then the first later same-day
		// event whose value is a real increase over it.
		for i, cur := range today {
			if !cur.start.After(now) && now.Before(cur.end) {
				for _, cand := range today[i+1:] {
					if cand.value > cur.value+heatingUpThreshold {
						return NextTransition{
							TargetTime:  cand.start,
							TargetTemp:  cand.value,
							CurrentTemp: s.Setpoint,
							Source:      SourceEvents,
						}, true
					}
				}

				break
			}
		}
	}

	// Nothing left today: first of tomorrow's events that rises above the
	// current setpoint.
	for _, cand := range r.daySpans(s.Events, now.AddDate(0, 0, 1)) {
		if cand.value > s.Setpoint+heatingUpThreshold {
			return NextTransition{
				TargetTime:  cand.start,
				TargetTemp:  cand.value,
				CurrentTemp: s.Setpoint,
				Source:      SourceEvents,
			}, true
		}
	}

	return NextTransition{}, false
}

func (r *Resolver) fromPresets(s *Schedule) (NextTransition, bool) {
	if s.Comfort == nil || s.Eco == nil {
		return NextTransition{}, false
	}

	comfort, eco := *s.Comfort, *s.Eco

	if s.Setpoint <= eco+heatingUpThreshold && comfort > eco+heatingUpThreshold {
		return NextTransition{
			TargetTemp:  comfort,
			CurrentTemp: s.Setpoint,
			Source:      SourcePreset,
		}, true
	}

	return NextTransition{}, false
}

// TransitionsToday enumerates every setpoint change (>0.1°C between
// consecutive events) remaining in today's schedule, for observability.
func (r *Resolver) TransitionsToday(s *Schedule) []NextTransition {
	if s == nil || len(s.Events) == 0 {
		return nil
	}

	spans := r.daySpans(s.Events, r.now())

	var transitions []NextTransition

	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if math.Abs(cur.value-prev.value) > 0.1 {
			transitions = append(transitions, NextTransition{
				TargetTime:  cur.start,
				TargetTemp:  cur.value,
				CurrentTemp: prev.value,
				Source:      SourceEvents,
			})
		}
	}

	return transitions
}

// daySpans resolves the events applicable to the given day into concrete,
// chronologically sorted spans. Malformed events are skipped, not fatal.
func (r *Resolver) daySpans(events []Event, day time.Time) []span {
	weekday := strings.ToLower(day.Weekday().String())

	var spans []span

	for _, ev := range events {
		sp, err := resolveEvent(ev, day, weekday)
		if err != nil {
			r.logger.Debug("skipping schedule event", "start", ev.Start, "error", err)

			continue
		}

		if sp != nil {
			spans = append(spans, *sp)
		}
	}

	slices.SortFunc(spans, func(a, b span) int {
		return a.start.Compare(b.start)
	})

	return spans
}

// resolveEvent maps an event onto the given day. A nil span with nil error
// means the event does not apply to that weekday. An event whose end precedes
// its start spans into the next day; one without an end runs to end of day.
func resolveEvent(ev Event, day time.Time, weekday string) (*span, error) {
	if len(ev.Days) > 0 && !slices.ContainsFunc(ev.Days, func(d string) bool {
		return strings.ToLower(d) == weekday
	}) {
		return nil, nil
	}

	if ev.Start == "" || ev.Value == "" {
		return nil, fmt.Errorf("event missing start or value")
	}

	value, err := strconv.ParseFloat(ev.Value, 64)
	if err != nil {
		return nil, fmt.Errorf("event value %q: %w", ev.Value, err)
	}

	start, err := parseClock(ev.Start)
	if err != nil {
		return nil, err
	}

	startAt := atClock(day, start)
	endAt := startAt.Add(23*time.Hour + 59*time.Minute)

	if ev.End != "" {
		end, err := parseClock(ev.End)
		if err != nil {
			return nil, err
		}

		endAt = atClock(day, end)
		if !endAt.After(startAt) { // overnight event
			endAt = endAt.AddDate(0, 0, 1)
		}
	}

	return &span{start: startAt, end: endAt, value: value}, nil
}

var clockLayouts = []string{"15:04:05", "15:04", "3:04 PM", "3:04 pm"}

func parseClock(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

func atClock(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, day.Location())
}
