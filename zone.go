package preheat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"endobit.io/app/log"
)

// Per-zone control defaults. The cycle interval matches the sensor refresh
// rate; anything faster just re-reads the same values.
const (
	defaultBaseMargin     = 1.15
	defaultInterval       = 2 * time.Minute
	defaultAntiShortCycle = 30 * time.Minute
	defaultMinSessions    = 3

	advisorTimeout = 30 * time.Second

	// reachedSlack is looser than the engine's own band so a cycle that
	// lands just short of the target still counts for feedback.
	reachedSlack = 0.3
)

// ZoneConfig configures one heated zone.
type ZoneConfig struct {
	Name           string        `mapstructure:"name"`
	BaseMargin     float64       `mapstructure:"base_margin"`
	WarmupIgnore   time.Duration `mapstructure:"warmup_ignore"`
	AntiShortCycle time.Duration `mapstructure:"anti_short_cycle"`
	MinSessions    int           `mapstructure:"min_sessions"`
	Interval       time.Duration `mapstructure:"interval"`
	AdvisorHours   []int         `mapstructure:"advisor_hours"`
}

func (c *ZoneConfig) defaults() {
	if c.BaseMargin == 0 {
		c.BaseMargin = defaultBaseMargin
	}

	if c.AntiShortCycle == 0 {
		c.AntiShortCycle = defaultAntiShortCycle
	}

	if c.MinSessions == 0 {
		c.MinSessions = defaultMinSessions
	}

	if c.Interval == 0 {
		c.Interval = defaultInterval
	}

	if len(c.AdvisorHours) == 0 {
		c.AdvisorHours = []int{9, 16}
	}
}

// ZoneStatus is the learning phase a zone is in.
type ZoneStatus string

const (
	StatusLearning     ZoneStatus = "learning"
	StatusReady        ZoneStatus = "ready"
	StatusAnticipating ZoneStatus = "anticipating"
)

// Snapshot is a point-in-time view of a zone for status surfaces.
type Snapshot struct {
	Zone          string            `json:"zone"`
	Enabled       bool              `json:"enabled"`
	Status        ZoneStatus        `json:"status"`
	Margin        float64           `json:"margin"`
	Anticipation  AnticipationState `json:"anticipation"`
	Inertia       *Inertia          `json:"inertia,omitempty"`
	SessionCount  int               `json:"session_count"`
	Feedback      FeedbackStats     `json:"-"`
	SuccessRate   float64           `json:"success_rate"`
	Advice        *Advice           `json:"advice,omitempty"`
	LastHeatStart time.Time         `json:"last_heat_start,omitzero"`
	LastOffTime   time.Time         `json:"last_off_time,omitzero"`
}

// liveSession tracks a heating run between the Heating edge and the Idle edge.
type liveSession struct {
	startedAt    time.Time
	tempAtStart  float64
	outdoorStart *float64
	anticipated  bool
}

// Zone is the per-zone orchestrator. It owns the thermal model, the schedule
// resolver, the anticipation engine and the feedback loop, and drives them
// from a single goroutine so none of them need locking of their own.
type Zone struct {
	cfg      ZoneConfig
	logger   *slog.Logger
	readings Readings
	store    Store
	advisor  Advisor

	model    *ThermalModel
	resolver *Resolver
	engine   *Engine
	feedback *FeedbackLoop

	mu          sync.Mutex
	enabled     atomic.Bool
	live        *liveSession
	lastAction  HvacAction
	lastOff     time.Time
	lastSched   *float64
	advisorAdj  float64
	lastAdvice  *Advice
	lastMargin  float64
	lastNeeded  float64
	refresh     chan struct{}
	ops         chan func(context.Context)
	now         func() time.Time
	morningDone time.Time
	eveningDone time.Time
}

// WithZoneLogger is an option setting function for NewZone. It sets the logger
// used by the zone and everything it owns.
func WithZoneLogger(logger *slog.Logger) func(*Zone) {
	return func(z *Zone) {
		z.logger = logger
	}
}

// WithAdvisor is an option setting function for NewZone. Without it the zone
// falls back to the heuristic advisor.
func WithAdvisor(a Advisor) func(*Zone) {
	return func(z *Zone) {
		z.advisor = a
	}
}

// NewZone wires a zone from its readings, actuator, and store.
func NewZone(cfg ZoneConfig, readings Readings, actuator Actuator, store Store, opts ...func(*Zone)) *Zone {
	cfg.defaults()

	z := Zone{
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		readings: readings,
		store:    store,
		advisor:  NewHeuristicAdvisor(),
		model:    NewThermalModel(),
		refresh:  make(chan struct{}, 1),
		ops:      make(chan func(context.Context), 4),
		now:      time.Now,
	}

	for _, o := range opts {
		o(&z)
	}

	z.resolver = NewResolver(z.logger)
	z.feedback = NewFeedbackLoop(cfg.Name, z.logger)
	z.engine = NewEngine(cfg.Name, &countingActuator{zone: cfg.Name, next: actuator}, z.logger)
	z.enabled.Store(true)

	return &z
}

func (z *Zone) Name() string { return z.cfg.Name }

// Enable turns the control loop on or off. A disabled zone keeps learning
// sessions but never commands the thermostat.
func (z *Zone) Enable(on bool) {
	z.enabled.Store(on)

	if !on {
		z.do(func(context.Context) { z.engine.Deactivate() })
	}
}

// Refresh asks the loop to re-evaluate now instead of at the next tick.
// Multiple calls before the loop wakes coalesce into one.
func (z *Zone) Refresh() {
	select {
	case z.refresh <- struct{}{}:
	default:
	}
}

// ForceAdvisorCall runs the advisor outside its daily slots.
func (z *Zone) ForceAdvisorCall() {
	z.do(func(ctx context.Context) { z.callAdvisor(ctx, z.slotForHour(z.now().Hour())) })
}

// ResetSessions drops the learned thermal history.
func (z *Zone) ResetSessions() {
	z.do(func(ctx context.Context) {
		z.mu.Lock()
		z.model.Reset()
		z.save(ctx)
		z.mu.Unlock()

		z.logger.Info("thermal history reset", "zone", z.cfg.Name)
	})
}

// Recalculate rebuilds the thermal statistics from the stored sessions and
// runs a control cycle immediately.
func (z *Zone) Recalculate() {
	z.do(func(ctx context.Context) {
		z.mu.Lock()
		z.model.Load(z.model.Sessions())
		z.mu.Unlock()

		z.update(ctx)
	})
}

func (z *Zone) do(fn func(context.Context)) {
	select {
	case z.ops <- fn:
	default:
		z.logger.Warn("control loop busy, trigger dropped", "zone", z.cfg.Name)
	}
}

// Run drives the zone until ctx is canceled. It is the only goroutine that
// touches the model, engine, and feedback loop.
func (z *Zone) Run(ctx context.Context) error {
	if err := z.load(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(z.cfg.Interval)
	defer ticker.Stop()

	advisorTick := time.NewTicker(time.Minute)
	defer advisorTick.Stop()

	z.update(ctx)

	for {
		select {
		case <-ctx.Done():
			z.save(context.WithoutCancel(ctx))

			return ctx.Err()
		case <-ticker.C:
			z.update(ctx)
		case <-z.refresh:
			z.update(ctx)
		case fn := <-z.ops:
			fn(ctx)
		case <-advisorTick.C:
			z.maybeCallAdvisor(ctx)
		}
	}
}

func (z *Zone) load(ctx context.Context) error {
	state, err := z.store.Load(ctx, z.cfg.Name)
	if err != nil {
		return err
	}

	z.model.Load(state.Sessions)
	z.feedback.Load(state.FeedbackHistory)
	z.lastOff = state.LastOffTime
	z.lastAdvice = state.LastAdvice

	if state.LastAdvice != nil {
		z.advisorAdj = state.LastAdvice.MarginAdjustment
	}

	z.logger.Info("zone state loaded",
		"zone", z.cfg.Name,
		"sessions", z.model.Len(),
		"feedback_results", len(state.FeedbackHistory))

	return nil
}

func (z *Zone) save(ctx context.Context) {
	state := ZoneState{
		Sessions:        z.model.Sessions(),
		LastOffTime:     z.lastOff,
		LastAdvice:      z.lastAdvice,
		FeedbackHistory: z.feedback.History(),
	}

	if err := z.store.Save(ctx, z.cfg.Name, state); err != nil {
		z.logger.Error("saving zone state", "zone", z.cfg.Name, "error", err)
	}
}

// update is one control cycle: learn from the heating edge, resolve the next
// transition, estimate, and let the engine act.
func (z *Zone) update(ctx context.Context) {
	z.mu.Lock()
	defer z.mu.Unlock()

	metricCycles.WithLabelValues(z.cfg.Name).Inc()

	now := z.now()

	indoor, hasIndoor := z.readings.Indoor()
	outdoor, hasOutdoor := z.readings.Outdoor()
	action, hasAction := z.readings.HvacAction()

	if hasAction {
		z.trackSession(ctx, now, indoor, hasIndoor, outdoor, hasOutdoor, action)
	}

	schedule, hasSchedule := z.readings.Schedule()

	var (
		transition    NextTransition
		hasTransition bool
	)

	if hasSchedule {
		transition, hasTransition = z.resolver.Next(&schedule)
		z.noteScheduleMove(schedule.Setpoint)
	}

	margin := z.effectiveMargin()
	z.lastMargin = margin
	metricMargin.WithLabelValues(z.cfg.Name).Set(margin)

	input := EngineInput{GateActive: z.gateActive(now)}

	if hasIndoor {
		input.Indoor = &indoor
	}

	if hasOutdoor {
		input.Outdoor = &outdoor
	}

	if setpoint, ok := z.readings.Setpoint(); ok {
		input.ReportedSetpoint = &setpoint
	}

	if hasSchedule {
		current := schedule.Setpoint
		input.CurrentScheduled = &current
	}

	if hasTransition {
		target := transition.TargetTemp
		input.NextSetpoint = &target
		input.TargetTime = transition.TargetTime

		if hasIndoor && hasOutdoor && z.model.Len() >= z.cfg.MinSessions {
			if needed, ok := z.model.EstimateMinutes(indoor, target, outdoor, margin); ok {
				input.MinutesNeeded = &needed
				z.lastNeeded = needed
				metricMinutesNeeded.WithLabelValues(z.cfg.Name).Set(needed)
			}
		}
	}

	if !z.enabled.Load() {
		return
	}

	prev := z.engine.State()
	state := z.engine.Evaluate(ctx, input)

	if state.Active {
		metricAnticipating.WithLabelValues(z.cfg.Name).Set(1)
	} else {
		metricAnticipating.WithLabelValues(z.cfg.Name).Set(0)
	}

	switch {
	case !prev.Active && state.Active:
		if z.live != nil {
			z.live.anticipated = true
		}

		z.feedback.StartTracking(state.TargetTemp, state.TargetTime,
			state.TempAtStart, margin, z.advisorAdj, outdoor)
	case prev.Active && !state.Active && hasIndoor:
		reached := indoor >= prev.TargetTemp-reachedSlack

		if _, ok := z.feedback.RecordResult(indoor, reached); ok {
			z.save(ctx)
		}
	}
}

// trackSession watches the hvac action edges and turns each heating run into
// a learning sample.
func (z *Zone) trackSession(ctx context.Context, now time.Time, indoor float64, hasIndoor bool,
	outdoor float64, hasOutdoor bool, action HvacAction,
) {
	defer func() { z.lastAction = action }()

	heating := action == ActionHeating
	wasHeating := z.lastAction == ActionHeating

	switch {
	case heating && !wasHeating && hasIndoor:
		live := liveSession{startedAt: now, tempAtStart: indoor}
		if hasOutdoor {
			v := outdoor
			live.outdoorStart = &v
		}

		live.anticipated = z.engine.State().Active
		z.live = &live

		z.logger.Debug("heating started",
			"zone", z.cfg.Name, log.Format("%.1f", "indoor", indoor))
	case !heating && wasHeating:
		z.lastOff = now

		if z.live != nil && hasIndoor {
			z.closeSession(ctx, now, indoor, outdoor, hasOutdoor)
		}

		z.live = nil
	}
}

func (z *Zone) closeSession(ctx context.Context, now time.Time, indoor, outdoor float64, hasOutdoor bool) {
	start := z.live.startedAt.Add(z.cfg.WarmupIgnore)

	duration := now.Sub(start)
	if duration < minSessionDuration {
		z.logger.Debug("session too short, discarded",
			"zone", z.cfg.Name, "duration", now.Sub(z.live.startedAt))

		return
	}

	delta := indoor - z.live.tempAtStart
	if delta < minSessionDelta {
		z.logger.Debug("session too flat, discarded",
			"zone", z.cfg.Name, log.Format("%.2f", "delta", delta))

		return
	}

	outdoorAvg := z.sessionOutdoor(outdoor, hasOutdoor)

	session := HeatingSession{
		Date:        now,
		TempStart:   z.live.tempAtStart,
		TempEnd:     indoor,
		OutdoorAvg:  round1(outdoorAvg),
		Delta:       round1(delta),
		DurationMin: round1(duration.Minutes()),
		Speed:       round5(delta / duration.Minutes()),
		Anticipated: z.live.anticipated,
	}

	z.model.Record(session)
	metricSessions.WithLabelValues(z.cfg.Name).Inc()
	z.save(ctx)

	z.logger.Info("heating session recorded",
		"zone", z.cfg.Name,
		log.Format("%.1f", "delta", session.Delta),
		log.Format("%.0f", "minutes", session.DurationMin),
		log.Format("%.4f", "speed", session.Speed),
		"anticipated", session.Anticipated)
}

func (z *Zone) sessionOutdoor(outdoor float64, hasOutdoor bool) float64 {
	switch {
	case z.live.outdoorStart != nil && hasOutdoor:
		return (*z.live.outdoorStart + outdoor) / 2
	case z.live.outdoorStart != nil:
		return *z.live.outdoorStart
	case hasOutdoor:
		return outdoor
	}

	return 0
}

// noteScheduleMove deactivates a running anticipation when the schedule moves
// under it, and triggers a re-evaluation on any real move.
func (z *Zone) noteScheduleMove(setpoint float64) {
	defer func() { z.lastSched = &setpoint }()

	if z.lastSched == nil || setpoint == *z.lastSched {
		return
	}

	moved := setpoint - *z.lastSched
	if moved < 0.1 && moved > -0.1 {
		return
	}

	z.logger.Info("scheduled setpoint changed",
		"zone", z.cfg.Name,
		log.Format("%.1f", "from", *z.lastSched),
		log.Format("%.1f", "to", setpoint))

	if moved < 0 && z.engine.State().Active {
		z.logger.Info("target moved down, anticipation canceled", "zone", z.cfg.Name)
		z.engine.Deactivate()
	}
}

func (z *Zone) effectiveMargin() float64 {
	margin := z.cfg.BaseMargin + z.advisorAdj

	if adj, ok := z.feedback.MarginSuggestion(); ok {
		margin += adj
	}

	return margin
}

func (z *Zone) gateActive(now time.Time) bool {
	return !z.lastOff.IsZero() && now.Sub(z.lastOff) < z.cfg.AntiShortCycle
}

// maybeCallAdvisor fires the advisor once per daily slot. Slots are hours on
// the local calendar day.
func (z *Zone) maybeCallAdvisor(ctx context.Context) {
	now := z.now()

	switch {
	case now.Hour() >= z.cfg.AdvisorHours[1]:
		if !sameDay(z.eveningDone, now) {
			z.eveningDone = now
			z.callAdvisor(ctx, SlotEvening)
		}
	case now.Hour() >= z.cfg.AdvisorHours[0]:
		if !sameDay(z.morningDone, now) {
			z.morningDone = now
			z.callAdvisor(ctx, SlotMorning)
		}
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}

func (z *Zone) slotForHour(hour int) Slot {
	if hour >= z.cfg.AdvisorHours[1] {
		return SlotEvening
	}

	return SlotMorning
}

// callAdvisor asks the advisor for a margin adjustment. On failure the
// previous adjustment stays in effect.
func (z *Zone) callAdvisor(ctx context.Context, slot Slot) {
	z.mu.Lock()
	req := z.advisorRequest(slot)
	z.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, advisorTimeout)
	defer cancel()

	advice, err := z.advisor.Adjust(ctx, req)
	if err != nil {
		metricAdvisorCalls.WithLabelValues(z.cfg.Name, z.advisor.Name(), "error").Inc()
		z.logger.Error("advisor call failed, keeping previous adjustment",
			"zone", z.cfg.Name, "provider", z.advisor.Name(), "error", err)

		return
	}

	metricAdvisorCalls.WithLabelValues(z.cfg.Name, z.advisor.Name(), "ok").Inc()

	z.mu.Lock()
	z.advisorAdj = advice.MarginAdjustment
	z.lastAdvice = &advice
	z.mu.Unlock()

	z.save(ctx)

	z.logger.Info("advisor adjustment applied",
		"zone", z.cfg.Name,
		"provider", advice.Provider,
		log.Format("%+.3f", "adjustment", advice.MarginAdjustment),
		log.Format("%.2f", "confidence", advice.Confidence),
		"reasoning", advice.Reasoning)
}

func (z *Zone) advisorRequest(slot Slot) AdvisorRequest {
	inertia, hasInertia := z.model.Inertia()

	sessions := z.model.Sessions()
	if len(sessions) > suggestionWindow {
		sessions = sessions[len(sessions)-suggestionWindow:]
	}

	state := CurrentState{MarginPercent: int((z.effectiveMargin() - 1) * 100)}

	if v, ok := z.readings.Indoor(); ok {
		state.Indoor = &v
	}

	if v, ok := z.readings.Outdoor(); ok {
		state.Outdoor = &v
	}

	if v, ok := z.readings.Setpoint(); ok {
		state.Setpoint = &v
	}

	return AdvisorRequest{
		Zone:     z.cfg.Name,
		Thermal:  ThermalSummary{Inertia: inertia, HasInertia: hasInertia, Recent: sessions},
		Forecast: z.readings.Forecast(),
		State:    state,
		Slot:     slot,
	}
}

// SnapshotNow reports the zone's current state for status surfaces. Safe to
// call from any goroutine.
func (z *Zone) SnapshotNow() Snapshot {
	z.mu.Lock()
	defer z.mu.Unlock()

	snap := Snapshot{
		Zone:         z.cfg.Name,
		Enabled:      z.enabled.Load(),
		Status:       StatusLearning,
		Margin:       z.lastMargin,
		Anticipation: z.engine.State(),
		SessionCount: z.model.Len(),
		Feedback:     z.feedback.Stats(),
		Advice:       z.lastAdvice,
		LastOffTime:  z.lastOff,
	}

	snap.SuccessRate = snap.Feedback.SuccessRate

	if inertia, ok := z.model.Inertia(); ok {
		snap.Inertia = &inertia
	}

	if z.live != nil {
		snap.LastHeatStart = z.live.startedAt
	}

	switch {
	case snap.Anticipation.Active:
		snap.Status = StatusAnticipating
	case z.model.Len() >= z.cfg.MinSessions:
		snap.Status = StatusReady
	}

	return snap
}

// countingActuator wraps the real actuator with a command counter.
type countingActuator struct {
	zone string
	next Actuator
}

func (a *countingActuator) SetTargetTemperature(ctx context.Context, value float64) error {
	err := a.next.SetTargetTemperature(ctx, value)
	if err != nil {
		metricCommands.WithLabelValues(a.zone, "error").Inc()

		return err
	}

	metricCommands.WithLabelValues(a.zone, "ok").Inc()

	return nil
}
