package preheat

import (
	"log/slog"
	"time"

	"endobit.io/app/log"
)

// Margin correction policy. The step size and band boundaries are empirically
// chosen constants carried over from field tuning; the ideal arrival is 2-5
// minutes early.
const (
	marginStep       = 0.02
	maxResults       = 30
	suggestionWindow = 10
	minResults       = 3
	idealEarlyMin    = 2.0
	idealEarlyMax    = 5.0
	wastefulEarly    = 10.0
	successFloor     = 0.7
)

// AnticipationResult is the immutable outcome of one completed anticipation
// cycle. MinutesEarly is positive when the target was reached before the
// scheduled time and negative when late.
type AnticipationResult struct {
	Date              time.Time `json:"date"`
	TargetTemp        float64   `json:"target_temp"`
	ActualTemp        float64   `json:"actual_temp_at_target_time"`
	TempAtStart       float64   `json:"temp_at_start"`
	TargetTime        time.Time `json:"target_time"`
	ArrivalTime       time.Time `json:"actual_arrival_time,omitzero"`
	MinutesEarly      float64   `json:"minutes_early"`
	MarginUsed        float64   `json:"margin_used"`
	AdvisorAdjustment float64   `json:"advisor_adjustment"`
	OutdoorAvg        float64   `json:"ext_temp_avg"`
	Success           bool      `json:"success"`
}

// FeedbackStats is an observability view of the loop; only Suggestion feeds
// back into the control path.
type FeedbackStats struct {
	TotalCycles     int
	RecentCycles    int
	SuccessRate     float64
	AvgMinutesEarly float64
	Suggestion      float64
	HasSuggestion   bool
	Last            *AnticipationResult
}

type pendingCycle struct {
	targetTemp  float64
	targetTime  time.Time
	tempAtStart float64
	margin      float64
	advisorAdj  float64
	outdoor     float64
	startedAt   time.Time
}

// FeedbackLoop records anticipation outcomes and converts them into a margin
// correction. At most one observation is pending per zone; starting a new one
// replaces a stale pending entry.
type FeedbackLoop struct {
	zone    string
	logger  *slog.Logger
	history []AnticipationResult
	pending *pendingCycle
	now     func() time.Time
}

func NewFeedbackLoop(zone string, logger *slog.Logger) *FeedbackLoop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &FeedbackLoop{zone: zone, logger: logger, now: time.Now}
}

// Load replaces the history with persisted results.
func (f *FeedbackLoop) Load(history []AnticipationResult) {
	f.history = append([]AnticipationResult(nil), history...)
	if len(f.history) > maxResults {
		f.history = f.history[len(f.history)-maxResults:]
	}
}

// History returns the recorded results, oldest first.
func (f *FeedbackLoop) History() []AnticipationResult {
	return append([]AnticipationResult(nil), f.history...)
}

// StartTracking captures the pending observation for a cycle that just went
// Active.
func (f *FeedbackLoop) StartTracking(targetTemp float64, targetTime time.Time,
	tempAtStart, margin, advisorAdj, outdoor float64,
) {
	f.pending = &pendingCycle{
		targetTemp:  targetTemp,
		targetTime:  targetTime,
		tempAtStart: tempAtStart,
		margin:      margin,
		advisorAdj:  advisorAdj,
		outdoor:     outdoor,
		startedAt:   f.now(),
	}

	f.logger.Debug("feedback tracking started",
		"zone", f.zone,
		log.Format("%.1f", "target", targetTemp),
		"target_time", targetTime.Format("15:04"))
}

// RecordResult closes the pending observation. ok is false when nothing was
// being tracked.
func (f *FeedbackLoop) RecordResult(currentTemp float64, reached bool) (AnticipationResult, bool) {
	if f.pending == nil {
		return AnticipationResult{}, false
	}

	pending := f.pending
	f.pending = nil

	now := f.now()

	var (
		minutesEarly float64
		arrival      time.Time
	)

	if reached {
		minutesEarly = pending.targetTime.Sub(now).Minutes()
		arrival = now
	} else {
		minutesEarly = -now.Sub(pending.targetTime).Minutes()
	}

	result := AnticipationResult{
		Date:              now,
		TargetTemp:        pending.targetTemp,
		ActualTemp:        currentTemp,
		TempAtStart:       pending.tempAtStart,
		TargetTime:        pending.targetTime,
		ArrivalTime:       arrival,
		MinutesEarly:      round1(minutesEarly),
		MarginUsed:        pending.margin,
		AdvisorAdjustment: pending.advisorAdj,
		OutdoorAvg:        pending.outdoor,
		Success:           reached,
	}

	f.history = append(f.history, result)
	if len(f.history) > maxResults {
		f.history = f.history[len(f.history)-maxResults:]
	}

	attrs := []any{
		"zone", f.zone,
		log.Format("%.1f", "temp", currentTemp),
		log.Format("%.1f", "target", pending.targetTemp),
		log.Format("%.1f", "minutes_early", result.MinutesEarly),
		log.Format("%.0f%%", "margin", pending.margin*100),
	}

	if reached {
		f.logger.Info("anticipation cycle succeeded", attrs...)
	} else {
		f.logger.Warn("anticipation cycle arrived late", attrs...)
	}

	return result, true
}

// MarginSuggestion proposes a margin delta from the last ten results. ok is
// false with fewer than three results. The suggestion always lands within
// [-2*step, +2*step].
func (f *FeedbackLoop) MarginSuggestion() (float64, bool) {
	recent := f.recent()
	if len(recent) < minResults {
		return 0, false
	}

	var (
		earlySum  float64
		successes int
	)

	for _, r := range recent {
		earlySum += r.MinutesEarly
		if r.Success {
			successes++
		}
	}

	avgEarly := earlySum / float64(len(recent))
	successRate := float64(successes) / float64(len(recent))

	var adjustment float64

	switch {
	case avgEarly > wastefulEarly:
		adjustment = -marginStep * 2
		f.logger.Info("arriving far too early, reducing margin",
			"zone", f.zone, log.Format("%.0f", "avg_minutes_early", avgEarly))
	case avgEarly > idealEarlyMax:
		adjustment = -marginStep
	case avgEarly < 0:
		adjustment = marginStep * 2
		f.logger.Warn("arriving late, increasing margin",
			"zone", f.zone, log.Format("%.0f", "avg_minutes_early", avgEarly))
	case avgEarly < idealEarlyMin:
		adjustment = marginStep
	default:
		adjustment = 0 // sweet spot
	}

	if successRate < successFloor {
		adjustment = max(adjustment, marginStep*2)
		f.logger.Warn("low success rate, increasing margin",
			"zone", f.zone, log.Format("%.0f%%", "success_rate", successRate*100))
	}

	return round3(adjustment), true
}

// Stats summarizes the loop for observability.
func (f *FeedbackLoop) Stats() FeedbackStats {
	stats := FeedbackStats{TotalCycles: len(f.history)}

	recent := f.recent()
	if len(recent) == 0 {
		return stats
	}

	var (
		earlySum  float64
		successes int
	)

	for _, r := range recent {
		earlySum += r.MinutesEarly
		if r.Success {
			successes++
		}
	}

	last := recent[len(recent)-1]

	stats.RecentCycles = len(recent)
	stats.SuccessRate = float64(successes) / float64(len(recent))
	stats.AvgMinutesEarly = round1(earlySum / float64(len(recent)))
	stats.Last = &last
	stats.Suggestion, stats.HasSuggestion = f.MarginSuggestion()

	return stats
}

func (f *FeedbackLoop) recent() []AnticipationResult {
	if len(f.history) > suggestionWindow {
		return f.history[len(f.history)-suggestionWindow:]
	}

	return f.history
}
