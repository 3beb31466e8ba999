package preheat

import (
	"math"
	"slices"
	"time"
)

// Session validity and history bounds. A session shorter than five minutes or
// flatter than 0.3°C carries more noise than signal and is never recorded.
const (
	maxSessions        = 100
	minSessionDuration = 5 * time.Minute
	minSessionDelta    = 0.3
)

// HeatingSession is one continuous heating period used as a learning sample.
// Records are immutable once created.
type HeatingSession struct {
	Date        time.Time `json:"date"`
	TempStart   float64   `json:"temp_start"`
	TempEnd     float64   `json:"temp_end"`
	OutdoorAvg  float64   `json:"temp_ext_avg"`
	Delta       float64   `json:"delta_temp"`
	DurationMin float64   `json:"duration_min"`
	Speed       float64   `json:"speed_degc_per_min"`
	Anticipated bool      `json:"anticipated"`
}

func (s HeatingSession) valid() bool {
	return s.Speed > 0 && s.DurationMin >= minSessionDuration.Minutes()
}

// Inertia is the aggregate view of the session history. Speeds are in °C/min,
// rounded to 5 decimal places. ByOutdoor maps 5°C outdoor-temperature buckets
// to the mean speed observed in that bucket.
type Inertia struct {
	AvgSpeed    float64         `json:"avg_speed"`
	MedianSpeed float64         `json:"median_speed"`
	MinSpeed    float64         `json:"min_speed"`
	MaxSpeed    float64         `json:"max_speed"`
	Sessions    int             `json:"num_sessions"`
	MinPerDeg   float64         `json:"min_per_deg"`
	ByOutdoor   map[int]float64 `json:"by_ext_temp"`
}

// ThermalModel learns a zone's heating speed from recorded sessions and
// answers time-to-target queries. It is not safe for concurrent use; the
// zone's control loop is its only caller.
type ThermalModel struct {
	sessions []HeatingSession
	inertia  Inertia
	hasData  bool
}

func NewThermalModel() *ThermalModel {
	return &ThermalModel{}
}

// Load replaces the history with persisted sessions.
func (m *ThermalModel) Load(sessions []HeatingSession) {
	m.sessions = slices.Clone(sessions)
	if len(m.sessions) > maxSessions {
		m.sessions = m.sessions[len(m.sessions)-maxSessions:]
	}
	m.recalculate()
}

// Record appends a session, evicting the oldest once the history is at
// capacity, and recomputes the aggregate statistics.
func (m *ThermalModel) Record(s HeatingSession) {
	m.sessions = append(m.sessions, s)
	if len(m.sessions) > maxSessions {
		m.sessions = m.sessions[len(m.sessions)-maxSessions:]
	}
	m.recalculate()
}

// Reset drops the entire history.
func (m *ThermalModel) Reset() {
	m.sessions = nil
	m.recalculate()
}

// Sessions returns the history, oldest first.
func (m *ThermalModel) Sessions() []HeatingSession {
	return slices.Clone(m.sessions)
}

func (m *ThermalModel) Len() int { return len(m.sessions) }

// Inertia reports the aggregate statistics. ok is false until at least one
// valid session has been recorded.
func (m *ThermalModel) Inertia() (Inertia, bool) {
	return m.inertia, m.hasData
}

// EstimateMinutes answers how many minutes are needed to heat from current to
// target under the given margin. A target at or below the current temperature
// needs 0 minutes. ok is false when the model has no usable speed yet; that is
// insufficient data, not an error.
func (m *ThermalModel) EstimateMinutes(current, target, outdoor, margin float64) (float64, bool) {
	delta := target - current
	if delta <= 0 {
		return 0, true
	}

	speed, ok := m.speedForOutdoor(outdoor)
	if !ok || speed <= 0 {
		return 0, false
	}

	return math.Ceil(delta / speed * margin), true
}

// speedForOutdoor picks a representative speed for the given outdoor
// temperature: the median over sessions within ±5°C of the nearest 5° bucket,
// falling back to the global mean when no session is close enough.
func (m *ThermalModel) speedForOutdoor(outdoor float64) (float64, bool) {
	if len(m.sessions) == 0 {
		return 0, false
	}

	bucket := float64(outdoorBucket(outdoor))

	var speeds []float64

	for _, s := range m.sessions {
		if s.Speed > 0 && math.Abs(s.OutdoorAvg-bucket) <= 5 {
			speeds = append(speeds, s.Speed)
		}
	}

	if len(speeds) > 0 {
		return median(speeds), true
	}

	if !m.hasData {
		return 0, false
	}

	return m.inertia.AvgSpeed, true
}

func (m *ThermalModel) recalculate() {
	var valid []HeatingSession

	for _, s := range m.sessions {
		if s.valid() {
			valid = append(valid, s)
		}
	}

	if len(valid) == 0 {
		m.inertia = Inertia{}
		m.hasData = false

		return
	}

	speeds := make([]float64, len(valid))
	byOutdoor := make(map[int][]float64)

	for i, s := range valid {
		speeds[i] = s.Speed
		byOutdoor[outdoorBucket(s.OutdoorAvg)] = append(byOutdoor[outdoorBucket(s.OutdoorAvg)], s.Speed)
	}

	bucketMeans := make(map[int]float64, len(byOutdoor))
	for bucket, v := range byOutdoor {
		bucketMeans[bucket] = round5(mean(v))
	}

	avg := mean(speeds)

	m.inertia = Inertia{
		AvgSpeed:    round5(avg),
		MedianSpeed: round5(median(speeds)),
		MinSpeed:    round5(slices.Min(speeds)),
		MaxSpeed:    round5(slices.Max(speeds)),
		Sessions:    len(valid),
		MinPerDeg:   round1(1 / avg),
		ByOutdoor:   bucketMeans,
	}
	m.hasData = true
}

// outdoorBucket rounds an outdoor temperature to its nearest 5°C bucket.
func outdoorBucket(outdoor float64) int {
	return int(math.Round(outdoor/5) * 5)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}

	var sum float64
	for _, x := range v {
		sum += x
	}

	return sum / float64(len(v))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}

	sorted := slices.Clone(v)
	slices.Sort(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func round5(x float64) float64 { return math.Round(x*1e5) / 1e5 }

func round1(x float64) float64 { return math.Round(x*10) / 10 }

func round3(x float64) float64 { return math.Round(x*1e3) / 1e3 }
