// Package mood tracks per-subject mood signals: an EMA-smoothed rolling
// baseline over 1-10 self-reported scores, trend classification with
// hysteresis, and threshold alerts for sustained or severe low mood.
package mood

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// ---- Constants for EMA / thresholds ----

const (
	// alpha is the EMA smoothing factor for the rolling baseline.
	alpha = 0.15

	// trendDelta is the hysteresis band around the baseline: a score must
	// leave the band to flip the trend, and re-enter well inside it to
	// return to stable.
	trendDelta       = 1.0
	trendStableDelta = 0.5

	// LowMoodThreshold marks a score as a low-mood observation.
	LowMoodThreshold = 3
	// ConsecutiveLowLimit is how many consecutive low scores trigger the
	// sustained-low alert.
	ConsecutiveLowLimit = 3
	// SevereLowThreshold triggers an immediate alert on a single sample.
	SevereLowThreshold = 2
	// HighStressThreshold triggers the high-stress alert.
	HighStressThreshold = 7
	// LowEnergyThreshold triggers the low-energy alert when combined with a
	// low mood score.
	LowEnergyThreshold = 2
)

// Alert reasons attached to republished MoodUpdates.
const (
	AlertSustainedLow = "sustained_low_mood"
	AlertSevereLow    = "severe_low_mood"
	AlertHighStress   = "high_stress"
	AlertLowEnergy    = "low_energy"
)

// state is the per-subject tracking record.
type state struct {
	baseline       float64
	samples        int
	trend          models.MoodTrend
	consecutiveLow int
	lastScore      int
	lastRecordedAt time.Time
}

// Tracker maintains mood state for all subjects. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	subjects map[string]*state
}

// NewTracker creates an empty mood tracker.
func NewTracker() *Tracker {
	return &Tracker{subjects: make(map[string]*state)}
}

// Observation is the outcome of ingesting one mood sample.
type Observation struct {
	SubjectID string
	Baseline  float64
	Trend     models.MoodTrend
	// Alerts lists the threshold alerts this sample fired, in a stable
	// order. Empty for unremarkable samples.
	Alerts []string
}

// Observe ingests a mood sample and returns the updated observation.
// Scores outside 1-10 are rejected.
func (t *Tracker) Observe(m models.MoodUpdate) (Observation, error) {
	if m.Score < 1 || m.Score > 10 {
		return Observation{}, fmt.Errorf("mood score %d out of range: %w", m.Score, models.ErrInvalidMoodScore)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.subjects[m.SubjectID]
	if !ok {
		st = &state{baseline: float64(m.Score), trend: models.TrendStable}
		t.subjects[m.SubjectID] = st
	} else {
		st.baseline = (1-alpha)*st.baseline + alpha*float64(m.Score)
	}
	st.baseline = round4(st.baseline)
	st.samples++
	st.lastScore = m.Score
	st.lastRecordedAt = m.RecordedAt

	st.trend = nextTrend(st.trend, float64(m.Score), st.baseline)

	if m.Score <= LowMoodThreshold {
		st.consecutiveLow++
	} else {
		st.consecutiveLow = 0
	}

	var alerts []string
	if m.Score <= SevereLowThreshold {
		alerts = append(alerts, AlertSevereLow)
	}
	if st.consecutiveLow >= ConsecutiveLowLimit {
		alerts = append(alerts, AlertSustainedLow)
	}
	if m.StressLevel >= HighStressThreshold {
		alerts = append(alerts, AlertHighStress)
	}
	if m.EnergyLevel > 0 && m.EnergyLevel <= LowEnergyThreshold && m.Score <= LowMoodThreshold {
		alerts = append(alerts, AlertLowEnergy)
	}

	return Observation{
		SubjectID: m.SubjectID,
		Baseline:  st.baseline,
		Trend:     st.trend,
		Alerts:    alerts,
	}, nil
}

// Trend returns the subject's current trend, or stable when unknown.
func (t *Tracker) Trend(subjectID string) models.MoodTrend {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.subjects[subjectID]; ok {
		return st.trend
	}
	return models.TrendStable
}

// Baseline returns the subject's rolling baseline and whether any samples
// have been observed.
func (t *Tracker) Baseline(subjectID string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.subjects[subjectID]; ok {
		return st.baseline, true
	}
	return 0, false
}

// nextTrend applies hysteresis: flipping requires leaving the outer band,
// returning to stable requires coming back inside the inner band.
func nextTrend(current models.MoodTrend, score, baseline float64) models.MoodTrend {
	diff := score - baseline
	switch {
	case diff >= trendDelta:
		return models.TrendImproving
	case diff <= -trendDelta:
		return models.TrendDeclining
	case math.Abs(diff) <= trendStableDelta:
		return models.TrendStable
	default:
		// Between thresholds: keep current state (hysteresis).
		if current == "" {
			return models.TrendStable
		}
		return current
	}
}

// round4 rounds to 4 decimal places to avoid floating point drift.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
