package mood

import (
	"errors"
	"testing"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

func sample(subject string, score int) models.MoodUpdate {
	return models.MoodUpdate{SubjectID: subject, Score: score, RecordedAt: time.Now().UTC()}
}

func TestObserveRejectsOutOfRangeScore(t *testing.T) {
	tr := NewTracker()
	for _, score := range []int{0, -1, 11} {
		_, err := tr.Observe(sample("subj-1", score))
		if !errors.Is(err, models.ErrInvalidMoodScore) {
			t.Errorf("score %d: expected ErrInvalidMoodScore, got %v", score, err)
		}
	}
}

func TestFirstSampleSeedsBaseline(t *testing.T) {
	tr := NewTracker()
	obs, err := tr.Observe(sample("subj-1", 7))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if obs.Baseline != 7 {
		t.Errorf("expected baseline 7, got %v", obs.Baseline)
	}
	if obs.Trend != models.TrendStable {
		t.Errorf("expected stable trend, got %s", obs.Trend)
	}
	if len(obs.Alerts) != 0 {
		t.Errorf("expected no alerts, got %v", obs.Alerts)
	}
}

func TestBaselineSmoothsSlowly(t *testing.T) {
	tr := NewTracker()
	tr.Observe(sample("subj-1", 8))
	obs, _ := tr.Observe(sample("subj-1", 2))

	// One bad sample moves the baseline by alpha, not all the way.
	if obs.Baseline <= 2 || obs.Baseline >= 8 {
		t.Errorf("expected baseline between extremes, got %v", obs.Baseline)
	}
	expected := round4((1-alpha)*8 + alpha*2)
	if obs.Baseline != expected {
		t.Errorf("expected baseline %v, got %v", expected, obs.Baseline)
	}
}

func TestTrendClassification(t *testing.T) {
	tr := NewTracker()
	tr.Observe(sample("subj-1", 5))

	obs, _ := tr.Observe(sample("subj-1", 8))
	if obs.Trend != models.TrendImproving {
		t.Errorf("expected improving, got %s", obs.Trend)
	}

	obs, _ = tr.Observe(sample("subj-1", 2))
	if obs.Trend != models.TrendDeclining {
		t.Errorf("expected declining, got %s", obs.Trend)
	}
}

func TestTrendHysteresisKeepsStateBetweenBands(t *testing.T) {
	tr := NewTracker()
	tr.Observe(sample("subj-1", 5))
	obs, _ := tr.Observe(sample("subj-1", 8))
	if obs.Trend != models.TrendImproving {
		t.Fatalf("expected improving, got %s", obs.Trend)
	}

	// Baseline after two samples is 5.45; a score of 6.2-ish sits between
	// the stable band and the flip band. Integer scores make the exact case
	// rare, so assert via the helper directly.
	if got := nextTrend(models.TrendImproving, 6.2, 5.45); got != models.TrendImproving {
		t.Errorf("expected hysteresis to hold improving, got %s", got)
	}
	if got := nextTrend(models.TrendImproving, 5.5, 5.45); got != models.TrendStable {
		t.Errorf("expected return to stable inside inner band, got %s", got)
	}
}

func TestSustainedLowAlert(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < ConsecutiveLowLimit-1; i++ {
		obs, _ := tr.Observe(sample("subj-1", 3))
		for _, a := range obs.Alerts {
			if a == AlertSustainedLow {
				t.Fatalf("sustained-low fired after %d samples", i+1)
			}
		}
	}
	obs, _ := tr.Observe(sample("subj-1", 3))
	if !hasAlert(obs, AlertSustainedLow) {
		t.Errorf("expected sustained-low alert on sample %d, got %v", ConsecutiveLowLimit, obs.Alerts)
	}

	// A good score resets the streak.
	tr.Observe(sample("subj-1", 7))
	obs, _ = tr.Observe(sample("subj-1", 3))
	if hasAlert(obs, AlertSustainedLow) {
		t.Errorf("expected streak reset after a good score, got %v", obs.Alerts)
	}
}

func TestSevereLowAlertImmediate(t *testing.T) {
	tr := NewTracker()
	obs, _ := tr.Observe(sample("subj-1", 1))
	if !hasAlert(obs, AlertSevereLow) {
		t.Errorf("expected severe-low alert, got %v", obs.Alerts)
	}
}

func TestStressAndEnergyAlerts(t *testing.T) {
	tr := NewTracker()

	obs, _ := tr.Observe(models.MoodUpdate{SubjectID: "subj-1", Score: 6, StressLevel: 8, RecordedAt: time.Now()})
	if !hasAlert(obs, AlertHighStress) {
		t.Errorf("expected high-stress alert, got %v", obs.Alerts)
	}

	obs, _ = tr.Observe(models.MoodUpdate{SubjectID: "subj-1", Score: 3, EnergyLevel: 1, RecordedAt: time.Now()})
	if !hasAlert(obs, AlertLowEnergy) {
		t.Errorf("expected low-energy alert, got %v", obs.Alerts)
	}

	// Low energy without low mood does not fire.
	obs, _ = tr.Observe(models.MoodUpdate{SubjectID: "subj-2", Score: 7, EnergyLevel: 1, RecordedAt: time.Now()})
	if hasAlert(obs, AlertLowEnergy) {
		t.Errorf("expected no low-energy alert at mood 7, got %v", obs.Alerts)
	}
}

func TestTrendForUnknownSubject(t *testing.T) {
	tr := NewTracker()
	if got := tr.Trend("nobody"); got != models.TrendStable {
		t.Errorf("expected stable for unknown subject, got %s", got)
	}
	if _, ok := tr.Baseline("nobody"); ok {
		t.Errorf("expected no baseline for unknown subject")
	}
}

func hasAlert(obs Observation, alert string) bool {
	for _, a := range obs.Alerts {
		if a == alert {
			return true
		}
	}
	return false
}
