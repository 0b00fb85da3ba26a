package assess

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/taxonomy"
)

type fakeRecorder struct {
	recorded []models.RiskAssessment
	err      error
}

func (r *fakeRecorder) AddAssessment(a models.RiskAssessment) error {
	if r.err != nil {
		return r.err
	}
	r.recorded = append(r.recorded, a)
	return nil
}

func newAggregator(t *testing.T) (*Aggregator, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := New(taxonomy.Default(), rec, WithClock(func() time.Time { return fixed }))
	return agg, rec
}

func TestAssessEmptyScan(t *testing.T) {
	agg, rec := newAggregator(t)

	got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "doing fine today", nil, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RiskLevel != models.RiskLevelNone {
		t.Errorf("expected none, got %q", got.RiskLevel)
	}
	if got.WeightedScore != 0 {
		t.Errorf("expected zero score, got %v", got.WeightedScore)
	}
	if got.EscalationNeeded {
		t.Error("expected no escalation for empty scan")
	}
	if len(rec.recorded) != 1 {
		t.Fatalf("expected assessment recorded, got %d", len(rec.recorded))
	}
}

func TestAssessLevelThresholds(t *testing.T) {
	// hopelessness carries medium severity (weight 3); suicidal_ideation
	// carries high severity (weight 6).
	tests := []struct {
		name string
		scan map[string]float64
		want models.RiskLevel
	}{
		{"below low", map[string]float64{"hopelessness": 0.2}, models.RiskLevelNone},
		{"low", map[string]float64{"hopelessness": 0.5}, models.RiskLevelLow},
		{"medium", map[string]float64{"hopelessness": 1.0}, models.RiskLevelMedium},
		{"high", map[string]float64{"hopelessness": 1.0, "suicidal_ideation": 0.5}, models.RiskLevelHigh},
		{"critical by score", map[string]float64{"suicidal_ideation": 0.8, "self_harm": 0.8, "hopelessness": 1.0}, models.RiskLevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, _ := newAggregator(t)
			got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "input", tt.scan, Context{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.RiskLevel != tt.want {
				t.Errorf("expected %q, got %q (score %v)", tt.want, got.RiskLevel, got.WeightedScore)
			}
		})
	}
}

func TestAssessCriticalSingleFactor(t *testing.T) {
	agg, _ := newAggregator(t)

	// One saturated high-severity factor scores only 6.0 but still
	// short-circuits to critical.
	got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "I want to die",
		map[string]float64{"suicidal_ideation": 1.0}, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RiskLevel != models.RiskLevelCritical {
		t.Errorf("expected critical, got %q", got.RiskLevel)
	}
	if !got.EscalationNeeded {
		t.Error("expected escalation needed at critical")
	}
}

func TestAssessUnknownFactorIgnored(t *testing.T) {
	agg, _ := newAggregator(t)

	got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "input",
		map[string]float64{"not_in_catalog": 1.0}, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RiskLevel != models.RiskLevelNone {
		t.Errorf("expected unknown factor to contribute nothing, got %q", got.RiskLevel)
	}
	if len(got.DetectedFactors) != 0 {
		t.Errorf("expected no detected factors, got %v", got.DetectedFactors)
	}
}

func TestAssessActiveCaseFloor(t *testing.T) {
	agg, _ := newAggregator(t)

	actx := Context{ActiveCase: &models.EscalationCase{
		CaseID:    "case-1",
		SubjectID: "subj-1",
		State:     models.CaseStatePendingEscalation,
	}}

	// A calm message while a case is open still reports at the floor.
	got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "I feel much better now", nil, actx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RiskLevel != models.RiskLevelMedium {
		t.Errorf("expected floor at medium while case active, got %q", got.RiskLevel)
	}
}

func TestAssessTerminalCaseHasNoFloor(t *testing.T) {
	agg, _ := newAggregator(t)

	actx := Context{ActiveCase: &models.EscalationCase{
		CaseID: "case-1",
		State:  models.CaseStateResolved,
	}}
	got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "I feel much better now", nil, actx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RiskLevel != models.RiskLevelNone {
		t.Errorf("expected no floor after case closed, got %q", got.RiskLevel)
	}
}

func TestAssessFactorOrdering(t *testing.T) {
	agg, _ := newAggregator(t)

	got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "input",
		map[string]float64{"hopelessness": 0.4, "suicidal_ideation": 0.5}, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// suicidal_ideation contributes 3.0, hopelessness 1.2.
	want := []string{"suicidal_ideation", "hopelessness"}
	if len(got.DetectedFactors) != 2 || got.DetectedFactors[0] != want[0] || got.DetectedFactors[1] != want[1] {
		t.Errorf("expected factors ordered %v, got %v", want, got.DetectedFactors)
	}
}

func TestAssessConfidenceSignals(t *testing.T) {
	agg, _ := newAggregator(t)
	scan := map[string]float64{"suicidal_ideation": 1.0}

	plain, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "thinking about dying", scan, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	intent, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "I want to end my life", scan, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Confidence <= plain.Confidence {
		t.Errorf("expected first-person intent to raise confidence: plain %v, intent %v",
			plain.Confidence, intent.Confidence)
	}

	lowMood := Context{LatestMood: &models.MoodUpdate{SubjectID: "subj-1", Score: 2}}
	corroborated, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "thinking about dying", scan, lowMood)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if corroborated.Confidence <= plain.Confidence {
		t.Errorf("expected low mood to raise confidence: plain %v, corroborated %v",
			plain.Confidence, corroborated.Confidence)
	}

	if plain.Confidence < 0 || plain.Confidence > 1 || intent.Confidence > 1 || corroborated.Confidence > 1 {
		t.Errorf("confidence out of range: %v %v %v", plain.Confidence, intent.Confidence, corroborated.Confidence)
	}
}

func TestAssessInterventionsCapped(t *testing.T) {
	agg, _ := newAggregator(t)

	got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "input",
		map[string]float64{"suicidal_ideation": 1.0, "isolation": 0.8, "substance_abuse": 0.8}, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Interventions) == 0 {
		t.Fatal("expected interventions at elevated risk")
	}
	if len(got.Interventions) > maxInterventions {
		t.Errorf("expected at most %d interventions, got %d", maxInterventions, len(got.Interventions))
	}
}

func TestAssessExcerptBounded(t *testing.T) {
	agg, _ := newAggregator(t)

	long := strings.Repeat("hopeless ", 50)
	got, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, long,
		map[string]float64{"hopelessness": 1.0}, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len([]rune(got.TriggerExcerpt)) > triggerExcerptLimit {
		t.Errorf("expected excerpt bounded at %d runes, got %d", triggerExcerptLimit, len([]rune(got.TriggerExcerpt)))
	}
}

func TestAssessRecorderError(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("store down")}
	agg := New(taxonomy.Default(), rec)

	if _, err := agg.Assess(context.Background(), "subj-1", models.SourceChat, "input", nil, Context{}); err == nil {
		t.Fatal("expected recorder error to propagate")
	}
}

func TestAssessStampsIdentityAndTime(t *testing.T) {
	agg, rec := newAggregator(t)

	got, err := agg.Assess(context.Background(), "subj-1", models.SourceJournal, "input", nil, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID == "" {
		t.Error("expected assessment ID")
	}
	if got.SubjectID != "subj-1" || got.Source != models.SourceJournal {
		t.Errorf("expected identity stamped, got %+v", got)
	}
	if got.CreatedAt.IsZero() || got.CreatedAt.Location() != time.UTC {
		t.Errorf("expected UTC creation time, got %v", got.CreatedAt)
	}
	if rec.recorded[0].ID != got.ID {
		t.Error("expected the recorded assessment to match the returned one")
	}
}
