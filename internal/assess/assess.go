// Package assess implements the risk aggregator: it combines scanner output
// with contextual signals (risk history, recent mood, open escalation cases)
// into a single RiskAssessment with a discrete level and a confidence score.
package assess

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/taxonomy"
	"github.com/oklog/ulid/v2"
)

// Weighted-score thresholds for the discrete risk levels. A score below
// ThresholdLow maps to none; CriticalSingleFactorStrength short-circuits to
// critical when any high-severity factor saturates.
const (
	ThresholdLow      = 1.0
	ThresholdMedium   = 3.0
	ThresholdHigh     = 6.0
	ThresholdCritical = 12.0

	CriticalSingleFactorStrength = 0.9
)

// Confidence model constants. Base confidence rises with corroborating
// factors, match strength, input length, and unambiguous first-person intent.
const (
	baseConfidence         = 0.5
	lengthBonusShort       = 0.1 // input longer than 50 characters
	lengthBonusLong        = 0.1 // input longer than 100 characters
	perFactorConfidence    = 0.15
	maxFactorConfidence    = 0.3
	scoreConfidenceWeight  = 0.2
	intentConfidenceBonus  = 0.2
	lowMoodConfidenceBonus = 0.05
)

// maxInterventions caps the recommended interventions per assessment.
const maxInterventions = 5

// triggerExcerptLimit bounds how much of the input is retained on the
// assessment for escalation context.
const triggerExcerptLimit = 160

// intentPhrases indicate clear first-person intent and raise confidence.
var intentPhrases = []string{"i want to", "i am going to", "i plan to", "i will"}

// lowMoodThreshold is the mood score at or below which a recent sample
// corroborates detected factors.
const lowMoodThreshold = 3

// Recorder is the narrow store surface the aggregator needs: appending to
// the subject's assessment history.
type Recorder interface {
	AddAssessment(a models.RiskAssessment) error
}

// Context carries the contextual signals for one assessment.
type Context struct {
	// History is the subject's recent assessments, newest first.
	History []models.RiskAssessment
	// LatestMood is the subject's most recent mood sample, if any.
	LatestMood *models.MoodUpdate
	// ActiveCase is the subject's open escalation case, if any. While a case
	// is active the reported level never drops below the state-implied floor.
	ActiveCase *models.EscalationCase
}

// Opts holds configuration options for the aggregator.
type Opts struct {
	Now func() time.Time
}

// Option defines a configuration option for the aggregator.
type Option func(*Opts)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Aggregator turns scan results plus context into risk assessments.
type Aggregator struct {
	taxonomy *taxonomy.Snapshot
	recorder Recorder
	now      func() time.Time
}

// New creates an aggregator over the given taxonomy. The recorder receives
// every produced assessment before Assess returns.
func New(snap *taxonomy.Snapshot, recorder Recorder, opts ...Option) *Aggregator {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Aggregator{taxonomy: snap, recorder: recorder, now: cfg.Now}
}

// Assess computes the risk assessment for one scanned input and appends it
// to the subject's history.
func (a *Aggregator) Assess(ctx context.Context, subjectID string, source models.InputSource, text string, scan map[string]float64, actx Context) (models.RiskAssessment, error) {
	weighted := 0.0
	criticalFactor := false
	factors := make([]string, 0, len(scan))

	for name, strength := range scan {
		factor, ok := a.taxonomy.Factor(name)
		if !ok {
			// Scan results from a different taxonomy version are ignored
			// rather than silently mis-weighted.
			slog.Warn("Aggregator.Assess: scan result references unknown factor", "factor", name, "subjectID", subjectID)
			continue
		}
		weighted += strength * factor.Severity.Weight()
		if factor.Severity == models.SeverityHigh && strength >= CriticalSingleFactorStrength {
			criticalFactor = true
		}
		factors = append(factors, name)
	}

	// Deterministic ordering: strongest contribution first.
	sort.Slice(factors, func(i, j int) bool {
		wi := scan[factors[i]] * severityWeight(a.taxonomy, factors[i])
		wj := scan[factors[j]] * severityWeight(a.taxonomy, factors[j])
		if wi != wj {
			return wi > wj
		}
		return factors[i] < factors[j]
	})

	level := levelFor(weighted, criticalFactor)

	// Monotonic floor while an escalation case is active: a single
	// reassuring message must not mask an ongoing crisis.
	if actx.ActiveCase.IsActive() {
		floor := actx.ActiveCase.State.RiskFloor()
		if !level.AtLeast(floor) {
			slog.Debug("Aggregator.Assess: raising level to active-case floor",
				"subjectID", subjectID, "derived", level, "floor", floor, "caseID", actx.ActiveCase.CaseID)
			level = floor
		}
	}

	assessment := models.RiskAssessment{
		ID:               ulid.Make().String(),
		SubjectID:        subjectID,
		Source:           source,
		RiskLevel:        level,
		WeightedScore:    weighted,
		Confidence:       a.confidence(text, factors, weighted, actx),
		DetectedFactors:  factors,
		FactorStrengths:  scan,
		Interventions:    a.interventions(level, factors),
		TriggerExcerpt:   excerpt(text),
		EscalationNeeded: level.AtLeast(models.RiskLevelHigh),
		CreatedAt:        a.now().UTC(),
	}

	if err := a.recorder.AddAssessment(assessment); err != nil {
		return models.RiskAssessment{}, fmt.Errorf("failed to record assessment for %s: %w", subjectID, err)
	}

	slog.Debug("Aggregator.Assess: assessment recorded",
		"subjectID", subjectID, "source", source, "level", level,
		"weightedScore", weighted, "factors", len(factors), "confidence", assessment.Confidence)
	return assessment, nil
}

func severityWeight(snap *taxonomy.Snapshot, name string) float64 {
	if f, ok := snap.Factor(name); ok {
		return f.Severity.Weight()
	}
	return 0
}

// levelFor maps a weighted score to a discrete risk level.
func levelFor(weighted float64, criticalFactor bool) models.RiskLevel {
	switch {
	case criticalFactor || weighted >= ThresholdCritical:
		return models.RiskLevelCritical
	case weighted >= ThresholdHigh:
		return models.RiskLevelHigh
	case weighted >= ThresholdMedium:
		return models.RiskLevelMedium
	case weighted >= ThresholdLow:
		return models.RiskLevelLow
	default:
		return models.RiskLevelNone
	}
}

// confidence estimates how sure the aggregator is about its verdict.
// Independent corroborating factors raise it more than a single saturated
// factor at the same weighted score.
func (a *Aggregator) confidence(text string, factors []string, weighted float64, actx Context) float64 {
	c := baseConfidence

	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 50 {
		c += lengthBonusShort
	}
	if len(trimmed) > 100 {
		c += lengthBonusLong
	}

	factorBonus := float64(len(factors)) * perFactorConfidence
	if factorBonus > maxFactorConfidence {
		factorBonus = maxFactorConfidence
	}
	c += factorBonus

	norm := weighted / ThresholdCritical
	if norm > 1 {
		norm = 1
	}
	c += norm * scoreConfidenceWeight

	lower := strings.ToLower(text)
	for _, p := range intentPhrases {
		if strings.Contains(lower, p) {
			c += intentConfidenceBonus
			break
		}
	}

	if len(factors) > 0 && actx.LatestMood != nil && actx.LatestMood.Score <= lowMoodThreshold {
		c += lowMoodConfidenceBonus
	}

	if c > 1 {
		c = 1
	}
	return c
}

// interventions builds the recommended intervention list for the verdict:
// level-specific guidance first, then factor-specific additions, capped.
func (a *Aggregator) interventions(level models.RiskLevel, factors []string) []string {
	var out []string

	switch level {
	case models.RiskLevelCritical:
		out = append(out,
			"Immediate professional intervention required",
			"Contact emergency services (911) if in immediate danger",
			"Call 988 Suicide & Crisis Lifeline immediately",
			"Do not leave person alone",
			"Remove any means of self-harm",
		)
	case models.RiskLevelHigh:
		out = append(out,
			"Contact crisis support immediately: 988",
			"Reach out to a trusted person",
			"Consider emergency room if feeling unsafe",
			"Remove access to means of harm",
			"Create safety plan",
		)
	case models.RiskLevelMedium:
		out = append(out,
			"Connect with mental health professional",
			"Use crisis text line: Text HOME to 741741",
			"Practice grounding techniques",
			"Reach out to support network",
		)
	case models.RiskLevelLow:
		out = append(out,
			"Monitor mood closely",
			"Practice self-care activities",
			"Consider counseling",
			"Stay connected with others",
		)
	}

	for _, f := range factors {
		switch f {
		case "isolation":
			out = append(out, "Focus on social connection and support")
		case "substance_abuse":
			out = append(out, "Consider addiction treatment resources")
		case "trauma":
			out = append(out, "Seek trauma-informed therapy")
		}
	}

	if len(out) > maxInterventions {
		out = out[:maxInterventions]
	}
	return out
}

// excerpt returns a bounded prefix of the input for escalation context.
func excerpt(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= triggerExcerptLimit {
		return string(runes)
	}
	return string(runes[:triggerExcerptLimit])
}
