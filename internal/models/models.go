// Package models defines the core data structures for SafeHarbor.
//
// It includes types for risk factors, risk assessments, and intervention
// decisions, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// RiskLevel represents the discrete crisis risk level of an assessment.
type RiskLevel string

const (
	// RiskLevelNone indicates no detectable crisis risk.
	RiskLevelNone RiskLevel = "none"
	// RiskLevelLow indicates mild risk signals worth monitoring.
	RiskLevelLow RiskLevel = "low"
	// RiskLevelMedium indicates moderate risk requiring support resources.
	RiskLevelMedium RiskLevel = "medium"
	// RiskLevelHigh indicates serious risk requiring intervention.
	RiskLevelHigh RiskLevel = "high"
	// RiskLevelCritical indicates acute risk requiring immediate escalation.
	RiskLevelCritical RiskLevel = "critical"
)

// riskLevelRank orders risk levels for monotonic comparisons.
var riskLevelRank = map[RiskLevel]int{
	RiskLevelNone:     0,
	RiskLevelLow:      1,
	RiskLevelMedium:   2,
	RiskLevelHigh:     3,
	RiskLevelCritical: 4,
}

// IsValidRiskLevel checks if the given risk level is supported.
func IsValidRiskLevel(level RiskLevel) bool {
	_, ok := riskLevelRank[level]
	return ok
}

// Rank returns the ordinal position of the risk level, with none lowest.
func (l RiskLevel) Rank() int {
	return riskLevelRank[l]
}

// AtLeast reports whether the level is equal to or more severe than other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return riskLevelRank[l] >= riskLevelRank[other]
}

// MaxRiskLevel returns the more severe of two risk levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if riskLevelRank[a] >= riskLevelRank[b] {
		return a
	}
	return b
}

// Severity classifies how dangerous a risk factor is when detected.
type Severity string

const (
	// SeverityLow marks factors that signal distress but rarely acute danger.
	SeverityLow Severity = "low"
	// SeverityMedium marks factors associated with deteriorating wellbeing.
	SeverityMedium Severity = "medium"
	// SeverityHigh marks factors directly associated with self-harm risk.
	SeverityHigh Severity = "high"
)

// severityWeights drive the aggregator's weighted score computation.
var severityWeights = map[Severity]float64{
	SeverityLow:    1,
	SeverityMedium: 3,
	SeverityHigh:   6,
}

// IsValidSeverity checks if the given severity is supported.
func IsValidSeverity(s Severity) bool {
	_, ok := severityWeights[s]
	return ok
}

// Weight returns the scoring weight for the severity class.
func (s Severity) Weight() float64 {
	return severityWeights[s]
}

// InputSource identifies which collaborator produced a piece of text.
type InputSource string

const (
	// SourceChat marks text from the conversation service.
	SourceChat InputSource = "chat"
	// SourceJournal marks text from journal entries.
	SourceJournal InputSource = "journal"
	// SourceMood marks free-text annotations on mood entries.
	SourceMood InputSource = "mood"
)

// IsValidInputSource checks if the given input source is supported.
func IsValidInputSource(s InputSource) bool {
	switch s {
	case SourceChat, SourceJournal, SourceMood:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxInputTextLength defines the maximum allowed length for submitted text
	MaxInputTextLength = 8192
	// MaxNotesLength defines the maximum allowed length for resolution notes
	MaxNotesLength = 2048
	// MinMoodScore defines the lowest valid mood score
	MinMoodScore = 1
	// MaxMoodScore defines the highest valid mood score
	MaxMoodScore = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptySubjectID   = errors.New("subject ID cannot be empty")
	ErrEmptyText        = errors.New("text cannot be empty")
	ErrTextTooLong      = errors.New("text exceeds maximum length")
	ErrInvalidSource    = errors.New("invalid input source")
	ErrEmptyAgentID     = errors.New("agent ID cannot be empty")
	ErrNoCapabilityTags = errors.New("at least one capability tag is required")
	ErrEmptyNotes       = errors.New("notes are required")
	ErrNotesTooLong     = errors.New("notes exceed maximum length")
	ErrInvalidMoodScore = errors.New("mood score must be between 1 and 10")
)

// RiskFactor is one named category of crisis indicator in the taxonomy.
// The set of factors is loaded once at startup and treated as immutable.
type RiskFactor struct {
	Name             string   `json:"name"`
	DisplayName      string   `json:"display_name"`
	Description      string   `json:"description,omitempty"`
	Severity         Severity `json:"severity"`
	TriggerTerms     []string `json:"trigger_terms"`
	CriticalPhrases  []string `json:"critical_phrases,omitempty"`
	ContextModifiers []string `json:"context_modifiers,omitempty"`
	WarningSigns     []string `json:"warning_signs,omitempty"`
	// StrongMatchCount is the number of distinct trigger term matches that
	// saturates the factor's match strength at 1.0.
	StrongMatchCount int `json:"strong_match_count,omitempty"`
}

// SafetyResource describes one crisis support channel offered to subjects.
type SafetyResource struct {
	Name         string `json:"name"`
	Type         string `json:"type"` // hotline, text, website, app
	Contact      string `json:"contact"`
	Availability string `json:"availability"`
	Description  string `json:"description,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	Emergency    bool   `json:"is_emergency,omitempty"`
}

// RiskAssessment is the aggregator's verdict for a single text input.
// Assessments are append-only: once created they are never mutated.
type RiskAssessment struct {
	ID              string             `json:"id"`
	SubjectID       string             `json:"subject_id"`
	Source          InputSource        `json:"source"`
	RiskLevel       RiskLevel          `json:"risk_level"`
	WeightedScore   float64            `json:"weighted_score"`
	Confidence      float64            `json:"confidence"`
	DetectedFactors []string           `json:"detected_factors"`
	FactorStrengths map[string]float64 `json:"factor_strengths,omitempty"`
	// Interventions holds the recommended interventions for the verdict.
	Interventions []string `json:"recommended_interventions"`
	// TriggerExcerpt is a bounded excerpt of the scanned text, retained for
	// escalation context.
	TriggerExcerpt   string    `json:"trigger_excerpt,omitempty"`
	EscalationNeeded bool      `json:"escalation_needed"`
	CreatedAt        time.Time `json:"created_at"`
}

// InterventionDecision is the synchronous answer returned to the caller of
// the coordinator for every submitted input.
type InterventionDecision struct {
	SubjectID        string           `json:"subject_id"`
	AssessmentID     string           `json:"assessment_id"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	Confidence       float64          `json:"confidence"`
	DetectedFactors  []string         `json:"detected_factors"`
	Interventions    []string         `json:"recommended_interventions"`
	SafetyResources  []SafetyResource `json:"safety_resources"`
	EscalationNeeded bool             `json:"escalation_needed"`
	CaseState        CaseState        `json:"case_state"`
	CaseID           string           `json:"case_id,omitempty"`
}

// SubmitInputRequest represents the payload for submitting text for
// risk assessment.
type SubmitInputRequest struct {
	SubjectID string      `json:"subject_id" validate:"required"`
	Source    InputSource `json:"source" validate:"required"`
	Text      string      `json:"text" validate:"required"`
}

// Validate performs validation on a SubmitInputRequest.
func (r *SubmitInputRequest) Validate() error {
	if r.SubjectID == "" {
		return ErrEmptySubjectID
	}
	if !IsValidInputSource(r.Source) {
		return ErrInvalidSource
	}
	if r.Text == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxInputTextLength {
		return ErrTextTooLong
	}
	return nil
}

// CaseActionRequest represents the payload for resolving or cancelling an
// escalation case.
type CaseActionRequest struct {
	Notes string `json:"notes,omitempty"`
}

// Validate checks the notes length; requireNotes enforces non-empty notes
// for actions that must be auditable (cancellation).
func (r *CaseActionRequest) Validate(requireNotes bool) error {
	if requireNotes && r.Notes == "" {
		return ErrEmptyNotes
	}
	if len(r.Notes) > MaxNotesLength {
		return ErrNotesTooLong
	}
	return nil
}

// RegisterAgentRequest represents the payload for registering an agent with
// the registry.
type RegisterAgentRequest struct {
	AgentID      string   `json:"agent_id" validate:"required"`
	Capabilities []string `json:"capability_tags" validate:"required"`
}

// Validate performs validation on a RegisterAgentRequest.
func (r *RegisterAgentRequest) Validate() error {
	if r.AgentID == "" {
		return ErrEmptyAgentID
	}
	if len(r.Capabilities) == 0 {
		return ErrNoCapabilityTags
	}
	return nil
}

// MoodSampleRequest represents the payload for recording a mood sample.
type MoodSampleRequest struct {
	Score       int    `json:"score" validate:"required"`
	EnergyLevel int    `json:"energy_level,omitempty"`
	StressLevel int    `json:"stress_level,omitempty"`
	Note        string `json:"note,omitempty"`
}

// Validate performs validation on a MoodSampleRequest.
func (r *MoodSampleRequest) Validate() error {
	if r.Score < MinMoodScore || r.Score > MaxMoodScore {
		return ErrInvalidMoodScore
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the uniform JSON envelope for every HTTP endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and
// optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
