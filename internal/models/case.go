package models

import (
	"errors"
	"time"
)

// CaseState represents the escalation state for a subject.
//
// Monitoring is the implicit state of any subject without an active case;
// persisted cases are born in pending_escalation (or escalated for critical
// risk) and only ever move forward until they reach a terminal state.
type CaseState string

const (
	// CaseStateMonitoring indicates no active escalation concern.
	CaseStateMonitoring CaseState = "monitoring"
	// CaseStatePendingEscalation indicates a qualifying risk event occurred
	// and the grace period is running.
	CaseStatePendingEscalation CaseState = "pending_escalation"
	// CaseStateEscalated indicates the escalation decision was made and
	// delivery to the escalation collaborator is in progress or done.
	CaseStateEscalated CaseState = "escalated"
	// CaseStateResolved indicates the case was closed after the risk subsided
	// or a human resolved it explicitly.
	CaseStateResolved CaseState = "resolved"
	// CaseStateCancelled indicates a human override closed the case.
	CaseStateCancelled CaseState = "cancelled"
)

// Error variables for escalation case handling
var (
	ErrCaseNotFound          = errors.New("escalation case not found")
	ErrCaseConflict          = errors.New("subject already has an active escalation case")
	ErrCaseTerminal          = errors.New("escalation case is in a terminal state")
	ErrInvalidCaseTransition = errors.New("invalid escalation case transition")
)

// caseTransitions lists the allowed state transitions. Cases never move
// backward: a quiet assessment while a case is active must not regress it.
var caseTransitions = map[CaseState][]CaseState{
	CaseStateMonitoring:        {CaseStatePendingEscalation, CaseStateEscalated},
	CaseStatePendingEscalation: {CaseStateEscalated, CaseStateCancelled},
	CaseStateEscalated:         {CaseStateResolved, CaseStateCancelled},
	CaseStateResolved:          {},
	CaseStateCancelled:         {},
}

// IsValidCaseState checks if the given case state is supported.
func IsValidCaseState(s CaseState) bool {
	_, ok := caseTransitions[s]
	return ok
}

// IsTerminal reports whether the state permits no further transitions.
func (s CaseState) IsTerminal() bool {
	return s == CaseStateResolved || s == CaseStateCancelled
}

// CanTransitionTo reports whether a case in state s may move to target.
func (s CaseState) CanTransitionTo(target CaseState) bool {
	for _, allowed := range caseTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// RiskFloor returns the minimum risk level the aggregator may report while a
// case sits in this state. A single reassuring message must not mask an
// ongoing crisis, so active cases pin reported risk at medium or above.
func (s CaseState) RiskFloor() RiskLevel {
	switch s {
	case CaseStatePendingEscalation, CaseStateEscalated:
		return RiskLevelMedium
	default:
		return RiskLevelNone
	}
}

// EscalationCase tracks a subject's crisis-response state across inputs.
// It is the only mutable aggregate in the system; every mutation is driven
// by a risk assessment, a grace timer, or an explicit human action.
type EscalationCase struct {
	CaseID    string    `json:"case_id"`
	SubjectID string    `json:"subject_id"`
	State     CaseState `json:"state"`
	RiskLevel RiskLevel `json:"risk_level"` // highest level observed while active
	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// EscalatedAt records when the case entered the escalated state.
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	// ClosedAt records when the case entered a terminal state.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	// LastAssessmentID references the most recent assessment that touched
	// the case.
	LastAssessmentID string `json:"last_risk_assessment_id,omitempty"`
	// Outcome is reported back by the escalation collaborator, if any.
	Outcome         EscalationOutcome `json:"outcome,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
}

// IsActive reports whether the case still demands attention.
func (c *EscalationCase) IsActive() bool {
	return c != nil && !c.State.IsTerminal()
}

// EscalationOutcome is the escalation collaborator's report on what happened
// after an escalation request was delivered.
type EscalationOutcome string

const (
	// OutcomeAcknowledged indicates the collaborator accepted the case.
	OutcomeAcknowledged EscalationOutcome = "acknowledged"
	// OutcomeContacted indicates the subject was reached directly.
	OutcomeContacted EscalationOutcome = "contacted"
	// OutcomeUnreachable indicates contact attempts failed.
	OutcomeUnreachable EscalationOutcome = "unreachable"
)

// IsValidEscalationOutcome checks if the given outcome is supported.
func IsValidEscalationOutcome(o EscalationOutcome) bool {
	switch o {
	case OutcomeAcknowledged, OutcomeContacted, OutcomeUnreachable:
		return true
	default:
		return false
	}
}
