package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSONColumn serializes v for a nullable TEXT column, returning nil
// for empty values.
func marshalJSONColumn(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]float64:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal column failed: %w", err)
	}
	return string(data), nil
}

// assessmentColumns is the column list shared by both SQL backends.
const assessmentColumns = `id, subject_id, source, risk_level, weighted_score, confidence, detected_factors, factor_strengths, interventions, trigger_excerpt, escalation_needed, created_at`

// scanAssessment scans a RiskAssessment from sql.Rows.
func scanAssessment(rows *sql.Rows) (models.RiskAssessment, error) {
	var a models.RiskAssessment
	var factors, strengths, interventions, excerpt sql.NullString
	err := rows.Scan(
		&a.ID, &a.SubjectID, &a.Source, &a.RiskLevel, &a.WeightedScore, &a.Confidence,
		&factors, &strengths, &interventions, &excerpt, &a.EscalationNeeded, &a.CreatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("scan assessment failed: %w", err)
	}
	a.TriggerExcerpt = excerpt.String
	if factors.Valid && factors.String != "" {
		if err := json.Unmarshal([]byte(factors.String), &a.DetectedFactors); err != nil {
			slog.Error("store.scanAssessment: bad detected_factors JSON", "id", a.ID, "error", err)
		}
	}
	if strengths.Valid && strengths.String != "" {
		if err := json.Unmarshal([]byte(strengths.String), &a.FactorStrengths); err != nil {
			slog.Error("store.scanAssessment: bad factor_strengths JSON", "id", a.ID, "error", err)
		}
	}
	if interventions.Valid && interventions.String != "" {
		if err := json.Unmarshal([]byte(interventions.String), &a.Interventions); err != nil {
			slog.Error("store.scanAssessment: bad interventions JSON", "id", a.ID, "error", err)
		}
	}
	return a, nil
}

// caseColumns is the column list shared by both SQL backends.
const caseColumns = `case_id, subject_id, state, risk_level, opened_at, updated_at, escalated_at, closed_at, last_assessment_id, outcome, resolution_notes`

// rowScanner abstracts *sql.Row and *sql.Rows for the shared case scanner.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanCase scans an EscalationCase from a row or rows.
func scanCase(row rowScanner) (models.EscalationCase, error) {
	var c models.EscalationCase
	var escalatedAt, closedAt sql.NullTime
	var lastAssessmentID, outcome, notes sql.NullString
	err := row.Scan(
		&c.CaseID, &c.SubjectID, &c.State, &c.RiskLevel, &c.OpenedAt, &c.UpdatedAt,
		&escalatedAt, &closedAt, &lastAssessmentID, &outcome, &notes,
	)
	if err != nil {
		return c, err
	}
	if escalatedAt.Valid {
		c.EscalatedAt = &escalatedAt.Time
	}
	if closedAt.Valid {
		c.ClosedAt = &closedAt.Time
	}
	c.LastAssessmentID = lastAssessmentID.String
	c.Outcome = models.EscalationOutcome(outcome.String)
	c.ResolutionNotes = notes.String
	return c, nil
}

// scanMood scans a MoodUpdate from a row or rows.
func scanMood(row rowScanner) (models.MoodUpdate, error) {
	var m models.MoodUpdate
	var note, trend, alert sql.NullString
	err := row.Scan(&m.SubjectID, &m.Score, &m.EnergyLevel, &m.StressLevel, &note, &trend, &alert, &m.RecordedAt)
	if err != nil {
		return m, err
	}
	m.Note = note.String
	m.Trend = models.MoodTrend(trend.String)
	m.Alert = alert.String
	return m, nil
}

// scanDeadLetter scans a DeadLetter from sql.Rows.
func scanDeadLetter(rows *sql.Rows) (models.DeadLetter, error) {
	var d models.DeadLetter
	var messageJSON sql.NullString
	err := rows.Scan(&d.ID, &d.MessageID, &d.Recipient, &d.Reason, &d.Attempts, &messageJSON, &d.CreatedAt)
	if err != nil {
		return d, fmt.Errorf("scan dead letter failed: %w", err)
	}
	if messageJSON.Valid && messageJSON.String != "" {
		if err := json.Unmarshal([]byte(messageJSON.String), &d.Message); err != nil {
			slog.Error("store.scanDeadLetter: bad message JSON", "id", d.ID, "error", err)
		}
	}
	return d, nil
}

// deliveryColumns is the column list shared by both SQL backends.
const deliveryColumns = `id, case_id, subject_id, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// scanDelivery scans an EscalationDelivery from sql.Rows.
func scanDelivery(rows *sql.Rows) (EscalationDelivery, error) {
	var d EscalationDelivery
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&d.ID, &d.CaseID, &d.SubjectID, &payloadJSON, &d.Status, &d.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, fmt.Errorf("scan escalation delivery failed: %w", err)
	}
	d.PayloadJSON = payloadJSON.String
	d.DedupeKey = dedupeKey.String
	d.LastError = lastError.String
	if nextAttemptAt.Valid {
		d.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		d.LockedAt = &lockedAt.Time
	}
	return d, nil
}
