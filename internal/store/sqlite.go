// Package store provides storage backends for SafeHarbor.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddAssessment(a models.RiskAssessment) error {
	factors, err := marshalJSONColumn(a.DetectedFactors)
	if err != nil {
		return err
	}
	strengths, err := marshalJSONColumn(a.FactorStrengths)
	if err != nil {
		return err
	}
	interventions, err := marshalJSONColumn(a.Interventions)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO risk_assessments (`+assessmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubjectID, a.Source, a.RiskLevel, a.WeightedScore, a.Confidence,
		factors, strengths, interventions, nilIfEmpty(a.TriggerExcerpt), a.EscalationNeeded, a.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AddAssessment failed", "error", err, "subjectID", a.SubjectID)
		return fmt.Errorf("failed to insert assessment for %s: %w", a.SubjectID, err)
	}
	slog.Debug("SQLiteStore.AddAssessment succeeded", "id", a.ID, "subjectID", a.SubjectID, "riskLevel", a.RiskLevel)
	return nil
}

func (s *SQLiteStore) ListAssessments(subjectID string, since time.Time, limit int) ([]models.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments
		 WHERE subject_id = ? AND created_at >= ? ORDER BY created_at DESC`
	args := []interface{}{subjectID, since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments for %s: %w", subjectID, err)
	}
	defer rows.Close()

	var out []models.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assessment rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) PruneAssessments(before time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM risk_assessments WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune assessments: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.PruneAssessments", "pruned", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) CreateCase(c models.EscalationCase) error {
	_, err := s.db.Exec(
		`INSERT INTO escalation_cases (`+caseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CaseID, c.SubjectID, c.State, c.RiskLevel, c.OpenedAt, c.UpdatedAt,
		c.EscalatedAt, c.ClosedAt, nilIfEmpty(c.LastAssessmentID), nilIfEmpty(string(c.Outcome)), nilIfEmpty(c.ResolutionNotes),
	)
	if err != nil {
		return wrapCaseConflict(fmt.Errorf("failed to insert case %s: %w", c.CaseID, err), c.SubjectID)
	}
	slog.Debug("SQLiteStore.CreateCase succeeded", "caseID", c.CaseID, "subjectID", c.SubjectID, "state", c.State)
	return nil
}

func (s *SQLiteStore) UpdateCase(c models.EscalationCase) error {
	result, err := s.db.Exec(
		`UPDATE escalation_cases SET state = ?, risk_level = ?, updated_at = ?, escalated_at = ?, closed_at = ?, last_assessment_id = ?, outcome = ?, resolution_notes = ?
		 WHERE case_id = ?`,
		c.State, c.RiskLevel, c.UpdatedAt, c.EscalatedAt, c.ClosedAt,
		nilIfEmpty(c.LastAssessmentID), nilIfEmpty(string(c.Outcome)), nilIfEmpty(c.ResolutionNotes), c.CaseID,
	)
	if err != nil {
		return fmt.Errorf("failed to update case %s: %w", c.CaseID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrCaseNotFound
	}
	slog.Debug("SQLiteStore.UpdateCase succeeded", "caseID", c.CaseID, "state", c.State)
	return nil
}

func (s *SQLiteStore) GetCase(caseID string) (*models.EscalationCase, error) {
	row := s.db.QueryRow(`SELECT `+caseColumns+` FROM escalation_cases WHERE case_id = ?`, caseID)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case %s: %w", caseID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetActiveCase(subjectID string) (*models.EscalationCase, error) {
	row := s.db.QueryRow(
		`SELECT `+caseColumns+` FROM escalation_cases
		 WHERE subject_id = ? AND state NOT IN ('resolved', 'cancelled')`,
		subjectID,
	)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active case for %s: %w", subjectID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListActiveCases() ([]models.EscalationCase, error) {
	rows, err := s.db.Query(
		`SELECT ` + caseColumns + ` FROM escalation_cases
		 WHERE state NOT IN ('resolved', 'cancelled') ORDER BY opened_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active cases: %w", err)
	}
	defer rows.Close()

	var out []models.EscalationCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate case rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AddMoodSample(m models.MoodUpdate) error {
	_, err := s.db.Exec(
		`INSERT INTO mood_samples (subject_id, score, energy_level, stress_level, note, trend, alert, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SubjectID, m.Score, m.EnergyLevel, m.StressLevel, nilIfEmpty(m.Note), nilIfEmpty(string(m.Trend)), nilIfEmpty(m.Alert), m.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert mood sample for %s: %w", m.SubjectID, err)
	}
	return nil
}

func (s *SQLiteStore) GetLatestMoodSample(subjectID string) (*models.MoodUpdate, error) {
	row := s.db.QueryRow(
		`SELECT subject_id, score, energy_level, stress_level, note, trend, alert, recorded_at
		 FROM mood_samples WHERE subject_id = ? ORDER BY recorded_at DESC LIMIT 1`,
		subjectID,
	)
	m, err := scanMood(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest mood sample for %s: %w", subjectID, err)
	}
	return &m, nil
}

func (s *SQLiteStore) AddDeadLetter(d models.DeadLetter) error {
	messageJSON, err := json.Marshal(d.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter message: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO dead_letters (id, message_id, recipient, reason, attempts, message_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MessageID, d.Recipient, d.Reason, d.Attempts, string(messageJSON), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListDeadLetters(limit int) ([]models.DeadLetter, error) {
	query := `SELECT id, message_id, recipient, reason, attempts, message_json, created_at
		 FROM dead_letters ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var out []models.DeadLetter
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) EnqueueEscalation(caseID, subjectID, payloadJSON, dedupeKey string) (string, error) {
	id := util.GenerateRandomID("esc_", 32)
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM escalation_outbox WHERE dedupe_key = ? AND status != 'delivered'`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("SQLiteStore.EnqueueEscalation: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("escalation dedupe check failed: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO escalation_outbox (id, case_id, subject_id, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, caseID, subjectID, payloadJSON, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue escalation failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueEscalation", "id", id, "caseID", caseID, "subjectID", subjectID)
	return id, nil
}

func (s *SQLiteStore) ClaimDueEscalations(now time.Time, limit int) ([]EscalationDelivery, error) {
	rows, err := s.db.Query(
		`SELECT `+deliveryColumns+` FROM escalation_outbox
		 WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due escalations failed: %w", err)
	}
	defer rows.Close()

	var deliveries []EscalationDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim escalations iteration failed: %w", err)
	}

	for i := range deliveries {
		_, err := s.db.Exec(
			`UPDATE escalation_outbox SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, deliveries[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark escalation sending failed: %w", err)
		}
		deliveries[i].Status = DeliveryStatusSending
		deliveries[i].LockedAt = &now
	}

	return deliveries, nil
}

func (s *SQLiteStore) MarkEscalationDelivered(id string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE escalation_outbox SET status = 'delivered', locked_at = NULL, updated_at = ? WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("mark escalation delivered failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailEscalation(id, errMsg string, nextAttemptAt time.Time) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE escalation_outbox SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, nextAttemptAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("fail escalation failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleEscalations(staleBefore time.Time) (int, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE escalation_outbox SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		now, staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale escalations failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleEscalations", "requeued", n)
	}
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
