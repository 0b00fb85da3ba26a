// Package store provides storage backends for SafeHarbor.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddAssessment(a models.RiskAssessment) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.SubjectID, a.Source, a.RiskLevel, a.WeightedScore, a.Confidence,
		factors, strengths, interventions, nilIfEmpty(a.TriggerExcerpt), a.EscalationNeeded, a.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AddAssessment failed", "error", err, "subjectID", a.SubjectID)
		return fmt.Errorf("failed to insert assessment for %s: %w", a.SubjectID, err)
	}
	slog.Debug("PostgresStore.AddAssessment succeeded", "id", a.ID, "subjectID", a.SubjectID, "riskLevel", a.RiskLevel)
	return nil
}

func (s *PostgresStore) ListAssessments(subjectID string, since time.Time, limit int) ([]models.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments
		 WHERE subject_id = $1 AND created_at >= $2 ORDER BY created_at DESC`
	args := []interface{}{subjectID, since}
	if limit > 0 {
		query += ` LIMIT $3`
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

func (s *PostgresStore) PruneAssessments(before time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM risk_assessments WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune assessments: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.PruneAssessments", "pruned", n)
	}
	return int(n), nil
}

func (s *PostgresStore) CreateCase(c models.EscalationCase) error {
	_, err := s.db.Exec(
		`INSERT INTO escalation_cases (`+caseColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.CaseID, c.SubjectID, c.State, c.RiskLevel, c.OpenedAt, c.UpdatedAt,
		c.EscalatedAt, c.ClosedAt, nilIfEmpty(c.LastAssessmentID), nilIfEmpty(string(c.Outcome)), nilIfEmpty(c.ResolutionNotes),
	)
	if err != nil {
		return wrapCaseConflict(fmt.Errorf("failed to insert case %s: %w", c.CaseID, err), c.SubjectID)
	}
	slog.Debug("PostgresStore.CreateCase succeeded", "caseID", c.CaseID, "subjectID", c.SubjectID, "state", c.State)
	return nil
}

func (s *PostgresStore) UpdateCase(c models.EscalationCase) error {
	result, err := s.db.Exec(
		`UPDATE escalation_cases SET state = $1, risk_level = $2, updated_at = $3, escalated_at = $4, closed_at = $5, last_assessment_id = $6, outcome = $7, resolution_notes = $8
		 WHERE case_id = $9`,
		c.State, c.RiskLevel, c.UpdatedAt, c.EscalatedAt, c.ClosedAt,
		nilIfEmpty(c.LastAssessmentID), nilIfEmpty(string(c.Outcome)), nilIfEmpty(c.ResolutionNotes), c.CaseID,
	)
	if err != nil {
		return fmt.Errorf("failed to update case %s: %w", c.CaseID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrCaseNotFound
	}
	slog.Debug("PostgresStore.UpdateCase succeeded", "caseID", c.CaseID, "state", c.State)
	return nil
}

func (s *PostgresStore) GetCase(caseID string) (*models.EscalationCase, error) {
	row := s.db.QueryRow(`SELECT `+caseColumns+` FROM escalation_cases WHERE case_id = $1`, caseID)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case %s: %w", caseID, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetActiveCase(subjectID string) (*models.EscalationCase, error) {
	row := s.db.QueryRow(
		`SELECT `+caseColumns+` FROM escalation_cases
		 WHERE subject_id = $1 AND state NOT IN ('resolved', 'cancelled')`,
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

func (s *PostgresStore) ListActiveCases() ([]models.EscalationCase, error) {
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

func (s *PostgresStore) AddMoodSample(m models.MoodUpdate) error {
	_, err := s.db.Exec(
		`INSERT INTO mood_samples (subject_id, score, energy_level, stress_level, note, trend, alert, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.SubjectID, m.Score, m.EnergyLevel, m.StressLevel, nilIfEmpty(m.Note), nilIfEmpty(string(m.Trend)), nilIfEmpty(m.Alert), m.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert mood sample for %s: %w", m.SubjectID, err)
	}
	return nil
}

func (s *PostgresStore) GetLatestMoodSample(subjectID string) (*models.MoodUpdate, error) {
	row := s.db.QueryRow(
		`SELECT subject_id, score, energy_level, stress_level, note, trend, alert, recorded_at
		 FROM mood_samples WHERE subject_id = $1 ORDER BY recorded_at DESC LIMIT 1`,
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

func (s *PostgresStore) AddDeadLetter(d models.DeadLetter) error {
	messageJSON, err := json.Marshal(d.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter message: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO dead_letters (id, message_id, recipient, reason, attempts, message_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.MessageID, d.Recipient, d.Reason, d.Attempts, string(messageJSON), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter %s: %w", d.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListDeadLetters(limit int) ([]models.DeadLetter, error) {
	query := `SELECT id, message_id, recipient, reason, attempts, message_json, created_at
		 FROM dead_letters ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
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

func (s *PostgresStore) EnqueueEscalation(caseID, subjectID, payloadJSON, dedupeKey string) (string, error) {
	id := util.GenerateRandomID("esc_", 32)
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM escalation_outbox WHERE dedupe_key = $1 AND status != 'delivered'`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("PostgresStore.EnqueueEscalation: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("escalation dedupe check failed: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO escalation_outbox (id, case_id, subject_id, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7)`,
		id, caseID, subjectID, payloadJSON, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue escalation failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueEscalation", "id", id, "caseID", caseID, "subjectID", subjectID)
	return id, nil
}

func (s *PostgresStore) ClaimDueEscalations(now time.Time, limit int) ([]EscalationDelivery, error) {
	// FOR UPDATE SKIP LOCKED lets multiple dispatchers share the queue
	// without claiming the same delivery twice.
	rows, err := s.db.Query(
		`UPDATE escalation_outbox SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
		     SELECT id FROM escalation_outbox
		     WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		     ORDER BY created_at ASC LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+deliveryColumns,
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
	return deliveries, nil
}

func (s *PostgresStore) MarkEscalationDelivered(id string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE escalation_outbox SET status = 'delivered', locked_at = NULL, updated_at = $1 WHERE id = $2`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("mark escalation delivered failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailEscalation(id, errMsg string, nextAttemptAt time.Time) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE escalation_outbox SET status = 'queued', attempts = attempts + 1, last_error = $1, next_attempt_at = $2, locked_at = NULL, updated_at = $3 WHERE id = $4`,
		errMsg, nextAttemptAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("fail escalation failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleEscalations(staleBefore time.Time) (int, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE escalation_outbox SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'sending' AND locked_at < $2`,
		now, staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale escalations failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleEscalations", "requeued", n)
	}
	return int(n), nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
