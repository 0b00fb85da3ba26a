// Package store provides storage backends for SafeHarbor.
//
// It persists the append-only risk assessment log, escalation cases (with
// the at-most-one-active-case-per-subject invariant), mood samples, bus dead
// letters, and the durable escalation delivery outbox. Three backends are
// available: in-memory (tests and development), SQLite, and PostgreSQL.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// DeliveryStatus represents the lifecycle state of an escalation delivery.
type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusSending   DeliveryStatus = "sending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
)

// EscalationDelivery is a durable outbound escalation record. Deliveries are
// enqueued in the same logical step as the case transition and drained by
// the dispatcher with at-least-once semantics.
type EscalationDelivery struct {
	ID            string         `json:"id"`
	CaseID        string         `json:"case_id"`
	SubjectID     string         `json:"subject_id"`
	PayloadJSON   string         `json:"payload_json"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	DedupeKey     string         `json:"dedupe_key,omitempty"`
	LockedAt      *time.Time     `json:"locked_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Store is the persistence interface consumed by the aggregator, escalation
// engine, bus, and API.
type Store interface {
	// AddAssessment appends to the subject's append-only assessment log.
	AddAssessment(a models.RiskAssessment) error
	// ListAssessments returns the subject's assessments created at or after
	// since, newest first. A limit of 0 means no limit.
	ListAssessments(subjectID string, since time.Time, limit int) ([]models.RiskAssessment, error)
	// PruneAssessments removes assessments older than before, returning the
	// number removed. Used by the retention sweep.
	PruneAssessments(before time.Time) (int, error)

	// CreateCase inserts a new escalation case. It returns
	// models.ErrCaseConflict if the subject already has a non-terminal case.
	CreateCase(c models.EscalationCase) error
	// UpdateCase persists case mutations. It returns models.ErrCaseNotFound
	// for unknown case IDs.
	UpdateCase(c models.EscalationCase) error
	// GetCase returns a case by ID, or nil when not found.
	GetCase(caseID string) (*models.EscalationCase, error)
	// GetActiveCase returns the subject's non-terminal case, or nil.
	GetActiveCase(subjectID string) (*models.EscalationCase, error)
	// ListActiveCases returns all non-terminal cases.
	ListActiveCases() ([]models.EscalationCase, error)

	// AddMoodSample records a subject mood sample.
	AddMoodSample(m models.MoodUpdate) error
	// GetLatestMoodSample returns the subject's most recent sample, or nil.
	GetLatestMoodSample(subjectID string) (*models.MoodUpdate, error)

	// AddDeadLetter retains an undeliverable bus message for inspection.
	AddDeadLetter(d models.DeadLetter) error
	// ListDeadLetters returns dead letters, newest first. Limit 0 = no limit.
	ListDeadLetters(limit int) ([]models.DeadLetter, error)

	// EnqueueEscalation inserts an escalation delivery. If dedupeKey is
	// non-empty and an undelivered record with that key exists, the existing
	// ID is returned instead of inserting a duplicate.
	EnqueueEscalation(caseID, subjectID, payloadJSON, dedupeKey string) (string, error)
	// ClaimDueEscalations marks up to limit queued deliveries due at now as
	// sending and returns them.
	ClaimDueEscalations(now time.Time, limit int) ([]EscalationDelivery, error)
	// MarkEscalationDelivered marks a delivery as done.
	MarkEscalationDelivered(id string) error
	// FailEscalation records a delivery failure and schedules the retry.
	FailEscalation(id, errMsg string, nextAttemptAt time.Time) error
	// RequeueStaleEscalations resets deliveries stuck in sending since
	// before staleBefore back to queued (crash recovery).
	RequeueStaleEscalations(staleBefore time.Time) (int, error)

	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	Driver string
	DSN    string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite store at the given file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.Driver = "sqlite3"; o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL store with the given DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.Driver = "postgres"; o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use URL or key=value forms; anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore builds a store from options: PostgreSQL or SQLite when a DSN is
// configured, in-memory otherwise.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		return NewInMemoryStore(), nil
	case cfg.Driver == "postgres" || DetectDSNType(cfg.DSN) == "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// isUniqueViolation reports whether a database error came from a unique
// constraint. Both lib/pq and go-sqlite3 surface the word in their messages,
// which keeps the backends free of driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

// wrapCaseConflict translates unique-constraint violations on the active
// case index into the model-level conflict error.
func wrapCaseConflict(err error, subjectID string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("active case exists for %s: %w", subjectID, models.ErrCaseConflict)
	}
	return err
}
