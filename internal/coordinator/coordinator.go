// Package coordinator owns the synchronous decision path: it validates
// input, runs the scanner and aggregator, advances the escalation state
// machine, and answers with an intervention decision while the agents work
// asynchronously behind the bus.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/assess"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/bus"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/scanner"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/taxonomy"
)

// AgentID is the coordinator's own registry identity. It registers like any
// agent so escalation results can be routed back to it explicitly.
const AgentID = "coordinator"

// CapabilityCoordination tags the coordinator in the registry.
const CapabilityCoordination = "coordination"

const (
	// softLatencyBudget is the soft budget for one HandleInput call.
	// Overruns log a warning; the call always runs to completion.
	softLatencyBudget = 2 * time.Second
	// historyWindow bounds the assessment history loaded as context.
	historyWindow = 24 * time.Hour
	// historyLimit bounds the number of history rows loaded as context.
	historyLimit = 20
)

// Engine is the escalation state machine surface the coordinator drives.
type Engine interface {
	Apply(ctx context.Context, a models.RiskAssessment) (*models.EscalationCase, error)
	HandleResult(ctx context.Context, res models.EscalationResult) error
}

// Store is the persistence surface the coordinator reads context from.
type Store interface {
	ListAssessments(subjectID string, since time.Time, limit int) ([]models.RiskAssessment, error)
	GetLatestMoodSample(subjectID string) (*models.MoodUpdate, error)
	GetActiveCase(subjectID string) (*models.EscalationCase, error)
	AddMoodSample(m models.MoodUpdate) error
}

// Publisher is the bus surface the coordinator publishes through.
type Publisher interface {
	Publish(ctx context.Context, msg models.AgentMessage) (models.DeliveryReceipt, error)
}

// keyedMutex serializes work per subject while leaving distinct subjects
// fully parallel. Entries are reference-counted and dropped when the last
// holder releases, so the map does not grow with the subject population.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*subjectLock)}
}

func (k *keyedMutex) lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &subjectLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
}

func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.mu.Unlock()
}

// Opts holds configuration options for the coordinator.
type Opts struct {
	Now func() time.Time
}

// Option defines a configuration option for the coordinator.
type Option func(*Opts)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Coordinator wires the scanner, aggregator, state machine, bus, and store
// into the synchronous decision path.
type Coordinator struct {
	scanner    *scanner.Scanner
	aggregator *assess.Aggregator
	engine     Engine
	store      Store
	pub        Publisher
	taxonomy   *taxonomy.Snapshot
	subjects   *keyedMutex
	now        func() time.Time
}

// New creates a coordinator.
func New(sc *scanner.Scanner, ag *assess.Aggregator, engine Engine, st Store, pub Publisher, snap *taxonomy.Snapshot, opts ...Option) *Coordinator {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Coordinator{
		scanner:    sc,
		aggregator: ag,
		engine:     engine,
		store:      st,
		pub:        pub,
		taxonomy:   snap,
		subjects:   newKeyedMutex(),
		now:        cfg.Now,
	}
}

// HandleInput runs the full decision path for one text input. Once
// validation passes, the safety-relevant mutations (assessment persistence
// and case transition) run to completion even if the caller's context is
// cancelled; cancelled callers simply never read the result.
func (c *Coordinator) HandleInput(ctx context.Context, subjectID string, source models.InputSource, text string) (models.InterventionDecision, error) {
	req := models.SubmitInputRequest{SubjectID: subjectID, Source: source, Text: text}
	if err := req.Validate(); err != nil {
		return models.InterventionDecision{}, fmt.Errorf("invalid input for %s: %w", subjectID, err)
	}

	started := c.now()
	c.subjects.lock(subjectID)
	defer c.subjects.unlock(subjectID)

	// Detach from caller cancellation: a dropped HTTP connection must not
	// abandon a half-applied safety decision.
	detached := context.WithoutCancel(ctx)

	scan := c.scanner.Scan(text)
	actx := c.assessContext(subjectID)

	assessment, err := c.aggregator.Assess(detached, subjectID, source, text, scan, actx)
	if err != nil {
		return models.InterventionDecision{}, fmt.Errorf("assessment failed for %s: %w", subjectID, err)
	}

	// Fire-and-forget with respect to the response: the detector
	// corroborates asynchronously. No routable detector degrades
	// gracefully; the local verdict and the state machine below stay
	// authoritative, so absence of the detector never suppresses
	// escalation.
	if _, err := c.pub.Publish(detached, models.NewRiskAssessmentMessage(AgentID, models.CapabilityCrisisDetection, assessment)); err != nil {
		var noRoute *bus.NoRouteError
		if errors.As(err, &noRoute) {
			slog.Warn("Coordinator.HandleInput: no crisis detection agent online, continuing on local verdict",
				"subjectID", subjectID, "riskLevel", assessment.RiskLevel)
		} else {
			slog.Error("Coordinator.HandleInput: publish failed", "subjectID", subjectID, "error", err)
		}
	}

	// The same verdict fans out to the conversation support agents so a
	// supportive reply can be shaped around it. Running without a support
	// agent is a normal deployment shape, not a degradation.
	if _, err := c.pub.Publish(detached, models.NewRiskAssessmentMessage(AgentID, models.CapabilityConversationSupport, assessment)); err != nil {
		var noRoute *bus.NoRouteError
		if errors.As(err, &noRoute) {
			slog.Debug("Coordinator.HandleInput: no conversation support agent online", "subjectID", subjectID)
		} else {
			slog.Error("Coordinator.HandleInput: conversation support publish failed", "subjectID", subjectID, "error", err)
		}
	}

	activeCase, err := c.engine.Apply(detached, assessment)
	if err != nil {
		return models.InterventionDecision{}, fmt.Errorf("state machine failed for %s: %w", subjectID, err)
	}

	if elapsed := c.now().Sub(started); elapsed > softLatencyBudget {
		slog.Warn("Coordinator.HandleInput: soft latency budget exceeded", "subjectID", subjectID, "elapsed", elapsed)
	}

	decision := c.decision(assessment, activeCase)
	slog.Info("Coordinator.HandleInput: decision made",
		"subjectID", subjectID, "assessmentID", assessment.ID, "riskLevel", decision.RiskLevel,
		"escalationNeeded", decision.EscalationNeeded, "caseState", decision.CaseState)
	return decision, nil
}

// assessContext loads the subject's recent history, latest mood, and active
// case. Context reads are best-effort: a failing store degrades the
// assessment's context, never blocks it.
func (c *Coordinator) assessContext(subjectID string) assess.Context {
	var actx assess.Context

	history, err := c.store.ListAssessments(subjectID, c.now().Add(-historyWindow), historyLimit)
	if err != nil {
		slog.Warn("Coordinator.assessContext: history read failed", "subjectID", subjectID, "error", err)
	} else {
		actx.History = history
	}

	mood, err := c.store.GetLatestMoodSample(subjectID)
	if err != nil {
		slog.Warn("Coordinator.assessContext: mood read failed", "subjectID", subjectID, "error", err)
	} else {
		actx.LatestMood = mood
	}

	activeCase, err := c.store.GetActiveCase(subjectID)
	if err != nil {
		slog.Warn("Coordinator.assessContext: case read failed", "subjectID", subjectID, "error", err)
	} else {
		actx.ActiveCase = activeCase
	}

	return actx
}

// decision builds the synchronous answer from the verdict and case.
func (c *Coordinator) decision(a models.RiskAssessment, activeCase *models.EscalationCase) models.InterventionDecision {
	d := models.InterventionDecision{
		SubjectID:        a.SubjectID,
		AssessmentID:     a.ID,
		RiskLevel:        a.RiskLevel,
		Confidence:       a.Confidence,
		DetectedFactors:  a.DetectedFactors,
		Interventions:    a.Interventions,
		SafetyResources:  c.taxonomy.ResourcesFor(a.RiskLevel),
		EscalationNeeded: a.EscalationNeeded,
		CaseState:        models.CaseStateMonitoring,
	}
	if activeCase != nil {
		d.CaseState = activeCase.State
		d.CaseID = activeCase.CaseID
	}
	return d
}

// RecordMood validates and routes a mood sample to the mood analysis
// agents. With no tracker routable the sample is persisted directly so the
// signal is never lost.
func (c *Coordinator) RecordMood(ctx context.Context, subjectID string, req models.MoodSampleRequest) (models.MoodUpdate, error) {
	if subjectID == "" {
		return models.MoodUpdate{}, models.ErrEmptySubjectID
	}
	if err := req.Validate(); err != nil {
		return models.MoodUpdate{}, fmt.Errorf("invalid mood sample for %s: %w", subjectID, err)
	}

	update := models.MoodUpdate{
		SubjectID:   subjectID,
		Score:       req.Score,
		EnergyLevel: req.EnergyLevel,
		StressLevel: req.StressLevel,
		Note:        req.Note,
		RecordedAt:  c.now().UTC(),
	}

	detached := context.WithoutCancel(ctx)
	if _, err := c.pub.Publish(detached, models.NewMoodUpdateMessage(AgentID, models.CapabilityMoodAnalysis, update)); err != nil {
		var noRoute *bus.NoRouteError
		if !errors.As(err, &noRoute) {
			return models.MoodUpdate{}, fmt.Errorf("failed to publish mood sample for %s: %w", subjectID, err)
		}
		slog.Warn("Coordinator.RecordMood: no mood tracker online, persisting sample directly", "subjectID", subjectID)
		if err := c.store.AddMoodSample(update); err != nil {
			return models.MoodUpdate{}, fmt.Errorf("failed to persist mood sample for %s: %w", subjectID, err)
		}
	}
	return update, nil
}

// ---- Agent surface ----
//
// The coordinator registers as an agent so the escalation manager can route
// EscalationResult messages back to it by ID.

func (c *Coordinator) ID() string { return AgentID }

func (c *Coordinator) Capabilities() []string {
	return []string{CapabilityCoordination}
}

// Handle consumes messages addressed to the coordinator. Only escalation
// results are expected; anything else is logged and dropped.
func (c *Coordinator) Handle(ctx context.Context, msg models.AgentMessage) error {
	switch msg.Kind {
	case models.PayloadEscalationResult:
		if err := c.engine.HandleResult(ctx, *msg.EscalationResult); err != nil {
			return fmt.Errorf("failed to apply escalation result for case %s: %w", msg.EscalationResult.CaseID, err)
		}
		return nil
	case models.PayloadRiskAssessment, models.PayloadMoodUpdate, models.PayloadEscalationRequest:
		slog.Debug("Coordinator.Handle: ignoring kind", "kind", msg.Kind, "messageID", msg.MessageID)
		return nil
	default:
		return fmt.Errorf("message %s: %w", msg.MessageID, models.ErrUnknownPayload)
	}
}
