package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/assess"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/util"
)

// Default timing parameters. The grace period gives a same-turn automated
// safety response a chance to de-escalate before a human channel is
// involved; critical risk skips it entirely. The debounce defaults are
// placeholders pending clinical confirmation; see DESIGN.md.
const (
	DefaultGracePeriod    = 30 * time.Second
	DefaultDebounceWindow = 10 * time.Minute
	DefaultDebounceCount  = 3
	DefaultCooldown       = 24 * time.Hour
)

// Recommended escalation channels carried on the outbound request.
const (
	ChannelCrisisTeam   = "crisis_team"
	ChannelProfessional = "professional"
)

// Store is the persistence surface the engine needs. The unique-active-case
// invariant is enforced by the store: CreateCase returns
// models.ErrCaseConflict when the subject already has a non-terminal case.
type Store interface {
	CreateCase(c models.EscalationCase) error
	UpdateCase(c models.EscalationCase) error
	GetCase(caseID string) (*models.EscalationCase, error)
	GetActiveCase(subjectID string) (*models.EscalationCase, error)
	ListActiveCases() ([]models.EscalationCase, error)
	ListAssessments(subjectID string, since time.Time, limit int) ([]models.RiskAssessment, error)
	EnqueueEscalation(caseID, subjectID, payloadJSON, dedupeKey string) (string, error)
}

// Opts holds configuration options for the engine.
type Opts struct {
	GracePeriod    time.Duration
	DebounceWindow time.Duration
	DebounceCount  int
	Cooldown       time.Duration
	Now            func() time.Time
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithGracePeriod overrides the pending_escalation grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Opts) { o.GracePeriod = d }
}

// WithDebounce overrides the medium-risk debounce window and count.
func WithDebounce(window time.Duration, count int) Option {
	return func(o *Opts) { o.DebounceWindow = window; o.DebounceCount = count }
}

// WithCooldown overrides the auto-resolution cooldown.
func WithCooldown(d time.Duration) Option {
	return func(o *Opts) { o.Cooldown = d }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine is the escalation state machine. All case mutations go through it;
// it serializes them internally, and the store's unique-active-case
// constraint backs it up against concurrent writers in other processes.
type Engine struct {
	store Store
	timer *GraceTimer

	mu sync.Mutex

	gracePeriod    time.Duration
	debounceWindow time.Duration
	debounceCount  int
	cooldown       time.Duration
	now            func() time.Time
}

// New creates an escalation engine over the given store.
func New(store Store, opts ...Option) *Engine {
	cfg := Opts{
		GracePeriod:    DefaultGracePeriod,
		DebounceWindow: DefaultDebounceWindow,
		DebounceCount:  DefaultDebounceCount,
		Cooldown:       DefaultCooldown,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		store:          store,
		timer:          NewGraceTimer(),
		gracePeriod:    cfg.GracePeriod,
		debounceWindow: cfg.DebounceWindow,
		debounceCount:  cfg.DebounceCount,
		cooldown:       cfg.Cooldown,
		now:            cfg.Now,
	}
}

// Apply advances the state machine with one risk assessment and returns the
// subject's case afterwards, or nil when the subject stays in monitoring.
//
// Qualifying rules: high or critical opens a case immediately; medium opens
// one only after the debounce threshold of medium-or-worse assessments
// within the rolling window. While a case is active, assessments update it
// instead of opening a second one, and a quieter assessment never regresses
// the case state.
func (e *Engine) Apply(ctx context.Context, a models.RiskAssessment) (*models.EscalationCase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Two passes: if case creation loses a conflict race, re-read and take
	// the update path against the winner's case.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := e.store.GetActiveCase(a.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load active case for %s: %w", a.SubjectID, err)
		}
		if existing != nil {
			return e.updateCase(existing, a)
		}

		if !e.qualifies(a) {
			return nil, nil
		}

		c, err := e.openCase(a)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, models.ErrCaseConflict) {
			slog.Debug("Engine.Apply: lost case-creation race, retrying as update", "subjectID", a.SubjectID)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("case creation conflict for %s did not settle", a.SubjectID)
}

// qualifies reports whether an assessment warrants opening a case.
func (e *Engine) qualifies(a models.RiskAssessment) bool {
	if a.RiskLevel.AtLeast(models.RiskLevelHigh) {
		return true
	}
	if a.RiskLevel != models.RiskLevelMedium {
		return false
	}
	since := e.now().Add(-e.debounceWindow)
	history, err := e.store.ListAssessments(a.SubjectID, since, 0)
	if err != nil {
		// Fail-safe: if the debounce history cannot be read, a medium signal
		// opens a case rather than being dropped.
		slog.Error("Engine.qualifies: failed to read debounce history, escalating anyway", "subjectID", a.SubjectID, "error", err)
		return true
	}
	mediums := 0
	for _, h := range history {
		if h.RiskLevel.AtLeast(models.RiskLevelMedium) {
			mediums++
		}
	}
	slog.Debug("Engine.qualifies: medium debounce check", "subjectID", a.SubjectID, "mediumsInWindow", mediums, "threshold", e.debounceCount)
	return mediums >= e.debounceCount
}

// openCase creates a new case for a qualifying assessment. Critical risk
// goes straight to escalated with no grace period.
func (e *Engine) openCase(a models.RiskAssessment) (*models.EscalationCase, error) {
	now := e.now().UTC()
	c := models.EscalationCase{
		CaseID:           util.GenerateCaseID(),
		SubjectID:        a.SubjectID,
		State:            models.CaseStatePendingEscalation,
		RiskLevel:        a.RiskLevel,
		OpenedAt:         now,
		UpdatedAt:        now,
		LastAssessmentID: a.ID,
	}
	if a.RiskLevel == models.RiskLevelCritical {
		c.State = models.CaseStateEscalated
		c.EscalatedAt = &now
	}

	if err := e.store.CreateCase(c); err != nil {
		return nil, err
	}
	slog.Info("Engine.openCase: escalation case opened",
		"caseID", c.CaseID, "subjectID", c.SubjectID, "state", c.State, "level", a.RiskLevel)

	if c.State == models.CaseStateEscalated {
		e.enqueueRequest(c, a.TriggerExcerpt)
	} else {
		e.armGrace(c.CaseID)
	}
	return &c, nil
}

// updateCase folds a new assessment into an existing active case. State only
// moves forward: critical promotes pending to escalated immediately,
// anything else leaves the state untouched.
func (e *Engine) updateCase(c *models.EscalationCase, a models.RiskAssessment) (*models.EscalationCase, error) {
	now := e.now().UTC()
	c.LastAssessmentID = a.ID
	c.RiskLevel = models.MaxRiskLevel(c.RiskLevel, a.RiskLevel)
	c.UpdatedAt = now

	promoted := false
	if a.RiskLevel == models.RiskLevelCritical && c.State == models.CaseStatePendingEscalation {
		c.State = models.CaseStateEscalated
		c.EscalatedAt = &now
		promoted = true
	}

	if err := e.store.UpdateCase(*c); err != nil {
		return nil, fmt.Errorf("failed to update case %s: %w", c.CaseID, err)
	}

	if promoted {
		e.timer.Cancel(c.CaseID)
		e.enqueueRequest(*c, a.TriggerExcerpt)
		slog.Info("Engine.updateCase: critical assessment promoted case", "caseID", c.CaseID, "subjectID", c.SubjectID)
	} else {
		slog.Debug("Engine.updateCase: case updated", "caseID", c.CaseID, "state", c.State, "level", c.RiskLevel)
	}
	return c, nil
}

// armGrace schedules the automatic pending_escalation -> escalated
// transition unless the case is cancelled within the grace period.
func (e *Engine) armGrace(caseID string) {
	e.timer.Arm(caseID, e.gracePeriod, func() {
		if err := e.EscalateCase(context.Background(), caseID, "grace period elapsed"); err != nil {
			slog.Error("Engine.armGrace: grace escalation failed", "caseID", caseID, "error", err)
		}
	})
}

// EscalateCase transitions a pending case to escalated. It is a no-op when
// the case already left pending_escalation (cancelled, or promoted by a
// critical assessment).
func (e *Engine) EscalateCase(ctx context.Context, caseID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.GetCase(caseID)
	if err != nil {
		return fmt.Errorf("failed to load case %s: %w", caseID, err)
	}
	if c == nil {
		return models.ErrCaseNotFound
	}
	if c.State != models.CaseStatePendingEscalation {
		slog.Debug("Engine.EscalateCase: case no longer pending", "caseID", caseID, "state", c.State)
		return nil
	}

	now := e.now().UTC()
	c.State = models.CaseStateEscalated
	c.EscalatedAt = &now
	c.UpdatedAt = now
	if err := e.store.UpdateCase(*c); err != nil {
		return fmt.Errorf("failed to escalate case %s: %w", caseID, err)
	}

	slog.Info("Engine.EscalateCase: case escalated", "caseID", caseID, "subjectID", c.SubjectID, "reason", reason)
	e.enqueueRequest(*c, "")
	return nil
}

// Resolve closes an escalated case. Resolution comes from the escalation
// collaborator or an operator; pending cases are cancelled, not resolved.
func (e *Engine) Resolve(ctx context.Context, caseID, notes string) (*models.EscalationCase, error) {
	return e.close(caseID, models.CaseStateResolved, notes)
}

// Cancel closes a pending or escalated case on explicit human override.
func (e *Engine) Cancel(ctx context.Context, caseID, notes string) (*models.EscalationCase, error) {
	return e.close(caseID, models.CaseStateCancelled, notes)
}

func (e *Engine) close(caseID string, target models.CaseState, notes string) (*models.EscalationCase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.GetCase(caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", caseID, err)
	}
	if c == nil {
		return nil, models.ErrCaseNotFound
	}
	if c.State.IsTerminal() {
		return nil, models.ErrCaseTerminal
	}
	if !c.State.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidCaseTransition, c.State, target)
	}

	now := e.now().UTC()
	c.State = target
	c.ClosedAt = &now
	c.UpdatedAt = now
	if notes != "" {
		c.ResolutionNotes = notes
	}
	if err := e.store.UpdateCase(*c); err != nil {
		return nil, fmt.Errorf("failed to close case %s: %w", caseID, err)
	}

	e.timer.Cancel(caseID)
	slog.Info("Engine.close: case closed", "caseID", caseID, "subjectID", c.SubjectID, "state", target)
	return c, nil
}

// HandleResult records the escalation collaborator's outcome for a case and
// resolves it when the result carries a resolution timestamp.
func (e *Engine) HandleResult(ctx context.Context, res models.EscalationResult) error {
	e.mu.Lock()
	c, err := e.store.GetCase(res.CaseID)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to load case %s: %w", res.CaseID, err)
	}
	if c == nil {
		e.mu.Unlock()
		return models.ErrCaseNotFound
	}

	c.Outcome = res.Outcome
	c.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateCase(*c); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to record outcome for case %s: %w", res.CaseID, err)
	}
	e.mu.Unlock()

	slog.Info("Engine.HandleResult: escalation outcome recorded", "caseID", res.CaseID, "outcome", res.Outcome)
	if res.ResolvedAt != nil && !c.State.IsTerminal() {
		notes := res.Notes
		if notes == "" {
			notes = fmt.Sprintf("resolved by escalation collaborator (%s)", res.Outcome)
		}
		_, err := e.Resolve(ctx, res.CaseID, notes)
		return err
	}
	return nil
}

// AutoResolveSweep resolves escalated cases whose subjects showed nothing
// above low risk for the full cooldown window. Cases with no recent
// assessments at all stay open for a human decision. Returns how many cases
// were resolved.
func (e *Engine) AutoResolveSweep(ctx context.Context) (int, error) {
	active, err := e.store.ListActiveCases()
	if err != nil {
		return 0, fmt.Errorf("failed to list active cases: %w", err)
	}

	now := e.now()
	resolved := 0
	for _, c := range active {
		if c.State != models.CaseStateEscalated || c.EscalatedAt == nil {
			continue
		}
		if now.Sub(*c.EscalatedAt) < e.cooldown {
			continue
		}
		history, err := e.store.ListAssessments(c.SubjectID, now.Add(-e.cooldown), 0)
		if err != nil {
			slog.Error("Engine.AutoResolveSweep: failed to read history", "caseID", c.CaseID, "error", err)
			continue
		}
		if len(history) == 0 {
			continue
		}
		// Reported levels are floored at medium while a case is active, so
		// every assessment of an open case carries at least medium. Calmness
		// is therefore judged on the raw weighted score instead.
		calm := true
		for _, h := range history {
			if h.WeightedScore >= assess.ThresholdMedium {
				calm = false
				break
			}
		}
		if !calm {
			continue
		}
		if _, err := e.Resolve(ctx, c.CaseID, "auto-resolved after sustained low risk through cooldown"); err != nil {
			slog.Error("Engine.AutoResolveSweep: auto-resolve failed", "caseID", c.CaseID, "error", err)
			continue
		}
		resolved++
	}
	if resolved > 0 {
		slog.Info("Engine.AutoResolveSweep: cases auto-resolved", "count", resolved)
	}
	return resolved, nil
}

// RearmPendingGraceTimers re-arms grace timers for pending cases found at
// startup. A grace period that elapsed while the process was down fires
// immediately: restart must never swallow a decided escalation.
func (e *Engine) RearmPendingGraceTimers(ctx context.Context) (int, error) {
	active, err := e.store.ListActiveCases()
	if err != nil {
		return 0, fmt.Errorf("failed to list active cases: %w", err)
	}

	now := e.now()
	rearmed := 0
	for _, c := range active {
		if c.State != models.CaseStatePendingEscalation {
			continue
		}
		remaining := c.OpenedAt.Add(e.gracePeriod).Sub(now)
		if remaining <= 0 {
			if err := e.EscalateCase(ctx, c.CaseID, "grace period elapsed during restart"); err != nil {
				slog.Error("Engine.RearmPendingGraceTimers: immediate escalation failed", "caseID", c.CaseID, "error", err)
				continue
			}
		} else {
			e.armGrace(c.CaseID)
		}
		rearmed++
	}
	return rearmed, nil
}

// Stop disarms all grace timers. Pending cases are recovered on next start.
func (e *Engine) Stop() {
	e.timer.Stop()
}

// enqueueRequest queues the outbound EscalationRequest on the durable
// outbox. Decision and delivery are decoupled: the state transition already
// happened, and delivery retries in the background until it lands.
func (e *Engine) enqueueRequest(c models.EscalationCase, excerpt string) {
	req := models.EscalationRequest{
		CaseID:             c.CaseID,
		SubjectID:          c.SubjectID,
		RiskLevel:          c.RiskLevel,
		TriggerExcerpt:     excerpt,
		RecommendedChannel: channelFor(c.RiskLevel),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		slog.Error("Engine.enqueueRequest: failed to marshal escalation request", "caseID", c.CaseID, "error", err)
		return
	}
	dedupe := "case:" + c.CaseID
	id, err := e.store.EnqueueEscalation(c.CaseID, c.SubjectID, string(payload), dedupe)
	if err != nil {
		slog.Error("Engine.enqueueRequest: failed to enqueue escalation delivery", "caseID", c.CaseID, "error", err)
		return
	}
	slog.Info("Engine.enqueueRequest: escalation delivery queued", "caseID", c.CaseID, "deliveryID", id, "channel", req.RecommendedChannel)
}

func channelFor(level models.RiskLevel) string {
	if level == models.RiskLevelCritical {
		return ChannelCrisisTeam
	}
	return ChannelProfessional
}
