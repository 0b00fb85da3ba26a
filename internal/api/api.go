// Package api provides the HTTP surface and the main server wiring for
// SafeHarbor.
//
// It exposes RESTful endpoints for submitting text and mood input, managing
// escalation cases, browsing the risk taxonomy and safety resources, and
// administering the agent registry. Run is the composition root: it builds
// the store, bus, escalation engine, coordinator, agents, outbox dispatcher,
// and maintenance scheduler, and serves until the context is cancelled.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/agents"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/assess"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/bus"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/coordinator"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/escalation"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/genai"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/mood"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/notify"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/recovery"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/scanner"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/scheduler"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/store"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/taxonomy"
)

// Server defaults.
const (
	DefaultAddr             = ":8080"
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultOutboxPoll       = 2 * time.Second
	DefaultAssessmentWindow = 24 * time.Hour
)

// Opts holds configuration options for the API server and its wiring.
type Opts struct {
	Addr       string
	StoreOpts  []store.Option
	EngineOpts []escalation.Option
	Notifier   notify.Notifier
	GenAI      genai.ClientInterface
	OutboxPoll time.Duration
	Taxonomy   *taxonomy.Snapshot
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStoreOptions passes options through to store construction.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *Opts) { o.StoreOpts = append(o.StoreOpts, opts...) }
}

// WithEngineOptions passes options through to the escalation engine.
func WithEngineOptions(opts ...escalation.Option) Option {
	return func(o *Opts) { o.EngineOpts = append(o.EngineOpts, opts...) }
}

// WithNotifier sets the escalation notification channel. Defaults to the
// log-only notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithGenAIClient enables model-drafted reply suggestions for the
// conversation agent. Nil keeps the template fallback.
func WithGenAIClient(c genai.ClientInterface) Option {
	return func(o *Opts) { o.GenAI = c }
}

// WithOutboxPollInterval overrides the escalation outbox poll interval.
func WithOutboxPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.OutboxPoll = d }
}

// WithTaxonomy replaces the built-in risk taxonomy, typically with a
// snapshot loaded from a curated file. Nil keeps the built-in one.
func WithTaxonomy(snap *taxonomy.Snapshot) Option {
	return func(o *Opts) { o.Taxonomy = snap }
}

// Server carries the handler dependencies for the HTTP endpoints.
type Server struct {
	coord    *coordinator.Coordinator
	engine   *escalation.Engine
	st       store.Store
	registry *bus.Registry
	taxonomy *taxonomy.Snapshot
}

// NewServer creates an API server over already-wired components.
func NewServer(coord *coordinator.Coordinator, engine *escalation.Engine, st store.Store, registry *bus.Registry, snap *taxonomy.Snapshot) *Server {
	return &Server{coord: coord, engine: engine, st: st, registry: registry, taxonomy: snap}
}

// Routes builds the HTTP routing table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/input", s.inputHandler)
	mux.HandleFunc("POST /v1/subjects/{id}/mood", s.moodHandler)

	mux.HandleFunc("GET /v1/cases/{id}", s.getCaseHandler)
	mux.HandleFunc("POST /v1/cases/{id}/resolve", s.resolveCaseHandler)
	mux.HandleFunc("POST /v1/cases/{id}/cancel", s.cancelCaseHandler)
	mux.HandleFunc("GET /v1/subjects/{id}/case", s.subjectCaseHandler)
	mux.HandleFunc("GET /v1/subjects/{id}/assessments", s.assessmentsHandler)

	mux.HandleFunc("GET /v1/resources", s.resourcesHandler)
	mux.HandleFunc("GET /v1/riskfactors", s.riskFactorsHandler)

	mux.HandleFunc("GET /v1/agents", s.listAgentsHandler)
	mux.HandleFunc("POST /v1/agents/register", s.registerAgentHandler)
	mux.HandleFunc("POST /v1/agents/{id}/heartbeat", s.agentHeartbeatHandler)
	mux.HandleFunc("DELETE /v1/agents/{id}", s.deregisterAgentHandler)

	mux.HandleFunc("GET /v1/deadletters", s.deadLettersHandler)
	mux.HandleFunc("GET /health", s.healthHandler)

	return mux
}

// Run wires the full application and serves HTTP until ctx is cancelled.
func Run(ctx context.Context, opts ...Option) error {
	cfg := Opts{
		Addr:       DefaultAddr,
		OutboxPoll: DefaultOutboxPoll,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogNotifier()
	}

	st, err := store.NewStore(cfg.StoreOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Run: failed to close store", "error", err)
		}
	}()

	snap := cfg.Taxonomy
	if snap == nil {
		snap = taxonomy.Default()
	}
	slog.Info("Run: risk taxonomy loaded", "version", snap.Version())
	registry := bus.NewRegistry()
	b := bus.New(registry, st)
	defer b.Close()

	engine := escalation.New(st, cfg.EngineOpts...)
	defer engine.Stop()

	sc := scanner.New(snap)
	coord := coordinator.New(sc, assess.New(snap, st), engine, st, b, snap)

	// The outbox dispatcher hands durable escalation deliveries to whatever
	// agent carries the escalation_handling capability.
	dispatcher := store.NewEscalationDispatcher(st, func(ctx context.Context, d store.EscalationDelivery) error {
		var req models.EscalationRequest
		if err := json.Unmarshal([]byte(d.PayloadJSON), &req); err != nil {
			return fmt.Errorf("malformed escalation payload for case %s: %w", d.CaseID, err)
		}
		_, err := b.Publish(ctx, models.NewEscalationRequestMessage(coordinator.AgentID, req))
		return err
	}, cfg.OutboxPoll)

	supervisor := agents.NewSupervisor(registry, b, []agents.Agent{
		agents.NewCrisisDetector(sc, st, b),
		agents.NewEscalationManager(cfg.Notifier, b, coordinator.AgentID),
		agents.NewMoodTrackerAgent(mood.NewTracker(), st, b),
		agents.NewConversationAgent(cfg.GenAI),
		coord,
	})
	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agents: %w", err)
	}
	defer supervisor.Stop()

	// Startup recovery: nothing queued or pending before the restart may be
	// lost or left unarmed.
	rec := recovery.NewManager()
	rec.Register("requeue_stale_outbox", recovery.CountlessStep(func(ctx context.Context) error {
		return dispatcher.RecoverStale()
	}))
	rec.Register("rearm_grace_timers", engine.RearmPendingGraceTimers)
	rec.Register("sweep_registry", recovery.SweepStep(registry.Sweep))
	if err := rec.Run(ctx); err != nil {
		// Degraded startup is still startup; the sweeps rerun periodically.
		slog.Warn("Run: recovery completed with errors", "error", err)
	}

	sched := scheduler.New()
	if err := sched.RegisterMaintenance(scheduler.Maintenance{
		Cases:    engine,
		Registry: registry,
		Pruner:   st,
	}); err != nil {
		return fmt.Errorf("failed to register maintenance jobs: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	server := NewServer(coord, engine, st, registry, snap)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("Run: API server listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Run: shutting down API server")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
