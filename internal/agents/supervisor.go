package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/bus"
)

// DefaultHeartbeatInterval is how often the supervisor heartbeats its
// agents. A third of the registry timeout keeps them comfortably online.
const DefaultHeartbeatInterval = 20 * time.Second

// SupervisorOpts holds configuration options for the supervisor.
type SupervisorOpts struct {
	HeartbeatInterval time.Duration
}

// SupervisorOption defines a configuration option for the supervisor.
type SupervisorOption func(*SupervisorOpts)

// WithHeartbeatInterval overrides the heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) SupervisorOption {
	return func(o *SupervisorOpts) { o.HeartbeatInterval = d }
}

// Supervisor owns the in-process agents: it registers them with the
// registry, attaches their handlers to the bus, and heartbeats for them
// until stopped.
type Supervisor struct {
	registry *bus.Registry
	bus      *bus.Bus
	agents   []Agent

	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSupervisor creates a supervisor over the given agents.
func NewSupervisor(registry *bus.Registry, b *bus.Bus, agents []Agent, opts ...SupervisorOption) *Supervisor {
	cfg := SupervisorOpts{HeartbeatInterval: DefaultHeartbeatInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Supervisor{
		registry: registry,
		bus:      b,
		agents:   agents,
		interval: cfg.HeartbeatInterval,
	}
}

// Start registers and attaches every agent, then begins the heartbeat loop.
func (s *Supervisor) Start(ctx context.Context) error {
	for _, agent := range s.agents {
		if _, err := s.registry.Register(agent.ID(), agent.Capabilities()); err != nil {
			return fmt.Errorf("failed to register agent %s: %w", agent.ID(), err)
		}
		s.bus.Attach(agent.ID(), agent.Handle)
		slog.Info("Supervisor.Start: agent started", "agentID", agent.ID(), "capabilities", agent.Capabilities())
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.heartbeatLoop(loopCtx)
	return nil
}

// heartbeatLoop heartbeats all agents on a ticker until cancelled.
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, agent := range s.agents {
				if err := s.registry.Heartbeat(agent.ID()); err != nil {
					slog.Warn("Supervisor.heartbeatLoop: heartbeat failed", "agentID", agent.ID(), "error", err)
				}
			}
		}
	}
}

// Stop detaches and deregisters every agent and stops the heartbeat loop.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	for _, agent := range s.agents {
		s.bus.Detach(agent.ID())
		if err := s.registry.Deregister(agent.ID()); err != nil {
			slog.Warn("Supervisor.Stop: deregister failed", "agentID", agent.ID(), "error", err)
		}
	}
	slog.Info("Supervisor.Stop: all agents stopped", "count", len(s.agents))
}
