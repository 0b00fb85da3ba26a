// Package recovery restores runtime state after a restart: stale outbox
// claims are requeued, grace timers for pending cases are re-armed (elapsed
// grace fires immediately), and the agent registry is swept for expired
// heartbeats.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// StepFunc performs one recovery action and reports how many items it
// touched.
type StepFunc func(ctx context.Context) (int, error)

type step struct {
	name string
	run  StepFunc
}

// Manager runs registered recovery steps in order during startup.
type Manager struct {
	steps []step
}

// NewManager creates an empty recovery manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a named recovery step. Steps run in registration order.
func (m *Manager) Register(name string, run StepFunc) {
	m.steps = append(m.steps, step{name: name, run: run})
}

// Run executes all registered steps. Every step runs even when earlier ones
// fail; the first failure is returned afterwards so startup can decide
// whether to continue degraded.
func (m *Manager) Run(ctx context.Context) error {
	slog.Info("Recovery.Run: starting recovery", "steps", len(m.steps))

	var firstErr error
	for _, s := range m.steps {
		n, err := s.run(ctx)
		if err != nil {
			slog.Error("Recovery.Run: step failed", "step", s.name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("recovery step %s failed: %w", s.name, err)
			}
			continue
		}
		slog.Info("Recovery.Run: step completed", "step", s.name, "recovered", n)
	}

	return firstErr
}

// CountlessStep adapts an action without a count into a StepFunc.
func CountlessStep(run func(ctx context.Context) error) StepFunc {
	return func(ctx context.Context) (int, error) {
		return 0, run(ctx)
	}
}

// SweepStep adapts a synchronous sweep that returns only a count.
func SweepStep(run func() int) StepFunc {
	return func(ctx context.Context) (int, error) {
		return run(), nil
	}
}
