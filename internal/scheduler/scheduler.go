// Package scheduler provides cron-based background maintenance for
// SafeHarbor: cooldown auto-resolution scans, registry offline sweeps, and
// assessment-history pruning.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default cron expressions for the maintenance jobs (5-field form).
const (
	DefaultAutoResolveExpr   = "*/10 * * * *"
	DefaultRegistrySweepExpr = "* * * * *"
	DefaultPruneExpr         = "0 3 * * *"
)

// DefaultRetention is how long assessment history is kept before the daily
// prune removes it.
const DefaultRetention = 90 * 24 * time.Hour

// CaseSweeper scans active cases and auto-resolves those past cooldown.
type CaseSweeper interface {
	AutoResolveSweep(ctx context.Context) (int, error)
}

// RegistrySweeper expires agents with stale heartbeats.
type RegistrySweeper interface {
	Sweep() int
}

// HistoryPruner removes assessment history older than the cutoff.
type HistoryPruner interface {
	PruneAssessments(before time.Time) (int, error)
}

// Scheduler wraps a cron runner for SafeHarbor's periodic jobs.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a scheduler. It does not start running until Start is called.
func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression. It returns an
// error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Maintenance bundles the periodic upkeep jobs. Zero-value expressions fall
// back to the defaults; a nil component skips its job.
type Maintenance struct {
	Cases    CaseSweeper
	Registry RegistrySweeper
	Pruner   HistoryPruner

	AutoResolveExpr   string
	RegistrySweepExpr string
	PruneExpr         string
	Retention         time.Duration
}

// RegisterMaintenance wires the standard maintenance jobs into the
// scheduler.
func (s *Scheduler) RegisterMaintenance(m Maintenance) error {
	if m.AutoResolveExpr == "" {
		m.AutoResolveExpr = DefaultAutoResolveExpr
	}
	if m.RegistrySweepExpr == "" {
		m.RegistrySweepExpr = DefaultRegistrySweepExpr
	}
	if m.PruneExpr == "" {
		m.PruneExpr = DefaultPruneExpr
	}
	if m.Retention <= 0 {
		m.Retention = DefaultRetention
	}

	if m.Cases != nil {
		if err := s.AddJob(m.AutoResolveExpr, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := m.Cases.AutoResolveSweep(ctx)
			if err != nil {
				slog.Error("Scheduler: auto-resolve sweep failed", "error", err)
				return
			}
			if n > 0 {
				slog.Info("Scheduler: auto-resolve sweep completed", "resolved", n)
			}
		}); err != nil {
			return err
		}
	}

	if m.Registry != nil {
		if err := s.AddJob(m.RegistrySweepExpr, func() {
			if n := m.Registry.Sweep(); n > 0 {
				slog.Info("Scheduler: registry sweep marked agents offline", "count", n)
			}
		}); err != nil {
			return err
		}
	}

	if m.Pruner != nil {
		retention := m.Retention
		if err := s.AddJob(m.PruneExpr, func() {
			n, err := m.Pruner.PruneAssessments(time.Now().Add(-retention))
			if err != nil {
				slog.Error("Scheduler: history prune failed", "error", err)
				return
			}
			slog.Info("Scheduler: history prune completed", "removed", n, "retention", retention)
		}); err != nil {
			return err
		}
	}

	return nil
}
