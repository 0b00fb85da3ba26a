// Package escalation implements the per-subject escalation state machine:
// it consumes risk assessments, debounces repeated medium-risk signals,
// opens at most one active case per subject, and drives the
// pending_escalation grace period and cooldown auto-resolution.
package escalation

import (
	"log/slog"
	"sync"
	"time"
)

// GraceTimer schedules the pending_escalation grace-period callbacks, keyed
// by case ID so a cancellation or early escalation can disarm the pending
// timer for exactly that case.
type GraceTimer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewGraceTimer creates an empty grace timer.
func NewGraceTimer() *GraceTimer {
	return &GraceTimer{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn to run after delay for the given case. Re-arming an
// already armed case replaces the previous timer.
func (t *GraceTimer) Arm(caseID string, delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[caseID]; ok {
		existing.Stop()
	}
	slog.Debug("GraceTimer.Arm: grace timer armed", "caseID", caseID, "delay", delay)
	t.timers[caseID] = time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.timers, caseID)
		t.mu.Unlock()
		fn()
	})
}

// Cancel disarms the timer for a case, if armed.
func (t *GraceTimer) Cancel(caseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[caseID]; ok {
		existing.Stop()
		delete(t.timers, caseID)
		slog.Debug("GraceTimer.Cancel: grace timer cancelled", "caseID", caseID)
	}
}

// Stop disarms all timers. Used at shutdown.
func (t *GraceTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
