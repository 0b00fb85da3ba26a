// Package store provides the EscalationDispatcher for draining the
// escalation outbox.
package store

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher defaults.
const (
	DefaultDispatchPollInterval   = 2 * time.Second
	DefaultDispatchStaleThreshold = 5 * time.Minute
	DefaultDispatchClaimLimit     = 10
	dispatchInitialBackoff        = 500 * time.Millisecond
	dispatchMaxBackoff            = 5 * time.Minute
)

// DispatchFunc is the callback that hands a claimed escalation delivery to
// the escalation-handling agents. It should return an error if handoff
// failed; the delivery is then retried with backoff. Retries never give up:
// an escalation that cannot be handed off stays queued until an operator
// intervenes or a handler comes back.
type DispatchFunc func(ctx context.Context, d EscalationDelivery) error

// EscalationDispatcher periodically claims due escalation deliveries and
// hands them off. Together with the durable outbox this decouples the
// escalation decision from notification delivery: the decision commits even
// when every notification channel is down.
type EscalationDispatcher struct {
	store          Store
	dispatch       DispatchFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
}

// NewEscalationDispatcher creates a dispatcher over the given store.
func NewEscalationDispatcher(s Store, dispatch DispatchFunc, pollInterval time.Duration) *EscalationDispatcher {
	if pollInterval <= 0 {
		pollInterval = DefaultDispatchPollInterval
	}
	return &EscalationDispatcher{
		store:          s,
		dispatch:       dispatch,
		pollInterval:   pollInterval,
		staleThreshold: DefaultDispatchStaleThreshold,
		claimLimit:     DefaultDispatchClaimLimit,
	}
}

// RecoverStale requeues deliveries stuck in sending state (crash recovery).
// Should be called once at startup.
func (d *EscalationDispatcher) RecoverStale() error {
	staleBefore := time.Now().Add(-d.staleThreshold)
	n, err := d.store.RequeueStaleEscalations(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("EscalationDispatcher.RecoverStale: requeued stale deliveries", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (d *EscalationDispatcher) Run(ctx context.Context) {
	slog.Info("EscalationDispatcher.Run: starting dispatcher", "pollInterval", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("EscalationDispatcher.Run: stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *EscalationDispatcher) poll(ctx context.Context) {
	now := time.Now()
	deliveries, err := d.store.ClaimDueEscalations(now, d.claimLimit)
	if err != nil {
		slog.Error("EscalationDispatcher.poll: claim failed", "error", err)
		return
	}

	for _, delivery := range deliveries {
		slog.Debug("EscalationDispatcher.poll: dispatching", "id", delivery.ID, "caseID", delivery.CaseID, "attempts", delivery.Attempts)
		if err := d.dispatch(ctx, delivery); err != nil {
			slog.Error("EscalationDispatcher.poll: dispatch failed", "id", delivery.ID, "caseID", delivery.CaseID, "error", err)
			nextAttempt := now.Add(dispatchBackoff(delivery.Attempts))
			if err := d.store.FailEscalation(delivery.ID, err.Error(), nextAttempt); err != nil {
				slog.Error("EscalationDispatcher.poll: fail delivery error", "id", delivery.ID, "error", err)
			}
		} else {
			if err := d.store.MarkEscalationDelivered(delivery.ID); err != nil {
				slog.Error("EscalationDispatcher.poll: mark delivered error", "id", delivery.ID, "error", err)
			}
			slog.Info("EscalationDispatcher.poll: escalation dispatched", "id", delivery.ID, "caseID", delivery.CaseID, "subjectID", delivery.SubjectID)
		}
	}
}

// dispatchBackoff computes the retry delay for a delivery on its next
// attempt: exponential from dispatchInitialBackoff, capped.
func dispatchBackoff(attempts int) time.Duration {
	backoff := dispatchInitialBackoff
	for i := 0; i < attempts && backoff < dispatchMaxBackoff; i++ {
		backoff *= 2
	}
	if backoff > dispatchMaxBackoff {
		backoff = dispatchMaxBackoff
	}
	return backoff
}
