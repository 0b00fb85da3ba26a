package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/notify"
)

// EscalationManagerID is the registry identity of the escalation manager.
const EscalationManagerID = "escalation-manager"

// EscalationManager consumes EscalationRequests, alerts the on-call channel
// through the Notifier, and reports the outcome back to the coordinator.
// Requests arrive from two sources (the durable outbox dispatcher and the
// crisis detector); the manager notifies at most once per case.
type EscalationManager struct {
	notifier        notify.Notifier
	pub             Publisher
	resultRecipient string
	seen            *seenSet
	notifiedCases   *seenSet
}

// Compile-time check that EscalationManager implements Agent.
var _ Agent = (*EscalationManager)(nil)

// NewEscalationManager creates the escalation manager agent. Outcome
// results are published to resultRecipient.
func NewEscalationManager(notifier notify.Notifier, pub Publisher, resultRecipient string) *EscalationManager {
	return &EscalationManager{
		notifier:        notifier,
		pub:             pub,
		resultRecipient: resultRecipient,
		seen:            newSeenSet(),
		notifiedCases:   newSeenSet(),
	}
}

func (m *EscalationManager) ID() string { return EscalationManagerID }

func (m *EscalationManager) Capabilities() []string {
	return []string{models.CapabilityEscalationHandling}
}

func (m *EscalationManager) Handle(ctx context.Context, msg models.AgentMessage) error {
	if m.seen.MarkSeen(msg.MessageID) {
		slog.Debug("EscalationManager.Handle: duplicate delivery skipped", "messageID", msg.MessageID)
		return nil
	}

	switch msg.Kind {
	case models.PayloadEscalationRequest:
		return m.handleRequest(ctx, *msg.EscalationRequest)
	case models.PayloadRiskAssessment, models.PayloadMoodUpdate, models.PayloadEscalationResult:
		slog.Debug("EscalationManager.Handle: ignoring kind", "kind", msg.Kind, "messageID", msg.MessageID)
		return nil
	default:
		return fmt.Errorf("message %s: %w", msg.MessageID, models.ErrUnknownPayload)
	}
}

func (m *EscalationManager) handleRequest(ctx context.Context, req models.EscalationRequest) error {
	if m.notifiedCases.MarkSeen(req.CaseID) {
		slog.Debug("EscalationManager.handleRequest: case already notified", "caseID", req.CaseID)
		return nil
	}

	if err := m.notifier.NotifyEscalation(ctx, req); err != nil {
		// Forget the case so the retry notifies. The outbox keeps the
		// request alive until a delivery succeeds.
		m.notifiedCases.Forget(req.CaseID)
		m.reportOutcome(ctx, req.CaseID, models.OutcomeUnreachable, err.Error())
		return fmt.Errorf("failed to notify escalation for case %s: %w", req.CaseID, err)
	}

	slog.Info("EscalationManager.handleRequest: on-call notified", "caseID", req.CaseID, "subjectID", req.SubjectID, "riskLevel", req.RiskLevel)
	m.reportOutcome(ctx, req.CaseID, models.OutcomeAcknowledged, "on-call channel notified at "+time.Now().UTC().Format(time.RFC3339))
	return nil
}

// reportOutcome publishes the escalation result. Reporting is best-effort:
// a result that cannot be routed is logged, never retried, because the case
// record is the source of truth and the operator API can close it.
func (m *EscalationManager) reportOutcome(ctx context.Context, caseID string, outcome models.EscalationOutcome, notes string) {
	result := models.EscalationResult{
		CaseID:  caseID,
		Outcome: outcome,
		Notes:   notes,
	}
	if _, err := m.pub.Publish(ctx, models.NewEscalationResultMessage(EscalationManagerID, m.resultRecipient, result)); err != nil {
		slog.Error("EscalationManager.reportOutcome: failed to publish result", "caseID", caseID, "outcome", outcome, "error", err)
	}
}
