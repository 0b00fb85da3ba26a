package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/escalation"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/scanner"
)

// CrisisDetectorID is the registry identity of the crisis detector.
const CrisisDetectorID = "crisis-detector"

// CaseReader is the store surface the detector needs to confirm that the
// state machine holds an active case for a subject.
type CaseReader interface {
	GetActiveCase(subjectID string) (*models.EscalationCase, error)
}

// CrisisDetector corroborates aggregator verdicts. It re-scans the trigger
// excerpt and, for high/critical assessments backed by an active case,
// publishes an EscalationRequest. The escalation outbox publishes the same
// request; the escalation manager deduplicates per case, so the second
// source only adds redundancy on the safety-critical path.
type CrisisDetector struct {
	scanner *scanner.Scanner
	cases   CaseReader
	pub     Publisher
	seen    *seenSet
}

// Compile-time check that CrisisDetector implements Agent.
var _ Agent = (*CrisisDetector)(nil)

// NewCrisisDetector creates the crisis detector agent.
func NewCrisisDetector(sc *scanner.Scanner, cases CaseReader, pub Publisher) *CrisisDetector {
	return &CrisisDetector{scanner: sc, cases: cases, pub: pub, seen: newSeenSet()}
}

func (d *CrisisDetector) ID() string { return CrisisDetectorID }

func (d *CrisisDetector) Capabilities() []string {
	return []string{models.CapabilityCrisisDetection}
}

func (d *CrisisDetector) Handle(ctx context.Context, msg models.AgentMessage) error {
	if d.seen.MarkSeen(msg.MessageID) {
		slog.Debug("CrisisDetector.Handle: duplicate delivery skipped", "messageID", msg.MessageID)
		return nil
	}

	switch msg.Kind {
	case models.PayloadRiskAssessment:
		return d.handleAssessment(ctx, *msg.RiskAssessment)
	case models.PayloadMoodUpdate:
		// Mood alerts routed here are corroborating signals only.
		slog.Warn("CrisisDetector.Handle: mood alert received",
			"subjectID", msg.MoodUpdate.SubjectID, "alert", msg.MoodUpdate.Alert, "trend", msg.MoodUpdate.Trend)
		return nil
	case models.PayloadEscalationRequest, models.PayloadEscalationResult:
		slog.Debug("CrisisDetector.Handle: ignoring kind", "kind", msg.Kind, "messageID", msg.MessageID)
		return nil
	default:
		return fmt.Errorf("message %s: %w", msg.MessageID, models.ErrUnknownPayload)
	}
}

func (d *CrisisDetector) handleAssessment(ctx context.Context, a models.RiskAssessment) error {
	// Corroborate the verdict against a fresh scan of the excerpt. A high
	// verdict with no lexical signal in the excerpt is logged, never
	// suppressed: the aggregator saw the full text, the detector only an
	// excerpt.
	if a.TriggerExcerpt != "" {
		rescan := d.scanner.Scan(a.TriggerExcerpt)
		if len(rescan) == 0 && a.RiskLevel.AtLeast(models.RiskLevelHigh) {
			slog.Warn("CrisisDetector.handleAssessment: excerpt re-scan found no factors",
				"assessmentID", a.ID, "subjectID", a.SubjectID, "riskLevel", a.RiskLevel)
		} else {
			slog.Debug("CrisisDetector.handleAssessment: verdict corroborated",
				"assessmentID", a.ID, "subjectID", a.SubjectID, "rescanFactors", len(rescan))
		}
	}

	if !a.RiskLevel.AtLeast(models.RiskLevelHigh) {
		return nil
	}

	c, err := d.cases.GetActiveCase(a.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to read active case for %s: %w", a.SubjectID, err)
	}
	if !c.IsActive() {
		// The state machine decided against a case (for example a verdict
		// floored by history that has since resolved). Nothing to escalate.
		slog.Debug("CrisisDetector.handleAssessment: no active case", "subjectID", a.SubjectID, "assessmentID", a.ID)
		return nil
	}

	channel := escalation.ChannelProfessional
	if a.RiskLevel == models.RiskLevelCritical {
		channel = escalation.ChannelCrisisTeam
	}
	req := models.EscalationRequest{
		CaseID:             c.CaseID,
		SubjectID:          a.SubjectID,
		RiskLevel:          a.RiskLevel,
		TriggerExcerpt:     a.TriggerExcerpt,
		RecommendedChannel: channel,
	}
	if _, err := d.pub.Publish(ctx, models.NewEscalationRequestMessage(CrisisDetectorID, req)); err != nil {
		return fmt.Errorf("failed to publish escalation request for case %s: %w", c.CaseID, err)
	}
	slog.Info("CrisisDetector.handleAssessment: escalation request published",
		"caseID", c.CaseID, "subjectID", a.SubjectID, "riskLevel", a.RiskLevel)
	return nil
}
