package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/mood"
)

// MoodTrackerAgentID is the registry identity of the mood tracker.
const MoodTrackerAgentID = "mood-tracker"

// MoodRecorder is the store surface the mood tracker persists samples to.
type MoodRecorder interface {
	AddMoodSample(m models.MoodUpdate) error
}

// MoodTrackerAgent consumes MoodUpdate messages, feeds the rolling tracker,
// persists the sample, and stays silent unless a threshold alert fires; an
// alert republishes the sample (annotated with trend and alert reason) to
// the crisis detection capability.
type MoodTrackerAgent struct {
	tracker  *mood.Tracker
	recorder MoodRecorder
	pub      Publisher
	seen     *seenSet
}

// Compile-time check that MoodTrackerAgent implements Agent.
var _ Agent = (*MoodTrackerAgent)(nil)

// NewMoodTrackerAgent creates the mood tracker agent.
func NewMoodTrackerAgent(tracker *mood.Tracker, recorder MoodRecorder, pub Publisher) *MoodTrackerAgent {
	return &MoodTrackerAgent{tracker: tracker, recorder: recorder, pub: pub, seen: newSeenSet()}
}

func (t *MoodTrackerAgent) ID() string { return MoodTrackerAgentID }

func (t *MoodTrackerAgent) Capabilities() []string {
	return []string{models.CapabilityMoodAnalysis}
}

func (t *MoodTrackerAgent) Handle(ctx context.Context, msg models.AgentMessage) error {
	if t.seen.MarkSeen(msg.MessageID) {
		slog.Debug("MoodTrackerAgent.Handle: duplicate delivery skipped", "messageID", msg.MessageID)
		return nil
	}

	switch msg.Kind {
	case models.PayloadMoodUpdate:
		return t.handleMood(ctx, *msg.MoodUpdate)
	case models.PayloadRiskAssessment, models.PayloadEscalationRequest, models.PayloadEscalationResult:
		slog.Debug("MoodTrackerAgent.Handle: ignoring kind", "kind", msg.Kind, "messageID", msg.MessageID)
		return nil
	default:
		return fmt.Errorf("message %s: %w", msg.MessageID, models.ErrUnknownPayload)
	}
}

func (t *MoodTrackerAgent) handleMood(ctx context.Context, m models.MoodUpdate) error {
	// Republished alerts must not feed the tracker again.
	if m.Alert != "" {
		slog.Debug("MoodTrackerAgent.handleMood: skipping alert echo", "subjectID", m.SubjectID, "alert", m.Alert)
		return nil
	}

	obs, err := t.tracker.Observe(m)
	if err != nil {
		// Invalid samples are dropped, not retried: redelivery cannot fix
		// an out-of-range score.
		slog.Warn("MoodTrackerAgent.handleMood: sample rejected", "subjectID", m.SubjectID, "score", m.Score, "error", err)
		return nil
	}

	m.Trend = obs.Trend
	if err := t.recorder.AddMoodSample(m); err != nil {
		return fmt.Errorf("failed to persist mood sample for %s: %w", m.SubjectID, err)
	}

	if len(obs.Alerts) == 0 {
		slog.Debug("MoodTrackerAgent.handleMood: sample tracked", "subjectID", m.SubjectID, "score", m.Score, "baseline", obs.Baseline, "trend", obs.Trend)
		return nil
	}

	alert := m
	alert.Alert = strings.Join(obs.Alerts, ",")
	alert.Trend = obs.Trend
	if _, err := t.pub.Publish(ctx, models.NewMoodUpdateMessage(MoodTrackerAgentID, models.CapabilityCrisisDetection, alert)); err != nil {
		slog.Warn("MoodTrackerAgent.handleMood: alert publish failed", "subjectID", m.SubjectID, "alerts", alert.Alert, "error", err)
		return nil
	}
	slog.Info("MoodTrackerAgent.handleMood: mood alert published", "subjectID", m.SubjectID, "alerts", alert.Alert, "score", m.Score, "baseline", obs.Baseline)
	return nil
}
