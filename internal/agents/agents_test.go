package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/mood"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/notify"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/scanner"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/taxonomy"
)

// capturePublisher records published messages.
type capturePublisher struct {
	messages []models.AgentMessage
	err      error
}

func (p *capturePublisher) Publish(ctx context.Context, msg models.AgentMessage) (models.DeliveryReceipt, error) {
	if p.err != nil {
		return models.DeliveryReceipt{}, p.err
	}
	p.messages = append(p.messages, msg)
	return models.DeliveryReceipt{MessageID: "m1", Recipients: []string{"someone"}}, nil
}

// fakeCaseReader returns a fixed active case.
type fakeCaseReader struct {
	active *models.EscalationCase
	err    error
}

func (r *fakeCaseReader) GetActiveCase(subjectID string) (*models.EscalationCase, error) {
	return r.active, r.err
}

type fakeMoodRecorder struct {
	samples []models.MoodUpdate
}

func (r *fakeMoodRecorder) AddMoodSample(m models.MoodUpdate) error {
	r.samples = append(r.samples, m)
	return nil
}

func newTestScanner(t *testing.T) *scanner.Scanner {
	t.Helper()
	return scanner.New(taxonomy.Default())
}

func highAssessmentMessage(id string) models.AgentMessage {
	msg := models.NewRiskAssessmentMessage("coordinator", models.CapabilityCrisisDetection, models.RiskAssessment{
		ID:              "assess-1",
		SubjectID:       "subj-1",
		RiskLevel:       models.RiskLevelHigh,
		DetectedFactors: []string{"suicidal_ideation"},
		TriggerExcerpt:  "i want to end my life",
		CreatedAt:       time.Now().UTC(),
	})
	msg.MessageID = id
	return msg
}

func TestSeenSetIdempotency(t *testing.T) {
	s := newSeenSet()
	if s.MarkSeen("a") {
		t.Error("expected first mark to report new")
	}
	if !s.MarkSeen("a") {
		t.Error("expected second mark to report seen")
	}
	s.Forget("a")
	if s.MarkSeen("a") {
		t.Error("expected forgotten ID to report new again")
	}
}

func TestCrisisDetectorPublishesForActiveCase(t *testing.T) {
	pub := &capturePublisher{}
	cases := &fakeCaseReader{active: &models.EscalationCase{
		CaseID:    "case_1",
		SubjectID: "subj-1",
		State:     models.CaseStatePendingEscalation,
	}}
	d := NewCrisisDetector(newTestScanner(t), cases, pub)

	if err := d.Handle(context.Background(), highAssessmentMessage("msg-1")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(pub.messages))
	}
	out := pub.messages[0]
	if out.Kind != models.PayloadEscalationRequest {
		t.Errorf("expected escalation request, got %s", out.Kind)
	}
	if out.EscalationRequest.CaseID != "case_1" {
		t.Errorf("expected case_1, got %s", out.EscalationRequest.CaseID)
	}

	// Redelivery of the same message is a no-op.
	if err := d.Handle(context.Background(), highAssessmentMessage("msg-1")); err != nil {
		t.Fatalf("Handle redelivery failed: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Errorf("expected duplicate delivery to be skipped, got %d messages", len(pub.messages))
	}
}

func TestCrisisDetectorNoActiveCaseNoPublish(t *testing.T) {
	pub := &capturePublisher{}
	d := NewCrisisDetector(newTestScanner(t), &fakeCaseReader{}, pub)

	if err := d.Handle(context.Background(), highAssessmentMessage("msg-2")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(pub.messages) != 0 {
		t.Errorf("expected no publish without an active case, got %d", len(pub.messages))
	}
}

func TestCrisisDetectorIgnoresLowRisk(t *testing.T) {
	pub := &capturePublisher{}
	cases := &fakeCaseReader{active: &models.EscalationCase{CaseID: "case_1", State: models.CaseStatePendingEscalation}}
	d := NewCrisisDetector(newTestScanner(t), cases, pub)

	msg := models.NewRiskAssessmentMessage("coordinator", models.CapabilityCrisisDetection, models.RiskAssessment{
		ID: "assess-2", SubjectID: "subj-1", RiskLevel: models.RiskLevelMedium,
	})
	msg.MessageID = "msg-3"
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(pub.messages) != 0 {
		t.Errorf("expected no publish for medium risk, got %d", len(pub.messages))
	}
}

func TestEscalationManagerNotifiesOncePerCase(t *testing.T) {
	mock := notify.NewMockNotifier()
	pub := &capturePublisher{}
	m := NewEscalationManager(mock, pub, "coordinator")

	req := models.EscalationRequest{CaseID: "case_1", SubjectID: "subj-1", RiskLevel: models.RiskLevelCritical}

	first := models.NewEscalationRequestMessage("dispatcher", req)
	first.MessageID = "msg-a"
	if err := m.Handle(context.Background(), first); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 notification, got %d", mock.CallCount())
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 result published, got %d", len(pub.messages))
	}
	res := pub.messages[0]
	if res.Kind != models.PayloadEscalationResult || res.RecipientID != "coordinator" {
		t.Errorf("expected result routed to coordinator, got %+v", res)
	}
	if res.EscalationResult.Outcome != models.OutcomeAcknowledged {
		t.Errorf("expected acknowledged outcome, got %s", res.EscalationResult.Outcome)
	}

	// Same case from the second source (different message ID): no second alert.
	second := models.NewEscalationRequestMessage("crisis-detector", req)
	second.MessageID = "msg-b"
	if err := m.Handle(context.Background(), second); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected per-case dedupe, got %d notifications", mock.CallCount())
	}
}

func TestEscalationManagerNotifyFailureRetries(t *testing.T) {
	mock := notify.NewMockNotifier()
	mock.FailWith = errors.New("carrier down")
	pub := &capturePublisher{}
	m := NewEscalationManager(mock, pub, "coordinator")

	req := models.EscalationRequest{CaseID: "case_1", SubjectID: "subj-1", RiskLevel: models.RiskLevelHigh}
	msg := models.NewEscalationRequestMessage("dispatcher", req)
	msg.MessageID = "msg-a"
	if err := m.Handle(context.Background(), msg); err == nil {
		t.Fatal("expected error when notifier fails")
	}
	if len(pub.messages) != 1 || pub.messages[0].EscalationResult.Outcome != models.OutcomeUnreachable {
		t.Errorf("expected unreachable outcome published, got %+v", pub.messages)
	}

	// The failed case is retryable.
	mock.FailWith = nil
	retry := models.NewEscalationRequestMessage("dispatcher", req)
	retry.MessageID = "msg-b"
	if err := m.Handle(context.Background(), retry); err != nil {
		t.Fatalf("retry Handle failed: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected successful retry notification, got %d", mock.CallCount())
	}
}

func TestMoodTrackerAgentPersistsAndAlerts(t *testing.T) {
	recorder := &fakeMoodRecorder{}
	pub := &capturePublisher{}
	agent := NewMoodTrackerAgent(mood.NewTracker(), recorder, pub)

	// Three consecutive low scores: third fires the sustained-low alert.
	for i, score := range []int{3, 3, 3} {
		msg := models.NewMoodUpdateMessage("mood-service", models.CapabilityMoodAnalysis, models.MoodUpdate{
			SubjectID: "subj-1", Score: score, RecordedAt: time.Now().UTC(),
		})
		msg.MessageID = "mood-" + string(rune('a'+i))
		if err := agent.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
	}
	if len(recorder.samples) != 3 {
		t.Errorf("expected 3 persisted samples, got %d", len(recorder.samples))
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 alert published, got %d", len(pub.messages))
	}
	alert := pub.messages[0]
	if alert.Capability != models.CapabilityCrisisDetection {
		t.Errorf("expected alert routed to crisis detection, got %s", alert.Capability)
	}
	if !strings.Contains(alert.MoodUpdate.Alert, mood.AlertSustainedLow) {
		t.Errorf("expected sustained-low alert, got %q", alert.MoodUpdate.Alert)
	}
}

func TestMoodTrackerAgentSkipsAlertEcho(t *testing.T) {
	recorder := &fakeMoodRecorder{}
	agent := NewMoodTrackerAgent(mood.NewTracker(), recorder, &capturePublisher{})

	msg := models.NewMoodUpdateMessage("mood-tracker", models.CapabilityMoodAnalysis, models.MoodUpdate{
		SubjectID: "subj-1", Score: 2, Alert: mood.AlertSevereLow, RecordedAt: time.Now().UTC(),
	})
	msg.MessageID = "echo-1"
	if err := agent.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(recorder.samples) != 0 {
		t.Errorf("expected alert echo to be skipped, got %d samples", len(recorder.samples))
	}
}

func TestMoodTrackerAgentDropsInvalidScore(t *testing.T) {
	recorder := &fakeMoodRecorder{}
	agent := NewMoodTrackerAgent(mood.NewTracker(), recorder, &capturePublisher{})

	msg := models.NewMoodUpdateMessage("mood-service", models.CapabilityMoodAnalysis, models.MoodUpdate{
		SubjectID: "subj-1", Score: 42, RecordedAt: time.Now().UTC(),
	})
	msg.MessageID = "bad-1"
	if err := agent.Handle(context.Background(), msg); err != nil {
		t.Errorf("expected invalid sample to be dropped without error, got %v", err)
	}
	if len(recorder.samples) != 0 {
		t.Errorf("expected no persisted sample, got %d", len(recorder.samples))
	}
}

type fakeGenAI struct {
	reply string
	err   error
}

func (f *fakeGenAI) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return f.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

func (f *fakeGenAI) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.reply, f.err
}

func TestConversationAgentUsesModelWhenConfigured(t *testing.T) {
	agent := NewConversationAgent(&fakeGenAI{reply: "model suggestion"})
	got := agent.ComposeSupport(context.Background(), models.RiskAssessment{RiskLevel: models.RiskLevelMedium})
	if got != "model suggestion" {
		t.Errorf("expected model suggestion, got %q", got)
	}
}

func TestConversationAgentFallsBackToTemplate(t *testing.T) {
	agent := NewConversationAgent(&fakeGenAI{err: errors.New("quota")})
	got := agent.ComposeSupport(context.Background(), models.RiskAssessment{RiskLevel: models.RiskLevelHigh})
	if !strings.Contains(got, "988") {
		t.Errorf("expected high-risk template mentioning 988, got %q", got)
	}

	disabled := NewConversationAgent(nil)
	got = disabled.ComposeSupport(context.Background(), models.RiskAssessment{RiskLevel: models.RiskLevelNone})
	if got == "" {
		t.Error("expected a template suggestion with GenAI disabled")
	}
}
