package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeSMS struct {
	sent    []twilioApi.CreateMessageParams
	failFor map[string]error
}

func (f *fakeSMS) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if params.To != nil {
		if err, ok := f.failFor[*params.To]; ok {
			return nil, err
		}
	}
	f.sent = append(f.sent, *params)
	return &twilioApi.ApiV2010Message{}, nil
}

func testRequest() models.EscalationRequest {
	return models.EscalationRequest{
		CaseID:             "case_abc",
		SubjectID:          "subj-1",
		RiskLevel:          models.RiskLevelCritical,
		TriggerExcerpt:     "i want to end it all",
		RecommendedChannel: "crisis_team",
	}
}

func TestFormatEscalationBody(t *testing.T) {
	body := FormatEscalationBody(testRequest())
	for _, want := range []string{"CRITICAL", "case_abc", "subj-1", "crisis_team", "i want to end it all"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected body to contain %q, got:\n%s", want, body)
		}
	}
}

func TestNewTwilioNotifierRequiresConfig(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioNotifier(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewTwilioNotifier(
		WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550001111"),
	); err == nil {
		t.Error("expected error without on-call numbers")
	}
}

func TestTwilioNotifierSendsToAllOnCall(t *testing.T) {
	fake := &fakeSMS{}
	n := &TwilioNotifier{
		api:        fake,
		fromNumber: "+15550001111",
		onCall:     []string{"+15550002222", "+15550003333"},
	}

	if err := n.NotifyEscalation(context.Background(), testRequest()); err != nil {
		t.Fatalf("NotifyEscalation failed: %v", err)
	}
	if len(fake.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(fake.sent))
	}
	if *fake.sent[0].To != "+15550002222" || *fake.sent[1].To != "+15550003333" {
		t.Errorf("unexpected recipients: %v, %v", *fake.sent[0].To, *fake.sent[1].To)
	}
	if !strings.Contains(*fake.sent[0].Body, "case_abc") {
		t.Errorf("expected alert body to carry the case ID")
	}
}

func TestTwilioNotifierPartialFailureReturnsError(t *testing.T) {
	fake := &fakeSMS{failFor: map[string]error{"+15550002222": errors.New("carrier down")}}
	n := &TwilioNotifier{
		api:        fake,
		fromNumber: "+15550001111",
		onCall:     []string{"+15550002222", "+15550003333"},
	}

	err := n.NotifyEscalation(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error on partial failure")
	}
	if !strings.Contains(err.Error(), "+15550002222") {
		t.Errorf("expected failed number in error, got %v", err)
	}
	// The healthy number was still alerted.
	if len(fake.sent) != 1 {
		t.Errorf("expected 1 successful send, got %d", len(fake.sent))
	}
}

func TestMockNotifierRecordsCalls(t *testing.T) {
	m := NewMockNotifier()
	if err := m.NotifyEscalation(context.Background(), testRequest()); err != nil {
		t.Fatalf("NotifyEscalation failed: %v", err)
	}
	if m.CallCount() != 1 {
		t.Errorf("expected 1 recorded call, got %d", m.CallCount())
	}

	m.FailWith = errors.New("forced")
	if err := m.NotifyEscalation(context.Background(), testRequest()); err == nil {
		t.Error("expected forced failure")
	}
}
