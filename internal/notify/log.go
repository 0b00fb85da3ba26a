package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// LogNotifier writes escalation alerts to the log. Used in development and
// as the fallback when no Twilio credentials are configured: the escalation
// pipeline still exercises end to end, just without an external channel.
type LogNotifier struct{}

// Compile-time check that LogNotifier implements Notifier.
var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyEscalation(ctx context.Context, req models.EscalationRequest) error {
	slog.Warn("LogNotifier.NotifyEscalation: escalation alert",
		"caseID", req.CaseID,
		"subjectID", req.SubjectID,
		"riskLevel", req.RiskLevel,
		"channel", req.RecommendedChannel,
		"excerpt", req.TriggerExcerpt)
	return nil
}

// MockNotifier records escalation requests for tests.
type MockNotifier struct {
	mu       sync.Mutex
	Calls    []models.EscalationRequest
	FailWith error
}

// NewMockNotifier creates an empty mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) NotifyEscalation(ctx context.Context, req models.EscalationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.Calls = append(m.Calls, req)
	return nil
}

// CallCount returns the number of recorded escalations.
func (m *MockNotifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
