package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/genai"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// ConversationAgentID is the registry identity of the conversation agent.
const ConversationAgentID = "conversation-agent"

const conversationSystemPrompt = "You are a supportive companion in a mental-health product. " +
	"Compose one short, warm, non-judgmental reply suggestion for a human support worker. " +
	"Do not diagnose, do not promise outcomes, and gently point to professional help when risk is elevated."

// ConversationAgent composes supportive reply suggestions for the
// conversation collaborator. With a GenAI client configured it drafts via
// the model; otherwise it falls back to deterministic templates keyed by
// risk level.
type ConversationAgent struct {
	client genai.ClientInterface // nil when disabled
	seen   *seenSet
}

// Compile-time check that ConversationAgent implements Agent.
var _ Agent = (*ConversationAgent)(nil)

// NewConversationAgent creates the conversation agent. A nil client keeps
// the template fallback only.
func NewConversationAgent(client genai.ClientInterface) *ConversationAgent {
	return &ConversationAgent{client: client, seen: newSeenSet()}
}

func (a *ConversationAgent) ID() string { return ConversationAgentID }

func (a *ConversationAgent) Capabilities() []string {
	return []string{models.CapabilityConversationSupport}
}

func (a *ConversationAgent) Handle(ctx context.Context, msg models.AgentMessage) error {
	if a.seen.MarkSeen(msg.MessageID) {
		slog.Debug("ConversationAgent.Handle: duplicate delivery skipped", "messageID", msg.MessageID)
		return nil
	}

	switch msg.Kind {
	case models.PayloadRiskAssessment:
		suggestion := a.ComposeSupport(ctx, *msg.RiskAssessment)
		slog.Info("ConversationAgent.Handle: reply suggestion composed",
			"subjectID", msg.RiskAssessment.SubjectID, "riskLevel", msg.RiskAssessment.RiskLevel, "suggestion", suggestion)
		return nil
	case models.PayloadMoodUpdate, models.PayloadEscalationRequest, models.PayloadEscalationResult:
		slog.Debug("ConversationAgent.Handle: ignoring kind", "kind", msg.Kind, "messageID", msg.MessageID)
		return nil
	default:
		return fmt.Errorf("message %s: %w", msg.MessageID, models.ErrUnknownPayload)
	}
}

// ComposeSupport returns a supportive reply suggestion for the assessment.
// It never fails: model errors fall back to the template.
func (a *ConversationAgent) ComposeSupport(ctx context.Context, assessment models.RiskAssessment) string {
	if a.client != nil {
		userPrompt := fmt.Sprintf("Risk level: %s. Detected concerns: %s. Draft a brief supportive reply suggestion.",
			assessment.RiskLevel, strings.Join(assessment.DetectedFactors, ", "))
		suggestion, err := a.client.GeneratePromptWithContext(ctx, conversationSystemPrompt, userPrompt)
		if err == nil && strings.TrimSpace(suggestion) != "" {
			return strings.TrimSpace(suggestion)
		}
		if err != nil {
			slog.Warn("ConversationAgent.ComposeSupport: model draft failed, using template", "subjectID", assessment.SubjectID, "error", err)
		}
	}
	return templateSupport(assessment.RiskLevel)
}

// templateSupport is the deterministic fallback per risk level.
func templateSupport(level models.RiskLevel) string {
	switch level {
	case models.RiskLevelCritical, models.RiskLevelHigh:
		return "Thank you for telling me this. What you are feeling matters, and you deserve immediate support. " +
			"Would it be okay if we connected you with a crisis counselor right now? You can also call or text 988 at any time."
	case models.RiskLevelMedium:
		return "That sounds really heavy, and I'm glad you shared it. You don't have to carry this alone. " +
			"Talking with a counselor could help; would you like help finding one?"
	case models.RiskLevelLow:
		return "Thank you for sharing how you're doing. It sounds like things have been difficult lately. " +
			"I'm here to listen, and small steps like reaching out are worth a lot."
	default:
		return "Thank you for checking in. I'm here whenever you want to talk about how things are going."
	}
}
