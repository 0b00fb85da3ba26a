package models

import (
	"errors"
	"fmt"
	"time"
)

// AgentStatus represents the liveness of a registered agent.
type AgentStatus string

const (
	// AgentStatusOnline indicates the agent heartbeats within the timeout.
	AgentStatusOnline AgentStatus = "online"
	// AgentStatusDegraded indicates the agent missed recent heartbeats but
	// has not yet timed out; it still receives messages.
	AgentStatusDegraded AgentStatus = "degraded"
	// AgentStatusOffline indicates the heartbeat timeout elapsed; the agent
	// is excluded from routing but kept for audit.
	AgentStatusOffline AgentStatus = "offline"
)

// Capability tags used for message routing.
const (
	// CapabilityCrisisDetection routes risk assessments to crisis detectors.
	CapabilityCrisisDetection = "crisis_detection"
	// CapabilityEscalationHandling routes escalation requests to managers.
	CapabilityEscalationHandling = "escalation_handling"
	// CapabilityMoodAnalysis routes mood updates to mood trackers.
	CapabilityMoodAnalysis = "mood_analysis"
	// CapabilityConversationSupport routes assessments to conversation agents.
	CapabilityConversationSupport = "conversation_support"
)

// AgentDescriptor describes one registered agent. It is owned by the agent
// registry and mutated only by registration and heartbeat events.
type AgentDescriptor struct {
	AgentID       string      `json:"agent_id"`
	Capabilities  []string    `json:"capability_tags"`
	Status        AgentStatus `json:"status"`
	RegisteredAt  time.Time   `json:"registered_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}

// HasCapability reports whether the descriptor carries the given tag.
func (d *AgentDescriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// MessagePriority hints how urgently a message should be treated by its
// consumer. It never reorders delivery: per-sender ordering is preserved.
type MessagePriority string

const (
	// PriorityLow marks informational messages.
	PriorityLow MessagePriority = "low"
	// PriorityNormal is the default priority.
	PriorityNormal MessagePriority = "normal"
	// PriorityHigh marks messages about elevated risk.
	PriorityHigh MessagePriority = "high"
	// PriorityUrgent marks crisis alerts requiring immediate handling.
	PriorityUrgent MessagePriority = "urgent"
)

// PayloadKind tags the payload variant carried by an AgentMessage.
type PayloadKind string

const (
	// PayloadRiskAssessment carries a RiskAssessment.
	PayloadRiskAssessment PayloadKind = "risk_assessment"
	// PayloadMoodUpdate carries a MoodUpdate.
	PayloadMoodUpdate PayloadKind = "mood_update"
	// PayloadEscalationRequest carries an EscalationRequest.
	PayloadEscalationRequest PayloadKind = "escalation_request"
	// PayloadEscalationResult carries an EscalationResult.
	PayloadEscalationResult PayloadKind = "escalation_result"
)

// Error variables for message validation and routing
var (
	ErrEmptyMessageID   = errors.New("message ID cannot be empty")
	ErrEmptySenderID    = errors.New("sender ID cannot be empty")
	ErrMissingRecipient = errors.New("message needs a recipient ID or a capability")
	ErrPayloadMismatch  = errors.New("message payload does not match its kind")
	ErrUnknownPayload   = errors.New("unknown message payload kind")
)

// MoodUpdate reports a subject's mood sample or a mood alert derived from
// the rolling baseline.
type MoodUpdate struct {
	SubjectID   string `json:"subject_id"`
	Score       int    `json:"score"`
	EnergyLevel int    `json:"energy_level,omitempty"`
	StressLevel int    `json:"stress_level,omitempty"`
	Note        string `json:"note,omitempty"`
	// Trend and Alert are filled by the mood tracker when it republishes a
	// sample that crossed an alert threshold.
	Trend      MoodTrend `json:"trend,omitempty"`
	Alert      string    `json:"alert,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MoodTrend classifies the direction of a subject's recent mood.
type MoodTrend string

const (
	// TrendImproving indicates mood above the rolling baseline.
	TrendImproving MoodTrend = "improving"
	// TrendStable indicates mood near the rolling baseline.
	TrendStable MoodTrend = "stable"
	// TrendDeclining indicates mood below the rolling baseline.
	TrendDeclining MoodTrend = "declining"
)

// EscalationRequest asks the escalation collaborator to involve a human or
// professional channel for an active case.
type EscalationRequest struct {
	CaseID             string    `json:"case_id"`
	SubjectID          string    `json:"subject_id"`
	RiskLevel          RiskLevel `json:"risk_level"`
	TriggerExcerpt     string    `json:"trigger_excerpt,omitempty"`
	RecommendedChannel string    `json:"recommended_channel,omitempty"`
}

// EscalationResult is the collaborator's eventual answer to an
// EscalationRequest. A non-nil ResolvedAt resolves the case.
type EscalationResult struct {
	CaseID     string            `json:"case_id"`
	Outcome    EscalationOutcome `json:"outcome"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	Notes      string            `json:"notes,omitempty"`
}

// AgentMessage is the typed envelope routed between agents. The payload is
// a closed tagged union: exactly one payload field matching Kind is set, and
// consumers switch exhaustively on Kind.
type AgentMessage struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	// RecipientID routes to one explicit agent; Capability fans out to all
	// online agents carrying the tag. Exactly one should be set.
	RecipientID string          `json:"recipient_id,omitempty"`
	Capability  string          `json:"capability,omitempty"`
	Priority    MessagePriority `json:"priority,omitempty"`
	Kind        PayloadKind     `json:"kind"`

	RiskAssessment    *RiskAssessment    `json:"risk_assessment,omitempty"`
	MoodUpdate        *MoodUpdate        `json:"mood_update,omitempty"`
	EscalationRequest *EscalationRequest `json:"escalation_request,omitempty"`
	EscalationResult  *EscalationResult  `json:"escalation_result,omitempty"`

	CreatedAt        time.Time `json:"created_at"`
	DeliveryAttempts int       `json:"delivery_attempts,omitempty"`
}

// Validate performs comprehensive validation on an AgentMessage.
func (m *AgentMessage) Validate() error {
	if m.MessageID == "" {
		return ErrEmptyMessageID
	}
	if m.SenderID == "" {
		return ErrEmptySenderID
	}
	if m.RecipientID == "" && m.Capability == "" {
		return ErrMissingRecipient
	}

	set := 0
	if m.RiskAssessment != nil {
		set++
	}
	if m.MoodUpdate != nil {
		set++
	}
	if m.EscalationRequest != nil {
		set++
	}
	if m.EscalationResult != nil {
		set++
	}
	if set != 1 {
		return ErrPayloadMismatch
	}

	switch m.Kind {
	case PayloadRiskAssessment:
		if m.RiskAssessment == nil {
			return ErrPayloadMismatch
		}
	case PayloadMoodUpdate:
		if m.MoodUpdate == nil {
			return ErrPayloadMismatch
		}
	case PayloadEscalationRequest:
		if m.EscalationRequest == nil {
			return ErrPayloadMismatch
		}
	case PayloadEscalationResult:
		if m.EscalationResult == nil {
			return ErrPayloadMismatch
		}
	default:
		return ErrUnknownPayload
	}
	return nil
}

// SubjectID returns the subject the payload concerns, used for logging and
// dead-letter audit.
func (m *AgentMessage) SubjectID() string {
	switch m.Kind {
	case PayloadRiskAssessment:
		if m.RiskAssessment != nil {
			return m.RiskAssessment.SubjectID
		}
	case PayloadMoodUpdate:
		if m.MoodUpdate != nil {
			return m.MoodUpdate.SubjectID
		}
	case PayloadEscalationRequest:
		if m.EscalationRequest != nil {
			return m.EscalationRequest.SubjectID
		}
	case PayloadEscalationResult:
		// Results reference the case, not the subject directly.
	}
	return ""
}

// NewRiskAssessmentMessage builds a capability-routed message carrying a
// risk assessment. The bus assigns the message ID on publish.
func NewRiskAssessmentMessage(senderID, capability string, assessment RiskAssessment) AgentMessage {
	priority := PriorityNormal
	if assessment.RiskLevel.AtLeast(RiskLevelHigh) {
		priority = PriorityUrgent
	}
	return AgentMessage{
		SenderID:       senderID,
		Capability:     capability,
		Priority:       priority,
		Kind:           PayloadRiskAssessment,
		RiskAssessment: &assessment,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewMoodUpdateMessage builds a capability-routed message carrying a mood
// sample or alert.
func NewMoodUpdateMessage(senderID, capability string, update MoodUpdate) AgentMessage {
	return AgentMessage{
		SenderID:   senderID,
		Capability: capability,
		Priority:   PriorityNormal,
		Kind:       PayloadMoodUpdate,
		MoodUpdate: &update,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewEscalationRequestMessage builds a capability-routed escalation request.
func NewEscalationRequestMessage(senderID string, req EscalationRequest) AgentMessage {
	return AgentMessage{
		SenderID:          senderID,
		Capability:        CapabilityEscalationHandling,
		Priority:          PriorityUrgent,
		Kind:              PayloadEscalationRequest,
		EscalationRequest: &req,
		CreatedAt:         time.Now().UTC(),
	}
}

// NewEscalationResultMessage builds a message reporting the outcome of an
// escalation request back to the sender.
func NewEscalationResultMessage(senderID, recipientID string, result EscalationResult) AgentMessage {
	return AgentMessage{
		SenderID:         senderID,
		RecipientID:      recipientID,
		Priority:         PriorityHigh,
		Kind:             PayloadEscalationResult,
		EscalationResult: &result,
		CreatedAt:        time.Now().UTC(),
	}
}

// DeliveryReceipt confirms that a published message was routed. Delivery to
// each recipient then proceeds asynchronously with at-least-once semantics.
type DeliveryReceipt struct {
	MessageID  string    `json:"message_id"`
	Recipients []string  `json:"recipients"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeadLetter records a message that exhausted its delivery attempts to one
// recipient. Dead letters are retained for manual inspection.
type DeadLetter struct {
	ID        string       `json:"id"`
	MessageID string       `json:"message_id"`
	Recipient string       `json:"recipient"`
	Reason    string       `json:"reason"`
	Attempts  int          `json:"attempts"`
	Message   AgentMessage `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}

// String implements fmt.Stringer for concise log output.
func (m *AgentMessage) String() string {
	target := m.RecipientID
	if target == "" {
		target = "cap:" + m.Capability
	}
	return fmt.Sprintf("%s %s->%s kind=%s", m.MessageID, m.SenderID, target, m.Kind)
}
