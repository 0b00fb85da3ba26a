package models

import (
	"strings"
	"testing"
	"time"
)

func TestSubmitInputRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		request SubmitInputRequest
		wantErr error
	}{
		{
			name: "valid chat input",
			request: SubmitInputRequest{
				SubjectID: "subj-1",
				Source:    SourceChat,
				Text:      "I feel a bit stressed about work",
			},
			wantErr: nil,
		},
		{
			name: "valid journal input",
			request: SubmitInputRequest{
				SubjectID: "subj-1",
				Source:    SourceJournal,
				Text:      "long day",
			},
			wantErr: nil,
		},
		{
			name: "missing subject",
			request: SubmitInputRequest{
				Source: SourceChat,
				Text:   "hello",
			},
			wantErr: ErrEmptySubjectID,
		},
		{
			name: "invalid source",
			request: SubmitInputRequest{
				SubjectID: "subj-1",
				Source:    InputSource("email"),
				Text:      "hello",
			},
			wantErr: ErrInvalidSource,
		},
		{
			name: "empty text",
			request: SubmitInputRequest{
				SubjectID: "subj-1",
				Source:    SourceChat,
			},
			wantErr: ErrEmptyText,
		},
		{
			name: "oversized text",
			request: SubmitInputRequest{
				SubjectID: "subj-1",
				Source:    SourceChat,
				Text:      strings.Repeat("a", MaxInputTextLength+1),
			},
			wantErr: ErrTextTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() error = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRiskLevelOrdering(t *testing.T) {
	ordered := []RiskLevel{RiskLevelNone, RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical}
	for i := 1; i < len(ordered); i++ {
		if !ordered[i].AtLeast(ordered[i-1]) {
			t.Errorf("expected %s to rank at least %s", ordered[i], ordered[i-1])
		}
		if ordered[i-1].AtLeast(ordered[i]) {
			t.Errorf("expected %s to rank below %s", ordered[i-1], ordered[i])
		}
	}

	if got := MaxRiskLevel(RiskLevelLow, RiskLevelHigh); got != RiskLevelHigh {
		t.Errorf("MaxRiskLevel(low, high) = %s; want high", got)
	}
	if got := MaxRiskLevel(RiskLevelCritical, RiskLevelMedium); got != RiskLevelCritical {
		t.Errorf("MaxRiskLevel(critical, medium) = %s; want critical", got)
	}
}

func TestSeverityWeights(t *testing.T) {
	if SeverityLow.Weight() != 1 || SeverityMedium.Weight() != 3 || SeverityHigh.Weight() != 6 {
		t.Errorf("unexpected severity weights: low=%v medium=%v high=%v",
			SeverityLow.Weight(), SeverityMedium.Weight(), SeverityHigh.Weight())
	}
	if IsValidSeverity(Severity("extreme")) {
		t.Error("expected unknown severity to be invalid")
	}
}

func TestCaseStateTransitions(t *testing.T) {
	tests := []struct {
		from    CaseState
		to      CaseState
		allowed bool
	}{
		{CaseStateMonitoring, CaseStatePendingEscalation, true},
		{CaseStateMonitoring, CaseStateEscalated, true},
		{CaseStatePendingEscalation, CaseStateEscalated, true},
		{CaseStatePendingEscalation, CaseStateCancelled, true},
		{CaseStateEscalated, CaseStateResolved, true},
		{CaseStateEscalated, CaseStateCancelled, true},
		{CaseStateEscalated, CaseStatePendingEscalation, false},
		{CaseStatePendingEscalation, CaseStateMonitoring, false},
		{CaseStateResolved, CaseStateEscalated, false},
		{CaseStateCancelled, CaseStatePendingEscalation, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%s -> %s) = %v; want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestCaseStateTerminal(t *testing.T) {
	if !CaseStateResolved.IsTerminal() || !CaseStateCancelled.IsTerminal() {
		t.Error("resolved and cancelled must be terminal")
	}
	if CaseStateMonitoring.IsTerminal() || CaseStatePendingEscalation.IsTerminal() || CaseStateEscalated.IsTerminal() {
		t.Error("active states must not be terminal")
	}
}

func TestCaseStateRiskFloor(t *testing.T) {
	if got := CaseStatePendingEscalation.RiskFloor(); got != RiskLevelMedium {
		t.Errorf("pending_escalation floor = %s; want medium", got)
	}
	if got := CaseStateEscalated.RiskFloor(); got != RiskLevelMedium {
		t.Errorf("escalated floor = %s; want medium", got)
	}
	if got := CaseStateMonitoring.RiskFloor(); got != RiskLevelNone {
		t.Errorf("monitoring floor = %s; want none", got)
	}
}

func TestAgentMessageValidation(t *testing.T) {
	assessment := RiskAssessment{SubjectID: "subj-1", RiskLevel: RiskLevelHigh}

	tests := []struct {
		name    string
		message AgentMessage
		wantErr error
	}{
		{
			name: "valid capability routed message",
			message: AgentMessage{
				MessageID:      "m-1",
				SenderID:       "coordinator",
				Capability:     CapabilityCrisisDetection,
				Kind:           PayloadRiskAssessment,
				RiskAssessment: &assessment,
			},
			wantErr: nil,
		},
		{
			name: "missing message ID",
			message: AgentMessage{
				SenderID:       "coordinator",
				Capability:     CapabilityCrisisDetection,
				Kind:           PayloadRiskAssessment,
				RiskAssessment: &assessment,
			},
			wantErr: ErrEmptyMessageID,
		},
		{
			name: "missing sender",
			message: AgentMessage{
				MessageID:      "m-2",
				Capability:     CapabilityCrisisDetection,
				Kind:           PayloadRiskAssessment,
				RiskAssessment: &assessment,
			},
			wantErr: ErrEmptySenderID,
		},
		{
			name: "no recipient or capability",
			message: AgentMessage{
				MessageID:      "m-3",
				SenderID:       "coordinator",
				Kind:           PayloadRiskAssessment,
				RiskAssessment: &assessment,
			},
			wantErr: ErrMissingRecipient,
		},
		{
			name: "payload kind mismatch",
			message: AgentMessage{
				MessageID:      "m-4",
				SenderID:       "coordinator",
				Capability:     CapabilityMoodAnalysis,
				Kind:           PayloadMoodUpdate,
				RiskAssessment: &assessment,
			},
			wantErr: ErrPayloadMismatch,
		},
		{
			name: "two payloads set",
			message: AgentMessage{
				MessageID:      "m-5",
				SenderID:       "coordinator",
				Capability:     CapabilityCrisisDetection,
				Kind:           PayloadRiskAssessment,
				RiskAssessment: &assessment,
				MoodUpdate:     &MoodUpdate{SubjectID: "subj-1", Score: 4},
			},
			wantErr: ErrPayloadMismatch,
		},
		{
			name: "unknown kind",
			message: AgentMessage{
				MessageID:      "m-6",
				SenderID:       "coordinator",
				Capability:     CapabilityCrisisDetection,
				Kind:           PayloadKind("telemetry"),
				RiskAssessment: &assessment,
			},
			wantErr: ErrUnknownPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.message.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() error = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRiskAssessmentMessagePriority(t *testing.T) {
	high := NewRiskAssessmentMessage("coordinator", CapabilityCrisisDetection,
		RiskAssessment{SubjectID: "subj-1", RiskLevel: RiskLevelCritical})
	if high.Priority != PriorityUrgent {
		t.Errorf("critical assessment priority = %s; want urgent", high.Priority)
	}

	low := NewRiskAssessmentMessage("coordinator", CapabilityCrisisDetection,
		RiskAssessment{SubjectID: "subj-1", RiskLevel: RiskLevelLow})
	if low.Priority != PriorityNormal {
		t.Errorf("low assessment priority = %s; want normal", low.Priority)
	}
}

func TestAgentMessageSubjectID(t *testing.T) {
	msg := NewEscalationRequestMessage("escalation", EscalationRequest{
		CaseID:    "esc_1",
		SubjectID: "subj-9",
		RiskLevel: RiskLevelHigh,
	})
	if got := msg.SubjectID(); got != "subj-9" {
		t.Errorf("SubjectID() = %q; want subj-9", got)
	}

	result := NewEscalationResultMessage("escalation", "coordinator", EscalationResult{
		CaseID:  "esc_1",
		Outcome: OutcomeContacted,
	})
	if got := result.SubjectID(); got != "" {
		t.Errorf("SubjectID() for result = %q; want empty", got)
	}
}

func TestMoodSampleRequestValidation(t *testing.T) {
	valid := MoodSampleRequest{Score: 5, EnergyLevel: 4, StressLevel: 6}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	for _, score := range []int{0, -1, 11} {
		r := MoodSampleRequest{Score: score}
		if err := r.Validate(); err != ErrInvalidMoodScore {
			t.Errorf("Validate() with score %d = %v; want ErrInvalidMoodScore", score, err)
		}
	}
}

func TestCaseActionRequestValidation(t *testing.T) {
	empty := CaseActionRequest{}
	if err := empty.Validate(true); err != ErrEmptyNotes {
		t.Errorf("Validate(requireNotes) = %v; want ErrEmptyNotes", err)
	}
	if err := empty.Validate(false); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	long := CaseActionRequest{Notes: strings.Repeat("n", MaxNotesLength+1)}
	if err := long.Validate(false); err != ErrNotesTooLong {
		t.Errorf("Validate() with long notes = %v; want ErrNotesTooLong", err)
	}
}

func TestEscalationCaseIsActive(t *testing.T) {
	now := time.Now()
	active := &EscalationCase{CaseID: "esc_1", SubjectID: "subj-1", State: CaseStateEscalated, OpenedAt: now}
	if !active.IsActive() {
		t.Error("escalated case should be active")
	}

	closed := &EscalationCase{CaseID: "esc_2", SubjectID: "subj-1", State: CaseStateResolved, OpenedAt: now}
	if closed.IsActive() {
		t.Error("resolved case should not be active")
	}

	var missing *EscalationCase
	if missing.IsActive() {
		t.Error("nil case should not be active")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"n": 1})
	if ok.Status != string(APIStatusOK) || ok.Result == nil || ok.Message != "" {
		t.Errorf("unexpected success response %+v", ok)
	}

	withMsg := SuccessWithMessage("Mood sample recorded", nil)
	if withMsg.Status != string(APIStatusOK) || withMsg.Message != "Mood sample recorded" {
		t.Errorf("unexpected success-with-message response %+v", withMsg)
	}

	failure := Error("Case not found")
	if failure.Status != string(APIStatusError) || failure.Message != "Case not found" || failure.Result != nil {
		t.Errorf("unexpected error response %+v", failure)
	}
}
