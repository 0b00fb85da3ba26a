// Package notify delivers escalation alerts to the on-call crisis team.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// Notifier is the escalation delivery collaborator. Failures surface to the
// caller so the escalation outbox can retry; a returned error never means
// the escalation decision itself failed.
type Notifier interface {
	NotifyEscalation(ctx context.Context, req models.EscalationRequest) error
}

// FormatEscalationBody renders the on-call alert text for an escalation
// request. Shared by all notifier implementations so every channel carries
// the same facts: case, subject, level, and the triggering excerpt.
func FormatEscalationBody(req models.EscalationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CRISIS ESCALATION [%s]\n", strings.ToUpper(string(req.RiskLevel)))
	fmt.Fprintf(&b, "Case: %s\n", req.CaseID)
	fmt.Fprintf(&b, "Subject: %s\n", req.SubjectID)
	if req.RecommendedChannel != "" {
		fmt.Fprintf(&b, "Recommended channel: %s\n", req.RecommendedChannel)
	}
	if req.TriggerExcerpt != "" {
		fmt.Fprintf(&b, "Trigger: %q\n", req.TriggerExcerpt)
	}
	fmt.Fprintf(&b, "Received: %s", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}
