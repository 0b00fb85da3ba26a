package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Opts holds configuration options for the Twilio SMS notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// OnCallNumbers are the crisis-team phone numbers alerted on every
	// escalation.
	OnCallNumbers []string
}

// Option defines a configuration option for the Twilio SMS notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithOnCallNumbers sets the crisis-team phone numbers.
func WithOnCallNumbers(numbers []string) Option {
	return func(o *Opts) { o.OnCallNumbers = numbers }
}

// smsSender abstracts the Twilio message API for testing.
type smsSender interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier sends escalation alerts over SMS to the on-call numbers.
type TwilioNotifier struct {
	api        smsSender
	fromNumber string
	onCall     []string
}

// Compile-time check that TwilioNotifier implements Notifier.
var _ Notifier = (*TwilioNotifier)(nil)

// NewTwilioNotifier creates a Twilio-backed notifier. Credentials fall back
// to the TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER
// environment variables when not provided via options.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "",
		"onCallNumbers", len(cfg.OnCallNumbers))

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if len(cfg.OnCallNumbers) == 0 {
		return nil, fmt.Errorf("at least one on-call number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &TwilioNotifier{
		api:        client.Api,
		fromNumber: cfg.FromNumber,
		onCall:     cfg.OnCallNumbers,
	}, nil
}

// NotifyEscalation sends the alert to every on-call number. A partial
// failure returns an error so the outbox retries the whole delivery; the
// SMS body is identical across retries, so duplicates are tolerable.
func (n *TwilioNotifier) NotifyEscalation(ctx context.Context, req models.EscalationRequest) error {
	body := FormatEscalationBody(req)

	var failed []string
	for _, to := range n.onCall {
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(n.fromNumber)
		params.SetBody(body)

		if _, err := n.api.CreateMessage(params); err != nil {
			slog.Error("TwilioNotifier.NotifyEscalation: send failed", "to", to, "caseID", req.CaseID, "error", err)
			failed = append(failed, to)
			continue
		}
		slog.Info("TwilioNotifier.NotifyEscalation: alert sent", "to", to, "caseID", req.CaseID, "riskLevel", req.RiskLevel)
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to alert %d of %d on-call numbers (%s) for case %s",
			len(failed), len(n.onCall), strings.Join(failed, ", "), req.CaseID)
	}
	return nil
}
