package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/util"
	"github.com/google/uuid"
)

// Delivery defaults. Retries back off exponentially from InitialBackoff;
// exhaustion dead-letters the message for manual inspection.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultQueueSize      = 64
)

// NoRouteError indicates no routable agent matched the requested capability
// or recipient. Callers must degrade fail-safe, never fail-open: absence of
// a crisis-handling agent is treated as "assume escalation required".
type NoRouteError struct {
	Capability  string
	RecipientID string
}

func (e *NoRouteError) Error() string {
	if e.RecipientID != "" {
		return fmt.Sprintf("no route to agent %q", e.RecipientID)
	}
	return fmt.Sprintf("no routable agent with capability %q", e.Capability)
}

// Handler consumes a delivered message. Handlers must be idempotent on
// MessageID: the bus guarantees at-least-once delivery and may redeliver.
type Handler func(ctx context.Context, msg models.AgentMessage) error

// DeadLetterSink receives messages that exhausted their delivery attempts.
type DeadLetterSink interface {
	AddDeadLetter(d models.DeadLetter) error
}

// Opts holds configuration options for the bus.
type Opts struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	QueueSize      int
}

// Option defines a configuration option for the bus.
type Option func(*Opts)

// WithMaxAttempts overrides the per-recipient delivery attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// WithInitialBackoff overrides the first retry delay.
func WithInitialBackoff(d time.Duration) Option {
	return func(o *Opts) { o.InitialBackoff = d }
}

// WithQueueSize overrides the per-edge delivery queue capacity.
func WithQueueSize(n int) Option {
	return func(o *Opts) { o.QueueSize = n }
}

// edgeKey identifies one (sender, recipient) delivery lane. Messages on the
// same lane are delivered in send order; lanes are independent.
type edgeKey struct {
	sender    string
	recipient string
}

// Bus routes typed AgentMessages between in-process agents. Publish is
// non-blocking with respect to handler execution: delivery happens on
// per-edge goroutines with bounded queues, and a full queue dead-letters
// rather than stalling the publisher.
type Bus struct {
	registry    *Registry
	deadLetters DeadLetterSink

	mu       sync.Mutex
	handlers map[string]Handler
	edges    map[edgeKey]chan models.AgentMessage
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	maxAttempts    int
	initialBackoff time.Duration
	queueSize      int
}

// New creates a message bus over the given registry. Dead letters go to the
// sink; a nil sink keeps them out of durable storage but still logs them.
func New(registry *Registry, deadLetters DeadLetterSink, opts ...Option) *Bus {
	cfg := Opts{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		QueueSize:      DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		registry:       registry,
		deadLetters:    deadLetters,
		handlers:       make(map[string]Handler),
		edges:          make(map[edgeKey]chan models.AgentMessage),
		baseCtx:        ctx,
		cancel:         cancel,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		queueSize:      cfg.QueueSize,
	}
}

// Attach binds the delivery handler for an agent. Only attached agents are
// routable: a registered agent without a handler has no transport on this
// single-node bus.
func (b *Bus) Attach(agentID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[agentID] = h
	slog.Debug("Bus.Attach: handler attached", "agentID", agentID)
}

// Detach removes the delivery handler for an agent.
func (b *Bus) Detach(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, agentID)
	slog.Debug("Bus.Detach: handler detached", "agentID", agentID)
}

// Publish validates and routes a message. Routing resolves either the
// explicit recipient or a capability fan-out across all routable agents.
// The returned receipt confirms enqueueing, not delivery; delivery proceeds
// asynchronously with at-least-once semantics.
func (b *Bus) Publish(ctx context.Context, msg models.AgentMessage) (models.DeliveryReceipt, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return models.DeliveryReceipt{}, fmt.Errorf("invalid message %s: %w", msg.MessageID, err)
	}

	recipients, err := b.resolveRecipients(msg)
	if err != nil {
		return models.DeliveryReceipt{}, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return models.DeliveryReceipt{}, fmt.Errorf("bus is closed")
	}
	for _, recipient := range recipients {
		key := edgeKey{sender: msg.SenderID, recipient: recipient}
		ch, ok := b.edges[key]
		if !ok {
			ch = make(chan models.AgentMessage, b.queueSize)
			b.edges[key] = ch
			b.wg.Add(1)
			go b.deliverLoop(key, ch)
		}
		select {
		case ch <- msg:
		default:
			// A stalled consumer must not block crisis routing; overflow is
			// preserved as a dead letter instead.
			b.deadLetter(msg, recipient, "delivery queue overflow", 0)
		}
	}
	b.mu.Unlock()

	slog.Debug("Bus.Publish: message enqueued", "messageID", msg.MessageID, "sender", msg.SenderID, "kind", msg.Kind, "recipients", len(recipients))
	return models.DeliveryReceipt{
		MessageID:  msg.MessageID,
		Recipients: recipients,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// resolveRecipients snapshots the routable recipients for a message.
func (b *Bus) resolveRecipients(msg models.AgentMessage) ([]string, error) {
	b.mu.Lock()
	handlers := make(map[string]bool, len(b.handlers))
	for id := range b.handlers {
		handlers[id] = true
	}
	b.mu.Unlock()

	if msg.RecipientID != "" {
		d, ok := b.registry.Get(msg.RecipientID)
		if !ok || d.Status == models.AgentStatusOffline || !handlers[msg.RecipientID] {
			return nil, &NoRouteError{RecipientID: msg.RecipientID}
		}
		return []string{msg.RecipientID}, nil
	}

	var recipients []string
	for _, d := range b.registry.Routable(msg.Capability) {
		if handlers[d.AgentID] {
			recipients = append(recipients, d.AgentID)
		}
	}
	if len(recipients) == 0 {
		return nil, &NoRouteError{Capability: msg.Capability}
	}
	return recipients, nil
}

// deliverLoop serializes deliveries for one (sender, recipient) edge,
// preserving send order on that edge.
func (b *Bus) deliverLoop(key edgeKey, ch chan models.AgentMessage) {
	defer b.wg.Done()
	for {
		select {
		case <-b.baseCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.deliver(key.recipient, msg)
		}
	}
}

// deliver attempts the handler with bounded retries and exponential backoff,
// dead-lettering on exhaustion.
func (b *Bus) deliver(recipient string, msg models.AgentMessage) {
	b.mu.Lock()
	handler := b.handlers[recipient]
	b.mu.Unlock()

	if handler == nil {
		b.deadLetter(msg, recipient, "handler detached before delivery", 0)
		return
	}

	backoff := b.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		msg.DeliveryAttempts = attempt
		lastErr = handler(b.baseCtx, msg)
		if lastErr == nil {
			slog.Debug("Bus.deliver: delivered", "messageID", msg.MessageID, "recipient", recipient, "attempt", attempt)
			return
		}
		slog.Warn("Bus.deliver: handler failed", "messageID", msg.MessageID, "recipient", recipient, "attempt", attempt, "error", lastErr)
		if attempt < b.maxAttempts {
			select {
			case <-b.baseCtx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	b.deadLetter(msg, recipient, lastErr.Error(), b.maxAttempts)
}

// deadLetter records an undeliverable message for manual inspection. Dead
// letters are never silently dropped: failure to persist one is logged at
// error level with the full message identity.
func (b *Bus) deadLetter(msg models.AgentMessage, recipient, reason string, attempts int) {
	d := models.DeadLetter{
		ID:        util.GenerateRandomID("dl_", 32),
		MessageID: msg.MessageID,
		Recipient: recipient,
		Reason:    reason,
		Attempts:  attempts,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}
	slog.Error("Bus.deadLetter: message dead-lettered", "messageID", msg.MessageID, "recipient", recipient, "reason", reason, "subjectID", msg.SubjectID())
	if b.deadLetters == nil {
		return
	}
	if err := b.deadLetters.AddDeadLetter(d); err != nil {
		slog.Error("Bus.deadLetter: failed to persist dead letter", "messageID", msg.MessageID, "error", err)
	}
}

// Close stops delivery loops. Queued messages that were not yet delivered
// are abandoned; Close is for shutdown, not draining.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	slog.Debug("Bus.Close: bus stopped")
}
