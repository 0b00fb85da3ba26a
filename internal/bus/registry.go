// Package bus provides the agent registry and the typed in-process message
// bus that routes messages between logical agents by identity or capability.
package bus

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// DefaultHeartbeatTimeout is how long an agent may go without a heartbeat
// before it is marked offline and excluded from routing.
const DefaultHeartbeatTimeout = 60 * time.Second

// ErrAgentNotFound indicates the agent ID is not in the registry.
var ErrAgentNotFound = errors.New("agent not registered")

// RegistryOpts holds configuration options for the registry.
type RegistryOpts struct {
	HeartbeatTimeout time.Duration
	Now              func() time.Time
}

// RegistryOption defines a configuration option for the registry.
type RegistryOption func(*RegistryOpts)

// WithHeartbeatTimeout overrides the heartbeat timeout.
func WithHeartbeatTimeout(d time.Duration) RegistryOption {
	return func(o *RegistryOpts) { o.HeartbeatTimeout = d }
}

// WithRegistryClock overrides the time source, used by tests.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(o *RegistryOpts) { o.Now = now }
}

// Registry tracks the set of live logical agents. It is read-mostly: routing
// reads take the read lock, registration and heartbeats take the write lock.
// Offline agents are kept for audit and excluded from routing; a later
// heartbeat revives them.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]models.AgentDescriptor
	timeout time.Duration
	now     func() time.Time
}

// NewRegistry creates an empty agent registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := RegistryOpts{HeartbeatTimeout: DefaultHeartbeatTimeout, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		agents:  make(map[string]models.AgentDescriptor),
		timeout: cfg.HeartbeatTimeout,
		now:     cfg.Now,
	}
}

// Register adds or re-registers an agent with its capability tags.
// Re-registering an offline agent brings it back online.
func (r *Registry) Register(agentID string, capabilities []string) (models.AgentDescriptor, error) {
	if agentID == "" {
		return models.AgentDescriptor{}, models.ErrEmptyAgentID
	}
	if len(capabilities) == 0 {
		return models.AgentDescriptor{}, models.ErrNoCapabilityTags
	}

	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	d, existed := r.agents[agentID]
	if !existed {
		d = models.AgentDescriptor{AgentID: agentID, RegisteredAt: now}
	}
	d.Capabilities = append([]string(nil), capabilities...)
	d.Status = models.AgentStatusOnline
	d.LastHeartbeat = now
	r.agents[agentID] = d

	slog.Info("Registry.Register: agent registered", "agentID", agentID, "capabilities", capabilities, "reregistered", existed)
	return d, nil
}

// Heartbeat refreshes an agent's liveness. An offline agent that heartbeats
// again becomes online.
func (r *Registry) Heartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	d.LastHeartbeat = r.now().UTC()
	d.Status = models.AgentStatusOnline
	r.agents[agentID] = d
	return nil
}

// Deregister marks an agent offline. The descriptor is retained for audit.
func (r *Registry) Deregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	d.Status = models.AgentStatusOffline
	r.agents[agentID] = d
	slog.Info("Registry.Deregister: agent deregistered", "agentID", agentID)
	return nil
}

// Get returns the descriptor for one agent with its effective status.
func (r *Registry) Get(agentID string) (models.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.agents[agentID]
	if !ok {
		return models.AgentDescriptor{}, false
	}
	d.Status = r.effectiveStatus(d)
	return d, true
}

// List returns a copy of all descriptors, ordered by agent ID, with their
// effective statuses.
func (r *Registry) List() []models.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AgentDescriptor, 0, len(r.agents))
	for _, d := range r.agents {
		d.Status = r.effectiveStatus(d)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Routable returns the descriptors of agents that carry the capability and
// are not offline. Degraded agents still receive messages.
func (r *Registry) Routable(capability string) []models.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AgentDescriptor
	for _, d := range r.agents {
		status := r.effectiveStatus(d)
		if status == models.AgentStatusOffline {
			continue
		}
		if d.HasCapability(capability) {
			d.Status = status
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Sweep recomputes statuses against the heartbeat timeout and persists the
// transitions, returning how many agents went offline. Called periodically
// by the scheduler and once at startup recovery.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for id, d := range r.agents {
		status := r.effectiveStatus(d)
		if status != d.Status {
			if status == models.AgentStatusOffline {
				expired++
				slog.Warn("Registry.Sweep: agent heartbeat expired", "agentID", id, "lastHeartbeat", d.LastHeartbeat)
			}
			d.Status = status
			r.agents[id] = d
		}
	}
	return expired
}

// effectiveStatus derives the status from the last heartbeat: degraded after
// half the timeout, offline after the full timeout. Explicitly deregistered
// agents stay offline until they register or heartbeat again.
func (r *Registry) effectiveStatus(d models.AgentDescriptor) models.AgentStatus {
	if d.Status == models.AgentStatusOffline {
		return models.AgentStatusOffline
	}
	elapsed := r.now().UTC().Sub(d.LastHeartbeat)
	switch {
	case elapsed > r.timeout:
		return models.AgentStatusOffline
	case elapsed > r.timeout/2:
		return models.AgentStatusDegraded
	default:
		return models.AgentStatusOnline
	}
}
