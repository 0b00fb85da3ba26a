// Package agents contains the in-process logical agents: crisis detection,
// escalation handling, mood tracking, and conversation support. Agents are
// bus handlers owned by a supervisor that registers them, attaches them, and
// heartbeats on their behalf.
package agents

import (
	"context"
	"sync"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// Agent is one logical agent: an identity, its capability tags, and a bus
// handler. Handlers must be idempotent on MessageID: the bus delivers
// at-least-once and may redeliver.
type Agent interface {
	ID() string
	Capabilities() []string
	Handle(ctx context.Context, msg models.AgentMessage) error
}

// Publisher is the bus surface agents publish through.
type Publisher interface {
	Publish(ctx context.Context, msg models.AgentMessage) (models.DeliveryReceipt, error)
}

// seenLimit bounds the idempotency window. Redeliveries arrive within
// seconds; a few thousand message IDs is plenty.
const seenLimit = 4096

// seenSet is a bounded set of processed message IDs, used by agents to drop
// bus redeliveries. Safe for concurrent use.
type seenSet struct {
	mu    sync.Mutex
	ids   map[string]bool
	order []string
}

func newSeenSet() *seenSet {
	return &seenSet{ids: make(map[string]bool)}
}

// MarkSeen records the ID and reports whether it was already present.
func (s *seenSet) MarkSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return true
	}
	s.ids[id] = true
	s.order = append(s.order, id)
	if len(s.order) > seenLimit {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, evict)
	}
	return false
}

// Forget removes an ID so a later MarkSeen reports it as new.
func (s *seenSet) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ids[id] {
		return
	}
	delete(s.ids, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
