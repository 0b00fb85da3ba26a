package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/util"
)

// InMemoryStore keeps all state in process memory. It enforces the same
// invariants as the SQL backends (including the single-active-case rule)
// and is the default for tests and DSN-less development runs.
type InMemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]models.RiskAssessment // subjectID -> newest first
	cases       map[string]models.EscalationCase   // caseID -> case
	moods       map[string][]models.MoodUpdate     // subjectID -> newest first
	deadLetters []models.DeadLetter
	deliveries  map[string]EscalationDelivery
	deliverySeq []string // insertion order for fair claiming
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("NewInMemoryStore: creating in-memory store")
	return &InMemoryStore{
		assessments: make(map[string][]models.RiskAssessment),
		cases:       make(map[string]models.EscalationCase),
		moods:       make(map[string][]models.MoodUpdate),
		deliveries:  make(map[string]EscalationDelivery),
	}
}

func (s *InMemoryStore) AddAssessment(a models.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.SubjectID] = append([]models.RiskAssessment{a}, s.assessments[a.SubjectID]...)
	return nil
}

func (s *InMemoryStore) ListAssessments(subjectID string, since time.Time, limit int) ([]models.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RiskAssessment
	for _, a := range s.assessments[subjectID] {
		if a.CreatedAt.Before(since) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) PruneAssessments(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for subject, list := range s.assessments {
		kept := list[:0]
		for _, a := range list {
			if a.CreatedAt.Before(before) {
				pruned++
				continue
			}
			kept = append(kept, a)
		}
		s.assessments[subject] = kept
	}
	return pruned, nil
}

func (s *InMemoryStore) CreateCase(c models.EscalationCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.cases {
		if existing.SubjectID == c.SubjectID && !existing.State.IsTerminal() {
			return fmt.Errorf("active case %s exists for %s: %w", existing.CaseID, c.SubjectID, models.ErrCaseConflict)
		}
	}
	s.cases[c.CaseID] = c
	return nil
}

func (s *InMemoryStore) UpdateCase(c models.EscalationCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.CaseID]; !ok {
		return models.ErrCaseNotFound
	}
	s.cases[c.CaseID] = c
	return nil
}

func (s *InMemoryStore) GetCase(caseID string) (*models.EscalationCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) GetActiveCase(subjectID string) (*models.EscalationCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cases {
		if c.SubjectID == subjectID && !c.State.IsTerminal() {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListActiveCases() ([]models.EscalationCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EscalationCase
	for _, c := range s.cases {
		if !c.State.IsTerminal() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *InMemoryStore) AddMoodSample(m models.MoodUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moods[m.SubjectID] = append([]models.MoodUpdate{m}, s.moods[m.SubjectID]...)
	return nil
}

func (s *InMemoryStore) GetLatestMoodSample(subjectID string) (*models.MoodUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples := s.moods[subjectID]
	if len(samples) == 0 {
		return nil, nil
	}
	out := samples[0]
	return &out, nil
}

func (s *InMemoryStore) AddDeadLetter(d models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append([]models.DeadLetter{d}, s.deadLetters...)
	return nil
}

func (s *InMemoryStore) ListDeadLetters(limit int) ([]models.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.DeadLetter(nil), s.deadLetters...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) EnqueueEscalation(caseID, subjectID, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" {
		for _, id := range s.deliverySeq {
			d := s.deliveries[id]
			if d.DedupeKey == dedupeKey && d.Status != DeliveryStatusDelivered {
				slog.Debug("InMemoryStore.EnqueueEscalation: dedupe hit", "dedupeKey", dedupeKey, "existingID", id)
				return id, nil
			}
		}
	}

	now := time.Now().UTC()
	d := EscalationDelivery{
		ID:          util.GenerateRandomID("esc_", 32),
		CaseID:      caseID,
		SubjectID:   subjectID,
		PayloadJSON: payloadJSON,
		Status:      DeliveryStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.deliveries[d.ID] = d
	s.deliverySeq = append(s.deliverySeq, d.ID)
	return d.ID, nil
}

func (s *InMemoryStore) ClaimDueEscalations(now time.Time, limit int) ([]EscalationDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EscalationDelivery
	for _, id := range s.deliverySeq {
		d := s.deliveries[id]
		if d.Status != DeliveryStatusQueued {
			continue
		}
		if d.NextAttemptAt != nil && d.NextAttemptAt.After(now) {
			continue
		}
		claimed := now
		d.Status = DeliveryStatusSending
		d.LockedAt = &claimed
		d.UpdatedAt = now
		s.deliveries[id] = d
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkEscalationDelivered(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return fmt.Errorf("escalation delivery %s not found", id)
	}
	d.Status = DeliveryStatusDelivered
	d.LockedAt = nil
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[id] = d
	return nil
}

func (s *InMemoryStore) FailEscalation(id, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return fmt.Errorf("escalation delivery %s not found", id)
	}
	d.Status = DeliveryStatusQueued
	d.Attempts++
	d.LastError = errMsg
	d.NextAttemptAt = &nextAttemptAt
	d.LockedAt = nil
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[id] = d
	return nil
}

func (s *InMemoryStore) RequeueStaleEscalations(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, d := range s.deliveries {
		if d.Status == DeliveryStatusSending && d.LockedAt != nil && d.LockedAt.Before(staleBefore) {
			d.Status = DeliveryStatusQueued
			d.LockedAt = nil
			d.UpdatedAt = time.Now().UTC()
			s.deliveries[id] = d
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
