package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps events in process memory, grouped by subject.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
	order  []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]Event)}
}

func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SubjectDID] = append(s.events[event.SubjectDID], event)
	s.order = append(s.order, event)
	return nil
}

func (s *MemoryStore) ListBySubject(_ context.Context, did string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[did]...), nil
}

// ListRecent returns up to limit events, oldest first.
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.order)-limit, 0)
	return append([]Event{}, s.order[start:]...), nil
}
