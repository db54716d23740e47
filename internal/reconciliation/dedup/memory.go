package dedup

import (
	"context"
	"sync"
)

// InMemory is a map-backed dedup store for tests and single-instance runs.
// Markers never expire; process lifetime bounds the memory.
type InMemory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{seen: make(map[string]struct{})}
}

func (s *InMemory) MarkSeen(ctx context.Context, notificationID string) (bool, error) {
	if notificationID == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[notificationID]; ok {
		return false, nil
	}
	s.seen[notificationID] = struct{}{}
	return true, nil
}
