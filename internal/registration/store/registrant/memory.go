package registrant

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"confreg/internal/registration/models"
	"confreg/pkg/platform/sentinel"
)

// InMemory is a map-backed registrant store for tests and local runs. It
// mirrors the uniqueness semantics of the PostgreSQL store.
type InMemory struct {
	mu          sync.RWMutex
	registrants map[uuid.UUID]*models.Registrant
}

func NewInMemory() *InMemory {
	return &InMemory{registrants: make(map[uuid.UUID]*models.Registrant)}
}

func (s *InMemory) Create(ctx context.Context, registrant *models.Registrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.registrants {
		if strings.EqualFold(existing.Email, registrant.Email) ||
			existing.NationalID == registrant.NationalID {
			return sentinel.ErrConflict
		}
	}

	clone := *registrant
	s.registrants[registrant.ID] = &clone
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id uuid.UUID) (*models.Registrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	registrant, ok := s.registrants[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *registrant
	return &clone, nil
}

func (s *InMemory) FindByEmailOrNationalID(ctx context.Context, email, nationalID string) (*models.Registrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, registrant := range s.registrants {
		if strings.EqualFold(registrant.Email, email) || registrant.NationalID == nationalID {
			clone := *registrant
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByNationalID(ctx context.Context, nationalID string) (*models.Registrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, registrant := range s.registrants {
		if registrant.NationalID == nationalID {
			clone := *registrant
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// FindByNameFragment matches the first registrant whose name contains the
// fragment, case-insensitively. Used by the manual-approval path.
func (s *InMemory) FindByNameFragment(ctx context.Context, fragment string) (*models.Registrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(fragment)
	var matches []*models.Registrant
	for _, registrant := range s.registrants {
		if strings.Contains(strings.ToLower(registrant.FullName), needle) {
			matches = append(matches, registrant)
		}
	}
	if len(matches) == 0 {
		return nil, sentinel.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	clone := *matches[0]
	return &clone, nil
}

func (s *InMemory) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registrants), nil
}

func (s *InMemory) ListRecent(ctx context.Context, limit int) ([]*models.Registrant, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListAll returns registrants newest-first.
func (s *InMemory) ListAll(ctx context.Context) ([]*models.Registrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Registrant, 0, len(s.registrants))
	for _, registrant := range s.registrants {
		clone := *registrant
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all, nil
}
