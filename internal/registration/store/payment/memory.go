package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"confreg/internal/registration/models"
	"confreg/pkg/platform/sentinel"
)

// InMemory is a map-backed payment store for tests and local runs. It
// mirrors the gateway-id uniqueness and the guarded state update of the
// PostgreSQL store.
type InMemory struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*models.Payment
}

func NewInMemory() *InMemory {
	return &InMemory{payments: make(map[uuid.UUID]*models.Payment)}
}

func (s *InMemory) Create(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.GatewayID != "" {
		for _, existing := range s.payments {
			if existing.GatewayID == payment.GatewayID {
				return sentinel.ErrConflict
			}
		}
	}

	clone := clonePayment(payment)
	s.payments[payment.ID] = clone
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clonePayment(payment), nil
}

func (s *InMemory) FindByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if gatewayID == "" {
		return nil, sentinel.ErrNotFound
	}
	for _, payment := range s.payments {
		if payment.GatewayID == gatewayID {
			return clonePayment(payment), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByRegistrant returns a registrant's payments newest-first.
func (s *InMemory) ListByRegistrant(ctx context.Context, registrantID uuid.UUID) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payments []*models.Payment
	for _, payment := range s.payments {
		if payment.RegistrantID == registrantID {
			payments = append(payments, clonePayment(payment))
		}
	}
	sortNewestFirst(payments)
	return payments, nil
}

func (s *InMemory) FindLatestByRegistrant(ctx context.Context, registrantID uuid.UUID) (*models.Payment, error) {
	payments, err := s.ListByRegistrant(ctx, registrantID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return payments[0], nil
}

func (s *InMemory) ListByState(ctx context.Context, state models.PaymentState) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payments []*models.Payment
	for _, payment := range s.payments {
		if payment.State == state {
			payments = append(payments, clonePayment(payment))
		}
	}
	sortNewestFirst(payments)
	return payments, nil
}

func (s *InMemory) CountByState(ctx context.Context, state models.PaymentState) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, payment := range s.payments {
		if payment.State == state {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) SumAmountByState(ctx context.Context, state models.PaymentState) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, payment := range s.payments {
		if payment.State == state {
			sum = sum.Add(payment.Amount)
		}
	}
	return sum, nil
}

// UpdateState applies a state transition under the store lock, serializing
// concurrent attempts on the same payment. Only PENDING rows move; a row
// already in the requested state is returned unchanged, any other terminal
// row yields sentinel.ErrInvalidState.
func (s *InMemory) UpdateState(ctx context.Context, paymentID uuid.UUID, newState models.PaymentState, rawGatewayStatus string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	if payment.State != models.PaymentStatePending {
		if payment.State == newState {
			return clonePayment(payment), nil
		}
		return nil, sentinel.ErrInvalidState
	}

	payment.State = newState
	payment.GatewayStatus = rawGatewayStatus
	payment.UpdatedAt = time.Now()
	return clonePayment(payment), nil
}

func clonePayment(p *models.Payment) *models.Payment {
	clone := *p
	clone.Companions = append([]string(nil), p.Companions...)
	return &clone
}

func sortNewestFirst(payments []*models.Payment) {
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
}
