package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"confreg/internal/registration/models"
	"confreg/pkg/platform/sentinel"
)

type PaymentStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *PaymentStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestPaymentStoreSuite(t *testing.T) {
	suite.Run(t, new(PaymentStoreSuite))
}

func (s *PaymentStoreSuite) newPayment(state models.PaymentState, gatewayID string) *models.Payment {
	return &models.Payment{
		ID:            uuid.New(),
		RegistrantID:  uuid.New(),
		Amount:        decimal.NewFromInt(50),
		State:         state,
		GatewayID:     gatewayID,
		GatewayStatus: "pending",
		Companions:    []string{},
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func (s *PaymentStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds payment by gateway id", func() {
		payment := s.newPayment(models.PaymentStatePending, "gw-100")
		s.Require().NoError(s.store.Create(s.ctx, payment))

		found, err := s.store.FindByGatewayID(s.ctx, "gw-100")
		s.Require().NoError(err)
		s.Equal(payment.ID, found.ID)
	})

	s.Run("returns ErrNotFound for unknown gateway id", func() {
		_, err := s.store.FindByGatewayID(s.ctx, "missing")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("empty gateway id never matches", func() {
		payment := s.newPayment(models.PaymentStatePending, "")
		s.Require().NoError(s.store.Create(s.ctx, payment))

		_, err := s.store.FindByGatewayID(s.ctx, "")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PaymentStoreSuite) TestGatewayIDUniqueness() {
	first := s.newPayment(models.PaymentStatePending, "gw-dup")
	second := s.newPayment(models.PaymentStatePending, "gw-dup")

	s.Require().NoError(s.store.Create(s.ctx, first))
	s.Require().ErrorIs(s.store.Create(s.ctx, second), sentinel.ErrConflict)
}

func (s *PaymentStoreSuite) TestMultiplePaymentsWithoutGatewayID() {
	// Manual cash payments carry no gateway id; several may coexist.
	s.Require().NoError(s.store.Create(s.ctx, s.newPayment(models.PaymentStatePending, "")))
	s.Require().NoError(s.store.Create(s.ctx, s.newPayment(models.PaymentStatePending, "")))
}

func (s *PaymentStoreSuite) TestUpdateState() {
	s.Run("moves pending to approved", func() {
		payment := s.newPayment(models.PaymentStatePending, "gw-200")
		s.Require().NoError(s.store.Create(s.ctx, payment))

		updated, err := s.store.UpdateState(s.ctx, payment.ID, models.PaymentStateApproved, "approved")
		s.Require().NoError(err)
		s.Equal(models.PaymentStateApproved, updated.State)
		s.Equal("approved", updated.GatewayStatus)
	})

	s.Run("same terminal state is a no-op success", func() {
		payment := s.newPayment(models.PaymentStateApproved, "gw-201")
		s.Require().NoError(s.store.Create(s.ctx, payment))

		updated, err := s.store.UpdateState(s.ctx, payment.ID, models.PaymentStateApproved, "approved")
		s.Require().NoError(err)
		s.Equal(models.PaymentStateApproved, updated.State)
	})

	s.Run("different terminal state is rejected", func() {
		payment := s.newPayment(models.PaymentStateApproved, "gw-202")
		s.Require().NoError(s.store.Create(s.ctx, payment))

		_, err := s.store.UpdateState(s.ctx, payment.ID, models.PaymentStateCancelled, "cancelled")
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("unknown payment yields ErrNotFound", func() {
		_, err := s.store.UpdateState(s.ctx, uuid.New(), models.PaymentStateApproved, "approved")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PaymentStoreSuite) TestAggregations() {
	approved := s.newPayment(models.PaymentStateApproved, "gw-300")
	approved.Amount = decimal.NewFromInt(150)
	pending := s.newPayment(models.PaymentStatePending, "gw-301")

	s.Require().NoError(s.store.Create(s.ctx, approved))
	s.Require().NoError(s.store.Create(s.ctx, pending))

	count, err := s.store.CountByState(s.ctx, models.PaymentStatePending)
	s.Require().NoError(err)
	s.Equal(1, count)

	sum, err := s.store.SumAmountByState(s.ctx, models.PaymentStateApproved)
	s.Require().NoError(err)
	s.True(sum.Equal(decimal.NewFromInt(150)))

	pendingList, err := s.store.ListByState(s.ctx, models.PaymentStatePending)
	s.Require().NoError(err)
	s.Require().Len(pendingList, 1)
	s.Equal(pending.ID, pendingList[0].ID)
}

func (s *PaymentStoreSuite) TestLatestByRegistrant() {
	registrantID := uuid.New()

	older := s.newPayment(models.PaymentStateRejected, "gw-400")
	older.RegistrantID = registrantID
	older.CreatedAt = time.Now().Add(-time.Hour)

	newer := s.newPayment(models.PaymentStatePending, "gw-401")
	newer.RegistrantID = registrantID

	s.Require().NoError(s.store.Create(s.ctx, older))
	s.Require().NoError(s.store.Create(s.ctx, newer))

	latest, err := s.store.FindLatestByRegistrant(s.ctx, registrantID)
	s.Require().NoError(err)
	s.Equal(newer.ID, latest.ID)

	payments, err := s.store.ListByRegistrant(s.ctx, registrantID)
	s.Require().NoError(err)
	s.Require().Len(payments, 2)
	s.Equal(newer.ID, payments[0].ID)
}
