//go:build integration

package payment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"confreg/internal/registration/models"
	"confreg/internal/registration/store/payment"
	"confreg/internal/registration/store/registrant"
	"confreg/pkg/platform/sentinel"
	"confreg/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres    *containers.PostgresContainer
	store       *payment.PostgresStore
	registrants *registrant.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = payment.NewPostgres(s.postgres.DB)
	s.registrants = registrant.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "outbox", "payments", "registrants")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newRegistrant() uuid.UUID {
	r := &models.Registrant{
		ID:         uuid.New(),
		FullName:   "Payment Owner",
		Email:      uuid.NewString() + "@example.com",
		NationalID: uuid.NewString(),
		Phone:      "+55 11 90000-0000",
		CreatedAt:  time.Now(),
	}
	s.Require().NoError(s.registrants.Create(context.Background(), r))
	return r.ID
}

func (s *PostgresStoreSuite) newPayment(registrantID uuid.UUID, state models.PaymentState, gatewayID string) *models.Payment {
	return &models.Payment{
		ID:            uuid.New(),
		RegistrantID:  registrantID,
		Amount:        decimal.NewFromInt(50),
		State:         state,
		GatewayID:     gatewayID,
		GatewayStatus: "pending",
		Companions:    []string{"Bruno", "Carla"},
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

// TestGatewayIDUniqueness verifies one provider payment maps to at most one row.
func (s *PostgresStoreSuite) TestGatewayIDUniqueness() {
	ctx := context.Background()
	registrantID := s.newRegistrant()
	gatewayID := "gw-" + uuid.NewString()

	s.Require().NoError(s.store.Create(ctx, s.newPayment(registrantID, models.PaymentStatePending, gatewayID)))

	err := s.store.Create(ctx, s.newPayment(registrantID, models.PaymentStatePending, gatewayID))
	s.ErrorIs(err, sentinel.ErrConflict)
}

// TestMultipleManualPaymentsWithoutGatewayID verifies the partial unique
// index lets several NULL gateway_id rows coexist.
func (s *PostgresStoreSuite) TestMultipleManualPaymentsWithoutGatewayID() {
	ctx := context.Background()

	s.Require().NoError(s.store.Create(ctx, s.newPayment(s.newRegistrant(), models.PaymentStatePending, "")))
	s.Require().NoError(s.store.Create(ctx, s.newPayment(s.newRegistrant(), models.PaymentStatePending, "")))
}

// TestCompanionsRoundTrip verifies the text[] column preserves order.
func (s *PostgresStoreSuite) TestCompanionsRoundTrip() {
	ctx := context.Background()
	p := s.newPayment(s.newRegistrant(), models.PaymentStatePending, "gw-"+uuid.NewString())

	s.Require().NoError(s.store.Create(ctx, p))

	found, err := s.store.FindByGatewayID(ctx, p.GatewayID)
	s.Require().NoError(err)
	s.Equal([]string{"Bruno", "Carla"}, found.Companions)
	s.True(found.Amount.Equal(decimal.NewFromInt(50)))
}

// TestConcurrentStateTransitions verifies the guarded update lets exactly one
// conflicting transition win when webhook, poll, and manual override race.
func (s *PostgresStoreSuite) TestConcurrentStateTransitions() {
	ctx := context.Background()
	p := s.newPayment(s.newRegistrant(), models.PaymentStatePending, "gw-"+uuid.NewString())
	s.Require().NoError(s.store.Create(ctx, p))

	const goroutines = 30
	targets := []models.PaymentState{
		models.PaymentStateApproved,
		models.PaymentStateRejected,
		models.PaymentStateCancelled,
	}

	var wg sync.WaitGroup
	var successes, invalids atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			target := targets[idx%len(targets)]
			_, err := s.store.UpdateState(ctx, p.ID, target, string(target))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrInvalidState):
				invalids.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Winner plus any goroutine that requested the same terminal state.
	s.GreaterOrEqual(successes.Load(), int32(1))
	s.Equal(int32(goroutines), successes.Load()+invalids.Load())

	final, err := s.store.FindByID(ctx, p.ID)
	s.Require().NoError(err)
	s.True(final.State.IsTerminal())
	s.Equal(string(final.State), final.GatewayStatus)
}

// TestUpdateStateSemantics verifies no-op repeats and terminal conflicts.
func (s *PostgresStoreSuite) TestUpdateStateSemantics() {
	ctx := context.Background()
	p := s.newPayment(s.newRegistrant(), models.PaymentStatePending, "gw-"+uuid.NewString())
	s.Require().NoError(s.store.Create(ctx, p))

	updated, err := s.store.UpdateState(ctx, p.ID, models.PaymentStateApproved, "approved")
	s.Require().NoError(err)
	s.Equal(models.PaymentStateApproved, updated.State)

	// Same terminal state again is a no-op success.
	again, err := s.store.UpdateState(ctx, p.ID, models.PaymentStateApproved, "approved")
	s.Require().NoError(err)
	s.Equal(models.PaymentStateApproved, again.State)

	// A different terminal state is rejected.
	_, err = s.store.UpdateState(ctx, p.ID, models.PaymentStateCancelled, "cancelled")
	s.ErrorIs(err, sentinel.ErrInvalidState)

	// Unknown payment id.
	_, err = s.store.UpdateState(ctx, uuid.New(), models.PaymentStateApproved, "approved")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestAggregations verifies counts and the revenue sum.
func (s *PostgresStoreSuite) TestAggregations() {
	ctx := context.Background()

	approved := s.newPayment(s.newRegistrant(), models.PaymentStateApproved, "gw-"+uuid.NewString())
	approved.Amount = decimal.NewFromInt(150)
	s.Require().NoError(s.store.Create(ctx, approved))
	s.Require().NoError(s.store.Create(ctx, s.newPayment(s.newRegistrant(), models.PaymentStateApproved, "gw-"+uuid.NewString())))
	s.Require().NoError(s.store.Create(ctx, s.newPayment(s.newRegistrant(), models.PaymentStatePending, "gw-"+uuid.NewString())))

	count, err := s.store.CountByState(ctx, models.PaymentStateApproved)
	s.Require().NoError(err)
	s.Equal(2, count)

	sum, err := s.store.SumAmountByState(ctx, models.PaymentStateApproved)
	s.Require().NoError(err)
	s.True(sum.Equal(decimal.NewFromInt(200)))

	sum, err = s.store.SumAmountByState(ctx, models.PaymentStateCancelled)
	s.Require().NoError(err)
	s.True(sum.Equal(decimal.Zero))
}
