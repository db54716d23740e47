package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"confreg/internal/audit"
	"confreg/internal/gateway"
	"confreg/internal/registration/models"
	paymentstore "confreg/internal/registration/store/payment"
	registrantstore "confreg/internal/registration/store/registrant"
	dErrors "confreg/pkg/domain-errors"
)

type RegistrationServiceSuite struct {
	suite.Suite
	registrants *registrantstore.InMemory
	payments    *paymentstore.InMemory
	gateway     *gateway.MockClient
	auditStore  *audit.InMemoryStore
	service     *Service
	ctx         context.Context
}

func (s *RegistrationServiceSuite) SetupTest() {
	s.registrants = registrantstore.NewInMemory()
	s.payments = paymentstore.NewInMemory()
	s.gateway = gateway.NewMockClient()
	s.auditStore = audit.NewInMemoryStore()
	s.service = New(s.registrants, s.payments, s.gateway, decimal.NewFromInt(50),
		WithAuditPublisher(audit.NewPublisher(s.auditStore)))
	s.ctx = context.Background()
}

func TestRegistrationServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistrationServiceSuite))
}

func (s *RegistrationServiceSuite) cardRequest() *models.SubmitRequest {
	return &models.SubmitRequest{
		FullName:   "Ana Souza",
		Email:      "ana@example.com",
		NationalID: "12345678900",
		Phone:      "+55 11 99999-0000",
		Method:     models.MethodCardCredit,
		CardToken:  "tok_abc",
	}
}

func (s *RegistrationServiceSuite) transferRequest() *models.SubmitRequest {
	req := s.cardRequest()
	req.Method = models.MethodInstantTransfer
	req.CardToken = ""
	return req
}

func (s *RegistrationServiceSuite) TestSubmitCardApproved() {
	result, err := s.service.Submit(s.ctx, s.cardRequest())
	s.Require().NoError(err)

	s.Equal(models.PaymentStateApproved, result.Payment.State)
	s.True(result.Payment.Amount.Equal(decimal.NewFromInt(50)))
	s.NotEmpty(result.Payment.GatewayID)
	s.Empty(result.TransferCode)

	stored, err := s.registrants.FindByNationalID(s.ctx, "12345678900")
	s.Require().NoError(err)
	s.Equal("ana@example.com", stored.Email)

	events := s.auditStore.Events()
	s.Require().Len(events, 1)
	s.Equal(audit.ActionRegistrantCreated, events[0].Action)
}

func (s *RegistrationServiceSuite) TestSubmitCardDeclinedPersistsNothing() {
	s.gateway.NextStatus = gateway.StatusRejected
	s.gateway.NextStatusDetail = "cc_rejected_insufficient_amount"

	_, err := s.service.Submit(s.ctx, s.cardRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeGateway))

	var domainErr *dErrors.Error
	s.Require().True(errors.As(err, &domainErr))
	s.Equal("cc_rejected_insufficient_amount", domainErr.Detail)

	count, err := s.registrants.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *RegistrationServiceSuite) TestSubmitTransferPersistsPendingImmediately() {
	result, err := s.service.Submit(s.ctx, s.transferRequest())
	s.Require().NoError(err)

	s.Equal(models.PaymentStatePending, result.Payment.State)
	s.NotEmpty(result.TransferCode)
	s.NotEmpty(result.TransferQR)

	// The row is visible before any provider confirmation.
	stored, err := s.payments.FindByGatewayID(s.ctx, result.Payment.GatewayID)
	s.Require().NoError(err)
	s.Equal(models.PaymentStatePending, stored.State)
}

func (s *RegistrationServiceSuite) TestSubmitTransferIgnoresInitialGatewayState() {
	s.gateway.NextStatus = gateway.StatusRejected
	s.gateway.NextStatusDetail = "rejected_by_bank"

	result, err := s.service.Submit(s.ctx, s.transferRequest())
	s.Require().NoError(err)

	// A transfer starts PENDING no matter what the provider reported at
	// creation; only reconciliation settles it. The raw status is kept.
	s.Equal(models.PaymentStatePending, result.Payment.State)
	s.Equal(gateway.StatusRejected, result.Payment.GatewayStatus)

	stored, err := s.payments.FindByGatewayID(s.ctx, result.Payment.GatewayID)
	s.Require().NoError(err)
	s.Equal(models.PaymentStatePending, stored.State)
}

func (s *RegistrationServiceSuite) TestSubmitDuplicate() {
	_, err := s.service.Submit(s.ctx, s.cardRequest())
	s.Require().NoError(err)

	s.Run("same national id", func() {
		req := s.cardRequest()
		req.Email = "other@example.com"
		_, err := s.service.Submit(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicate))
	})

	s.Run("same email different case", func() {
		req := s.cardRequest()
		req.Email = "ANA@example.com"
		req.NationalID = "99999999999"
		_, err := s.service.Submit(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicate))
	})
}

func (s *RegistrationServiceSuite) TestSubmitTotalComputation() {
	s.Run("companions raise the total", func() {
		req := s.transferRequest()
		req.Companions = []models.Companion{{Name: "Bruno"}, {Name: "Carla"}}

		result, err := s.service.Submit(s.ctx, req)
		s.Require().NoError(err)
		s.True(result.Payment.Amount.Equal(decimal.NewFromInt(150)))
		s.Equal([]string{"Bruno", "Carla"}, result.Payment.Companions)
	})

	s.Run("declared total mismatch is rejected", func() {
		req := s.transferRequest()
		req.NationalID = "22222222222"
		req.Email = "b@example.com"
		req.DeclaredTotal = decimal.NewFromInt(10)

		_, err := s.service.Submit(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("matching declared total passes", func() {
		req := s.transferRequest()
		req.NationalID = "33333333333"
		req.Email = "c@example.com"
		req.DeclaredTotal = decimal.NewFromInt(50)

		_, err := s.service.Submit(s.ctx, req)
		s.Require().NoError(err)
	})
}

func (s *RegistrationServiceSuite) TestSubmitValidation() {
	s.Run("missing card token", func() {
		req := s.cardRequest()
		req.CardToken = ""
		_, err := s.service.Submit(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("empty companion names are dropped", func() {
		req := s.transferRequest()
		req.Companions = []models.Companion{{Name: "  "}, {Name: "Dora"}}

		result, err := s.service.Submit(s.ctx, req)
		s.Require().NoError(err)
		s.Equal([]string{"Dora"}, result.Payment.Companions)
		s.True(result.Payment.Amount.Equal(decimal.NewFromInt(100)))
	})
}

func (s *RegistrationServiceSuite) TestSettlementWatcher() {
	var watched []string
	svc := New(s.registrants, s.payments, s.gateway, decimal.NewFromInt(50),
		WithSettlementWatcher(func(gatewayID string) {
			watched = append(watched, gatewayID)
		}))

	s.Run("transfers are handed to the watcher", func() {
		result, err := svc.Submit(s.ctx, s.transferRequest())
		s.Require().NoError(err)
		s.Equal([]string{result.Payment.GatewayID}, watched)
	})

	s.Run("approved cards are not watched", func() {
		req := s.cardRequest()
		req.Email = "card@example.com"
		req.NationalID = "44444444444"

		_, err := svc.Submit(s.ctx, req)
		s.Require().NoError(err)
		s.Len(watched, 1)
	})
}

func (s *RegistrationServiceSuite) TestSubmitGatewayUnavailable() {
	s.gateway.Err = errors.New("connection refused")

	_, err := s.service.Submit(s.ctx, s.cardRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeGateway))

	count, err := s.registrants.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *RegistrationServiceSuite) TestLookup() {
	result, err := s.service.Submit(s.ctx, s.transferRequest())
	s.Require().NoError(err)

	s.Run("found with latest payment", func() {
		lookup, err := s.service.Lookup(s.ctx, "12345678900")
		s.Require().NoError(err)
		s.Equal(result.Registrant.ID, lookup.Registrant.ID)
		s.Require().NotNil(lookup.Payment)
		s.Equal(result.Payment.ID, lookup.Payment.ID)
	})

	s.Run("unknown national id", func() {
		_, err := s.service.Lookup(s.ctx, "00000000000")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("empty national id", func() {
		_, err := s.service.Lookup(s.ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
