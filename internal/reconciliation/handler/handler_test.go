package handler

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confreg/internal/gateway"
	"confreg/internal/reconciliation/dedup"
	"confreg/internal/reconciliation/service"
	"confreg/internal/registration/models"
	paymentstore "confreg/internal/registration/store/payment"
	registrantstore "confreg/internal/registration/store/registrant"
	dErrors "confreg/pkg/domain-errors"
	"confreg/pkg/testutil"
)

type fixture struct {
	router      chi.Router
	payments    *paymentstore.InMemory
	registrants *registrantstore.InMemory
	gateway     *gateway.MockClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	payments := paymentstore.NewInMemory()
	registrants := registrantstore.NewInMemory()
	mock := gateway.NewMockClient()
	svc := service.New(payments, registrants, mock, service.WithDedup(dedup.NewInMemory()))

	h := New(svc, slog.Default())
	router := chi.NewRouter()
	h.Register(router)
	router.Route("/admin", h.RegisterAdmin)
	return &fixture{router: router, payments: payments, registrants: registrants, gateway: mock}
}

func (f *fixture) seedPayment(t *testing.T, state models.PaymentState, gatewayID string) *models.Payment {
	t.Helper()
	payment := &models.Payment{
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
	require.NoError(t, f.payments.Create(context.Background(), payment))
	return payment
}

func webhookBody(notificationID, gatewayID, status string) map[string]any {
	return map[string]any{
		"id":     notificationID,
		"type":   "payment",
		"action": "payment.updated",
		"data":   map[string]string{"id": gatewayID, "status": status},
	}
}

func TestHandleWebhook(t *testing.T) {
	t.Run("applies inline status", func(t *testing.T) {
		f := newFixture(t)
		f.seedPayment(t, models.PaymentStatePending, "gw-1")

		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/gateway", webhookBody("n-1", "gw-1", "approved"))
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		stored, err := f.payments.FindByGatewayID(context.Background(), "gw-1")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStateApproved, stored.State)
	})

	t.Run("unknown payment is acknowledged", func(t *testing.T) {
		f := newFixture(t)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/gateway", webhookBody("n-2", "gw-ghost", "approved"))
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
	})

	t.Run("fetches status from provider when absent", func(t *testing.T) {
		f := newFixture(t)
		intent, err := f.gateway.CreatePayment(context.Background(), gateway.ChargeRequest{
			Kind:   gateway.KindTransfer,
			Amount: decimal.NewFromInt(50),
		})
		require.NoError(t, err)
		f.seedPayment(t, models.PaymentStatePending, intent.GatewayID)
		f.gateway.SetStatus(intent.GatewayID, gateway.StatusApproved)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/gateway", webhookBody("n-3", intent.GatewayID, ""))
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		stored, err := f.payments.FindByGatewayID(context.Background(), intent.GatewayID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStateApproved, stored.State)
	})

	t.Run("conflicting terminal update returns 409", func(t *testing.T) {
		f := newFixture(t)
		f.seedPayment(t, models.PaymentStateApproved, "gw-2")

		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/gateway", webhookBody("n-4", "gw-2", "cancelled"))
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusConflict, string(dErrors.CodeConflict))
	})

	t.Run("missing payment id returns 400", func(t *testing.T) {
		f := newFixture(t)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/gateway", webhookBody("n-5", "", "approved"))
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}

func TestHandleStatus(t *testing.T) {
	t.Run("reports stored state", func(t *testing.T) {
		f := newFixture(t)
		f.seedPayment(t, models.PaymentStateApproved, "gw-10")

		req := testutil.NewRequest(t, http.MethodGet, "/api/payments/gw-10/status")
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		result := testutil.UnmarshalResponse[service.StatusResult](t, rr)
		assert.True(t, result.Approved)
	})

	t.Run("unknown payment returns 404", func(t *testing.T) {
		f := newFixture(t)

		req := testutil.NewRequest(t, http.MethodGet, "/api/payments/gw-nope/status")
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})
}

func TestHandleRefresh(t *testing.T) {
	f := newFixture(t)
	intent, err := f.gateway.CreatePayment(context.Background(), gateway.ChargeRequest{
		Kind:   gateway.KindTransfer,
		Amount: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	f.seedPayment(t, models.PaymentStatePending, intent.GatewayID)
	f.gateway.SetStatus(intent.GatewayID, gateway.StatusRejected)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/payments/"+intent.GatewayID+"/refresh", nil)
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	result := testutil.UnmarshalResponse[models.Payment](t, rr)
	assert.Equal(t, models.PaymentStateRejected, result.State)
}

func TestHandleApproveManual(t *testing.T) {
	t.Run("approves pending payment by name", func(t *testing.T) {
		f := newFixture(t)

		registrant, err := models.NewRegistrant(uuid.New(), "Joana Prado",
			"joana@example.com", "32165498700", "+55 11 98888-0000", time.Now())
		require.NoError(t, err)
		require.NoError(t, f.registrants.Create(context.Background(), registrant))

		// Unrelated registrant's payment must not be picked up.
		f.seedPayment(t, models.PaymentStatePending, "gw-40")

		pending := &models.Payment{
			ID:           uuid.New(),
			RegistrantID: registrant.ID,
			Amount:       decimal.NewFromInt(50),
			State:        models.PaymentStatePending,
			GatewayID:    "gw-41",
			Companions:   []string{},
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		require.NoError(t, f.payments.Create(context.Background(), pending))

		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/payments/approve-manual",
			map[string]string{"name": "joana"})
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		result := testutil.UnmarshalResponse[models.Payment](t, rr)
		assert.Equal(t, pending.ID, result.ID)
		assert.Equal(t, models.PaymentStateApproved, result.State)
	})

	t.Run("unknown name returns 404", func(t *testing.T) {
		f := newFixture(t)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/payments/approve-manual",
			map[string]string{"name": "ghost"})
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})
}

func TestHandleRecover(t *testing.T) {
	f := newFixture(t)
	intent, err := f.gateway.CreatePayment(context.Background(), gateway.ChargeRequest{
		Kind:   gateway.KindTransfer,
		Amount: decimal.NewFromInt(50),
		Payer:  gateway.Payer{FullName: "Caio Nunes", Email: "caio@example.com", NationalID: "74185296300"},
	})
	require.NoError(t, err)
	f.gateway.SetStatus(intent.GatewayID, gateway.StatusApproved)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/payments/recover", map[string]int{"hours": 1})
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	result := testutil.UnmarshalResponse[recoverResponse](t, rr)
	assert.Equal(t, 1, result.Recovered)
}
