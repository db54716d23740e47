package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"confreg/internal/admin/service"
	"confreg/internal/jwtauth"
	"confreg/internal/platform/middleware"
	"confreg/internal/registration/models"
	paymentstore "confreg/internal/registration/store/payment"
	registrantstore "confreg/internal/registration/store/registrant"
	dErrors "confreg/pkg/domain-errors"
	"confreg/pkg/testutil"
)

type fixture struct {
	router      chi.Router
	registrants *registrantstore.InMemory
	payments    *paymentstore.InMemory
	jwt         *jwtauth.Service
}

// newFixture assembles the admin routes behind the real JWT middleware so the
// tests cover the auth wiring too.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	registrants := registrantstore.NewInMemory()
	payments := paymentstore.NewInMemory()
	jwtSvc := jwtauth.NewService("test-signing-key", "confreg")

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	svc := service.New(registrants, payments, jwtSvc,
		service.Credentials{Username: "staff", PasswordHash: string(hash)},
		time.Hour, decimal.NewFromInt(50))

	h := New(svc, slog.Default())
	router := chi.NewRouter()
	h.RegisterPublic(router)
	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(jwtSvc, slog.Default()))
		h.Register(r)
	})
	return &fixture{router: router, registrants: registrants, payments: payments, jwt: jwtSvc}
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	token, err := f.jwt.GenerateToken("staff", time.Hour)
	require.NoError(t, err)
	return token
}

func (f *fixture) seedRegistration(t *testing.T, name, email, nationalID string, state models.PaymentState, amount int64) {
	t.Helper()
	registrant, err := models.NewRegistrant(uuid.New(), name, email, nationalID, "+55 11 94444-0000", time.Now())
	require.NoError(t, err)
	require.NoError(t, f.registrants.Create(context.Background(), registrant))

	payment := &models.Payment{
		ID:           uuid.New(),
		RegistrantID: registrant.ID,
		Amount:       decimal.NewFromInt(amount),
		State:        state,
		GatewayID:    uuid.NewString(),
		Companions:   []string{},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, f.payments.Create(context.Background(), payment))
}

func TestHandleLogin(t *testing.T) {
	t.Run("valid credentials return a token", func(t *testing.T) {
		f := newFixture(t)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/login",
			map[string]string{"username": "staff", "password": "s3cret"})
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[map[string]string](t, rr)
		assert.NotEmpty(t, (*resp)["token"])
	})

	t.Run("bad credentials return 401", func(t *testing.T) {
		f := newFixture(t)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/login",
			map[string]string{"username": "staff", "password": "nope"})
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/admin/dashboard", "/admin/payments/pending", "/admin/export.csv"} {
		req := testutil.NewRequest(t, http.MethodGet, path)
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	}
}

func TestHandleDashboard(t *testing.T) {
	f := newFixture(t)
	f.seedRegistration(t, "Alice", "alice@example.com", "111", models.PaymentStateApproved, 150)
	f.seedRegistration(t, "Bob", "bob@example.com", "222", models.PaymentStatePending, 50)

	req := testutil.NewRequest(t, http.MethodGet, "/admin/dashboard")
	req.Header.Set("Authorization", "Bearer "+f.token(t))
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	dashboard := testutil.UnmarshalResponse[service.Dashboard](t, rr)
	assert.Equal(t, 2, dashboard.TotalRegistrants)
	assert.Equal(t, 1, dashboard.ApprovedCount)
	assert.Equal(t, 1, dashboard.PendingCount)
	assert.True(t, dashboard.ApprovedRevenue.Equal(decimal.NewFromInt(150)))
	assert.Len(t, dashboard.Recent, 2)
}

func TestHandleListPending(t *testing.T) {
	f := newFixture(t)
	f.seedRegistration(t, "Cora", "cora@example.com", "333", models.PaymentStatePending, 50)
	f.seedRegistration(t, "Dina", "dina@example.com", "444", models.PaymentStateApproved, 50)

	req := testutil.NewRequest(t, http.MethodGet, "/admin/payments/pending")
	req.Header.Set("Authorization", "Bearer "+f.token(t))
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	entries := testutil.UnmarshalResponse[[]service.PendingEntry](t, rr)
	require.Len(t, *entries, 1)
	assert.Equal(t, "Cora", (*entries)[0].Registrant.FullName)
}

func TestHandleExport(t *testing.T) {
	f := newFixture(t)
	f.seedRegistration(t, "Edu", "edu@example.com", "555", models.PaymentStateApproved, 50)

	req := testutil.NewRequest(t, http.MethodGet, "/admin/export.csv")
	req.Header.Set("Authorization", "Bearer "+f.token(t))
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment")

	body := string(testutil.ReadBody(t, rr))
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "edu@example.com")
}

func TestHandleSeedManual(t *testing.T) {
	t.Run("creates registrant with pending cash payment", func(t *testing.T) {
		f := newFixture(t)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/registrations", map[string]string{
			"full_name":   "Fabi Costa",
			"email":       "fabi@example.com",
			"national_id": "666",
			"phone":       "+55 11 93333-0000",
		})
		req.Header.Set("Authorization", "Bearer "+f.token(t))
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatus(t, rr, http.StatusCreated)
		result := testutil.UnmarshalResponse[service.RecentRegistration](t, rr)
		require.NotNil(t, result.Payment)
		assert.Equal(t, models.PaymentStatePending, result.Payment.State)
		assert.Empty(t, result.Payment.GatewayID)
	})

	t.Run("duplicate identity returns 400", func(t *testing.T) {
		f := newFixture(t)
		f.seedRegistration(t, "Gil", "gil@example.com", "777", models.PaymentStateApproved, 50)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/registrations", map[string]string{
			"full_name":   "Gil Clone",
			"email":       "gil@example.com",
			"national_id": "888",
			"phone":       "+55 11 92222-0000",
		})
		req.Header.Set("Authorization", "Bearer "+f.token(t))
		rr := testutil.DoRequest(f.router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeDuplicate))
	})
}
