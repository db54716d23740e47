// Package service implements the staff surface: dashboard aggregates,
// pending lists, CSV export, manual seeding, and operator login.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"confreg/internal/audit"
	"confreg/internal/platform/middleware"
	"confreg/internal/registration/models"
	dErrors "confreg/pkg/domain-errors"
	"confreg/pkg/platform/sentinel"
)

type RegistrantStore interface {
	Create(ctx context.Context, registrant *models.Registrant) error
	Count(ctx context.Context) (int, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Registrant, error)
	ListAll(ctx context.Context) ([]*models.Registrant, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Registrant, error)
}

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	CountByState(ctx context.Context, state models.PaymentState) (int, error)
	SumAmountByState(ctx context.Context, state models.PaymentState) (decimal.Decimal, error)
	ListByState(ctx context.Context, state models.PaymentState) ([]*models.Payment, error)
	FindLatestByRegistrant(ctx context.Context, registrantID uuid.UUID) (*models.Payment, error)
}

// TokenIssuer mints admin session tokens after credential verification.
type TokenIssuer interface {
	GenerateToken(username string, expiresIn time.Duration) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Credentials hold the single staff account. The password arrives
// bcrypt-hashed from configuration; no plaintext is kept in memory.
type Credentials struct {
	Username     string
	PasswordHash string
}

// Service serves the admin endpoints.
type Service struct {
	registrants    RegistrantStore
	payments       PaymentStore
	tokens         TokenIssuer
	credentials    Credentials
	tokenTTL       time.Duration
	unitFee        decimal.Decimal
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// New constructs a Service.
func New(registrants RegistrantStore, payments PaymentStore, tokens TokenIssuer,
	credentials Credentials, tokenTTL time.Duration, unitFee decimal.Decimal, opts ...Option) *Service {
	s := &Service{
		registrants: registrants,
		payments:    payments,
		tokens:      tokens,
		credentials: credentials,
		tokenTTL:    tokenTTL,
		unitFee:     unitFee,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies the staff credentials and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", dErrors.New(dErrors.CodeValidation, "username and password are required")
	}
	if username != s.credentials.Username {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.credentials.PasswordHash), []byte(password)); err != nil {
		s.logWarn(ctx, "admin login rejected", "username", username)
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	token, err := s.tokens.GenerateToken(username, s.tokenTTL)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}
	return token, nil
}

// RecentRegistration pairs a registrant with their most recent payment for
// the dashboard listing.
type RecentRegistration struct {
	Registrant *models.Registrant `json:"registrant"`
	Payment    *models.Payment    `json:"payment,omitempty"`
}

// Dashboard is the aggregate view the staff landing page renders.
type Dashboard struct {
	TotalRegistrants int                  `json:"total_registrants"`
	ApprovedCount    int                  `json:"approved_count"`
	PendingCount     int                  `json:"pending_count"`
	ApprovedRevenue  decimal.Decimal      `json:"approved_revenue"`
	Recent           []RecentRegistration `json:"recent"`
}

// DashboardCounts aggregates totals and the ten most recent registrations.
func (s *Service) DashboardCounts(ctx context.Context) (*Dashboard, error) {
	total, err := s.registrants.Count(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count registrants")
	}

	approved, err := s.payments.CountByState(ctx, models.PaymentStateApproved)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count approved payments")
	}

	pending, err := s.payments.CountByState(ctx, models.PaymentStatePending)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count pending payments")
	}

	revenue, err := s.payments.SumAmountByState(ctx, models.PaymentStateApproved)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sum approved revenue")
	}

	recent, err := s.registrants.ListRecent(ctx, 10)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list recent registrants")
	}

	dashboard := &Dashboard{
		TotalRegistrants: total,
		ApprovedCount:    approved,
		PendingCount:     pending,
		ApprovedRevenue:  revenue,
		Recent:           make([]RecentRegistration, 0, len(recent)),
	}
	for _, registrant := range recent {
		entry := RecentRegistration{Registrant: registrant}
		payment, err := s.payments.FindLatestByRegistrant(ctx, registrant.ID)
		switch {
		case err == nil:
			entry.Payment = payment
		case errors.Is(err, sentinel.ErrNotFound):
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payments")
		}
		dashboard.Recent = append(dashboard.Recent, entry)
	}
	return dashboard, nil
}

// PendingEntry is one unsettled payment with its registrant identity.
type PendingEntry struct {
	Payment    *models.Payment    `json:"payment"`
	Registrant *models.Registrant `json:"registrant"`
}

// ListPending returns unsettled payments newest-first.
func (s *Service) ListPending(ctx context.Context) ([]PendingEntry, error) {
	payments, err := s.payments.ListByState(ctx, models.PaymentStatePending)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending payments")
	}

	entries := make([]PendingEntry, 0, len(payments))
	for _, payment := range payments {
		registrant, err := s.registrants.FindByID(ctx, payment.RegistrantID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				s.logWarn(ctx, "pending payment without registrant", "payment_id", payment.ID)
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registrant")
		}
		entries = append(entries, PendingEntry{Payment: payment, Registrant: registrant})
	}
	return entries, nil
}

var csvHeader = []string{"full_name", "email", "national_id", "phone", "registered_at", "payment_amount", "payment_state"}

// ExportCSV streams all registrations newest-first as flat CSV rows.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	registrants, err := s.registrants.ListAll(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registrants")
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write csv header")
	}

	for _, registrant := range registrants {
		amount, state := "", ""
		payment, err := s.payments.FindLatestByRegistrant(ctx, registrant.ID)
		switch {
		case err == nil:
			amount = payment.Amount.String()
			state = string(payment.State)
		case errors.Is(err, sentinel.ErrNotFound):
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payments")
		}

		row := []string{
			registrant.FullName,
			registrant.Email,
			registrant.NationalID,
			registrant.Phone,
			registrant.CreatedAt.Format(time.RFC3339),
			amount,
			state,
		}
		if err := writer.Write(row); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write csv row")
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to flush csv")
	}
	return nil
}

// SeedManualRequest creates a registrant who pays at the door: a row plus a
// PENDING cash payment without a gateway id.
type SeedManualRequest struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
}

// Normalize trims the identity fields and lowercases the email, matching
// what the public submission path stores.
func (r *SeedManualRequest) Normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.NationalID = strings.TrimSpace(r.NationalID)
	r.Phone = strings.TrimSpace(r.Phone)
}

// SeedManual registers an attendee on their behalf with a pending cash
// payment at the unit fee.
func (s *Service) SeedManual(ctx context.Context, req SeedManualRequest) (*RecentRegistration, error) {
	req.Normalize()
	now := time.Now()
	registrant, err := models.NewRegistrant(uuid.New(), req.FullName, req.Email, req.NationalID, req.Phone, now)
	if err != nil {
		return nil, err
	}

	payment, err := models.NewPayment(uuid.New(), registrant.ID, s.unitFee,
		models.PaymentStatePending, "", "manual_pending", nil, now)
	if err != nil {
		return nil, err
	}

	if err := s.registrants.Create(ctx, registrant); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeDuplicate, "a registration already exists for this email or national id")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create registrant")
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create payment")
	}

	s.logAudit(ctx, audit.ActionRegistrantCreated, registrant.ID.String(), "manual seeding",
		"registrant_id", registrant.ID,
		"payment_id", payment.ID)
	return &RecentRegistration{Registrant: registrant, Payment: payment}, nil
}

func (s *Service) logAudit(ctx context.Context, action, subject, reason string, attributes ...any) {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", action, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, action, args...)
	}
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Actor:     middleware.GetAdminUser(ctx),
		Action:    action,
		Subject:   subject,
		Reason:    reason,
		RequestID: middleware.GetRequestID(ctx),
	})
}

func (s *Service) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}
