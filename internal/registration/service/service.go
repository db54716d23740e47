package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"confreg/internal/audit"
	"confreg/internal/gateway"
	"confreg/internal/platform/middleware"
	"confreg/internal/registration/metrics"
	"confreg/internal/registration/models"
	dErrors "confreg/pkg/domain-errors"
	"confreg/pkg/platform/sentinel"
)

type RegistrantStore interface {
	Create(ctx context.Context, registrant *models.Registrant) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Registrant, error)
	FindByEmailOrNationalID(ctx context.Context, email, nationalID string) (*models.Registrant, error)
	FindByNationalID(ctx context.Context, nationalID string) (*models.Registrant, error)
}

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindLatestByRegistrant(ctx context.Context, registrantID uuid.UUID) (*models.Payment, error)
	ListByRegistrant(ctx context.Context, registrantID uuid.UUID) ([]*models.Payment, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Transactor runs a function inside a database transaction. Optional; without
// one the registrant and payment writes land in separate statements.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service orchestrates registration submissions against the payment provider
// and the stores. Database uniqueness constraints remain the authoritative
// duplicate guard; the pre-checks here only give friendlier errors.
type Service struct {
	registrants    RegistrantStore
	payments       PaymentStore
	gateway        gateway.Client
	unitFee        decimal.Decimal
	transactor     Transactor
	watchPayment   func(gatewayID string)
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTransactor(transactor Transactor) Option {
	return func(s *Service) {
		s.transactor = transactor
	}
}

// WithSettlementWatcher installs a hook invoked with the gateway id of every
// payment persisted in PENDING state, so a poller can drive it to settlement.
func WithSettlementWatcher(watch func(gatewayID string)) Option {
	return func(s *Service) {
		s.watchPayment = watch
	}
}

// New constructs a Service. unitFee is the per-attendee conference fee.
func New(registrants RegistrantStore, payments PaymentStore, gw gateway.Client, unitFee decimal.Decimal, opts ...Option) *Service {
	s := &Service{registrants: registrants, payments: payments, gateway: gw, unitFee: unitFee}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitResult is what a successful submission hands back to the caller.
// TransferCode and TransferQR are set for instant-transfer submissions so the
// payer can complete the transfer out of band.
type SubmitResult struct {
	Registrant   *models.Registrant `json:"registrant"`
	Payment      *models.Payment    `json:"payment"`
	TransferCode string             `json:"transfer_code,omitempty"`
	TransferQR   string             `json:"transfer_qr,omitempty"`
	StatusDetail string             `json:"status_detail,omitempty"`
}

// Submit processes one registration: validates the request, recomputes the
// total, charges the provider, and persists registrant and payment.
//
// Card payments persist only when the charge is approved; a decline leaves no
// rows behind. Instant transfers persist a PENDING payment immediately so the
// reconciliation service can settle it later.
func (s *Service) Submit(ctx context.Context, req *models.SubmitRequest) (*SubmitResult, error) {
	start := time.Now()
	defer s.observeSubmit(start)

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	total := req.ComputeTotal(s.unitFee)
	if !req.DeclaredTotal.IsZero() && !req.DeclaredTotal.Equal(total) {
		return nil, dErrors.New(dErrors.CodeValidation,
			"declared total does not match the computed registration fee")
	}

	// Advisory pre-check. The unique constraints catch races.
	if _, err := s.registrants.FindByEmailOrNationalID(ctx, req.Email, req.NationalID); err == nil {
		s.incrementDuplicateAttempt()
		return nil, dErrors.New(dErrors.CodeDuplicate, "a registration already exists for this email or national id")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for existing registrant")
	}

	intent, err := s.charge(ctx, req, total)
	if err != nil {
		return nil, err
	}

	if req.Method.IsCard() && intent.Status != gateway.StatusApproved {
		s.incrementCardDeclined()
		return nil, dErrors.New(dErrors.CodeGateway, "card payment was declined").WithDetail(intent.StatusDetail)
	}

	registrant, payment, err := s.persist(ctx, req, total, intent)
	if err != nil {
		return nil, err
	}

	if s.watchPayment != nil && payment.State == models.PaymentStatePending && payment.GatewayID != "" {
		s.watchPayment(payment.GatewayID)
	}

	s.logAudit(ctx, audit.ActionRegistrantCreated, registrant.ID.String(), string(req.Method),
		"registrant_id", registrant.ID,
		"payment_id", payment.ID,
		"gateway_id", payment.GatewayID,
		"state", payment.State)
	s.incrementRegistrantCreated()

	return &SubmitResult{
		Registrant:   registrant,
		Payment:      payment,
		TransferCode: intent.TransferCode,
		TransferQR:   intent.TransferQR,
		StatusDetail: intent.StatusDetail,
	}, nil
}

func (s *Service) charge(ctx context.Context, req *models.SubmitRequest, total decimal.Decimal) (gateway.Intent, error) {
	kind := gateway.KindTransfer
	switch req.Method {
	case models.MethodCardCredit:
		kind = gateway.KindCardCredit
	case models.MethodCardDebit:
		kind = gateway.KindCardDebit
	}

	callStart := time.Now()
	intent, err := s.gateway.CreatePayment(ctx, gateway.ChargeRequest{
		Kind:        kind,
		Amount:      total,
		Description: "Conference registration for " + req.FullName,
		Payer: gateway.Payer{
			FullName:   req.FullName,
			Email:      req.Email,
			NationalID: req.NationalID,
		},
		CardToken:    req.CardToken,
		Installments: req.Installments,
	})
	s.observeGatewayCall(callStart)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return gateway.Intent{}, dErrors.Wrap(err, dErrors.CodeTimeout, "payment provider did not answer in time")
		}
		return gateway.Intent{}, dErrors.Wrap(err, dErrors.CodeGateway, "payment provider call failed")
	}
	return intent, nil
}

func (s *Service) persist(ctx context.Context, req *models.SubmitRequest, total decimal.Decimal, intent gateway.Intent) (*models.Registrant, *models.Payment, error) {
	now := time.Now()

	registrant, err := models.NewRegistrant(uuid.New(), req.FullName, req.Email, req.NationalID, req.Phone, now)
	if err != nil {
		return nil, nil, err
	}

	// Transfers settle asynchronously: whatever status the provider reports
	// at creation time, the row starts PENDING and reconciliation moves it.
	// The raw status string is kept on the row for operators.
	state := models.StateFromGatewayStatus(intent.Status)
	if req.Method == models.MethodInstantTransfer {
		state = models.PaymentStatePending
	}

	payment, err := models.NewPayment(uuid.New(), registrant.ID, total, state,
		intent.GatewayID, intent.Status, req.CompanionNames(), now)
	if err != nil {
		return nil, nil, err
	}

	// Both rows land atomically when a transactor is configured, so a failed
	// payment insert never strands a registrant.
	create := func(ctx context.Context) error {
		if err := s.registrants.Create(ctx, registrant); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				s.incrementDuplicateAttempt()
				return dErrors.New(dErrors.CodeDuplicate, "a registration already exists for this email or national id")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create registrant")
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "a payment already exists for this provider id")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create payment")
		}
		return nil
	}

	if s.transactor != nil {
		err = s.transactor.InTx(ctx, create)
	} else {
		err = create(ctx)
	}
	if err != nil {
		return nil, nil, err
	}
	return registrant, payment, nil
}

// LookupResult pairs a registrant with their latest payment, if any.
type LookupResult struct {
	Registrant *models.Registrant `json:"registrant"`
	Payment    *models.Payment    `json:"payment,omitempty"`
}

// Lookup finds a registration by national id.
func (s *Service) Lookup(ctx context.Context, nationalID string) (*LookupResult, error) {
	if nationalID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "national_id is required")
	}

	registrant, err := s.registrants.FindByNationalID(ctx, nationalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "registration not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up registrant")
	}

	result := &LookupResult{Registrant: registrant}
	payment, err := s.payments.FindLatestByRegistrant(ctx, registrant.ID)
	switch {
	case err == nil:
		result.Payment = payment
	case errors.Is(err, sentinel.ErrNotFound):
		// Registrant exists without a payment only when seeded manually.
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payments")
	}
	return result, nil
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
		Action:    action,
		Subject:   subject,
		Reason:    reason,
		RequestID: middleware.GetRequestID(ctx),
	})
}

func (s *Service) incrementRegistrantCreated() {
	if s.metrics != nil {
		s.metrics.IncrementRegistrantCreated()
	}
}

func (s *Service) incrementCardDeclined() {
	if s.metrics != nil {
		s.metrics.IncrementCardDeclined()
	}
}

func (s *Service) incrementDuplicateAttempt() {
	if s.metrics != nil {
		s.metrics.IncrementDuplicateAttempt()
	}
}

func (s *Service) observeSubmit(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveSubmit(start)
	}
}

func (s *Service) observeGatewayCall(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveGatewayCall(start)
	}
}
