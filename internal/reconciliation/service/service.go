// Package service reconciles internal payment state with the payment
// provider. All three triggers (webhook, poll, manual override) converge on
// the same guarded transition so they remain idempotent and terminal states
// stay final.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"confreg/internal/audit"
	"confreg/internal/gateway"
	"confreg/internal/platform/middleware"
	"confreg/internal/reconciliation/metrics"
	"confreg/internal/registration/models"
	dErrors "confreg/pkg/domain-errors"
	"confreg/pkg/platform/sentinel"
)

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error)
	ListByRegistrant(ctx context.Context, registrantID uuid.UUID) ([]*models.Payment, error)
	UpdateState(ctx context.Context, paymentID uuid.UUID, newState models.PaymentState, rawGatewayStatus string) (*models.Payment, error)
}

type RegistrantStore interface {
	Create(ctx context.Context, registrant *models.Registrant) error
	FindByEmailOrNationalID(ctx context.Context, email, nationalID string) (*models.Registrant, error)
	FindByNameFragment(ctx context.Context, fragment string) (*models.Registrant, error)
}

// DedupStore remembers webhook notification ids. MarkSeen reports whether
// the id was new.
type DedupStore interface {
	MarkSeen(ctx context.Context, notificationID string) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service applies provider status updates to stored payments.
type Service struct {
	payments       PaymentStore
	registrants    RegistrantStore
	gateway        gateway.Client
	dedup          DedupStore
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

// WithDedup installs a webhook notification dedup store. Without one every
// delivery is treated as new, which is still safe thanks to the guarded
// transition.
func WithDedup(store DedupStore) Option {
	return func(s *Service) {
		s.dedup = store
	}
}

// New constructs a Service.
func New(payments PaymentStore, registrants RegistrantStore, gw gateway.Client, opts ...Option) *Service {
	s := &Service{payments: payments, registrants: registrants, gateway: gw}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyGatewayStatus is the webhook entry point. A notification for a payment
// we do not know is accepted and discarded; duplicate deliveries and repeated
// statuses are no-ops. A terminal payment receiving a different terminal
// status is rejected as an anomaly.
//
// Returns the payment after the update, or nil when the notification did not
// apply to any stored row.
func (s *Service) ApplyGatewayStatus(ctx context.Context, gatewayID, rawStatus, notificationID string) (*models.Payment, error) {
	start := time.Now()
	defer s.observeApplyStatus(start)

	if gatewayID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "gateway payment id is required")
	}

	if s.dedup != nil && notificationID != "" {
		fresh, err := s.dedup.MarkSeen(ctx, notificationID)
		if err != nil {
			// Dedup is an optimization. The guarded transition keeps replays
			// safe, so log and continue.
			s.logWarn(ctx, "webhook dedup check failed", "notification_id", notificationID, "error", err)
		} else if !fresh {
			s.incrementNotificationDuplicate()
			s.logInfo(ctx, "duplicate webhook delivery dropped", "notification_id", notificationID, "gateway_id", gatewayID)
			return nil, nil
		}
	}

	payment, err := s.payments.FindByGatewayID(ctx, gatewayID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logInfo(ctx, "webhook for unknown payment discarded", "gateway_id", gatewayID, "status", rawStatus)
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payment")
	}

	return s.applyStatus(ctx, payment, rawStatus)
}

// applyStatus maps a raw provider status onto the state machine and persists
// the transition. Non-terminal statuses leave the row untouched.
func (s *Service) applyStatus(ctx context.Context, payment *models.Payment, rawStatus string) (*models.Payment, error) {
	next := models.StateFromGatewayStatus(rawStatus)
	if next == models.PaymentStatePending {
		return payment, nil
	}
	if payment.State == next {
		return payment, nil
	}

	updated, err := s.payments.UpdateState(ctx, payment.ID, next, rawStatus)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			s.incrementAnomalyDetected()
			s.logAudit(ctx, audit.ActionPaymentAnomalyRejected, payment.ID.String(),
				"terminal payment received conflicting status "+rawStatus,
				"payment_id", payment.ID,
				"gateway_id", payment.GatewayID,
				"current_state", payment.State,
				"requested_status", rawStatus)
			return nil, dErrors.New(dErrors.CodeConflict,
				"payment already settled with a different outcome")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update payment state")
	}

	s.incrementTransitionApplied()
	s.logAudit(ctx, actionForState(next), updated.ID.String(), "gateway status "+rawStatus,
		"payment_id", updated.ID,
		"gateway_id", updated.GatewayID,
		"state", updated.State)
	return updated, nil
}

func actionForState(state models.PaymentState) string {
	switch state {
	case models.PaymentStateApproved:
		return audit.ActionPaymentApproved
	case models.PaymentStateCancelled:
		return audit.ActionPaymentCancelled
	default:
		return audit.ActionPaymentRejected
	}
}

// StatusResult is what the poll endpoint reports to the registrant's browser.
type StatusResult struct {
	GatewayID     string              `json:"gateway_id"`
	State         models.PaymentState `json:"state"`
	GatewayStatus string              `json:"gateway_status,omitempty"`
	Approved      bool                `json:"approved"`
}

// CheckStatus reads the stored payment state. It never calls the provider;
// webhooks and the poller keep the store current.
func (s *Service) CheckStatus(ctx context.Context, gatewayID string) (*StatusResult, error) {
	if gatewayID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "gateway payment id is required")
	}

	payment, err := s.payments.FindByGatewayID(ctx, gatewayID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payment")
	}

	return &StatusResult{
		GatewayID:     payment.GatewayID,
		State:         payment.State,
		GatewayStatus: payment.GatewayStatus,
		Approved:      payment.State == models.PaymentStateApproved,
	}, nil
}

// RefreshFromGateway queries the provider for the current status and applies
// it. Used when a webhook was missed and an operator or the poller wants the
// authoritative answer now.
func (s *Service) RefreshFromGateway(ctx context.Context, gatewayID string) (*models.Payment, error) {
	if gatewayID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "gateway payment id is required")
	}

	payment, err := s.payments.FindByGatewayID(ctx, gatewayID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payment")
	}

	intent, err := s.gateway.GetPayment(ctx, gatewayID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeGateway, "failed to query payment provider")
	}

	return s.applyStatus(ctx, payment, intent.Status)
}

// ApproveManual forces the newest PENDING payment of the registrant matched
// by name fragment to APPROVED. Used by operators when a payment was settled
// out of band (cash, bank receipt).
func (s *Service) ApproveManual(ctx context.Context, nameHint string) (*models.Payment, error) {
	if nameHint == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "name hint is required")
	}

	registrant, err := s.registrants.FindByNameFragment(ctx, nameHint)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no registrant matches the given name")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search registrants")
	}

	payments, err := s.payments.ListByRegistrant(ctx, registrant.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payments")
	}

	var pending *models.Payment
	for _, payment := range payments {
		if payment.State == models.PaymentStatePending {
			pending = payment
			break
		}
	}
	if pending == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "registrant has no pending payment")
	}

	updated, err := s.payments.UpdateState(ctx, pending.ID, models.PaymentStateApproved, "manual_approved")
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeConflict, "payment already settled with a different outcome")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to approve payment")
	}

	s.incrementTransitionApplied()
	s.logAudit(ctx, audit.ActionPaymentManualApproved, updated.ID.String(),
		"manual approval for "+registrant.FullName,
		"payment_id", updated.ID,
		"registrant_id", registrant.ID,
		"actor", middleware.GetAdminUser(ctx))
	return updated, nil
}

// ReconcileRecent backfills payments the provider settled but we never
// recorded, typically after webhook outages. Only approved intents with a
// complete payer identity are recovered.
func (s *Service) ReconcileRecent(ctx context.Context, since time.Time) (int, error) {
	intents, err := s.gateway.SearchRecent(ctx, since)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeGateway, "failed to search provider payments")
	}

	recovered := 0
	for _, intent := range intents {
		if intent.Status != gateway.StatusApproved {
			continue
		}
		if intent.Payer.Email == "" || intent.Payer.NationalID == "" || intent.Payer.FullName == "" {
			s.logWarn(ctx, "skipping recoverable payment with incomplete payer",
				"gateway_id", intent.GatewayID)
			continue
		}

		created, err := s.recoverIntent(ctx, intent)
		if err != nil {
			s.logWarn(ctx, "failed to recover payment",
				"gateway_id", intent.GatewayID, "error", err)
			continue
		}
		if created {
			recovered++
			s.incrementPaymentRecovered()
		}
	}
	return recovered, nil
}

// recoverIntent creates the missing registrant and payment rows for one
// provider intent. Reports whether a payment row was created.
func (s *Service) recoverIntent(ctx context.Context, intent gateway.Intent) (bool, error) {
	if _, err := s.payments.FindByGatewayID(ctx, intent.GatewayID); err == nil {
		return false, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return false, err
	}

	now := time.Now()
	registrant, err := s.registrants.FindByEmailOrNationalID(ctx, intent.Payer.Email, intent.Payer.NationalID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		registrant, err = models.NewRegistrant(uuid.New(),
			intent.Payer.FullName, intent.Payer.Email, intent.Payer.NationalID, "unknown", now)
		if err != nil {
			return false, err
		}
		if err := s.registrants.Create(ctx, registrant); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return false, err
		}
	case err != nil:
		return false, err
	}

	payment, err := models.NewPayment(uuid.New(), registrant.ID, intent.Amount,
		models.StateFromGatewayStatus(intent.Status),
		intent.GatewayID, intent.Status, nil, now)
	if err != nil {
		return false, err
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	s.logAudit(ctx, audit.ActionPaymentRecovered, payment.ID.String(),
		"backfilled from provider search",
		"payment_id", payment.ID,
		"gateway_id", payment.GatewayID)
	return true, nil
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

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *Service) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}

func (s *Service) incrementTransitionApplied() {
	if s.metrics != nil {
		s.metrics.IncrementTransitionApplied()
	}
}

func (s *Service) incrementNotificationDuplicate() {
	if s.metrics != nil {
		s.metrics.IncrementNotificationDuplicate()
	}
}

func (s *Service) incrementAnomalyDetected() {
	if s.metrics != nil {
		s.metrics.IncrementAnomalyDetected()
	}
}

func (s *Service) incrementPaymentRecovered() {
	if s.metrics != nil {
		s.metrics.IncrementPaymentRecovered()
	}
}

func (s *Service) observeApplyStatus(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveApplyStatus(start)
	}
}
