package audit

import (
	"context"
	"time"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	Actor     string
	Action    string
	Subject   string
	Reason    string
	RequestID string
}

// Actions recorded by the registration and reconciliation services.
const (
	ActionRegistrantCreated      = "registrant.created"
	ActionPaymentApproved        = "payment.approved"
	ActionPaymentRejected        = "payment.rejected"
	ActionPaymentCancelled       = "payment.cancelled"
	ActionPaymentManualApproved  = "payment.manual_approved"
	ActionPaymentAnomalyRejected = "payment.anomaly_rejected"
	ActionPaymentRecovered       = "payment.recovered"
)

// Store is the persistence port for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
