package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"confreg/internal/gateway"
	dErrors "confreg/pkg/domain-errors"
)

// PaymentState is the internal payment lifecycle state.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "PENDING"
	PaymentStateApproved  PaymentState = "APPROVED"
	PaymentStateRejected  PaymentState = "REJECTED"
	PaymentStateCancelled PaymentState = "CANCELLED"
)

// IsTerminal reports whether no further transition is defined out of s.
func (s PaymentState) IsTerminal() bool {
	switch s {
	case PaymentStateApproved, PaymentStateRejected, PaymentStateCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the state machine: PENDING may move to any
// terminal state (or stay PENDING); a terminal state only accepts itself.
func (s PaymentState) CanTransitionTo(next PaymentState) bool {
	if s == next {
		return true
	}
	return s == PaymentStatePending
}

// StateFromGatewayStatus maps the provider vocabulary onto the internal
// enumeration. Unknown provider statuses (in_process, authorized, ...) stay
// PENDING.
func StateFromGatewayStatus(raw string) PaymentState {
	switch raw {
	case gateway.StatusApproved:
		return PaymentStateApproved
	case gateway.StatusRejected:
		return PaymentStateRejected
	case gateway.StatusCancelled:
		return PaymentStateCancelled
	default:
		return PaymentStatePending
	}
}

// Payment is one charge attempt owned by a Registrant.
//
// Invariants:
//   - GatewayID, when present, maps to at most one Payment (store-enforced)
//   - State transitions follow CanTransitionTo; terminal states are final
//   - Companions hold non-empty trimmed names, order preserved
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	RegistrantID  uuid.UUID       `json:"registrant_id"`
	Amount        decimal.Decimal `json:"amount"`
	State         PaymentState    `json:"state"`
	GatewayID     string          `json:"gateway_id,omitempty"`
	GatewayStatus string          `json:"gateway_status,omitempty"`
	Companions    []string        `json:"companions"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewPayment constructs a Payment in the given initial state.
func NewPayment(id, registrantID uuid.UUID, amount decimal.Decimal, state PaymentState, gatewayID, gatewayStatus string, companions []string, now time.Time) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "payment amount must be positive")
	}
	if companions == nil {
		companions = []string{}
	}
	return &Payment{
		ID:            id,
		RegistrantID:  registrantID,
		Amount:        amount,
		State:         state,
		GatewayID:     gatewayID,
		GatewayStatus: gatewayStatus,
		Companions:    companions,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CanApply checks a requested transition against the state machine.
// A terminal-to-same-terminal request is a no-op success; a terminal-to-
// different-terminal request is the anomaly the reconciliation service
// rejects and logs.
func (p *Payment) CanApply(next PaymentState) error {
	if p.State.CanTransitionTo(next) {
		return nil
	}
	return dErrors.New(dErrors.CodeConflict,
		"payment already in terminal state "+string(p.State)+", refusing transition to "+string(next))
}
