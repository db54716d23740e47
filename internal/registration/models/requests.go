package models

import (
	"strings"

	"github.com/shopspring/decimal"

	dErrors "confreg/pkg/domain-errors"
)

// PaymentMethod selects how the registrant pays.
type PaymentMethod string

const (
	MethodCardCredit      PaymentMethod = "card-credit"
	MethodCardDebit       PaymentMethod = "card-debit"
	MethodInstantTransfer PaymentMethod = "instant-transfer"
)

func (m PaymentMethod) IsCard() bool {
	return m == MethodCardCredit || m == MethodCardDebit
}

func (m PaymentMethod) valid() bool {
	switch m {
	case MethodCardCredit, MethodCardDebit, MethodInstantTransfer:
		return true
	}
	return false
}

// Companion is a named additional attendee tied to one payment. Companions
// are not separate registrants.
type Companion struct {
	Name string `json:"name"`
}

// SubmitRequest is one registration submission from the presentation layer.
// DeclaredTotal is advisory only; the service recomputes the total and
// rejects a mismatch rather than trusting the client.
type SubmitRequest struct {
	FullName      string          `json:"full_name"`
	Email         string          `json:"email"`
	NationalID    string          `json:"national_id"`
	Phone         string          `json:"phone"`
	Companions    []Companion     `json:"companions"`
	Method        PaymentMethod   `json:"payment_method"`
	CardToken     string          `json:"card_token,omitempty"`
	Installments  int             `json:"installments,omitempty"`
	DeclaredTotal decimal.Decimal `json:"declared_total"`
}

// Normalize trims fields and drops empty companion names, preserving order.
func (r *SubmitRequest) Normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.NationalID = strings.TrimSpace(r.NationalID)
	r.Phone = strings.TrimSpace(r.Phone)
	r.CardToken = strings.TrimSpace(r.CardToken)

	kept := r.Companions[:0]
	for _, companion := range r.Companions {
		name := strings.TrimSpace(companion.Name)
		if name != "" {
			kept = append(kept, Companion{Name: name})
		}
	}
	r.Companions = kept
}

// Validate enforces the submission preconditions. Call Normalize first.
func (r *SubmitRequest) Validate() error {
	if r.FullName == "" || r.Email == "" || r.NationalID == "" || r.Phone == "" {
		return dErrors.New(dErrors.CodeValidation, "full name, email, national id and phone are required")
	}
	if !r.Method.valid() {
		return dErrors.New(dErrors.CodeValidation, "unsupported payment method")
	}
	if r.Method.IsCard() && r.CardToken == "" {
		return dErrors.New(dErrors.CodeValidation, "card token is required for card payments")
	}
	return nil
}

// CompanionNames returns the ordered companion name list.
func (r *SubmitRequest) CompanionNames() []string {
	names := make([]string, 0, len(r.Companions))
	for _, companion := range r.Companions {
		names = append(names, companion.Name)
	}
	return names
}

// ComputeTotal derives the charge amount: one head plus one per companion.
func (r *SubmitRequest) ComputeTotal(unitFee decimal.Decimal) decimal.Decimal {
	heads := decimal.NewFromInt(int64(1 + len(r.Companions)))
	return unitFee.Mul(heads)
}
