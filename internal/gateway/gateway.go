// Package gateway talks to the external payment provider. The provider
// creates payment intents (card charge or instant transfer) and reports
// their status; it never writes to our store.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects the provider-side payment instrument.
type Kind string

const (
	KindCardCredit Kind = "card-credit"
	KindCardDebit  Kind = "card-debit"
	KindTransfer   Kind = "transfer"
)

// Provider status vocabulary. Raw strings from the provider are kept verbatim
// on the Payment row; only these four participate in state mapping.
const (
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusPending   = "pending"
)

// Payer identifies the paying party to the provider.
type Payer struct {
	FullName   string
	Email      string
	NationalID string
}

// ChargeRequest describes one payment intent to create.
type ChargeRequest struct {
	Kind         Kind
	Amount       decimal.Decimal
	Description  string
	Payer        Payer
	CardToken    string
	Installments int
}

// Intent is the provider's view of a payment.
type Intent struct {
	GatewayID    string
	Status       string
	StatusDetail string
	Amount       decimal.Decimal
	MethodID     string
	Payer        Payer

	// TransferCode and TransferQR are set for instant-transfer intents only:
	// the copyable key and the base64 QR image handed to the payer.
	TransferCode string
	TransferQR   string

	CreatedAt time.Time
}

// Client is the capability surface the services depend on. A declined card
// is not an error; errors mean the provider could not be reached or answered
// outside its contract.
type Client interface {
	CreatePayment(ctx context.Context, req ChargeRequest) (Intent, error)
	GetPayment(ctx context.Context, gatewayID string) (Intent, error)
	SearchRecent(ctx context.Context, since time.Time) ([]Intent, error)
}
