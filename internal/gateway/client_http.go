package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "confreg/internal/gateway"

// HTTPClient implements Client against the provider's REST API
// (POST /v1/payments, GET /v1/payments/{id}, GET /v1/payments/search).
type HTTPClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	tracer      trace.Tracer
}

// NewHTTPClient constructs a provider client. The timeout bounds every call;
// a timed-out request surfaces as an error, never as an implicit retry.
func NewHTTPClient(baseURL, accessToken string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		tracer:      otel.Tracer(tracerName),
	}
}

type paymentRequestBody struct {
	TransactionAmount float64           `json:"transaction_amount"`
	Description       string            `json:"description"`
	PaymentMethodID   string            `json:"payment_method_id"`
	Token             string            `json:"token,omitempty"`
	Installments      int               `json:"installments,omitempty"`
	Payer             paymentPayerBody  `json:"payer"`
}

type paymentPayerBody struct {
	Email          string                `json:"email"`
	FirstName      string                `json:"first_name"`
	LastName       string                `json:"last_name"`
	Identification paymentIdentification `json:"identification"`
}

type paymentIdentification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type paymentResponseBody struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	TransactionAmount  float64     `json:"transaction_amount"`
	PaymentMethodID    string      `json:"payment_method_id"`
	DateCreated        time.Time   `json:"date_created"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	Payer struct {
		Email          string `json:"email"`
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		Identification struct {
			Number string `json:"number"`
		} `json:"identification"`
	} `json:"payer"`
}

type searchResponseBody struct {
	Results []paymentResponseBody `json:"results"`
}

func (c *HTTPClient) CreatePayment(ctx context.Context, req ChargeRequest) (Intent, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.CreatePayment",
		trace.WithAttributes(attribute.String("gateway.kind", string(req.Kind))))
	defer span.End()

	amount, _ := req.Amount.Float64()
	body := paymentRequestBody{
		TransactionAmount: amount,
		Description:       req.Description,
		PaymentMethodID:   methodIDFor(req.Kind),
		Payer:             payerBody(req.Payer),
	}
	if req.Kind == KindCardCredit || req.Kind == KindCardDebit {
		body.Token = req.CardToken
		body.Installments = req.Installments
		if body.Installments == 0 {
			body.Installments = 1
		}
	}

	var resp paymentResponseBody
	if err := c.do(ctx, http.MethodPost, "/v1/payments", body, &resp); err != nil {
		return Intent{}, err
	}
	return toIntent(resp), nil
}

func (c *HTTPClient) GetPayment(ctx context.Context, gatewayID string) (Intent, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.GetPayment",
		trace.WithAttributes(attribute.String("gateway.payment_id", gatewayID)))
	defer span.End()

	var resp paymentResponseBody
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(gatewayID), nil, &resp); err != nil {
		return Intent{}, err
	}
	return toIntent(resp), nil
}

func (c *HTTPClient) SearchRecent(ctx context.Context, since time.Time) ([]Intent, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.SearchRecent")
	defer span.End()

	query := url.Values{}
	query.Set("sort", "date_created")
	query.Set("criteria", "desc")
	query.Set("range", "date_created")
	query.Set("begin_date", since.UTC().Format(time.RFC3339))
	query.Set("end_date", time.Now().UTC().Format(time.RFC3339))

	var resp searchResponseBody
	if err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	intents := make([]Intent, 0, len(resp.Results))
	for _, result := range resp.Results {
		intents = append(intents, toIntent(result))
	}
	return intents, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func methodIDFor(kind Kind) string {
	switch kind {
	case KindTransfer:
		return "pix"
	case KindCardDebit:
		return "debvisa"
	default:
		return "visa"
	}
}

func payerBody(p Payer) paymentPayerBody {
	first, last := splitName(p.FullName)
	return paymentPayerBody{
		Email:     p.Email,
		FirstName: first,
		LastName:  last,
		Identification: paymentIdentification{
			Type:   "CPF",
			Number: digitsOnly(p.NationalID),
		},
	}
}

// splitName follows the provider's first/last convention; single-word names
// repeat the word so neither field is empty.
func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], parts[0]
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toIntent(resp paymentResponseBody) Intent {
	return Intent{
		GatewayID:    resp.ID.String(),
		Status:       resp.Status,
		StatusDetail: resp.StatusDetail,
		Amount:       decimal.NewFromFloat(resp.TransactionAmount),
		MethodID:     resp.PaymentMethodID,
		Payer: Payer{
			FullName:   strings.TrimSpace(resp.Payer.FirstName + " " + resp.Payer.LastName),
			Email:      resp.Payer.Email,
			NationalID: resp.Payer.Identification.Number,
		},
		TransferCode: resp.PointOfInteraction.TransactionData.QRCode,
		TransferQR:   resp.PointOfInteraction.TransactionData.QRCodeBase64,
		CreatedAt:    resp.DateCreated,
	}
}
