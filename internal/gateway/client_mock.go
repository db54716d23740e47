package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient is a deterministic provider double for tests and local runs.
// Outcomes are scripted per call; a configurable latency mimics network I/O.
type MockClient struct {
	Latency time.Duration

	// NextStatus and NextStatusDetail script the outcome of the next
	// CreatePayment call. Empty NextStatus means approved for cards and
	// pending for transfers.
	NextStatus       string
	NextStatusDetail string

	// Err, when set, is returned by every call.
	Err error

	mu      sync.Mutex
	created map[string]Intent
}

func NewMockClient() *MockClient {
	return &MockClient{created: make(map[string]Intent)}
}

func (m *MockClient) CreatePayment(ctx context.Context, req ChargeRequest) (Intent, error) {
	time.Sleep(m.Latency)
	if m.Err != nil {
		return Intent{}, m.Err
	}

	status := m.NextStatus
	if status == "" {
		if req.Kind == KindTransfer {
			status = StatusPending
		} else {
			status = StatusApproved
		}
	}

	intent := Intent{
		GatewayID:    uuid.NewString(),
		Status:       status,
		StatusDetail: m.NextStatusDetail,
		Amount:       req.Amount,
		MethodID:     methodIDFor(req.Kind),
		Payer:        req.Payer,
		CreatedAt:    time.Now(),
	}
	if req.Kind == KindTransfer {
		intent.TransferCode = fmt.Sprintf("00020126mock%s", intent.GatewayID[:8])
		intent.TransferQR = "bW9jay1xcg=="
	}

	m.mu.Lock()
	m.created[intent.GatewayID] = intent
	m.mu.Unlock()
	return intent, nil
}

func (m *MockClient) GetPayment(ctx context.Context, gatewayID string) (Intent, error) {
	time.Sleep(m.Latency)
	if m.Err != nil {
		return Intent{}, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.created[gatewayID]
	if !ok {
		return Intent{}, fmt.Errorf("gateway returned 404: payment %s not found", gatewayID)
	}
	return intent, nil
}

func (m *MockClient) SearchRecent(ctx context.Context, since time.Time) ([]Intent, error) {
	time.Sleep(m.Latency)
	if m.Err != nil {
		return nil, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var intents []Intent
	for _, intent := range m.created {
		if intent.CreatedAt.After(since) {
			intents = append(intents, intent)
		}
	}
	return intents, nil
}

// SetStatus rewrites the stored status of a created intent so tests can
// simulate an asynchronous transfer confirmation.
func (m *MockClient) SetStatus(gatewayID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.created[gatewayID]; ok {
		intent.Status = status
		m.created[gatewayID] = intent
	}
}
