package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const mockProviderName = "mock"

// Method tokens the mock recognises for simulating terminal outcomes.
const (
	MockMethodDeclined     = "tok_declined"
	MockMethodInsufficient = "tok_insufficient_funds"
)

// MockProvider is a deterministic in-process payment adapter used in
// development, tests, and as the fallback for unconfigured provider names.
// Charges succeed unless the payment method is one of the decline tokens, and
// every outcome is reproducible from the request alone.
type MockProvider struct {
	clock func() time.Time

	mu           sync.Mutex
	transactions map[string]PaymentDetails
}

var (
	_ Provider      = (*MockProvider)(nil)
	_ WebhookParser = (*MockProvider)(nil)
)

// NewMockProvider constructs the mock adapter. A nil clock defaults to time.Now.
func NewMockProvider(clock func() time.Time) *MockProvider {
	if clock == nil {
		clock = time.Now
	}
	return &MockProvider{
		clock: func() time.Time {
			return clock().UTC()
		},
		transactions: make(map[string]PaymentDetails),
	}
}

// Name identifies the provider within the manager registry.
func (p *MockProvider) Name() string { return mockProviderName }

// Charge settles immediately. The external transaction id is derived from the
// request so repeated calls for the same payment produce the same reference.
func (p *MockProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("mock: provider is nil")
	}
	if err := ctx.Err(); err != nil {
		return PaymentDetails{}, err
	}
	if req.Amount <= 0 {
		return PaymentDetails{}, &ProviderError{
			Provider: mockProviderName,
			Code:     "amount_invalid",
			Message:  fmt.Sprintf("amount must be positive, got %d", req.Amount),
		}
	}

	transactionID := mockTransactionID(req.TransactionID, req.OrderID)
	now := p.clock()

	details := PaymentDetails{
		Provider:      mockProviderName,
		TransactionID: transactionID,
		Status:        StatusSucceeded,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		CapturedAt:    &now,
	}

	switch strings.TrimSpace(req.Method) {
	case MockMethodDeclined:
		details.Status = StatusFailed
		details.FailureCode = "card_declined"
		details.FailureReason = "the card was declined"
		details.CapturedAt = nil
	case MockMethodInsufficient:
		details.Status = StatusFailed
		details.FailureCode = "insufficient_funds"
		details.FailureReason = "the card has insufficient funds"
		details.CapturedAt = nil
	}

	p.mu.Lock()
	p.transactions[transactionID] = details
	p.mu.Unlock()

	return details, nil
}

// Refund accumulates refunded amounts against a previously settled charge.
func (p *MockProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("mock: provider is nil")
	}
	if err := ctx.Err(); err != nil {
		return PaymentDetails{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	details, ok := p.transactions[req.TransactionID]
	if !ok {
		return PaymentDetails{}, &ProviderError{
			Provider: mockProviderName,
			Code:     "transaction_not_found",
			Message:  fmt.Sprintf("unknown transaction %q", req.TransactionID),
		}
	}
	if details.Status != StatusSucceeded && details.Status != StatusRefunded {
		return PaymentDetails{}, &ProviderError{
			Provider: mockProviderName,
			Code:     "charge_not_settled",
			Message:  fmt.Sprintf("transaction %q is %s", req.TransactionID, details.Status),
		}
	}
	if req.Amount <= 0 || details.RefundedAmount+req.Amount > details.Amount {
		return PaymentDetails{}, &ProviderError{
			Provider: mockProviderName,
			Code:     "refund_amount_invalid",
			Message:  fmt.Sprintf("refund of %d exceeds refundable balance %d", req.Amount, details.Amount-details.RefundedAmount),
		}
	}

	details.RefundedAmount += req.Amount
	if details.RefundedAmount == details.Amount {
		details.Status = StatusRefunded
	}
	p.transactions[req.TransactionID] = details
	return details, nil
}

// Lookup returns the stored transaction state for reconciliation.
func (p *MockProvider) Lookup(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("mock: provider is nil")
	}
	if err := ctx.Err(); err != nil {
		return PaymentDetails{}, err
	}

	p.mu.Lock()
	details, ok := p.transactions[req.TransactionID]
	p.mu.Unlock()

	if !ok {
		return PaymentDetails{}, &ProviderError{
			Provider: mockProviderName,
			Code:     "transaction_not_found",
			Message:  fmt.Sprintf("unknown transaction %q", req.TransactionID),
		}
	}
	return details, nil
}

type mockWebhookPayload struct {
	EventID       string    `json:"eventId"`
	Type          string    `json:"type"`
	TransactionID string    `json:"transactionId"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	FailureCode   string    `json:"failureCode,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// ParseWebhook decodes a mock notification. Authenticity is established
// upstream by the HMAC middleware on the webhook route, so only structural
// validation happens here.
func (p *MockProvider) ParseWebhook(_ context.Context, payload []byte, _ http.Header) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("mock: provider is nil")
	}

	var body mockWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookEvent{}, fmt.Errorf("mock: decode webhook payload: %w", err)
	}
	if strings.TrimSpace(body.EventID) == "" || strings.TrimSpace(body.TransactionID) == "" {
		return WebhookEvent{}, errors.New("mock: webhook payload missing eventId or transactionId")
	}

	var kind EventKind
	switch body.Type {
	case "charge.succeeded":
		kind = EventChargeSucceeded
	case "charge.failed":
		kind = EventChargeFailed
	case "refund.succeeded":
		kind = EventRefundSucceeded
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrUnrecognisedEvent, body.Type)
	}

	occurredAt := body.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = p.clock()
	}

	raw := map[string]any{}
	_ = json.Unmarshal(payload, &raw)

	return WebhookEvent{
		Provider:      mockProviderName,
		EventID:       body.EventID,
		Kind:          kind,
		TransactionID: body.TransactionID,
		Amount:        body.Amount,
		Currency:      strings.ToUpper(body.Currency),
		FailureCode:   body.FailureCode,
		FailureReason: body.FailureReason,
		OccurredAt:    occurredAt.UTC(),
		Raw:           raw,
	}, nil
}

func mockTransactionID(internalID, orderID string) string {
	ref := strings.TrimSpace(internalID)
	if ref == "" {
		ref = strings.TrimSpace(orderID)
	}
	return "mock_pi_" + ref
}
