package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the charge is still in flight at the provider.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the provider reports the charge as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the charge has been fully refunded at the provider.
	StatusRefunded Status = "refunded"
)

// EventKind classifies webhook notifications after provider-specific parsing.
type EventKind string

const (
	EventChargeSucceeded EventKind = "charge.succeeded"
	EventChargeFailed    EventKind = "charge.failed"
	EventRefundSucceeded EventKind = "refund.succeeded"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrWebhookSignature is returned when a webhook payload fails signature verification.
var ErrWebhookSignature = errors.New("payments: webhook signature verification failed")

// ErrUnrecognisedEvent marks webhook events the adapter cannot map onto a
// charge lifecycle notification. Callers acknowledge and drop them.
var ErrUnrecognisedEvent = errors.New("payments: unrecognised webhook event")

// ProviderError reports a declined or errored provider call. It is recorded on
// the payment record rather than surfaced as a server failure.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "payments: provider error"
	}
	if e.Code != "" {
		return fmt.Sprintf("payments: provider %s: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("payments: provider %s: %s", e.Provider, e.Message)
}

// Unwrap exposes the underlying transport error when present.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ChargeRequest captures the payload required to charge a customer.
type ChargeRequest struct {
	TransactionID  string
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	Method         string
	CustomerID     string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundRequest defines a provider refund attempt against an earlier charge.
type RefundRequest struct {
	TransactionID  string
	Amount         int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest retrieves provider-side payment details for reconciliation.
type LookupRequest struct {
	TransactionID string
}

// PaymentDetails normalises provider specific fields for storage and reconciliation.
type PaymentDetails struct {
	Provider       string
	TransactionID  string
	Status         Status
	Amount         int64
	RefundedAmount int64
	Currency       string
	FailureCode    string
	FailureReason  string
	CapturedAt     *time.Time
	Raw            map[string]any
}

// WebhookEvent is the provider-neutral form of an asynchronous notification.
type WebhookEvent struct {
	Provider      string
	EventID       string
	Kind          EventKind
	TransactionID string
	Amount        int64
	Currency      string
	FailureCode   string
	FailureReason string
	OccurredAt    time.Time
	Raw           map[string]any
}

// Provider defines the contract payment adapters implement. A declined charge
// is reported through PaymentDetails with StatusFailed, not through the error
// return; errors signal transport or configuration problems.
type Provider interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
	Lookup(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// WebhookParser is implemented by providers that deliver asynchronous
// notifications. ParseWebhook must verify payload authenticity before
// returning an event.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (WebhookEvent, error)
}

// Manager coordinates provider selection across registered adapters.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	fallback        Provider
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when a request names none.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.TrimSpace(strings.ToLower(provider))
	}
}

// WithFallbackProvider routes unregistered provider names to the supplied
// adapter instead of failing. Deployments without live PSP credentials point
// this at the mock adapter.
func WithFallbackProvider(provider Provider) ManagerOption {
	return func(m *Manager) {
		m.fallback = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Resolve locates the provider registered under name. An empty name selects
// the default provider; unknown names fall through to the fallback adapter
// when configured.
func (m *Manager) Resolve(name string) (Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	key := strings.TrimSpace(strings.ToLower(name))
	if key == "" {
		key = m.defaultProvider
	}
	if key == "" && len(m.providers) == 1 {
		for _, p := range m.providers {
			return p, nil
		}
	}
	if p, ok := m.providers[key]; ok {
		return p, nil
	}
	if m.fallback != nil {
		return m.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
}

// Charge delegates to the resolved provider.
func (m *Manager) Charge(ctx context.Context, name string, req ChargeRequest) (PaymentDetails, error) {
	provider, err := m.Resolve(name)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Charge(ctx, req)
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, name string, req RefundRequest) (PaymentDetails, error) {
	provider, err := m.Resolve(name)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Refund(ctx, req)
}

// Lookup delegates to the resolved provider.
func (m *Manager) Lookup(ctx context.Context, name string, req LookupRequest) (PaymentDetails, error) {
	provider, err := m.Resolve(name)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Lookup(ctx, req)
}

// ParseWebhook verifies and normalises a webhook payload for the named
// provider. Providers without webhook support report ErrUnsupportedProvider.
func (m *Manager) ParseWebhook(ctx context.Context, name string, payload []byte, headers http.Header) (WebhookEvent, error) {
	provider, err := m.Resolve(name)
	if err != nil {
		return WebhookEvent{}, err
	}
	parser, ok := provider.(WebhookParser)
	if !ok {
		return WebhookEvent{}, fmt.Errorf("%w: %q has no webhook support", ErrUnsupportedProvider, provider.Name())
	}
	return parser.ParseWebhook(ctx, payload, headers)
}
