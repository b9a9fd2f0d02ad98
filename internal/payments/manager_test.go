package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	name    string
	lastOp  string
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	f.lastOp = "charge"
	return f.payment, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func (f *fakeProvider) Lookup(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func TestManagerChargeUsesNamedProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{name: "stripe", payment: PaymentDetails{Provider: "stripe"}}
	mock := &fakeProvider{name: "mock", payment: PaymentDetails{Provider: "mock"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"mock":   mock,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Charge(ctx, "mock", ChargeRequest{Amount: 59998, Currency: "USD"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if details.Provider != "mock" {
		t.Fatalf("expected provider 'mock', got %q", details.Provider)
	}
	if mock.lastOp != "charge" {
		t.Fatalf("expected mock provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerDefaultsToStripe(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{name: "stripe", payment: PaymentDetails{Provider: "stripe"}}
	mock := &fakeProvider{name: "mock"}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"mock":   mock,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Lookup(ctx, "", LookupRequest{TransactionID: "pi_123"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stripe.lastOp != "lookup" {
		t.Fatalf("expected lookup to invoke stripe as default")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerFallbackProvider(t *testing.T) {
	ctx := context.Background()
	mock := &fakeProvider{name: "mock", payment: PaymentDetails{Provider: "mock"}}

	mgr, err := NewManager(
		map[string]Provider{"mock": mock},
		WithFallbackProvider(mock),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := mgr.Charge(ctx, "paypal", ChargeRequest{Amount: 100, Currency: "USD"}); err != nil {
		t.Fatalf("charge via fallback: %v", err)
	}
	if mock.lastOp != "charge" {
		t.Fatalf("expected fallback provider to handle unregistered name")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(
		map[string]Provider{"stripe": &fakeProvider{name: "stripe"}},
		WithDefaultProvider(""),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.Charge(ctx, "unknown", ChargeRequest{Amount: 100, Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerParseWebhookRequiresParser(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{name: "stripe"}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.ParseWebhook(ctx, "stripe", []byte("{}"), nil)
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider for provider without webhook support, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
