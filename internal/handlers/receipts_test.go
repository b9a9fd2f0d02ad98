package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/domain"
	platformstorage "github.com/tradewinds/api/internal/platform/storage"
	"github.com/tradewinds/api/internal/services"
)

type fakeURLSigner struct{}

func (fakeURLSigner) Email() string { return "signer@test-project.iam.gserviceaccount.com" }

func (fakeURLSigner) SignBytes(context.Context, []byte) ([]byte, error) {
	return []byte("signature"), nil
}

func newReceiptRouter(t *testing.T, payments services.PaymentService) chi.Router {
	t.Helper()
	urls, err := platformstorage.NewClient(fakeURLSigner{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	h := NewReceiptHandlers(nil, payments, urls, nil, "receipts-bucket", "logs-bucket")
	r := chi.NewRouter()
	r.Route("/payments", h.Routes)
	r.Route("/admin/receipts", h.AdminRoutes)
	return r
}

func TestGetReceiptURLForOwner(t *testing.T) {
	payments := &stubPaymentHandlerService{
		getPaymentFunc: func(_ context.Context, actor services.Actor, paymentID string) (services.Payment, error) {
			if paymentID != "pay_1" {
				t.Fatalf("paymentID = %q", paymentID)
			}
			if actor.ID != "user-1" {
				t.Fatalf("actor = %q", actor.ID)
			}
			return completedPayment(), nil
		},
	}

	req := authenticatedRequest(http.MethodGet, "/payments/pay_1/receipt", "", "user-1")
	rec := httptest.NewRecorder()
	newReceiptRouter(t, payments).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp receiptURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL == "" {
		t.Error("expected signed url")
	}
	if resp.Method != http.MethodGet {
		t.Errorf("method = %q", resp.Method)
	}
	if resp.ExpiresAt == "" {
		t.Error("expected expiry timestamp")
	}
}

func TestGetReceiptURLDeniedForOtherUser(t *testing.T) {
	payments := &stubPaymentHandlerService{
		getPaymentFunc: func(context.Context, services.Actor, string) (services.Payment, error) {
			return completedPayment(), nil
		},
	}

	req := authenticatedRequest(http.MethodGet, "/payments/pay_1/receipt", "", "user-2")
	rec := httptest.NewRecorder()
	newReceiptRouter(t, payments).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestGetReceiptURLBeforeSettlement(t *testing.T) {
	payments := &stubPaymentHandlerService{
		getPaymentFunc: func(context.Context, services.Actor, string) (services.Payment, error) {
			payment := completedPayment()
			payment.Status = domain.PaymentStatusProcessing
			payment.CompletedAt = nil
			return payment, nil
		},
	}

	req := authenticatedRequest(http.MethodGet, "/payments/pay_1/receipt", "", "user-1")
	rec := httptest.NewRecorder()
	newReceiptRouter(t, payments).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] != "receipt_not_found" {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestExportReceiptWithoutCopierUnavailable(t *testing.T) {
	payments := &stubPaymentHandlerService{
		getPaymentFunc: func(context.Context, services.Actor, string) (services.Payment, error) {
			return completedPayment(), nil
		},
	}

	req := authenticatedRequest(http.MethodPost, "/admin/receipts/pay_1/export", "", "staff-1", "staff")
	rec := httptest.NewRecorder()
	newReceiptRouter(t, payments).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
