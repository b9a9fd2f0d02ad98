package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/services"
)

type stubPaymentHandlerService struct {
	processFunc       func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error)
	refundFunc        func(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error)
	validateFunc      func(ctx context.Context, actor services.Actor, paymentID string) (services.PaymentValidationResult, error)
	getPaymentFunc    func(ctx context.Context, actor services.Actor, paymentID string) (services.Payment, error)
	getByOrderFunc    func(ctx context.Context, actor services.Actor, orderID string) (services.Payment, error)
	listPaymentsFunc  func(ctx context.Context, cmd services.ListPaymentsCommand) (domain.CursorPage[services.Payment], error)
	handleWebhookFunc func(ctx context.Context, cmd services.PaymentWebhookCommand) error
}

func (s *stubPaymentHandlerService) Process(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error) {
	if s.processFunc == nil {
		return services.Payment{}, nil
	}
	return s.processFunc(ctx, cmd)
}

func (s *stubPaymentHandlerService) Refund(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
	if s.refundFunc == nil {
		return services.Payment{}, nil
	}
	return s.refundFunc(ctx, cmd)
}

func (s *stubPaymentHandlerService) Validate(ctx context.Context, actor services.Actor, paymentID string) (services.PaymentValidationResult, error) {
	if s.validateFunc == nil {
		return services.PaymentValidationResult{}, nil
	}
	return s.validateFunc(ctx, actor, paymentID)
}

func (s *stubPaymentHandlerService) GetPayment(ctx context.Context, actor services.Actor, paymentID string) (services.Payment, error) {
	if s.getPaymentFunc == nil {
		return services.Payment{}, nil
	}
	return s.getPaymentFunc(ctx, actor, paymentID)
}

func (s *stubPaymentHandlerService) GetByOrder(ctx context.Context, actor services.Actor, orderID string) (services.Payment, error) {
	if s.getByOrderFunc == nil {
		return services.Payment{}, nil
	}
	return s.getByOrderFunc(ctx, actor, orderID)
}

func (s *stubPaymentHandlerService) ListPayments(ctx context.Context, cmd services.ListPaymentsCommand) (domain.CursorPage[services.Payment], error) {
	if s.listPaymentsFunc == nil {
		return domain.CursorPage[services.Payment]{}, nil
	}
	return s.listPaymentsFunc(ctx, cmd)
}

func (s *stubPaymentHandlerService) HandleWebhook(ctx context.Context, cmd services.PaymentWebhookCommand) error {
	if s.handleWebhookFunc == nil {
		return nil
	}
	return s.handleWebhookFunc(ctx, cmd)
}

func newPaymentRouter(payments services.PaymentService) chi.Router {
	h := NewPaymentHandlers(nil, payments)
	r := chi.NewRouter()
	r.Route("/payments", h.Routes)
	return r
}

func completedPayment() services.Payment {
	completedAt := handlerTestNow
	return services.Payment{
		ID:                    "pay_1",
		OrderID:               "ord_1",
		UserID:                "user-1",
		Provider:              "mock",
		Method:                "tok_visa",
		TransactionID:         "TXN-0001",
		ProviderTransactionID: "mock_pi_TXN-0001",
		Amount:                66597,
		Currency:              "USD",
		Status:                domain.PaymentStatusCompleted,
		CreatedAt:             handlerTestNow,
		CompletedAt:           &completedAt,
	}
}

func TestProcessPaymentReturnsCreated(t *testing.T) {
	var got services.ProcessPaymentCommand
	payments := &stubPaymentHandlerService{
		processFunc: func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error) {
			got = cmd
			return completedPayment(), nil
		},
	}

	body := `{"order_id":"ord_1","provider":"mock","method":"tok_visa"}`
	rec := httptest.NewRecorder()
	newPaymentRouter(payments).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/payments", body, "user-1"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if got.OrderID != "ord_1" || got.Provider != "mock" || got.Method != "tok_visa" {
		t.Fatalf("command = %+v", got)
	}

	var resp paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Payment.Status != "completed" || resp.Payment.Amount != 66597 {
		t.Fatalf("payment = %+v", resp.Payment)
	}
}

func TestProcessDeclinedPaymentReturnsOK(t *testing.T) {
	payments := &stubPaymentHandlerService{
		processFunc: func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error) {
			payment := completedPayment()
			payment.Status = domain.PaymentStatusFailed
			payment.FailureReason = "card_declined the card was declined"
			payment.CompletedAt = nil
			return payment, nil
		},
	}

	body := `{"order_id":"ord_1","provider":"mock","method":"tok_declined"}`
	rec := httptest.NewRecorder()
	newPaymentRouter(payments).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/payments", body, "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Payment.Status != "failed" || resp.Payment.FailureReason == "" {
		t.Fatalf("payment = %+v", resp.Payment)
	}
}

func TestProcessSecondPaymentConflicts(t *testing.T) {
	payments := &stubPaymentHandlerService{
		processFunc: func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error) {
			return services.Payment{}, services.ErrPaymentAlreadyExists
		},
	}

	body := `{"order_id":"ord_1","provider":"mock","method":"tok_visa"}`
	rec := httptest.NewRecorder()
	newPaymentRouter(payments).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/payments", body, "user-1"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRefundExceedingBalanceIsUnprocessable(t *testing.T) {
	payments := &stubPaymentHandlerService{
		refundFunc: func(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
			return services.Payment{}, services.ErrPaymentInvalidAmount
		},
	}

	rec := httptest.NewRecorder()
	newPaymentRouter(payments).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/payments/pay_1/refund", `{"amount":30000}`, "user-1"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestRefundForwardsAmountAndReason(t *testing.T) {
	var got services.RefundPaymentCommand
	payments := &stubPaymentHandlerService{
		refundFunc: func(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
			got = cmd
			payment := completedPayment()
			payment.Status = domain.PaymentStatusPartiallyRefunded
			payment.RefundedAmount = cmd.Amount
			return payment, nil
		},
	}

	rec := httptest.NewRecorder()
	newPaymentRouter(payments).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/payments/pay_1/refund", `{"amount":30000,"reason":"damaged item"}`, "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.PaymentID != "pay_1" || got.Amount != 30000 || got.Reason != "damaged item" {
		t.Fatalf("command = %+v", got)
	}

	var resp paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Payment.Status != "partially_refunded" || resp.Payment.RefundedAmount != 30000 {
		t.Fatalf("payment = %+v", resp.Payment)
	}
}

func TestValidatePaymentReportsMismatches(t *testing.T) {
	payments := &stubPaymentHandlerService{
		validateFunc: func(ctx context.Context, actor services.Actor, paymentID string) (services.PaymentValidationResult, error) {
			return services.PaymentValidationResult{
				Payment:    completedPayment(),
				Consistent: false,
				Mismatches: []string{"refunded amount differs: local 0, provider 30000"},
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	newPaymentRouter(payments).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/payments/pay_1/validate", `{}`, "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp paymentValidationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Consistent || len(resp.Mismatches) != 1 {
		t.Fatalf("result = %+v", resp)
	}
}

func TestListPaymentsRejectsUnknownStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	newPaymentRouter(&stubPaymentHandlerService{}).ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/payments?status=weird", "", "user-1"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetPaymentForbiddenForOtherUser(t *testing.T) {
	payments := &stubPaymentHandlerService{
		getPaymentFunc: func(ctx context.Context, actor services.Actor, paymentID string) (services.Payment, error) {
			return services.Payment{}, services.ErrUnauthorized
		},
	}

	rec := httptest.NewRecorder()
	newPaymentRouter(payments).ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/payments/pay_1", "", "user-2"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
