package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/platform/auth"
	"github.com/tradewinds/api/internal/platform/httpx"
	"github.com/tradewinds/api/internal/repositories"
	"github.com/tradewinds/api/internal/services"
)

const (
	defaultPaymentPageSize = 20
	maxPaymentPageSize     = 100
	maxPaymentBodySize     = 16 * 1024
)

var validPaymentStatuses = map[domain.PaymentStatus]struct{}{
	domain.PaymentStatusProcessing:        {},
	domain.PaymentStatusCompleted:         {},
	domain.PaymentStatusFailed:            {},
	domain.PaymentStatusPartiallyRefunded: {},
	domain.PaymentStatusRefunded:          {},
}

// PaymentHandlers exposes the authenticated payment endpoints.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.processPayment)
	r.Get("/", h.listPayments)
	r.Get("/{paymentID}", h.getPayment)
	r.Post("/{paymentID}/refund", h.refundPayment)
	r.Post("/{paymentID}/validate", h.validatePayment)
}

func (h *PaymentHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

type processPaymentRequest struct {
	OrderID  string `json:"order_id"`
	Provider string `json:"provider"`
	Method   string `json:"method"`
}

func (h *PaymentHandlers) processPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req processPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.Process(ctx, services.ProcessPaymentCommand{
		Actor:    actorFor(identity),
		OrderID:  strings.TrimSpace(req.OrderID),
		Provider: strings.TrimSpace(req.Provider),
		Method:   strings.TrimSpace(req.Method),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	// A declined charge still creates the payment record; surface it with
	// 200 so callers read the status instead of retrying blindly.
	status := http.StatusCreated
	if payment.Status == domain.PaymentStatusFailed {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	var statuses []domain.PaymentStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status := domain.PaymentStatus(strings.ToLower(part))
			if _, ok := validPaymentStatuses[status]; !ok {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid payment status", http.StatusBadRequest))
				return
			}
			statuses = append(statuses, status)
		}
	}

	var createdAt domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		createdAt.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		createdAt.To = &ts
	}

	pager, err := parsePagination(r, defaultPaymentPageSize, maxPaymentPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.payments.ListPayments(ctx, services.ListPaymentsCommand{
		Actor: actorFor(identity),
		Filter: repositories.PaymentListFilter{
			UserID:     strings.TrimSpace(identity.UID),
			Provider:   strings.TrimSpace(query.Get("provider")),
			Status:     statuses,
			CreatedAt:  createdAt,
			Pagination: pager,
		},
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]paymentPayload, 0, len(page.Items))
	for _, payment := range page.Items {
		items = append(items, buildPaymentPayload(payment))
	}
	writeJSONResponse(w, http.StatusOK, paymentListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *PaymentHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.GetPayment(ctx, actorFor(identity), paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

type refundPaymentRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *PaymentHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req refundPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.Refund(ctx, services.RefundPaymentCommand{
		Actor:     actorFor(identity),
		PaymentID: paymentID,
		Amount:    req.Amount,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) validatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.Validate(ctx, actorFor(identity), paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentValidationResponse{
		Payment:    buildPaymentPayload(result.Payment),
		Consistent: result.Consistent,
		Mismatches: result.Mismatches,
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound), errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this payment", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentAlreadyExists):
		httpx.WriteError(ctx, w, httpx.NewError("payment_exists", "order already has a payment", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentInvalidAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_refund_amount", "refund amount exceeds the refundable balance", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_unavailable", "payment provider is unreachable", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "payment operation failed", http.StatusInternalServerError))
	}
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

type paymentListResponse struct {
	Items         []paymentPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type paymentValidationResponse struct {
	Payment    paymentPayload `json:"payment"`
	Consistent bool           `json:"consistent"`
	Mismatches []string       `json:"mismatches,omitempty"`
}

type paymentPayload struct {
	ID                    string `json:"id"`
	OrderID               string `json:"order_id"`
	UserID                string `json:"user_id"`
	Provider              string `json:"provider"`
	Method                string `json:"method,omitempty"`
	TransactionID         string `json:"transaction_id"`
	ProviderTransactionID string `json:"provider_transaction_id,omitempty"`
	Amount                int64  `json:"amount"`
	RefundedAmount        int64  `json:"refunded_amount"`
	Currency              string `json:"currency"`
	Status                string `json:"status"`
	FailureReason         string `json:"failure_reason,omitempty"`
	CreatedAt             string `json:"created_at"`
	UpdatedAt             string `json:"updated_at,omitempty"`
	CompletedAt           string `json:"completed_at,omitempty"`
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	return paymentPayload{
		ID:                    strings.TrimSpace(payment.ID),
		OrderID:               strings.TrimSpace(payment.OrderID),
		UserID:                strings.TrimSpace(payment.UserID),
		Provider:              strings.TrimSpace(payment.Provider),
		Method:                strings.TrimSpace(payment.Method),
		TransactionID:         strings.TrimSpace(payment.TransactionID),
		ProviderTransactionID: strings.TrimSpace(payment.ProviderTransactionID),
		Amount:                payment.Amount,
		RefundedAmount:        payment.RefundedAmount,
		Currency:              strings.ToUpper(strings.TrimSpace(payment.Currency)),
		Status:                string(payment.Status),
		FailureReason:         strings.TrimSpace(payment.FailureReason),
		CreatedAt:             formatTime(payment.CreatedAt),
		UpdatedAt:             formatTime(payment.UpdatedAt),
		CompletedAt:           formatTime(pointerTime(payment.CompletedAt)),
	}
}
