package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/platform/auth"
	"github.com/tradewinds/api/internal/platform/httpx"
	platformstorage "github.com/tradewinds/api/internal/platform/storage"
	"github.com/tradewinds/api/internal/services"
)

const receiptURLExpiry = 15 * time.Minute

// ReceiptHandlers serves download links for archived payment receipts and the
// finance export of settled receipts into the retention bucket. Receipts are
// written at settlement time; these routes only hand out access to the stored
// objects.
type ReceiptHandlers struct {
	authn          *auth.Authenticator
	payments       services.PaymentService
	urls           *platformstorage.Client
	copier         *platformstorage.Copier
	receiptsBucket string
	logsBucket     string
}

// NewReceiptHandlers wires the receipt routes. urls and copier may be nil when
// the deployment has no signer key or logs bucket; the corresponding routes
// then answer 503.
func NewReceiptHandlers(authn *auth.Authenticator, payments services.PaymentService, urls *platformstorage.Client, copier *platformstorage.Copier, receiptsBucket, logsBucket string) *ReceiptHandlers {
	return &ReceiptHandlers{
		authn:          authn,
		payments:       payments,
		urls:           urls,
		copier:         copier,
		receiptsBucket: receiptsBucket,
		logsBucket:     logsBucket,
	}
}

// Routes mounts the buyer-facing receipt download next to the payment routes.
func (h *ReceiptHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{paymentID}/receipt", h.getReceiptURL)
}

// AdminRoutes mounts the finance export under the admin group.
func (h *ReceiptHandlers) AdminRoutes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/{paymentID}/export", h.exportReceipt)
}

func (h *ReceiptHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if h.payments == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("service_unavailable", "payment service is not configured", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

type receiptURLResponse struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresAt string `json:"expires_at"`
}

func (h *ReceiptHandlers) getReceiptURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	if h.urls == nil || h.receiptsBucket == "" {
		httpx.WriteError(ctx, w, httpx.NewError("receipts_unavailable", "receipt downloads are not configured", http.StatusServiceUnavailable))
		return
	}

	paymentID := chi.URLParam(r, "paymentID")
	payment, err := h.payments.GetPayment(ctx, actorFor(identity), paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	if !receiptExists(payment.Status) {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_not_found", "no receipt has been archived for this payment", http.StatusNotFound))
		return
	}

	object, err := platformstorage.BuildObjectPath(platformstorage.PurposeReceipt, platformstorage.PathParams{
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_error", "failed to resolve receipt location", http.StatusInternalServerError))
		return
	}

	result, err := h.urls.SignedURL(ctx, h.receiptsBucket, object, platformstorage.SignedURLOptions{
		Download: &platformstorage.DownloadOptions{
			ExpiresIn:    receiptURLExpiry,
			Disposition:  fmt.Sprintf("attachment; filename=%q", payment.ID+".json"),
			ResponseType: "application/json",
			OwnerID:      payment.UserID,
			Identity:     identity,
		},
	})
	if err != nil {
		if errors.Is(err, platformstorage.ErrPermissionDenied) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you may not access this receipt", http.StatusForbidden))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("receipt_sign_failed", "failed to sign receipt url", http.StatusBadGateway))
		return
	}

	writeJSONResponse(w, http.StatusOK, receiptURLResponse{
		URL:       result.URL,
		Method:    result.Method,
		ExpiresAt: formatTime(result.ExpiresAt),
	})
}

type receiptExportResponse struct {
	Exported bool   `json:"exported"`
	Bucket   string `json:"bucket"`
	Object   string `json:"object"`
}

func (h *ReceiptHandlers) exportReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	if h.copier == nil || h.receiptsBucket == "" || h.logsBucket == "" {
		httpx.WriteError(ctx, w, httpx.NewError("receipts_unavailable", "receipt export is not configured", http.StatusServiceUnavailable))
		return
	}

	paymentID := chi.URLParam(r, "paymentID")
	payment, err := h.payments.GetPayment(ctx, actorFor(identity), paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	if !receiptExists(payment.Status) {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_not_found", "no receipt has been archived for this payment", http.StatusNotFound))
		return
	}

	source, err := platformstorage.BuildObjectPath(platformstorage.PurposeReceipt, platformstorage.PathParams{
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_error", "failed to resolve receipt location", http.StatusInternalServerError))
		return
	}
	destination, err := platformstorage.BuildObjectPath(platformstorage.PurposeExportLog, platformstorage.PathParams{
		FileName: payment.ID + ".json",
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_error", "failed to resolve export location", http.StatusInternalServerError))
		return
	}

	if err := h.copier.CopyObject(ctx, h.receiptsBucket, source, h.logsBucket, destination); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_export_failed", "failed to copy receipt to the retention bucket", http.StatusBadGateway))
		return
	}

	writeJSONResponse(w, http.StatusOK, receiptExportResponse{
		Exported: true,
		Bucket:   h.logsBucket,
		Object:   destination,
	})
}

// receiptExists reports whether the payment has reached a state that produced
// an archived receipt.
func receiptExists(status domain.PaymentStatus) bool {
	switch status {
	case domain.PaymentStatusCompleted, domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded:
		return true
	default:
		return false
	}
}
