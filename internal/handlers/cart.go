package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/platform/auth"
	"github.com/tradewinds/api/internal/platform/httpx"
	"github.com/tradewinds/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{lineID}", h.updateItem)
	r.Delete("/items/{lineID}", h.removeItem)
	r.Post("/items:batchRemove", h.removeItems)
	r.Post("/merge", h.mergeCarts)
	r.Get("/validate", h.validateCart)
	r.Get("/summary", h.cartSummary)
}

func (h *CartHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.Get(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:    identity.UID,
		ProductID: strings.TrimSpace(req.ProductID),
		VariantID: strings.TrimSpace(req.VariantID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type updateCartItemRequest struct {
	Quantity  int     `json:"quantity"`
	VariantID *string `json:"variant_id"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	lineID := strings.TrimSpace(chi.URLParam(r, "lineID"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateItem(ctx, services.UpdateCartItemCommand{
		UserID:    identity.UID,
		LineID:    lineID,
		Quantity:  req.Quantity,
		VariantID: req.VariantID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	lineID := strings.TrimSpace(chi.URLParam(r, "lineID"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		UserID: identity.UID,
		LineID: lineID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type removeCartItemsRequest struct {
	LineIDs []string `json:"line_ids"`
}

func (h *CartHandlers) removeItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req removeCartItemsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItems(ctx, services.RemoveCartItemsCommand{
		UserID:  identity.UID,
		LineIDs: req.LineIDs,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.Clear(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type mergeCartRequest struct {
	FromUserID string `json:"from_user_id"`
}

// mergeCarts folds a guest cart into the signed-in user's cart. The caller
// is always the destination; only the source is taken from the body.
func (h *CartHandlers) mergeCarts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req mergeCartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.Merge(ctx, services.MergeCartsCommand{
		FromUserID: strings.TrimSpace(req.FromUserID),
		ToUserID:   identity.UID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	report, err := h.carts.Validate(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildValidationPayload(report))
}

func (h *CartHandlers) cartSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	summary, err := h.carts.Summary(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSummaryPayload(summary))
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput), errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Currency   string            `json:"currency"`
	ItemsCount int               `json:"items_count"`
	Items      []cartLinePayload `json:"items"`
	CreatedAt  string            `json:"created_at,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	AddedAt   string `json:"added_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		UserID:     strings.TrimSpace(cart.UserID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Lines),
		Items:      make([]cartLinePayload, 0, len(cart.Lines)),
		CreatedAt:  formatTime(cart.CreatedAt),
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
	for _, line := range cart.Lines {
		payload.Items = append(payload.Items, cartLinePayload{
			ID:        strings.TrimSpace(line.ID),
			ProductID: strings.TrimSpace(line.ProductID),
			VariantID: strings.TrimSpace(line.VariantID),
			Quantity:  line.Quantity,
			AddedAt:   formatTime(line.AddedAt),
			UpdatedAt: formatTime(line.UpdatedAt),
		})
	}
	return payload
}

type cartValidationResponse struct {
	Valid    bool                    `json:"valid"`
	Lines    []cartLineReportPayload `json:"lines"`
	Messages []string                `json:"messages,omitempty"`
}

type cartLineReportPayload struct {
	LineID            string `json:"line_id"`
	ProductID         string `json:"product_id"`
	VariantID         string `json:"variant_id,omitempty"`
	Valid             bool   `json:"valid"`
	Reason            string `json:"reason,omitempty"`
	AvailableStock    int64  `json:"available_stock"`
	RequestedQuantity int    `json:"requested_quantity"`
}

func buildValidationPayload(report services.CartValidationReport) cartValidationResponse {
	payload := cartValidationResponse{
		Valid:    report.Valid,
		Lines:    make([]cartLineReportPayload, 0, len(report.Lines)),
		Messages: report.Messages,
	}
	for _, line := range report.Lines {
		payload.Lines = append(payload.Lines, cartLineReportPayload{
			LineID:            strings.TrimSpace(line.LineID),
			ProductID:         strings.TrimSpace(line.ProductID),
			VariantID:         strings.TrimSpace(line.VariantID),
			Valid:             line.Valid,
			Reason:            strings.TrimSpace(line.Reason),
			AvailableStock:    line.AvailableStock,
			RequestedQuantity: line.RequestedQuantity,
		})
	}
	return payload
}

type cartSummaryResponse struct {
	Currency          string   `json:"currency"`
	Subtotal          int64    `json:"subtotal"`
	EstimatedShipping int64    `json:"estimated_shipping"`
	EstimatedTax      int64    `json:"estimated_tax"`
	EstimatedTotal    int64    `json:"estimated_total"`
	HasOutOfStock     bool     `json:"has_out_of_stock"`
	Messages          []string `json:"messages,omitempty"`
}

func buildSummaryPayload(summary services.CartSummary) cartSummaryResponse {
	return cartSummaryResponse{
		Currency:          strings.ToUpper(strings.TrimSpace(summary.Currency)),
		Subtotal:          summary.Subtotal,
		EstimatedShipping: summary.EstimatedShipping,
		EstimatedTax:      summary.EstimatedTax,
		EstimatedTotal:    summary.EstimatedTotal,
		HasOutOfStock:     summary.HasOutOfStock,
		Messages:          summary.Messages,
	}
}
