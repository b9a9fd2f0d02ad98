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
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusConfirmed:  {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := validOrderStatuses[status]
	return status, ok
}

// OrderHandlers exposes the authenticated order lifecycle endpoints. The
// payment service backs the nested /orders/{orderID}/payment lookup.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Get("/{orderID}/tracking", h.listTracking)
	r.Get("/{orderID}/payment", h.getOrderPayment)
}

func (h *OrderHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	ShippingAddress addressRequest     `json:"shipping_address"`
	LineIDs         []string           `json:"line_ids"`
	Lines           []orderLineRequest `json:"lines"`
}

// createOrder places an order from the caller's cart, or directly from
// explicit lines when the body carries them.
func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	actor := actorFor(identity)
	address := buildAddress(req.ShippingAddress)

	var order services.Order
	if len(req.Lines) > 0 {
		lines := make([]services.OrderLineInput, 0, len(req.Lines))
		for _, line := range req.Lines {
			lines = append(lines, services.OrderLineInput{
				ProductID: strings.TrimSpace(line.ProductID),
				VariantID: strings.TrimSpace(line.VariantID),
				Quantity:  line.Quantity,
			})
		}
		order, err = h.orders.CreateFromLines(ctx, services.CreateOrderFromLinesCommand{
			Actor:           actor,
			UserID:          identity.UID,
			Lines:           lines,
			ShippingAddress: address,
		})
	} else {
		order, err = h.orders.CreateFromCart(ctx, services.CreateOrderFromCartCommand{
			Actor:           actor,
			UserID:          identity.UID,
			ShippingAddress: address,
			LineIDs:         req.LineIDs,
		})
	}
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	filter, err := parseOrderListFilter(r, identity.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersCommand{
		Actor:  actorFor(identity),
		Filter: filter,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func parseOrderListFilter(r *http.Request, userID string) (repositories.OrderListFilter, error) {
	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := parseOrderStatus(part)
			if !ok {
				return repositories.OrderListFilter{}, errors.New("status must be a valid order status")
			}
			statuses = append(statuses, status)
		}
	}

	var createdAt domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return repositories.OrderListFilter{}, errors.New("created_after must be a valid RFC3339 timestamp")
		}
		createdAt.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return repositories.OrderListFilter{}, errors.New("created_before must be a valid RFC3339 timestamp")
		}
		createdAt.To = &ts
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		return repositories.OrderListFilter{}, err
	}

	return repositories.OrderListFilter{
		UserID:     strings.TrimSpace(userID),
		Status:     statuses,
		CreatedAt:  createdAt,
		Pagination: pager,
	}, nil
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, actorFor(identity), orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason        string `json:"reason"`
	RefundPayment bool   `json:"refund_payment"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		Actor:         actorFor(identity),
		OrderID:       orderID,
		Reason:        strings.TrimSpace(req.Reason),
		RefundPayment: req.RefundPayment,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListTracking(ctx, actorFor(identity), orderID, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]trackingEventPayload, 0, len(page.Items))
	for _, event := range page.Items {
		items = append(items, buildTrackingPayload(event))
	}
	writeJSONResponse(w, http.StatusOK, trackingListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrderPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.GetByOrder(ctx, actorFor(identity), orderID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"sku":       stockErr.SKU,
				"available": stockErr.Available,
				"requested": stockErr.Requested,
			}))
		return
	}

	var transition *services.InvalidTransitionError
	if errors.As(err, &transition) {
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", transition.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"from": string(transition.From),
				"to":   string(transition.To),
			}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("order_empty", "no purchasable lines to place", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderPaymentSettled):
		httpx.WriteError(ctx, w, httpx.NewError("refund_acknowledgement_required", "order has a settled payment; pass refund_payment to cancel", http.StatusConflict))
	case errors.Is(err, services.ErrOrderRefundFailed):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_refund_failed", "payment refund failed; order left unchanged", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	UserID          string             `json:"user_id"`
	Status          string             `json:"status"`
	Items           []orderItemPayload `json:"items"`
	Totals          orderTotalsPayload `json:"totals"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	CancelReason    string             `json:"cancel_reason,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
	ConfirmedAt     string             `json:"confirmed_at,omitempty"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
	CancelledAt     string             `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	VendorID   string `json:"vendor_id,omitempty"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	TotalPrice int64  `json:"total_price"`
}

type orderTotalsPayload struct {
	Subtotal int64  `json:"subtotal"`
	Shipping int64  `json:"shipping"`
	Tax      int64  `json:"tax"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type trackingListResponse struct {
	Items         []trackingEventPayload `json:"items"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type trackingEventPayload struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Location       string `json:"location,omitempty"`
	Note           string `json:"note,omitempty"`
	Actor          string `json:"actor,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.Number),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
		Total:       order.Totals.Total,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.Number),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
			Currency: strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
		},
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		CancelReason:    strings.TrimSpace(order.CancelReason),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		ConfirmedAt:     formatTime(pointerTime(order.ConfirmedAt)),
		ShippedAt:       formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:     formatTime(pointerTime(order.CancelledAt)),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:  strings.TrimSpace(item.ProductID),
			VariantID:  strings.TrimSpace(item.VariantID),
			VendorID:   strings.TrimSpace(item.VendorID),
			Name:       strings.TrimSpace(item.Name),
			SKU:        strings.TrimSpace(item.SKU),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			TotalPrice: item.TotalPrice,
		})
	}
	return payload
}

func buildTrackingPayload(event services.OrderTrackingEvent) trackingEventPayload {
	return trackingEventPayload{
		ID:             strings.TrimSpace(event.ID),
		OrderID:        strings.TrimSpace(event.OrderID),
		Status:         string(event.Status),
		TrackingNumber: strings.TrimSpace(event.TrackingNumber),
		Location:       strings.TrimSpace(event.Location),
		Note:           strings.TrimSpace(event.Note),
		Actor:          strings.TrimSpace(event.Actor),
		OccurredAt:     formatTime(event.OccurredAt),
	}
}
