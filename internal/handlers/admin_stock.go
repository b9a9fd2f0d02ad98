package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/platform/auth"
	"github.com/tradewinds/api/internal/platform/httpx"
	"github.com/tradewinds/api/internal/services"
)

const (
	maxStockBodySize         = 32 * 1024
	defaultLowStockPageSize  = 50
	maxLowStockPageSize      = 200
	defaultLowStockThreshold = 10
)

// StockHandlers exposes the availability ledger. Admin routes require an
// elevated role; internal routes are mounted behind HMAC middleware for
// warehouse tooling.
type StockHandlers struct {
	authn *auth.Authenticator
	stock services.StockService
}

// NewStockHandlers constructs a new StockHandlers instance.
func NewStockHandlers(authn *auth.Authenticator, stock services.StockService) *StockHandlers {
	return &StockHandlers{
		authn: authn,
		stock: stock,
	}
}

// AdminRoutes registers the /admin/stock endpoints.
func (h *StockHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/levels", h.getLevels)
	r.Get("/low", h.listLowStock)
	r.Post("/adjust", h.adjustOnHand)
}

// InternalRoutes registers ledger mutation endpoints for trusted callers.
// Authentication is expected from the surrounding middleware.
func (h *StockHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stock/check", h.checkAvailability)
	r.Post("/stock/decrement", h.decrement)
	r.Post("/stock/restore", h.restore)
}

func (h *StockHandlers) requireService(w http.ResponseWriter, r *http.Request) bool {
	if h.stock == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *StockHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if !h.requireService(w, r) {
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *StockHandlers) getLevels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	var skus []string
	for _, raw := range r.URL.Query()["sku"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				skus = append(skus, part)
			}
		}
	}
	if len(skus) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one sku is required", http.StatusBadRequest))
		return
	}

	levels, err := h.stock.GetLevels(ctx, skus)
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	payload := make(map[string]stockLevelPayload, len(levels))
	for sku, level := range levels {
		payload[sku] = buildStockLevelPayload(level)
	}
	writeJSONResponse(w, http.StatusOK, stockLevelsResponse{Levels: payload})
}

func (h *StockHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	threshold := int64(defaultLowStockThreshold)
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "threshold must be an integer", http.StatusBadRequest))
			return
		}
		threshold = parsed
	}

	pager, err := parsePagination(r, defaultLowStockPageSize, maxLowStockPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.stock.ListLowStock(ctx, services.LowStockQuery{
		Threshold:  threshold,
		Pagination: pager,
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	items := make([]stockLevelPayload, 0, len(page.Items))
	for _, level := range page.Items {
		items = append(items, buildStockLevelPayload(level))
	}
	writeJSONResponse(w, http.StatusOK, stockLevelListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type adjustStockRequest struct {
	SKU   string `json:"sku"`
	Delta int64  `json:"delta"`
}

func (h *StockHandlers) adjustOnHand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxStockBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req adjustStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	level, err := h.stock.AdjustOnHand(ctx, services.AdjustStockCommand{
		Actor: actorFor(identity),
		SKU:   strings.TrimSpace(req.SKU),
		Delta: req.Delta,
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockLevelResponse{Level: buildStockLevelPayload(level)})
}

type stockLineRequest struct {
	SKU      string `json:"sku"`
	Quantity int64  `json:"quantity"`
}

type stockCheckRequest struct {
	Lines []stockLineRequest `json:"lines"`
}

func (h *StockHandlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireService(w, r) {
		return
	}

	body, err := readLimitedBody(r, maxStockBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req stockCheckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	shortages, err := h.stock.CheckAvailability(ctx, buildStockLines(req.Lines))
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	payload := stockCheckResponse{
		Available: len(shortages) == 0,
		Shortages: make([]stockShortagePayload, 0, len(shortages)),
	}
	for _, shortage := range shortages {
		payload.Shortages = append(payload.Shortages, stockShortagePayload{
			SKU:       shortage.SKU,
			Available: shortage.Available,
			Requested: shortage.Requested,
		})
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type stockMutationRequest struct {
	OrderRef string             `json:"order_ref"`
	Lines    []stockLineRequest `json:"lines"`
}

func (h *StockHandlers) decrement(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.stock.Decrement)
}

func (h *StockHandlers) restore(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.stock.Restore)
}

func (h *StockHandlers) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, services.StockMutationCommand) error) {
	ctx := r.Context()
	if !h.requireService(w, r) {
		return
	}

	body, err := readLimitedBody(r, maxStockBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req stockMutationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	if err := op(ctx, services.StockMutationCommand{
		OrderRef: strings.TrimSpace(req.OrderRef),
		Lines:    buildStockLines(req.Lines),
	}); err != nil {
		writeStockError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"applied": true})
}

func buildStockLines(lines []stockLineRequest) []services.StockLine {
	out := make([]services.StockLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.StockLine{
			SKU:      strings.TrimSpace(line.SKU),
			Quantity: line.Quantity,
		})
	}
	return out
}

func writeStockError(ctx context.Context, w http.ResponseWriter, err error) {
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

	switch {
	case errors.Is(err, services.ErrStockInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock level not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "elevated role required", http.StatusForbidden))
	case errors.Is(err, services.ErrStockUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("stock_error", "stock operation failed", http.StatusInternalServerError))
	}
}

type stockLevelsResponse struct {
	Levels map[string]stockLevelPayload `json:"levels"`
}

type stockLevelResponse struct {
	Level stockLevelPayload `json:"level"`
}

type stockLevelListResponse struct {
	Items         []stockLevelPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type stockLevelPayload struct {
	SKU       string `json:"sku"`
	OnHand    int64  `json:"on_hand"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type stockCheckResponse struct {
	Available bool                   `json:"available"`
	Shortages []stockShortagePayload `json:"shortages"`
}

type stockShortagePayload struct {
	SKU       string `json:"sku"`
	Available int64  `json:"available"`
	Requested int64  `json:"requested"`
}

func buildStockLevelPayload(level services.StockLevel) stockLevelPayload {
	return stockLevelPayload{
		SKU:       strings.TrimSpace(level.SKU),
		OnHand:    level.OnHand,
		Reserved:  level.Reserved,
		Available: level.Available,
		UpdatedAt: formatTime(level.UpdatedAt),
	}
}
