package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/services"
)

type stubStockHandlerService struct {
	getLevelsFunc         func(ctx context.Context, skus []string) (map[string]services.StockLevel, error)
	checkAvailabilityFunc func(ctx context.Context, lines []services.StockLine) ([]services.StockShortage, error)
	decrementFunc         func(ctx context.Context, cmd services.StockMutationCommand) error
	restoreFunc           func(ctx context.Context, cmd services.StockMutationCommand) error
	adjustOnHandFunc      func(ctx context.Context, cmd services.AdjustStockCommand) (services.StockLevel, error)
	listLowStockFunc      func(ctx context.Context, cmd services.LowStockQuery) (domain.CursorPage[services.StockLevel], error)
}

func (s *stubStockHandlerService) GetLevels(ctx context.Context, skus []string) (map[string]services.StockLevel, error) {
	if s.getLevelsFunc == nil {
		return map[string]services.StockLevel{}, nil
	}
	return s.getLevelsFunc(ctx, skus)
}

func (s *stubStockHandlerService) CheckAvailability(ctx context.Context, lines []services.StockLine) ([]services.StockShortage, error) {
	if s.checkAvailabilityFunc == nil {
		return nil, nil
	}
	return s.checkAvailabilityFunc(ctx, lines)
}

func (s *stubStockHandlerService) Decrement(ctx context.Context, cmd services.StockMutationCommand) error {
	if s.decrementFunc == nil {
		return nil
	}
	return s.decrementFunc(ctx, cmd)
}

func (s *stubStockHandlerService) Restore(ctx context.Context, cmd services.StockMutationCommand) error {
	if s.restoreFunc == nil {
		return nil
	}
	return s.restoreFunc(ctx, cmd)
}

func (s *stubStockHandlerService) AdjustOnHand(ctx context.Context, cmd services.AdjustStockCommand) (services.StockLevel, error) {
	if s.adjustOnHandFunc == nil {
		return services.StockLevel{}, nil
	}
	return s.adjustOnHandFunc(ctx, cmd)
}

func (s *stubStockHandlerService) ListLowStock(ctx context.Context, cmd services.LowStockQuery) (domain.CursorPage[services.StockLevel], error) {
	if s.listLowStockFunc == nil {
		return domain.CursorPage[services.StockLevel]{}, nil
	}
	return s.listLowStockFunc(ctx, cmd)
}

func newStockRouter(stock services.StockService) chi.Router {
	h := NewStockHandlers(nil, stock)
	r := chi.NewRouter()
	r.Route("/admin/stock", h.AdminRoutes)
	r.Route("/internal", h.InternalRoutes)
	return r
}

func TestGetLevelsReturnsLedgerView(t *testing.T) {
	stock := &stubStockHandlerService{
		getLevelsFunc: func(ctx context.Context, skus []string) (map[string]services.StockLevel, error) {
			if len(skus) != 2 {
				t.Fatalf("skus = %v", skus)
			}
			return map[string]services.StockLevel{
				"TWB001": {SKU: "TWB001", OnHand: 10, Reserved: 2, Available: 8, UpdatedAt: handlerTestNow},
				"TWB002": {SKU: "TWB002"},
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	newStockRouter(stock).ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/admin/stock/levels?sku=TWB001,TWB002", "", "staff-1", "staff"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp stockLevelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Levels["TWB001"].Available != 8 {
		t.Fatalf("levels = %+v", resp.Levels)
	}
}

func TestGetLevelsRequiresSKU(t *testing.T) {
	rec := httptest.NewRecorder()
	newStockRouter(&stubStockHandlerService{}).ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/admin/stock/levels", "", "staff-1", "staff"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdjustOnHandForwardsDelta(t *testing.T) {
	var got services.AdjustStockCommand
	stock := &stubStockHandlerService{
		adjustOnHandFunc: func(ctx context.Context, cmd services.AdjustStockCommand) (services.StockLevel, error) {
			got = cmd
			return services.StockLevel{SKU: cmd.SKU, OnHand: 7, Available: 7, UpdatedAt: handlerTestNow}, nil
		},
	}

	rec := httptest.NewRecorder()
	newStockRouter(stock).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/admin/stock/adjust", `{"sku":"TWB001","delta":-3}`, "staff-1", "staff"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.SKU != "TWB001" || got.Delta != -3 {
		t.Fatalf("command = %+v", got)
	}
	if got.Actor.ID != "staff-1" || !got.Actor.Elevated() {
		t.Fatalf("actor = %+v", got.Actor)
	}
}

func TestAdjustOnHandForbiddenWithoutRole(t *testing.T) {
	stock := &stubStockHandlerService{
		adjustOnHandFunc: func(ctx context.Context, cmd services.AdjustStockCommand) (services.StockLevel, error) {
			return services.StockLevel{}, services.ErrUnauthorized
		},
	}

	rec := httptest.NewRecorder()
	newStockRouter(stock).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/admin/stock/adjust", `{"sku":"TWB001","delta":1}`, "user-1"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestListLowStockPassesThreshold(t *testing.T) {
	var got services.LowStockQuery
	stock := &stubStockHandlerService{
		listLowStockFunc: func(ctx context.Context, cmd services.LowStockQuery) (domain.CursorPage[services.StockLevel], error) {
			got = cmd
			return domain.CursorPage[services.StockLevel]{
				Items: []services.StockLevel{{SKU: "TWB001", OnHand: 2, Available: 2}},
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	newStockRouter(stock).ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/admin/stock/low?threshold=5", "", "staff-1", "staff"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.Threshold != 5 {
		t.Fatalf("threshold = %d, want 5", got.Threshold)
	}
}

func TestInternalCheckReportsShortages(t *testing.T) {
	stock := &stubStockHandlerService{
		checkAvailabilityFunc: func(ctx context.Context, lines []services.StockLine) ([]services.StockShortage, error) {
			return []services.StockShortage{{SKU: "TWB001", Available: 1, Requested: 2}}, nil
		},
	}

	body := `{"lines":[{"sku":"TWB001","quantity":2}]}`
	rec := httptest.NewRecorder()
	newStockRouter(stock).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/stock/check", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp stockCheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Available || len(resp.Shortages) != 1 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestInternalDecrementInsufficientStock(t *testing.T) {
	stock := &stubStockHandlerService{
		decrementFunc: func(ctx context.Context, cmd services.StockMutationCommand) error {
			return &services.InsufficientStockError{SKU: "TWB001", Available: 1, Requested: 2}
		},
	}

	body := `{"order_ref":"ord_1","lines":[{"sku":"TWB001","quantity":2}]}`
	rec := httptest.NewRecorder()
	newStockRouter(stock).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/stock/decrement", strings.NewReader(body)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestInternalRestoreForwardsOrderRef(t *testing.T) {
	var got services.StockMutationCommand
	stock := &stubStockHandlerService{
		restoreFunc: func(ctx context.Context, cmd services.StockMutationCommand) error {
			got = cmd
			return nil
		},
	}

	body := `{"order_ref":"ord_1","lines":[{"sku":"TWB001","quantity":2}]}`
	rec := httptest.NewRecorder()
	newStockRouter(stock).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/stock/restore", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.OrderRef != "ord_1" || len(got.Lines) != 1 || got.Lines[0].Quantity != 2 {
		t.Fatalf("command = %+v", got)
	}
}
