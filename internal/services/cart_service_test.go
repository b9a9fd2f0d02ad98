package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/tradewinds/api/internal/domain"
)

var cartTestNow = time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)

func newTestCartService(t *testing.T, deps CartServiceDeps) CartService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return cartTestNow }
	}
	service, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}
	return service
}

func activeProduct() domain.Product {
	return domain.Product{
		ID:          "prod-1",
		VendorID:    "vendor-1",
		Name:        "Teak Wristwatch Box",
		SKU:         "TWB001",
		Price:       29999,
		Currency:    "USD",
		Active:      true,
		TrackStock:  true,
		WeightGrams: 500,
	}
}

func TestCartServiceAddItemMergesDuplicateLines(t *testing.T) {
	var replaced []domain.CartLine
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 1, AddedAt: cartTestNow.Add(-time.Hour)},
				},
				UpdatedAt: cartTestNow.Add(-time.Hour),
			}, nil
		},
		replaceFunc: func(ctx context.Context, userID string, lines []domain.CartLine, expected *time.Time, now time.Time) (domain.Cart, error) {
			if expected == nil {
				t.Fatal("expected optimistic precondition for existing cart")
			}
			replaced = lines
			return domain.Cart{ID: userID, UserID: userID, Lines: lines, UpdatedAt: now}, nil
		},
	}
	catalog := &stubCatalogRepository{
		findProductFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			return activeProduct(), nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{
		Repository: repo,
		Catalog:    catalog,
		Stock:      &stubStockService{},
	})

	cart, err := service.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replaced) != 1 {
		t.Fatalf("expected a single merged line, got %d", len(replaced))
	}
	if replaced[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", replaced[0].Quantity)
	}
	if replaced[0].ID != "crt_1" {
		t.Fatalf("expected existing line id to survive the merge, got %q", replaced[0].ID)
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("expected 1 line in saved cart, got %d", len(cart.Lines))
	}
}

func TestCartServiceAddItemRejectsShortStock(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{}, repoNotFound()
		},
	}
	catalog := &stubCatalogRepository{
		findProductFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			return activeProduct(), nil
		},
	}
	stock := &stubStockService{
		checkAvailabilityFunc: func(ctx context.Context, lines []StockLine) ([]StockShortage, error) {
			return []StockShortage{{SKU: "TWB001", Available: 1, Requested: 2}}, nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{Repository: repo, Catalog: catalog, Stock: stock})

	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  2,
	})
	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Available != 1 || insufficient.Requested != 2 {
		t.Fatalf("unexpected shortage detail: %+v", insufficient)
	}
}

func TestCartServiceUpdateItemMissingLine(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:        userID,
				UserID:    userID,
				Lines:     []domain.CartLine{{ID: "crt_1", ProductID: "prod-1", Quantity: 1}},
				UpdatedAt: cartTestNow,
			}, nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{
		Repository: repo,
		Catalog:    &stubCatalogRepository{},
	})

	_, err := service.UpdateItem(context.Background(), UpdateCartItemCommand{
		UserID:   "user-1",
		LineID:   "crt_missing",
		Quantity: 2,
	})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceUpdateItemSwitchesVariant(t *testing.T) {
	var replaced []domain.CartLine
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 2},
				},
				UpdatedAt: cartTestNow.Add(-time.Hour),
			}, nil
		},
		replaceFunc: func(ctx context.Context, userID string, lines []domain.CartLine, expected *time.Time, now time.Time) (domain.Cart, error) {
			replaced = lines
			return domain.Cart{ID: userID, UserID: userID, Lines: lines, UpdatedAt: now}, nil
		},
	}
	catalog := &stubCatalogRepository{
		findProductFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			return activeProduct(), nil
		},
		findVariantFunc: func(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
			return domain.ProductVariant{ID: variantID, ProductID: productID, SKU: "TWB001-WAL", Active: true}, nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{
		Repository: repo,
		Catalog:    catalog,
		Stock:      &stubStockService{},
	})

	walnut := "var-walnut"
	cart, err := service.UpdateItem(context.Background(), UpdateCartItemCommand{
		UserID:    "user-1",
		LineID:    "crt_1",
		Quantity:  3,
		VariantID: &walnut,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replaced) != 1 {
		t.Fatalf("expected a single line, got %d", len(replaced))
	}
	if replaced[0].VariantID != "var-walnut" || replaced[0].Quantity != 3 {
		t.Fatalf("unexpected line after variant switch: %+v", replaced[0])
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("expected 1 line in saved cart, got %d", len(cart.Lines))
	}
}

func TestCartServiceUpdateItemVariantSwitchMergesColliding(t *testing.T) {
	var replaced []domain.CartLine
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", VariantID: "var-oak", Quantity: 2},
					{ID: "crt_2", ProductID: "prod-1", VariantID: "var-walnut", Quantity: 1},
				},
				UpdatedAt: cartTestNow.Add(-time.Hour),
			}, nil
		},
		replaceFunc: func(ctx context.Context, userID string, lines []domain.CartLine, expected *time.Time, now time.Time) (domain.Cart, error) {
			replaced = lines
			return domain.Cart{ID: userID, UserID: userID, Lines: lines, UpdatedAt: now}, nil
		},
	}
	catalog := &stubCatalogRepository{
		findProductFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			return activeProduct(), nil
		},
		findVariantFunc: func(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
			return domain.ProductVariant{ID: variantID, ProductID: productID, Active: true}, nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{
		Repository: repo,
		Catalog:    catalog,
		Stock:      &stubStockService{},
	})

	walnut := "var-walnut"
	_, err := service.UpdateItem(context.Background(), UpdateCartItemCommand{
		UserID:    "user-1",
		LineID:    "crt_1",
		Quantity:  2,
		VariantID: &walnut,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replaced) != 1 {
		t.Fatalf("expected the colliding lines to fold into one, got %d", len(replaced))
	}
	// The updated quantity plus the existing walnut line.
	if replaced[0].Quantity != 3 {
		t.Fatalf("expected folded quantity 3, got %d", replaced[0].Quantity)
	}
	if replaced[0].ID != "crt_1" || replaced[0].VariantID != "var-walnut" {
		t.Fatalf("unexpected surviving line: %+v", replaced[0])
	}
}

func TestCartServiceRemoveItemsIgnoresUnknownIDs(t *testing.T) {
	var replaced []domain.CartLine
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 1},
					{ID: "crt_2", ProductID: "prod-2", Quantity: 1},
				},
				UpdatedAt: cartTestNow,
			}, nil
		},
		replaceFunc: func(ctx context.Context, userID string, lines []domain.CartLine, expected *time.Time, now time.Time) (domain.Cart, error) {
			replaced = lines
			return domain.Cart{ID: userID, UserID: userID, Lines: lines, UpdatedAt: now}, nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{Repository: repo, Catalog: &stubCatalogRepository{}})

	_, err := service.RemoveItems(context.Background(), RemoveCartItemsCommand{
		UserID:  "user-1",
		LineIDs: []string{"crt_1", "crt_gone"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replaced) != 1 || replaced[0].ID != "crt_2" {
		t.Fatalf("expected only crt_2 to remain, got %+v", replaced)
	}
}

func TestCartServiceConcurrentUpdateConflicts(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:        userID,
				UserID:    userID,
				Lines:     []domain.CartLine{{ID: "crt_1", ProductID: "prod-1", Quantity: 1}},
				UpdatedAt: cartTestNow.Add(-time.Minute),
			}, nil
		},
		replaceFunc: func(ctx context.Context, userID string, lines []domain.CartLine, expected *time.Time, now time.Time) (domain.Cart, error) {
			return domain.Cart{}, repoConflict()
		},
	}

	service := newTestCartService(t, CartServiceDeps{Repository: repo, Catalog: &stubCatalogRepository{}})

	_, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user-1", LineID: "crt_1"})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
}

func TestCartServiceMergeSumsIntoTarget(t *testing.T) {
	var gotFrom, gotTo string
	repo := &stubCartRepository{
		mergeFunc: func(ctx context.Context, fromUserID, toUserID string, now time.Time) (domain.Cart, error) {
			gotFrom, gotTo = fromUserID, toUserID
			return domain.Cart{
				ID:     toUserID,
				UserID: toUserID,
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 3},
				},
				UpdatedAt: now,
			}, nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{Repository: repo, Catalog: &stubCatalogRepository{}})

	merged, err := service.Merge(context.Background(), MergeCartsCommand{FromUserID: "anon-9", ToUserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFrom != "anon-9" || gotTo != "user-1" {
		t.Fatalf("unexpected merge arguments %q -> %q", gotFrom, gotTo)
	}
	if len(merged.Lines) != 1 || merged.Lines[0].Quantity != 3 {
		t.Fatalf("unexpected merged cart: %+v", merged.Lines)
	}
}

func TestCartServiceMergeRejectsSameUser(t *testing.T) {
	service := newTestCartService(t, CartServiceDeps{Repository: &stubCartRepository{}, Catalog: &stubCatalogRepository{}})

	_, err := service.Merge(context.Background(), MergeCartsCommand{FromUserID: "user-1", ToUserID: "user-1"})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceValidateReportsDeadAndShortLines(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 2},
					{ID: "crt_2", ProductID: "prod-gone", Quantity: 1},
				},
				UpdatedAt: cartTestNow,
			}, nil
		},
	}
	catalog := &stubCatalogRepository{
		findProductsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{"prod-1": activeProduct()}, nil
		},
	}
	stock := &stubStockService{
		getLevelsFunc: func(ctx context.Context, skus []string) (map[string]StockLevel, error) {
			return map[string]StockLevel{"TWB001": {SKU: "TWB001", Available: 1}}, nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{Repository: repo, Catalog: catalog, Stock: stock})

	report, err := service.Validate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Valid {
		t.Fatal("expected report to be invalid")
	}
	if len(report.Lines) != 2 {
		t.Fatalf("expected 2 line reports, got %d", len(report.Lines))
	}
	if report.Lines[0].Valid {
		t.Fatalf("expected short line to be invalid: %+v", report.Lines[0])
	}
	if report.Lines[0].AvailableStock != 1 {
		t.Fatalf("expected available stock 1, got %d", report.Lines[0].AvailableStock)
	}
	if report.Lines[1].Reason != "product no longer exists" {
		t.Fatalf("unexpected reason for dead line: %q", report.Lines[1].Reason)
	}
}

func TestCartServiceSummaryPricesActiveLines(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:       userID,
				UserID:   userID,
				Currency: "USD",
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 2},
				},
				UpdatedAt: cartTestNow,
			}, nil
		},
	}
	catalog := &stubCatalogRepository{
		findProductsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{"prod-1": activeProduct()}, nil
		},
	}
	stock := &stubStockService{
		getLevelsFunc: func(ctx context.Context, skus []string) (map[string]StockLevel, error) {
			return map[string]StockLevel{"TWB001": {SKU: "TWB001", Available: 10}}, nil
		},
	}
	pricer, err := NewStandardPricingEngine(StandardPricingEngineConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error constructing pricing engine: %v", err)
	}

	service := newTestCartService(t, CartServiceDeps{Repository: repo, Catalog: catalog, Stock: stock, Pricer: pricer})

	summary, err := service.Summary(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Subtotal != 59998 {
		t.Fatalf("expected subtotal 59998, got %d", summary.Subtotal)
	}
	if summary.EstimatedTax != 5999 {
		t.Fatalf("expected tax 5999, got %d", summary.EstimatedTax)
	}
	if summary.EstimatedShipping != 600 {
		t.Fatalf("expected shipping 600, got %d", summary.EstimatedShipping)
	}
	if summary.EstimatedTotal != 66597 {
		t.Fatalf("expected total 66597, got %d", summary.EstimatedTotal)
	}
	if summary.HasOutOfStock {
		t.Fatal("expected summary to be in stock")
	}
}

func TestCartServiceSummaryExcludesDeadLines(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:       userID,
				UserID:   userID,
				Currency: "USD",
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 1},
					{ID: "crt_2", ProductID: "prod-gone", Quantity: 4},
				},
				UpdatedAt: cartTestNow,
			}, nil
		},
	}
	catalog := &stubCatalogRepository{
		findProductsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{"prod-1": activeProduct()}, nil
		},
	}
	pricer := &stubPricer{
		quoteFunc: func(ctx context.Context, cmd PricingCommand) (PricingQuote, error) {
			if len(cmd.Items) != 1 {
				t.Fatalf("expected only live lines to be priced, got %d", len(cmd.Items))
			}
			return PricingQuote{Currency: cmd.Currency, Subtotal: 29999, Total: 29999}, nil
		},
	}

	service := newTestCartService(t, CartServiceDeps{
		Repository: repo,
		Catalog:    catalog,
		Stock:      &stubStockService{},
		Pricer:     pricer,
	})

	summary, err := service.Summary(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Subtotal != 29999 {
		t.Fatalf("expected subtotal 29999, got %d", summary.Subtotal)
	}
	if len(summary.Messages) != 1 {
		t.Fatalf("expected one message about the dead line, got %v", summary.Messages)
	}
}
