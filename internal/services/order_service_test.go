package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/repositories"
)

var orderTestNow = time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return orderTestNow }
	}
	if deps.Pricer == nil {
		pricer, err := NewStandardPricingEngine(StandardPricingEngineConfig{}, nil)
		if err != nil {
			t.Fatalf("unexpected error constructing pricing engine: %v", err)
		}
		deps.Pricer = pricer
	}
	if deps.Carts == nil {
		deps.Carts = &stubCartRepository{}
	}
	if deps.Catalog == nil {
		deps.Catalog = &stubCatalogRepository{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepository{nextFunc: func(ctx context.Context, name string) (int64, error) { return 1, nil }}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepository{}
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing order service: %v", err)
	}
	return service
}

func customerActor(id string) Actor { return Actor{ID: id, Roles: []string{"user"}} }
func staffActor() Actor             { return Actor{ID: "staff-1", Roles: []string{"staff"}} }

func TestOrderServiceCreateFromCartSnapshotsAndClearsLines(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:       userID,
				UserID:   userID,
				Currency: "USD",
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 2},
				},
				UpdatedAt: orderTestNow,
			}, nil
		},
	}
	catalog := &stubCatalogRepository{
		findProductsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{"prod-1": activeProduct()}, nil
		},
	}
	counters := &stubCounterRepository{
		nextFunc: func(ctx context.Context, name string) (int64, error) {
			if name != "orders" {
				t.Fatalf("unexpected counter name %q", name)
			}
			return 42, nil
		},
	}

	var captured repositories.OrderPlacementRequest
	orders := &stubOrderRepository{
		createPlacementFunc: func(ctx context.Context, req repositories.OrderPlacementRequest) (domain.Order, error) {
			captured = req
			return req.Order, nil
		},
	}
	publisher := &stubPublisher{}

	service := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Carts:     carts,
		Catalog:   catalog,
		Counters:  counters,
		Publisher: publisher,
	})

	order, err := service.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		Actor:  customerActor("user-1"),
		UserID: "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Number != "TW-2024-000042" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(order.Items))
	}
	item := order.Items[0]
	if item.SKU != "TWB001" || item.UnitPrice != 29999 || item.TotalPrice != 59998 {
		t.Fatalf("unexpected item snapshot: %+v", item)
	}
	if order.Totals.Subtotal != 59998 {
		t.Fatalf("expected subtotal 59998, got %d", order.Totals.Subtotal)
	}
	if order.Totals.Total != 66597 {
		t.Fatalf("expected total 66597, got %d", order.Totals.Total)
	}

	if captured.CartUserID != "user-1" {
		t.Fatalf("expected cart user to be cleared, got %q", captured.CartUserID)
	}
	if len(captured.ConsumedLineIDs) != 1 || captured.ConsumedLineIDs[0] != "crt_1" {
		t.Fatalf("unexpected consumed lines %v", captured.ConsumedLineIDs)
	}
	if len(captured.StockLines) != 1 || captured.StockLines[0].SKU != "TWB001" || captured.StockLines[0].Quantity != 2 {
		t.Fatalf("unexpected ledger lines %v", captured.StockLines)
	}
	if captured.InitialEvent.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected initial tracking status %s", captured.InitialEvent.Status)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "order.created" {
		t.Fatalf("expected order.created event, got %+v", publisher.events)
	}
}

func TestOrderServiceCreateFromCartInsufficientStockAbortsWhole(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []domain.CartLine{
					{ID: "crt_1", ProductID: "prod-1", Quantity: 2},
				},
			}, nil
		},
	}
	catalog := &stubCatalogRepository{
		findProductsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{"prod-1": activeProduct()}, nil
		},
	}
	orders := &stubOrderRepository{
		createPlacementFunc: func(ctx context.Context, req repositories.OrderPlacementRequest) (domain.Order, error) {
			return domain.Order{}, repositories.NewInsufficientStockError("TWB001", 1, 2)
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders, Carts: carts, Catalog: catalog})

	_, err := service.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		Actor:  customerActor("user-1"),
		UserID: "user-1",
	})
	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.SKU != "TWB001" || insufficient.Available != 1 || insufficient.Requested != 2 {
		t.Fatalf("unexpected shortage detail: %+v", insufficient)
	}
}

func TestOrderServiceCreateFromCartUnknownLineID(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				Lines: []domain.CartLine{{ID: "crt_1", ProductID: "prod-1", Quantity: 1}},
			}, nil
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Carts: carts})

	_, err := service.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		Actor:   customerActor("user-1"),
		UserID:  "user-1",
		LineIDs: []string{"crt_other"},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceCreateFromLinesResolvesVariantPricing(t *testing.T) {
	catalog := &stubCatalogRepository{
		findProductsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{"prod-1": activeProduct()}, nil
		},
		findVariantFunc: func(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
			return domain.ProductVariant{
				ID:         variantID,
				ProductID:  productID,
				SKU:        "TWB001-XL",
				Name:       "Extra Large",
				PriceDelta: 5000,
				Active:     true,
			}, nil
		},
	}
	orders := &stubOrderRepository{
		createPlacementFunc: func(ctx context.Context, req repositories.OrderPlacementRequest) (domain.Order, error) {
			return req.Order, nil
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders, Catalog: catalog})

	order, err := service.CreateFromLines(context.Background(), CreateOrderFromLinesCommand{
		Actor:  customerActor("user-1"),
		UserID: "user-1",
		Lines:  []OrderLineInput{{ProductID: "prod-1", VariantID: "var-1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item := order.Items[0]
	if item.SKU != "TWB001-XL" {
		t.Fatalf("expected variant SKU to win, got %q", item.SKU)
	}
	if item.UnitPrice != 34999 {
		t.Fatalf("expected unit price 34999, got %d", item.UnitPrice)
	}
	if item.Name != "Teak Wristwatch Box (Extra Large)" {
		t.Fatalf("unexpected item name %q", item.Name)
	}
}

func TestOrderServiceTotalsConserveItemSnapshots(t *testing.T) {
	catalog := &stubCatalogRepository{
		findProductsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			second := activeProduct()
			second.ID = "prod-2"
			second.SKU = "TWB002"
			second.Price = 14550
			return map[string]domain.Product{"prod-1": activeProduct(), "prod-2": second}, nil
		},
	}
	orders := &stubOrderRepository{
		createPlacementFunc: func(ctx context.Context, req repositories.OrderPlacementRequest) (domain.Order, error) {
			return req.Order, nil
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders, Catalog: catalog})

	order, err := service.CreateFromLines(context.Background(), CreateOrderFromLinesCommand{
		Actor:  customerActor("user-1"),
		UserID: "user-1",
		Lines: []OrderLineInput{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var itemSum int64
	for _, item := range order.Items {
		if item.TotalPrice != item.UnitPrice*int64(item.Quantity) {
			t.Fatalf("item total %d does not match unit price %d x %d", item.TotalPrice, item.UnitPrice, item.Quantity)
		}
		itemSum += item.TotalPrice
	}
	if order.Totals.Subtotal != itemSum {
		t.Fatalf("subtotal %d must equal the sum of item totals %d", order.Totals.Subtotal, itemSum)
	}
	if got := order.Totals.Subtotal + order.Totals.Shipping + order.Totals.Tax; order.Totals.Total != got {
		t.Fatalf("total %d must equal subtotal+shipping+tax %d", order.Totals.Total, got)
	}
}

func TestOrderServiceGetOrderEnforcesOwnership(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1"}, nil
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := service.GetOrder(context.Background(), customerActor("user-2"), "ord_1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := service.GetOrder(context.Background(), staffActor(), "ord_1"); err != nil {
		t.Fatalf("expected staff access, got %v", err)
	}
}

func TestOrderServiceUpdateStatusWalksTransitions(t *testing.T) {
	current := domain.Order{ID: "ord_1", UserID: "user-1", Status: domain.OrderStatusPending}
	orders := &stubOrderRepository{
		mutateFunc: func(ctx context.Context, orderID string, fn repositories.OrderMutationFunc) (domain.Order, error) {
			mutation, err := fn(current)
			if err != nil {
				return domain.Order{}, err
			}
			current = mutation.Order
			return current, nil
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	for _, target := range []OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	} {
		updated, err := service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
			Actor:        staffActor(),
			OrderID:      "ord_1",
			TargetStatus: target,
		})
		if err != nil {
			t.Fatalf("unexpected error moving to %s: %v", target, err)
		}
		if updated.Status != target {
			t.Fatalf("expected status %s, got %s", target, updated.Status)
		}
	}

	if current.ConfirmedAt == nil || current.ShippedAt == nil || current.DeliveredAt == nil {
		t.Fatal("expected lifecycle timestamps to be set")
	}
}

func TestOrderServiceUpdateStatusRejectsSkippedState(t *testing.T) {
	orders := &stubOrderRepository{
		mutateFunc: func(ctx context.Context, orderID string, fn repositories.OrderMutationFunc) (domain.Order, error) {
			_, err := fn(domain.Order{ID: orderID, Status: domain.OrderStatusPending})
			return domain.Order{}, err
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		Actor:        staffActor(),
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusShipped,
	})
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if transition.From != domain.OrderStatusPending || transition.To != domain.OrderStatusShipped {
		t.Fatalf("unexpected transition detail: %+v", transition)
	}
}

func TestOrderServiceUpdateStatusRejectsCancelledTarget(t *testing.T) {
	service := newTestOrderService(t, OrderServiceDeps{})

	_, err := service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		Actor:        staffActor(),
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusCancelled,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceUpdateStatusRequiresElevation(t *testing.T) {
	service := newTestOrderService(t, OrderServiceDeps{})

	_, err := service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		Actor:        customerActor("user-1"),
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestOrderServiceCancelRestoresStockAndRefunds(t *testing.T) {
	stockLines := []domain.StockLine{{SKU: "TWB001", Quantity: 2}}
	current := domain.Order{
		ID:         "ord_1",
		UserID:     "user-1",
		Status:     domain.OrderStatusConfirmed,
		StockLines: stockLines,
	}

	var restored []domain.StockLine
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return current, nil
		},
		mutateFunc: func(ctx context.Context, orderID string, fn repositories.OrderMutationFunc) (domain.Order, error) {
			mutation, err := fn(current)
			if err != nil {
				return domain.Order{}, err
			}
			restored = mutation.RestoreStock
			return mutation.Order, nil
		},
	}
	payments := &stubPaymentRepository{
		findByOrderFunc: func(ctx context.Context, orderID string) (domain.Payment, error) {
			return domain.Payment{
				ID:      "pay_1",
				OrderID: orderID,
				UserID:  "user-1",
				Status:  domain.PaymentStatusCompleted,
				Amount:  59998,
			}, nil
		},
	}
	refunder := &stubRefunder{}

	service := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Payments: payments,
		Refunder: refunder,
	})

	cancelled, err := service.Cancel(context.Background(), CancelOrderCommand{
		Actor:         customerActor("user-1"),
		OrderID:       "ord_1",
		Reason:        "changed my mind",
		RefundPayment: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}
	if cancelled.CancelReason != "changed my mind" {
		t.Fatalf("unexpected cancel reason %q", cancelled.CancelReason)
	}
	if len(restored) != 1 || restored[0].SKU != "TWB001" || restored[0].Quantity != 2 {
		t.Fatalf("expected placement quantities to be restored, got %v", restored)
	}
	if len(refunder.calls) != 1 {
		t.Fatalf("expected one refund call, got %d", len(refunder.calls))
	}
	if refunder.calls[0].PaymentID != "pay_1" || refunder.calls[0].Amount != 59998 {
		t.Fatalf("unexpected refund command: %+v", refunder.calls[0])
	}
}

func TestOrderServiceCancelSettledPaymentNeedsAcknowledgement(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusConfirmed}, nil
		},
	}
	payments := &stubPaymentRepository{
		findByOrderFunc: func(ctx context.Context, orderID string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_1", UserID: "user-1", Status: domain.PaymentStatusCompleted, Amount: 59998}, nil
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders, Payments: payments, Refunder: &stubRefunder{}})

	_, err := service.Cancel(context.Background(), CancelOrderCommand{
		Actor:   customerActor("user-1"),
		OrderID: "ord_1",
	})
	if !errors.Is(err, ErrOrderPaymentSettled) {
		t.Fatalf("expected ErrOrderPaymentSettled, got %v", err)
	}
}

func TestOrderServiceCancelShippedOrderFails(t *testing.T) {
	current := domain.Order{ID: "ord_1", UserID: "user-1", Status: domain.OrderStatusShipped}
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return current, nil
		},
		mutateFunc: func(ctx context.Context, orderID string, fn repositories.OrderMutationFunc) (domain.Order, error) {
			_, err := fn(current)
			return domain.Order{}, err
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := service.Cancel(context.Background(), CancelOrderCommand{
		Actor:   customerActor("user-1"),
		OrderID: "ord_1",
	})
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if transition.From != domain.OrderStatusShipped {
		t.Fatalf("unexpected transition source %s", transition.From)
	}
}

func TestOrderServiceCancelRefundFailureKeepsCancellation(t *testing.T) {
	current := domain.Order{ID: "ord_1", UserID: "user-1", Status: domain.OrderStatusConfirmed}
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return current, nil
		},
		mutateFunc: func(ctx context.Context, orderID string, fn repositories.OrderMutationFunc) (domain.Order, error) {
			mutation, err := fn(current)
			if err != nil {
				return domain.Order{}, err
			}
			return mutation.Order, nil
		},
	}
	payments := &stubPaymentRepository{
		findByOrderFunc: func(ctx context.Context, orderID string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_1", UserID: "user-1", Status: domain.PaymentStatusCompleted, Amount: 59998}, nil
		},
	}
	refunder := &stubRefunder{
		refundFunc: func(ctx context.Context, cmd RefundPaymentCommand) (Payment, error) {
			return Payment{}, ErrPaymentProviderUnavailable
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders, Payments: payments, Refunder: refunder})

	cancelled, err := service.Cancel(context.Background(), CancelOrderCommand{
		Actor:         customerActor("user-1"),
		OrderID:       "ord_1",
		RefundPayment: true,
	})
	if !errors.Is(err, ErrOrderRefundFailed) {
		t.Fatalf("expected ErrOrderRefundFailed, got %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected order to stay cancelled, got %s", cancelled.Status)
	}
}

func TestOrderServiceListOrdersScopesNonElevatedActors(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderRepository{
		listFunc: func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{}, nil
		},
	}

	service := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := service.ListOrders(context.Background(), ListOrdersCommand{
		Actor:  customerActor("user-1"),
		Filter: repositories.OrderListFilter{UserID: "someone-else", VendorID: "vendor-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.UserID != "user-1" || captured.VendorID != "" {
		t.Fatalf("expected filter scoped to caller, got %+v", captured)
	}
}

func TestOrderServiceAppendTrackingRequiresContent(t *testing.T) {
	service := newTestOrderService(t, OrderServiceDeps{})

	_, err := service.AppendTracking(context.Background(), AppendTrackingCommand{
		Actor:   staffActor(),
		OrderID: "ord_1",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}
