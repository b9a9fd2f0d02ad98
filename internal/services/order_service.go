package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/platform/textutil"
	"github.com/tradewinds/api/internal/repositories"
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the requested order does not exist.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderUnavailable indicates the order backend cannot fulfil the request.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// ErrOrderEmpty indicates placement was attempted with nothing to buy.
var ErrOrderEmpty = errors.New("order service: no purchasable lines")

// ErrOrderPaymentSettled indicates the order has a settled payment and the
// caller did not acknowledge the refund that cancellation triggers.
var ErrOrderPaymentSettled = errors.New("order service: payment settled, refund acknowledgement required")

// ErrOrderRefundFailed indicates the order was cancelled and its stock
// restored, but the coupled refund did not go through. The cancellation
// stands; the refund can be retried through the payments API.
var ErrOrderRefundFailed = errors.New("order service: cancellation refund failed")

// InvalidTransitionError reports a lifecycle move the state machine forbids.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition from %s to %s", e.From, e.To)
}

// orderTransitions is the forward lifecycle. Cancellation carries refund
// semantics and is handled by Cancel, so it never appears as a target here.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed: true},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing: true},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped: true},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered: true},
}

// cancellableStatuses are the states Cancel accepts. Shipped and delivered
// orders go through returns, not cancellation.
var cancellableStatuses = map[OrderStatus]bool{
	domain.OrderStatusPending:    true,
	domain.OrderStatusConfirmed:  true,
	domain.OrderStatusProcessing: true,
}

// PaymentRefunder is the narrow payments dependency cancellation needs. The
// payment service satisfies it; keeping the interface here avoids a
// construction cycle between the two services.
type PaymentRefunder interface {
	Refund(ctx context.Context, cmd RefundPaymentCommand) (Payment, error)
}

const (
	orderIDPrefix      = "ord_"
	trackingIDPrefix   = "trk_"
	orderCounterName   = "orders"
	orderNoteMaxLen    = 500
	orderReasonMaxLen  = 500
	maxOrderLineCount  = 100
	maxOrderLineQty    = maxCartLineQuantity
	orderNumberPattern = "TW-%d-%06d"
)

// OrderServiceDeps wires persistence, catalog resolution, pricing and the
// refund coupling for the order lifecycle.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Carts     repositories.CartRepository
	Catalog   repositories.CatalogRepository
	Counters  repositories.CounterRepository
	Payments  repositories.PaymentRepository
	Refunder  PaymentRefunder
	Pricer    PricingEngine
	Publisher EventPublisher
	Clock     func() time.Time
	// DefaultCurrency applies when neither the cart nor the catalog carry one.
	DefaultCurrency  string
	Logger           func(context.Context, string, map[string]any)
	IDGenerator      func() string
	EventIDGenerator func() string
}

type orderService struct {
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	catalog   repositories.CatalogRepository
	counters  repositories.CounterRepository
	payments  repositories.PaymentRepository
	refunder  PaymentRefunder
	pricer    PricingEngine
	publisher EventPublisher
	now       func() time.Time
	currency  string
	logger    func(context.Context, string, map[string]any)
	newID     func() string
	newEvtID  func() string
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("order service: clock is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return orderIDPrefix + ulid.Make().String() }
	}
	newEvtID := deps.EventIDGenerator
	if newEvtID == nil {
		newEvtID = func() string { return trackingIDPrefix + ulid.Make().String() }
	}

	return &orderService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		counters:  deps.Counters,
		payments:  deps.Payments,
		refunder:  deps.Refunder,
		pricer:    deps.Pricer,
		publisher: deps.Publisher,
		now:       func() time.Time { return deps.Clock().UTC() },
		currency:  currency,
		logger:    logger,
		newID:     newID,
		newEvtID:  newEvtID,
	}, nil
}

// CreateFromCart places an order from the user's cart. Stock is re-checked
// authoritatively, the order and its first tracking event are created, the
// ledger is decremented and the consumed cart lines cleared, all in one
// transaction. Any insufficient line aborts the whole placement.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Order{}, ErrOrderInvalidInput
	}
	if err := requireSelfOrElevated(cmd.Actor, uid); err != nil {
		return Order{}, err
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderEmpty
		}
		return Order{}, s.translateRepoError(err)
	}

	selected, err := selectCartLines(cart.Lines, cmd.LineIDs)
	if err != nil {
		return Order{}, err
	}
	if len(selected) == 0 {
		return Order{}, ErrOrderEmpty
	}

	inputs := make([]OrderLineInput, 0, len(selected))
	consumed := make([]string, 0, len(selected))
	for _, line := range selected {
		inputs = append(inputs, OrderLineInput{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		})
		consumed = append(consumed, line.ID)
	}

	currency := strings.ToUpper(strings.TrimSpace(cart.Currency))
	if currency == "" {
		currency = s.currency
	}

	return s.place(ctx, placement{
		actor:           cmd.Actor,
		userID:          uid,
		inputs:          inputs,
		currency:        currency,
		shippingAddress: cmd.ShippingAddress,
		cartUserID:      uid,
		consumedLineIDs: consumed,
	})
}

// CreateFromLines places an order directly from named purchasable units,
// bypassing the cart. Used for buy-now flows and staff-assisted orders.
func (s *orderService) CreateFromLines(ctx context.Context, cmd CreateOrderFromLinesCommand) (Order, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Order{}, ErrOrderInvalidInput
	}
	if err := requireSelfOrElevated(cmd.Actor, uid); err != nil {
		return Order{}, err
	}
	if len(cmd.Lines) == 0 {
		return Order{}, ErrOrderEmpty
	}

	return s.place(ctx, placement{
		actor:           cmd.Actor,
		userID:          uid,
		inputs:          cmd.Lines,
		currency:        s.currency,
		shippingAddress: cmd.ShippingAddress,
	})
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := requireSelfOrElevated(actor, order.UserID); err != nil {
		return Order{}, err
	}
	return order, nil
}

// ListOrders pages orders newest first. Non-elevated actors only ever see
// their own orders regardless of the requested filter.
func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error) {
	filter := cmd.Filter
	if !cmd.Actor.Elevated() {
		filter.UserID = cmd.Actor.ID
		filter.VendorID = ""
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// UpdateStatus moves an order along the forward lifecycle. Cancellation is
// rejected here; it carries refund semantics and lives in Cancel.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	if !cmd.Actor.Elevated() {
		return Order{}, ErrUnauthorized
	}
	target := cmd.TargetStatus
	switch target {
	case domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered:
	case domain.OrderStatusCancelled:
		return Order{}, fmt.Errorf("%w: cancellation must go through the cancel operation", ErrOrderInvalidInput)
	default:
		return Order{}, fmt.Errorf("%w: unknown target status %q", ErrOrderInvalidInput, target)
	}

	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (repositories.OrderMutation, error) {
		if !orderTransitions[current.Status][target] {
			return repositories.OrderMutation{}, &InvalidTransitionError{From: current.Status, To: target}
		}
		next := current
		next.Status = target
		next.UpdatedAt = now
		switch target {
		case domain.OrderStatusConfirmed:
			next.ConfirmedAt = &now
		case domain.OrderStatusShipped:
			next.ShippedAt = &now
		case domain.OrderStatusDelivered:
			next.DeliveredAt = &now
		}
		event := s.trackingEvent(next, cmd.Actor, cmd.TrackingNumber, cmd.Location, cmd.Note, now)
		return repositories.OrderMutation{Order: next, Event: &event}, nil
	})
	if err != nil {
		return Order{}, s.translateMutationError(err)
	}

	s.publish(ctx, Event{
		Type:       "order.status_changed",
		OccurredAt: now,
		Payload:    map[string]any{"orderId": updated.ID, "status": string(updated.Status)},
	})
	return updated, nil
}

// Cancel terminates a pending, confirmed or processing order, restoring the
// exact ledger quantities placement consumed. A settled payment is refunded
// in the same flow and requires the caller's explicit acknowledgement.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}

	existing, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := requireSelfOrElevated(cmd.Actor, existing.UserID); err != nil {
		return Order{}, err
	}

	payment, hasPayment, err := s.findPayment(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if hasPayment && payment.Refundable() && !cmd.RefundPayment {
		return Order{}, ErrOrderPaymentSettled
	}

	reason := textutil.SanitizeFreeText(cmd.Reason, orderReasonMaxLen)
	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (repositories.OrderMutation, error) {
		if !cancellableStatuses[current.Status] {
			return repositories.OrderMutation{}, &InvalidTransitionError{From: current.Status, To: domain.OrderStatusCancelled}
		}
		next := current
		next.Status = domain.OrderStatusCancelled
		next.CancelReason = reason
		next.CancelledAt = &now
		next.UpdatedAt = now
		event := s.trackingEvent(next, cmd.Actor, "", "", reason, now)
		return repositories.OrderMutation{
			Order:        next,
			Event:        &event,
			RestoreStock: current.StockLines,
		}, nil
	})
	if err != nil {
		return Order{}, s.translateMutationError(err)
	}

	s.publish(ctx, Event{
		Type:       "order.cancelled",
		OccurredAt: now,
		Payload:    map[string]any{"orderId": updated.ID, "reason": reason},
	})

	if hasPayment && payment.Refundable() {
		if remaining := payment.Amount - payment.RefundedAmount; remaining > 0 && s.refunder != nil {
			if _, err := s.refunder.Refund(ctx, RefundPaymentCommand{
				Actor:     cmd.Actor,
				PaymentID: payment.ID,
				Amount:    remaining,
				Reason:    "order cancelled",
			}); err != nil {
				s.logger(ctx, "order.cancel_refund_failed", map[string]any{
					"orderId":   updated.ID,
					"paymentId": payment.ID,
					"error":     err.Error(),
				})
				return updated, fmt.Errorf("%w: %v", ErrOrderRefundFailed, err)
			}
		}
	}
	return updated, nil
}

// AppendTracking adds a tracking event without changing the order status.
func (s *orderService) AppendTracking(ctx context.Context, cmd AppendTrackingCommand) (OrderTrackingEvent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderTrackingEvent{}, ErrOrderInvalidInput
	}
	if !cmd.Actor.Elevated() {
		return OrderTrackingEvent{}, ErrUnauthorized
	}
	if strings.TrimSpace(cmd.TrackingNumber) == "" && strings.TrimSpace(cmd.Location) == "" && strings.TrimSpace(cmd.Note) == "" {
		return OrderTrackingEvent{}, fmt.Errorf("%w: tracking event needs a tracking number, location or note", ErrOrderInvalidInput)
	}

	now := s.now()
	var appended OrderTrackingEvent
	_, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (repositories.OrderMutation, error) {
		next := current
		next.UpdatedAt = now
		event := s.trackingEvent(next, cmd.Actor, cmd.TrackingNumber, cmd.Location, cmd.Note, now)
		appended = event
		return repositories.OrderMutation{Order: next, Event: &event}, nil
	})
	if err != nil {
		return OrderTrackingEvent{}, s.translateMutationError(err)
	}
	return appended, nil
}

func (s *orderService) ListTracking(ctx context.Context, actor Actor, orderID string, pager Pagination) (domain.CursorPage[OrderTrackingEvent], error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return domain.CursorPage[OrderTrackingEvent]{}, err
	}
	if err := requireSelfOrElevated(actor, order.UserID); err != nil {
		return domain.CursorPage[OrderTrackingEvent]{}, err
	}
	page, err := s.orders.ListTracking(ctx, order.ID, pager)
	if err != nil {
		return domain.CursorPage[OrderTrackingEvent]{}, s.translateRepoError(err)
	}
	return page, nil
}

// placement carries the resolved inputs of a single order creation.
type placement struct {
	actor           Actor
	userID          string
	inputs          []OrderLineInput
	currency        string
	shippingAddress Address
	cartUserID      string
	consumedLineIDs []string
}

// place resolves catalog snapshots, prices them, burns an order number and
// runs the placement transaction. A counter value consumed by a placement
// that later aborts is never reused; numbers are unique, not gapless.
func (s *orderService) place(ctx context.Context, p placement) (Order, error) {
	if len(p.inputs) > maxOrderLineCount {
		return Order{}, fmt.Errorf("%w: at most %d lines per order", ErrOrderInvalidInput, maxOrderLineCount)
	}

	items, stockLines, pricingItems, err := s.resolveOrderLines(ctx, p.inputs)
	if err != nil {
		return Order{}, err
	}

	quote, err := s.pricer.Quote(ctx, PricingCommand{Currency: p.currency, Items: pricingItems})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return Order{}, ErrOrderUnavailable
	}

	seq, err := s.counters.Next(ctx, orderCounterName)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	now := s.now()
	order := domain.Order{
		ID:     s.newID(),
		UserID: p.userID,
		Number: fmt.Sprintf(orderNumberPattern, now.Year(), seq),
		Status: domain.OrderStatusPending,
		Items:  items,
		Totals: domain.OrderTotals{
			Subtotal: quote.Subtotal,
			Shipping: quote.Shipping,
			Tax:      quote.Tax,
			Total:    quote.Total,
			Currency: p.currency,
		},
		ShippingAddress: p.shippingAddress,
		StockLines:      stockLines,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	placed, err := s.orders.CreatePlacement(ctx, repositories.OrderPlacementRequest{
		Order:           order,
		InitialEvent:    s.trackingEvent(order, p.actor, "", "", "order placed", now),
		StockLines:      stockLines,
		CartUserID:      p.cartUserID,
		ConsumedLineIDs: p.consumedLineIDs,
		Now:             now,
	})
	if err != nil {
		if translated, ok := translateStockError(err); ok {
			return Order{}, translated
		}
		return Order{}, s.translateRepoError(err)
	}

	s.logger(ctx, "order.placed", map[string]any{
		"orderId": placed.ID,
		"number":  placed.Number,
		"userId":  placed.UserID,
		"total":   placed.Totals.Total,
	})
	s.publish(ctx, Event{
		Type:       "order.created",
		OccurredAt: now,
		Payload:    map[string]any{"orderId": placed.ID, "number": placed.Number, "total": placed.Totals.Total},
	})
	return placed, nil
}

// resolveOrderLines snapshots catalog data for every input line. Names and
// prices are frozen here so later catalog edits cannot change a placed
// order. Ledger lines aggregate quantities per SKU across lines.
func (s *orderService) resolveOrderLines(ctx context.Context, inputs []OrderLineInput) ([]domain.OrderItem, []domain.StockLine, []PricingItem, error) {
	productIDs := make([]string, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, input := range inputs {
		pid := strings.TrimSpace(input.ProductID)
		if pid == "" {
			return nil, nil, nil, fmt.Errorf("%w: product_id is required", ErrOrderInvalidInput)
		}
		if input.Quantity <= 0 || input.Quantity > maxOrderLineQty {
			return nil, nil, nil, fmt.Errorf("%w: quantity for %s must be between 1 and %d", ErrOrderInvalidInput, pid, maxOrderLineQty)
		}
		if _, ok := seen[pid]; !ok {
			seen[pid] = struct{}{}
			productIDs = append(productIDs, pid)
		}
	}

	products, err := s.catalog.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, nil, nil, s.translateRepoError(err)
	}

	items := make([]domain.OrderItem, 0, len(inputs))
	pricingItems := make([]PricingItem, 0, len(inputs))
	ledger := make(map[string]int64, len(inputs))
	ledgerOrder := make([]string, 0, len(inputs))

	for _, input := range inputs {
		pid := strings.TrimSpace(input.ProductID)
		product, ok := products[pid]
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: product %s not found", ErrOrderInvalidInput, pid)
		}
		if !product.Active {
			return nil, nil, nil, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, pid)
		}

		name := product.Name
		sku := product.SKU
		unitPrice := product.Price
		variantID := strings.TrimSpace(input.VariantID)
		if variantID != "" {
			variant, err := s.catalog.FindVariant(ctx, pid, variantID)
			if err != nil {
				if isRepoNotFound(err) {
					return nil, nil, nil, fmt.Errorf("%w: variant %s not found", ErrOrderInvalidInput, variantID)
				}
				return nil, nil, nil, s.translateRepoError(err)
			}
			if !variant.Active {
				return nil, nil, nil, fmt.Errorf("%w: variant %s is not available", ErrOrderInvalidInput, variantID)
			}
			if variant.SKU != "" {
				sku = variant.SKU
			}
			if variant.Name != "" {
				name = product.Name + " (" + variant.Name + ")"
			}
			unitPrice = product.Price + variant.PriceDelta
		}

		items = append(items, domain.OrderItem{
			ProductID:  pid,
			VariantID:  variantID,
			VendorID:   product.VendorID,
			Name:       name,
			SKU:        sku,
			UnitPrice:  unitPrice,
			Quantity:   input.Quantity,
			TotalPrice: unitPrice * int64(input.Quantity),
		})
		pricingItems = append(pricingItems, PricingItem{
			SKU:         sku,
			UnitPrice:   unitPrice,
			Quantity:    input.Quantity,
			WeightGrams: product.WeightGrams,
		})
		if product.TrackStock {
			if _, ok := ledger[sku]; !ok {
				ledgerOrder = append(ledgerOrder, sku)
			}
			ledger[sku] += int64(input.Quantity)
		}
	}

	stockLines := make([]domain.StockLine, 0, len(ledgerOrder))
	for _, sku := range ledgerOrder {
		stockLines = append(stockLines, domain.StockLine{SKU: sku, Quantity: ledger[sku]})
	}
	return items, stockLines, pricingItems, nil
}

func (s *orderService) trackingEvent(order domain.Order, actor Actor, trackingNumber, location, note string, now time.Time) domain.OrderTrackingEvent {
	actorID := strings.TrimSpace(actor.ID)
	if actorID == "" {
		actorID = "system"
	}
	return domain.OrderTrackingEvent{
		ID:             s.newEvtID(),
		OrderID:        order.ID,
		Status:         order.Status,
		TrackingNumber: strings.TrimSpace(trackingNumber),
		Location:       textutil.SanitizeFreeText(location, orderNoteMaxLen),
		Note:           textutil.SanitizeFreeText(note, orderNoteMaxLen),
		Actor:          actorID,
		OccurredAt:     now,
	}
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	return order, nil
}

// findPayment reports the order's payment, if one exists.
func (s *orderService) findPayment(ctx context.Context, orderID string) (domain.Payment, bool, error) {
	if s.payments == nil {
		return domain.Payment{}, false, nil
	}
	payment, err := s.payments.FindByOrder(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Payment{}, false, nil
		}
		return domain.Payment{}, false, ErrOrderUnavailable
	}
	return payment, true, nil
}

func (s *orderService) publish(ctx context.Context, event Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

// translateMutationError preserves domain errors raised inside mutation
// callbacks and maps everything else onto the service taxonomy.
func (s *orderService) translateMutationError(err error) error {
	var transition *InvalidTransitionError
	if errors.As(err, &transition) {
		return transition
	}
	if errors.Is(err, ErrOrderInvalidInput) {
		return err
	}
	if translated, ok := translateStockError(err); ok {
		return translated
	}
	return s.translateRepoError(err)
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrOrderNotFound
	}
	return ErrOrderUnavailable
}

// requireSelfOrElevated lets a user act on their own resources and staff act
// on anyone's.
func requireSelfOrElevated(actor Actor, ownerID string) error {
	if actor.Elevated() {
		return nil
	}
	if strings.TrimSpace(actor.ID) != "" && strings.TrimSpace(actor.ID) == strings.TrimSpace(ownerID) {
		return nil
	}
	return ErrUnauthorized
}

// selectCartLines picks the lines an order consumes. An empty id list means
// the whole cart; naming a line the cart does not hold is an input error.
func selectCartLines(lines []domain.CartLine, lineIDs []string) ([]domain.CartLine, error) {
	if len(lineIDs) == 0 {
		return lines, nil
	}
	byID := make(map[string]domain.CartLine, len(lines))
	for _, line := range lines {
		byID[line.ID] = line
	}
	selected := make([]domain.CartLine, 0, len(lineIDs))
	seen := make(map[string]struct{}, len(lineIDs))
	for _, id := range lineIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		line, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: cart line %s not found", ErrOrderInvalidInput, id)
		}
		selected = append(selected, line)
	}
	return selected, nil
}

var _ OrderService = (*orderService)(nil)
