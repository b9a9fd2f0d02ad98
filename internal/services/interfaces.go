package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	domain "github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Cart                 = domain.Cart
	CartLine             = domain.CartLine
	CartLineReport       = domain.CartLineReport
	CartValidationReport = domain.CartValidationReport
	CartSummary          = domain.CartSummary
	Product              = domain.Product
	ProductVariant       = domain.ProductVariant
	StockLevel           = domain.StockLevel
	StockLine            = domain.StockLine
	Address              = domain.Address
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	OrderTotals          = domain.OrderTotals
	OrderTrackingEvent   = domain.OrderTrackingEvent
	Payment              = domain.Payment
	PaymentStatus        = domain.PaymentStatus
	ReviewHelpfulVote    = domain.ReviewHelpfulVote
	ReviewStats          = domain.ReviewStats
	PricingQuote         = domain.PricingQuote
	ItemPricingQuote     = domain.ItemPricingQuote
)

// Actor identifies the authenticated principal on whose behalf an operation
// runs. Roles mirror the auth middleware role claims.
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor carries the given role (case-insensitive).
func (a Actor) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range a.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// Elevated reports whether the actor may act on resources owned by others.
func (a Actor) Elevated() bool {
	return a.HasRole("staff") || a.HasRole("admin")
}

// CartService manages mutable cart state: line mutations, merging on login,
// advisory validation, and priced summaries.
type CartService interface {
	Get(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	RemoveItems(ctx context.Context, cmd RemoveCartItemsCommand) (Cart, error)
	Clear(ctx context.Context, userID string) (Cart, error)
	Merge(ctx context.Context, cmd MergeCartsCommand) (Cart, error)
	Validate(ctx context.Context, userID string) (CartValidationReport, error)
	Summary(ctx context.Context, userID string) (CartSummary, error)
}

// OrderService owns the order lifecycle from atomic placement through
// delivery or cancellation.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	CreateFromLines(ctx context.Context, cmd CreateOrderFromLinesCommand) (Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AppendTracking(ctx context.Context, cmd AppendTrackingCommand) (OrderTrackingEvent, error)
	ListTracking(ctx context.Context, actor Actor, orderID string, pager Pagination) (domain.CursorPage[OrderTrackingEvent], error)
}

// PaymentService processes the single payment bound to an order and keeps the
// local record consistent with the provider through webhooks and
// reconciliation.
type PaymentService interface {
	Process(ctx context.Context, cmd ProcessPaymentCommand) (Payment, error)
	Refund(ctx context.Context, cmd RefundPaymentCommand) (Payment, error)
	Validate(ctx context.Context, actor Actor, paymentID string) (PaymentValidationResult, error)
	GetPayment(ctx context.Context, actor Actor, paymentID string) (Payment, error)
	GetByOrder(ctx context.Context, actor Actor, orderID string) (Payment, error)
	ListPayments(ctx context.Context, cmd ListPaymentsCommand) (domain.CursorPage[Payment], error)
	HandleWebhook(ctx context.Context, cmd PaymentWebhookCommand) error
}

// ReviewVoteService maintains helpfulness votes and their denormalised counter.
type ReviewVoteService interface {
	MarkHelpful(ctx context.Context, cmd MarkReviewHelpfulCommand) (ReviewStats, error)
	IsHelpfulByUser(ctx context.Context, reviewID, userID string) (bool, error)
	GetStats(ctx context.Context, reviewID string) (ReviewStats, error)
}

// StockService fronts the availability ledger for both advisory checks and
// authoritative mutations.
type StockService interface {
	GetLevels(ctx context.Context, skus []string) (map[string]StockLevel, error)
	// CheckAvailability is advisory: it reports shortages without reserving
	// anything, so a passing check can still fail at placement.
	CheckAvailability(ctx context.Context, lines []StockLine) ([]StockShortage, error)
	Decrement(ctx context.Context, cmd StockMutationCommand) error
	Restore(ctx context.Context, cmd StockMutationCommand) error
	AdjustOnHand(ctx context.Context, cmd AdjustStockCommand) (StockLevel, error)
	ListLowStock(ctx context.Context, cmd LowStockQuery) (domain.CursorPage[StockLevel], error)
}

// PricingEngine turns priced lines into a quote. Implementations decide
// shipping and tax treatment; amounts are minor units throughout.
type PricingEngine interface {
	Quote(ctx context.Context, cmd PricingCommand) (PricingQuote, error)
}

// EventPublisher delivers domain events to interested consumers after state
// changes commit. Publishing is best-effort; failures must never undo the
// originating operation.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event Event) error
}

// Event is the provider-neutral notification payload handed to the publisher.
type Event struct {
	Type       string
	OccurredAt time.Time
	Payload    map[string]any
}

// ReceiptArchiver stores a rendered receipt and returns its storage path.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, payment Payment, order Order) (string, error)
}

// WebhookDeduplicator records processed webhook deliveries so retries become
// no-ops. Seen returns true when the key was already recorded.
type WebhookDeduplicator interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// SystemService aggregates utility endpoints such as health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SystemHealthReport summarises dependency status for readiness responses.
type SystemHealthReport struct {
	Healthy     bool
	Environment string
	StartedAt   time.Time
	CheckedAt   time.Time
	Detail      string
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	UserID    string
	ProductID string
	VariantID string
	Quantity  int
}

type UpdateCartItemCommand struct {
	UserID   string
	LineID   string
	Quantity int
	// VariantID switches the line to another variant when set. An empty
	// string reverts to the base product; nil leaves the variant unchanged.
	VariantID *string
}

type RemoveCartItemCommand struct {
	UserID string
	LineID string
}

type RemoveCartItemsCommand struct {
	UserID  string
	LineIDs []string
}

type MergeCartsCommand struct {
	FromUserID string
	ToUserID   string
}

// OrderLineInput names a purchasable unit for the direct order path.
type OrderLineInput struct {
	ProductID string
	VariantID string
	Quantity  int
}

type CreateOrderFromCartCommand struct {
	Actor           Actor
	UserID          string
	ShippingAddress Address
	// LineIDs restricts the order to a subset of cart lines. Empty means
	// the whole cart.
	LineIDs []string
}

type CreateOrderFromLinesCommand struct {
	Actor           Actor
	UserID          string
	Lines           []OrderLineInput
	ShippingAddress Address
}

type ListOrdersCommand struct {
	Actor  Actor
	Filter repositories.OrderListFilter
}

type UpdateOrderStatusCommand struct {
	Actor          Actor
	OrderID        string
	TargetStatus   OrderStatus
	TrackingNumber string
	Location       string
	Note           string
}

type CancelOrderCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
	// RefundPayment makes the caller acknowledge that cancelling this order
	// refunds its settled payment. Cancelling a paid order without it fails.
	RefundPayment bool
}

type AppendTrackingCommand struct {
	Actor          Actor
	OrderID        string
	TrackingNumber string
	Location       string
	Note           string
}

type ProcessPaymentCommand struct {
	Actor    Actor
	OrderID  string
	Provider string
	Method   string
}

type RefundPaymentCommand struct {
	Actor     Actor
	PaymentID string
	Amount    int64
	Reason    string
}

type ListPaymentsCommand struct {
	Actor  Actor
	Filter repositories.PaymentListFilter
}

// PaymentValidationResult reports the reconciliation outcome between the
// local record and the provider's view.
type PaymentValidationResult struct {
	Payment    Payment
	Consistent bool
	Mismatches []string
}

type PaymentWebhookCommand struct {
	Provider string
	Payload  []byte
	Headers  http.Header
}

type MarkReviewHelpfulCommand struct {
	ReviewID string
	UserID   string
	Helpful  bool
}

// StockShortage reports one advisory availability failure.
type StockShortage struct {
	SKU       string
	Available int64
	Requested int64
}

type StockMutationCommand struct {
	OrderRef string
	Lines    []StockLine
}

type AdjustStockCommand struct {
	Actor Actor
	SKU   string
	Delta int64
}

type LowStockQuery struct {
	Threshold  int64
	Pagination Pagination
}

type PricingCommand struct {
	Currency string
	Items    []PricingItem
}

type PricingItem struct {
	LineID      string
	SKU         string
	UnitPrice   int64
	Quantity    int
	WeightGrams int64
}
