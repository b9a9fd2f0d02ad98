package repositories

import (
	"context"
	"time"

	domain "github.com/tradewinds/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Catalog() CatalogRepository
	Stock() StockRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	ReviewVotes() ReviewVoteRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository owns cart persistence. A user has at most one cart
// document keyed by their user ID; line mutations replace the whole line
// set under an optimistic timestamp precondition.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine, expectedUpdate *time.Time, now time.Time) (domain.Cart, error)
	// MergeCarts moves every line from one user's cart into another's in a
	// single transaction, summing quantities for matching (product, variant)
	// pairs and emptying the source cart.
	MergeCarts(ctx context.Context, fromUserID, toUserID string, now time.Time) (domain.Cart, error)
}

// CatalogRepository is the read-only projection of the externally managed
// product catalog.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	FindVariant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error)
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// StockRepository manages the availability ledger with transactional guarantees.
type StockRepository interface {
	GetLevels(ctx context.Context, skus []string) (map[string]domain.StockLevel, error)
	// Decrement atomically reduces availability for every line or none of
	// them. An insufficient line aborts the whole call with a StockError
	// carrying the offending SKU's availability.
	Decrement(ctx context.Context, req StockMutationRequest) error
	// Restore returns previously decremented quantities, e.g. on cancellation.
	Restore(ctx context.Context, req StockMutationRequest) error
	AdjustOnHand(ctx context.Context, sku string, delta int64, now time.Time) (domain.StockLevel, error)
	ListLowStock(ctx context.Context, query StockLowStockQuery) (domain.CursorPage[domain.StockLevel], error)
}

// StockMutationRequest describes an all-or-nothing ledger mutation tied to an order.
type StockMutationRequest struct {
	OrderRef   string
	Lines      []domain.StockLine
	OccurredAt time.Time
}

// StockLowStockQuery filters ledger entries at or below a threshold.
type StockLowStockQuery struct {
	Threshold  int64
	Pagination domain.Pagination
}

// OrderPlacementRequest carries everything the placement transaction
// touches: the built order, its first tracking event, the ledger lines to
// decrement, and the cart lines consumed by the order.
type OrderPlacementRequest struct {
	Order           domain.Order
	InitialEvent    domain.OrderTrackingEvent
	StockLines      []domain.StockLine
	CartUserID      string
	ConsumedLineIDs []string
	Now             time.Time
}

// OrderMutation is the outcome of a transactional order update. Event, when
// set, is appended to the tracking log; RestoreStock lines are returned to
// the ledger in the same transaction.
type OrderMutation struct {
	Order        domain.Order
	Event        *domain.OrderTrackingEvent
	RestoreStock []domain.StockLine
}

// OrderMutationFunc inspects the current order inside the transaction and
// yields the mutation to apply. Returning an error aborts with no writes.
type OrderMutationFunc func(current domain.Order) (OrderMutation, error)

// OrderRepository persists orders. Placement and mutations run inside a
// single storage transaction; Firestore requires every read to precede the
// first write, which is why multi-record flows live here rather than being
// composed across repositories in the service layer.
type OrderRepository interface {
	// CreatePlacement re-checks stock availability, creates the order plus
	// its initial tracking event, decrements the ledger and clears the
	// consumed cart lines, all atomically. Insufficient stock aborts the
	// whole placement with a StockError.
	CreatePlacement(ctx context.Context, req OrderPlacementRequest) (domain.Order, error)
	Mutate(ctx context.Context, orderID string, fn OrderMutationFunc) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListTracking(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderTrackingEvent], error)
}

// OrderListFilter bounds order list queries.
type OrderListFilter struct {
	UserID      string
	VendorID    string
	Status      []domain.OrderStatus
	CreatedAt   domain.RangeQuery[time.Time]
	TotalAmount domain.RangeQuery[int64]
	Pagination  domain.Pagination
}

// PaymentMutation is the outcome of a transactional payment update. Order,
// when set, is updated in the same transaction (e.g. confirmation on
// completion); Event is appended to that order's tracking log.
type PaymentMutation struct {
	Payment domain.Payment
	Order   *domain.Order
	Event   *domain.OrderTrackingEvent
}

// PaymentMutationFunc inspects the payment and its order inside the
// transaction and yields the mutation to apply.
type PaymentMutationFunc func(payment domain.Payment, order domain.Order) (PaymentMutation, error)

// PaymentRepository persists payments with the one-per-order guarantee.
// Create writes uniqueness index documents (per order, per transaction ID)
// in the same transaction as the payment, so duplicates surface as
// conflicts from storage rather than relying on generator randomness.
type PaymentRepository interface {
	Create(ctx context.Context, payment domain.Payment) error
	Mutate(ctx context.Context, paymentID string, fn PaymentMutationFunc) (domain.Payment, error)
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Payment, error)
	FindByProviderTransaction(ctx context.Context, provider, providerTxnID string) (domain.Payment, error)
	List(ctx context.Context, filter PaymentListFilter) (domain.CursorPage[domain.Payment], error)
}

// PaymentListFilter bounds payment list queries.
type PaymentListFilter struct {
	UserID     string
	Provider   string
	Status     []domain.PaymentStatus
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// ReviewVoteRepository stores helpfulness votes and the denormalized counter.
type ReviewVoteRepository interface {
	// SetVote upserts the (review, voter) vote and adjusts the review's
	// helpful counter in the same transaction, returning the resulting
	// stats. Re-submitting an unchanged vote is a no-op.
	SetVote(ctx context.Context, vote domain.ReviewHelpfulVote) (domain.ReviewStats, error)
	GetVote(ctx context.Context, reviewID, userID string) (domain.ReviewHelpfulVote, error)
	GetStats(ctx context.Context, reviewID string) (domain.ReviewStats, error)
}

// CounterRepository yields monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
	Configure(ctx context.Context, name string, cfg CounterConfig) error
}

// CounterConfig adjusts counter behaviour.
type CounterConfig struct {
	Start    int64
	MaxValue int64
}

// HealthRepository probes persistence connectivity for readiness checks.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
