package domain

import (
	"time"
)

// OrderStatus enumerates the lifecycle states applied to orders.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus enumerates the states a payment record can occupy.
type PaymentStatus string

const (
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

// Terminal reports whether no further provider events may mutate the payment.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// Cart stores the mutable pre-checkout state for a single user.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLine is one (product, optional variant, quantity) entry in a cart.
type CartLine struct {
	ID        string
	ProductID string
	VariantID string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt time.Time
}

// Key identifies the merge bucket a line belongs to. Lines sharing a key
// are summed rather than duplicated.
func (l CartLine) Key() string {
	return l.ProductID + "|" + l.VariantID
}

// CartLineReport is the per-line outcome of a pre-checkout validation pass.
type CartLineReport struct {
	LineID            string
	ProductID         string
	VariantID         string
	Valid             bool
	Reason            string
	AvailableStock    int64
	RequestedQuantity int
}

// CartValidationReport aggregates per-line validation results.
type CartValidationReport struct {
	Valid    bool
	Lines    []CartLineReport
	Messages []string
}

// CartSummary is the priced view of a cart returned before checkout.
type CartSummary struct {
	Currency          string
	Subtotal          int64
	EstimatedShipping int64
	EstimatedTax      int64
	EstimatedTotal    int64
	HasOutOfStock     bool
	Messages          []string
}

// Product is the read-only catalog projection consumed by the commerce
// core. Catalog management lives elsewhere; this model is never written
// through this service.
type Product struct {
	ID          string
	VendorID    string
	Name        string
	SKU         string
	Price       int64
	Currency    string
	Active      bool
	TrackStock  bool
	WeightGrams int64
}

// ProductVariant is a purchasable variation of a product. PriceDelta is
// added to the parent product price, in minor units.
type ProductVariant struct {
	ID         string
	ProductID  string
	SKU        string
	Name       string
	PriceDelta int64
	Active     bool
}

// StockLevel is the ledger view of availability for one SKU.
type StockLevel struct {
	SKU       string
	OnHand    int64
	Reserved  int64
	Available int64
	UpdatedAt time.Time
}

// StockLine pairs a SKU with a quantity for ledger mutations.
type StockLine struct {
	SKU      string
	Quantity int64
}

// Address is the shipping address snapshot stored on an order.
type Address struct {
	RecipientName string
	Line1         string
	Line2         string
	City          string
	Region        string
	PostalCode    string
	Country       string
	Phone         string
}

// Order is the immutable record produced from a cart at checkout. Line
// items and totals never change after creation; only status, tracking and
// lifecycle timestamps do.
type Order struct {
	ID              string
	UserID          string
	Number          string
	Status          OrderStatus
	Items           []OrderItem
	Totals          OrderTotals
	ShippingAddress Address
	// StockLines records the ledger quantities consumed at placement so a
	// later cancellation restores exactly what was taken.
	StockLines   []StockLine
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ConfirmedAt  *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
}

// OrderItem snapshots catalog data at order-creation time so later
// catalog edits cannot change a placed order.
type OrderItem struct {
	ProductID  string
	VariantID  string
	VendorID   string
	Name       string
	SKU        string
	UnitPrice  int64
	Quantity   int
	TotalPrice int64
}

// OrderTotals holds the priced breakdown computed from snapshotted items.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
	Currency string
}

// OrderTrackingEvent is one append-only entry in an order's tracking log.
type OrderTrackingEvent struct {
	ID             string
	OrderID        string
	Status         OrderStatus
	TrackingNumber string
	Location       string
	Note           string
	Actor          string
	OccurredAt     time.Time
}

// Payment records the single payment attempt bound to an order.
// TransactionID is generated locally; ProviderTransactionID is set once
// the provider confirms.
type Payment struct {
	ID                    string
	OrderID               string
	UserID                string
	Provider              string
	Method                string
	TransactionID         string
	ProviderTransactionID string
	Amount                int64
	RefundedAmount        int64
	Currency              string
	Status                PaymentStatus
	FailureReason         string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	CompletedAt           *time.Time
}

// Refundable reports whether the payment can accept a further refund.
func (p Payment) Refundable() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusPartiallyRefunded
}

// ReviewHelpfulVote marks one user's helpfulness opinion on a review.
// At most one vote exists per (review, user).
type ReviewHelpfulVote struct {
	ReviewID  string
	UserID    string
	Helpful   bool
	UpdatedAt time.Time
}

// ReviewStats carries the denormalized helpful counter for a review. It
// must always equal the count of helpful votes.
type ReviewStats struct {
	ReviewID     string
	HelpfulCount int64
	UpdatedAt    time.Time
}

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps one page of results plus the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}
