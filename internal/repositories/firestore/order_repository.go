package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tradewinds/api/internal/domain"
	pfirestore "github.com/tradewinds/api/internal/platform/firestore"
	"github.com/tradewinds/api/internal/platform/pagination"
	"github.com/tradewinds/api/internal/repositories"
)

const (
	orderCollection            = "orders"
	orderTrackingSubcollection = "tracking"
)

// OrderRepository persists orders and their tracking log within Firestore.
// Placement and mutations are single transactions; every read happens
// before the first write, as Firestore requires.
type OrderRepository struct {
	provider  *pfirestore.Provider
	base      *pfirestore.BaseRepository[orderDocument]
	levels    *pfirestore.BaseRepository[stockLevelDocument]
	movements *pfirestore.BaseRepository[stockMovementDocument]
	carts     *pfirestore.BaseRepository[cartDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:  provider,
		base:      pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
		levels:    pfirestore.NewBaseRepository[stockLevelDocument](provider, stockLevelsCollection, nil, nil),
		movements: pfirestore.NewBaseRepository[stockMovementDocument](provider, stockMovementsCollection, nil, nil),
		carts:     pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil),
	}, nil
}

// CreatePlacement atomically re-checks stock, creates the order plus its
// first tracking event, decrements the ledger and clears the consumed cart
// lines. Any insufficient line aborts the whole placement.
func (r *OrderRepository) CreatePlacement(ctx context.Context, req repositories.OrderPlacementRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.Order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order placement: order id is required")
	}
	if len(req.Order.Items) == 0 {
		return domain.Order{}, errors.New("order placement: at least one item is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var placed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}

		// Reads first: consumed cart, then stock levels.
		var cartRef *firestore.DocumentRef
		var cartDoc cartDocument
		cartUser := strings.TrimSpace(req.CartUserID)
		if cartUser != "" {
			cartRef, err = r.carts.DocumentRef(ctx, cartUser)
			if err != nil {
				return err
			}
			cartDoc, err = readCartDocument(tx, cartRef)
			if err != nil {
				return err
			}
		}

		type stockWrite struct {
			ref *firestore.DocumentRef
			doc stockLevelDocument
		}
		stockWrites := make([]stockWrite, 0, len(req.StockLines))
		for _, line := range req.StockLines {
			sku := strings.TrimSpace(line.SKU)
			if sku == "" || line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, sku, "order placement: invalid stock line", nil)
			}
			levelRef, err := r.levels.DocumentRef(ctx, sku)
			if err != nil {
				return err
			}
			snap, err := tx.Get(levelRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorNotFound, sku, fmt.Sprintf("stock %s not found", sku), err)
				}
				return err
			}
			var doc stockLevelDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock level %s: %w", sku, err)
			}
			available := doc.OnHand - doc.Reserved
			if available < line.Quantity {
				return repositories.NewInsufficientStockError(sku, available, line.Quantity)
			}
			doc.SKU = sku
			doc.OnHand -= line.Quantity
			doc.UpdatedAt = now
			doc.recalculate()
			stockWrites = append(stockWrites, stockWrite{ref: levelRef, doc: doc})
		}

		// Writes: order, tracking event, ledger, movement, cart.
		orderDoc := newOrderDocument(req.Order)
		if err := tx.Create(orderRef, orderDoc); err != nil {
			return err
		}

		event := req.InitialEvent
		if strings.TrimSpace(event.ID) == "" {
			event.ID = orderID + ":created"
		}
		eventRef := orderRef.Collection(orderTrackingSubcollection).Doc(event.ID)
		if err := tx.Create(eventRef, newTrackingDocument(event)); err != nil {
			return err
		}

		for _, write := range stockWrites {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		if len(req.StockLines) > 0 {
			movementRef, err := r.movements.DocumentRef(ctx, orderID+":"+movementDirectionOut)
			if err != nil {
				return err
			}
			movement := stockMovementDocument{
				OrderRef:   orderID,
				Direction:  movementDirectionOut,
				Lines:      newMovementLines(req.StockLines),
				OccurredAt: now,
			}
			if err := tx.Create(movementRef, movement); err != nil {
				return err
			}
		}

		if cartRef != nil {
			consumed := make(map[string]bool, len(req.ConsumedLineIDs))
			for _, id := range req.ConsumedLineIDs {
				consumed[strings.TrimSpace(id)] = true
			}
			remaining := cartDoc.Lines[:0]
			for _, line := range cartDoc.Lines {
				if len(req.ConsumedLineIDs) == 0 || consumed[line.ID] {
					continue
				}
				remaining = append(remaining, line)
			}
			cartDoc.Lines = remaining
			cartDoc.UpdatedAt = now
			if cartDoc.CreatedAt.IsZero() {
				cartDoc.CreatedAt = now
			}
			if err := tx.Set(cartRef, cartDoc); err != nil {
				return err
			}
		}

		placed = orderDoc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapStockError("orders.create", err)
	}
	return placed, nil
}

// Mutate applies fn to the current order inside a transaction. The
// resulting order is persisted together with an optional tracking event and
// optional ledger restore.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutationFunc) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order mutate: order id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order mutate: mutation function is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		mutation, err := fn(current.toDomain(orderID))
		if err != nil {
			return err
		}

		type stockWrite struct {
			ref *firestore.DocumentRef
			doc stockLevelDocument
		}
		var stockWrites []stockWrite
		now := mutation.Order.UpdatedAt.UTC()
		for _, line := range mutation.RestoreStock {
			sku := strings.TrimSpace(line.SKU)
			if sku == "" || line.Quantity <= 0 {
				continue
			}
			levelRef, err := r.levels.DocumentRef(ctx, sku)
			if err != nil {
				return err
			}
			levelSnap, err := tx.Get(levelRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorNotFound, sku, fmt.Sprintf("stock %s not found", sku), err)
				}
				return err
			}
			var doc stockLevelDocument
			if err := levelSnap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock level %s: %w", sku, err)
			}
			doc.SKU = sku
			doc.OnHand += line.Quantity
			doc.UpdatedAt = now
			doc.recalculate()
			stockWrites = append(stockWrites, stockWrite{ref: levelRef, doc: doc})
		}

		if err := tx.Set(orderRef, newOrderDocument(mutation.Order)); err != nil {
			return err
		}
		if mutation.Event != nil {
			event := *mutation.Event
			if strings.TrimSpace(event.ID) == "" {
				return errors.New("order mutate: tracking event id is required")
			}
			eventRef := orderRef.Collection(orderTrackingSubcollection).Doc(event.ID)
			if err := tx.Create(eventRef, newTrackingDocument(event)); err != nil {
				return err
			}
		}
		for _, write := range stockWrites {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		if len(stockWrites) > 0 {
			movementRef, err := r.movements.DocumentRef(ctx, orderID+":"+movementDirectionBack)
			if err != nil {
				return err
			}
			movement := stockMovementDocument{
				OrderRef:   orderID,
				Direction:  movementDirectionBack,
				Lines:      newMovementLines(mutation.RestoreStock),
				OccurredAt: now,
			}
			if err := tx.Create(movementRef, movement); err != nil {
				return err
			}
		}

		updated = mutation.Order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapStockError("orders.mutate", err)
	}
	return updated, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns a filtered page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	build := func(query firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if vendor := strings.TrimSpace(filter.VendorID); vendor != "" {
			query = query.Where("vendorIds", "array-contains", vendor)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			query = query.Where("status", "in", statuses)
		}
		if filter.CreatedAt.From != nil {
			query = query.Where("createdAt", ">=", filter.CreatedAt.From.UTC())
		}
		if filter.CreatedAt.To != nil {
			query = query.Where("createdAt", "<=", filter.CreatedAt.To.UTC())
		}
		if filter.TotalAmount.From != nil {
			query = query.Where("totals.total", ">=", *filter.TotalAmount.From)
		}
		if filter.TotalAmount.To != nil {
			query = query.Where("totals.total", "<=", *filter.TotalAmount.To)
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
			if at, id, ok := decodeTimePageToken(token); ok {
				query = query.StartAfter(at, id)
			}
		}
		return query.Limit(pageSize + 1)
	}

	docs, err := r.base.Query(ctx, build)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeTimePageToken(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		nextToken = encoded
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// ListTracking returns the order's tracking log, oldest first.
func (r *OrderRepository) ListTracking(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderTrackingEvent], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.OrderTrackingEvent]{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.OrderTrackingEvent]{}, errors.New("order tracking: order id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.OrderTrackingEvent]{}, pfirestore.WrapError("orders.tracking", err)
	}

	query := client.Collection(orderCollection).Doc(orderID).Collection(orderTrackingSubcollection).
		Query.
		OrderBy("occurredAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		if at, id, ok := decodeTimePageToken(token); ok {
			query = query.StartAfter(at, id)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var events []domain.OrderTrackingEvent
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.OrderTrackingEvent]{}, pfirestore.WrapError("orders.tracking", err)
		}
		var doc trackingDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.OrderTrackingEvent]{}, fmt.Errorf("decode tracking event %s: %w", snap.Ref.ID, err)
		}
		events = append(events, doc.toDomain(snap.Ref.ID, orderID))
	}

	hasMore := len(events) > pageSize
	if hasMore {
		events = events[:pageSize]
	}
	var nextToken string
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		encoded, err := encodeTimePageToken(last.OccurredAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.OrderTrackingEvent]{}, err
		}
		nextToken = encoded
	}
	return domain.CursorPage[domain.OrderTrackingEvent]{Items: events, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	UserID          string              `firestore:"userId"`
	Number          string              `firestore:"number"`
	Status          string              `firestore:"status"`
	Items           []orderItemDocument `firestore:"items"`
	VendorIDs       []string            `firestore:"vendorIds"`
	Totals          orderTotalsDocument `firestore:"totals"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	// stockLines mirrors the ledger decrements made at placement so a
	// cancellation can restore the exact quantities consumed.
	StockLines   []stockMovementLineDocument `firestore:"stockLines,omitempty"`
	CancelReason string                      `firestore:"cancelReason,omitempty"`
	CreatedAt    time.Time                   `firestore:"createdAt"`
	UpdatedAt    time.Time                   `firestore:"updatedAt"`
	ConfirmedAt  *time.Time                  `firestore:"confirmedAt,omitempty"`
	ShippedAt    *time.Time                  `firestore:"shippedAt,omitempty"`
	DeliveredAt  *time.Time                  `firestore:"deliveredAt,omitempty"`
	CancelledAt  *time.Time                  `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID  string `firestore:"productId"`
	VariantID  string `firestore:"variantId,omitempty"`
	VendorID   string `firestore:"vendorId"`
	Name       string `firestore:"name"`
	SKU        string `firestore:"sku"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int    `firestore:"qty"`
	TotalPrice int64  `firestore:"totalPrice"`
}

type orderTotalsDocument struct {
	Subtotal int64  `firestore:"subtotal"`
	Shipping int64  `firestore:"shipping"`
	Tax      int64  `firestore:"tax"`
	Total    int64  `firestore:"total"`
	Currency string `firestore:"currency"`
}

type addressDocument struct {
	RecipientName string `firestore:"recipientName,omitempty"`
	Line1         string `firestore:"line1,omitempty"`
	Line2         string `firestore:"line2,omitempty"`
	City          string `firestore:"city,omitempty"`
	Region        string `firestore:"region,omitempty"`
	PostalCode    string `firestore:"postalCode,omitempty"`
	Country       string `firestore:"country,omitempty"`
	Phone         string `firestore:"phone,omitempty"`
}

type trackingDocument struct {
	Status         string    `firestore:"status"`
	TrackingNumber string    `firestore:"trackingNumber,omitempty"`
	Location       string    `firestore:"location,omitempty"`
	Note           string    `firestore:"note,omitempty"`
	Actor          string    `firestore:"actor"`
	OccurredAt     time.Time `firestore:"occurredAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	vendorSet := make(map[string]bool)
	vendorIDs := make([]string, 0, 2)
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:  strings.TrimSpace(item.ProductID),
			VariantID:  strings.TrimSpace(item.VariantID),
			VendorID:   strings.TrimSpace(item.VendorID),
			Name:       item.Name,
			SKU:        strings.TrimSpace(item.SKU),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			TotalPrice: item.TotalPrice,
		}
		if vendor := items[i].VendorID; vendor != "" && !vendorSet[vendor] {
			vendorSet[vendor] = true
			vendorIDs = append(vendorIDs, vendor)
		}
	}
	return orderDocument{
		UserID:    strings.TrimSpace(order.UserID),
		Number:    strings.TrimSpace(order.Number),
		Status:    string(order.Status),
		Items:     items,
		VendorIDs: vendorIDs,
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
			Currency: strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
		},
		ShippingAddress: addressDocument{
			RecipientName: order.ShippingAddress.RecipientName,
			Line1:         order.ShippingAddress.Line1,
			Line2:         order.ShippingAddress.Line2,
			City:          order.ShippingAddress.City,
			Region:        order.ShippingAddress.Region,
			PostalCode:    order.ShippingAddress.PostalCode,
			Country:       order.ShippingAddress.Country,
			Phone:         order.ShippingAddress.Phone,
		},
		StockLines:   newMovementLines(order.StockLines),
		CancelReason: strings.TrimSpace(order.CancelReason),
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		ConfirmedAt:  order.ConfirmedAt,
		ShippedAt:    order.ShippedAt,
		DeliveredAt:  order.DeliveredAt,
		CancelledAt:  order.CancelledAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	stockLines := make([]domain.StockLine, len(d.StockLines))
	for i, line := range d.StockLines {
		stockLines[i] = domain.StockLine{SKU: line.SKU, Quantity: line.Quantity}
	}
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			VendorID:   item.VendorID,
			Name:       item.Name,
			SKU:        item.SKU,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			TotalPrice: item.TotalPrice,
		}
	}
	return domain.Order{
		ID:     id,
		UserID: d.UserID,
		Number: d.Number,
		Status: domain.OrderStatus(d.Status),
		Items:  items,
		Totals: domain.OrderTotals{
			Subtotal: d.Totals.Subtotal,
			Shipping: d.Totals.Shipping,
			Tax:      d.Totals.Tax,
			Total:    d.Totals.Total,
			Currency: d.Totals.Currency,
		},
		ShippingAddress: domain.Address{
			RecipientName: d.ShippingAddress.RecipientName,
			Line1:         d.ShippingAddress.Line1,
			Line2:         d.ShippingAddress.Line2,
			City:          d.ShippingAddress.City,
			Region:        d.ShippingAddress.Region,
			PostalCode:    d.ShippingAddress.PostalCode,
			Country:       d.ShippingAddress.Country,
			Phone:         d.ShippingAddress.Phone,
		},
		StockLines:   stockLines,
		CancelReason: d.CancelReason,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ConfirmedAt:  d.ConfirmedAt,
		ShippedAt:    d.ShippedAt,
		DeliveredAt:  d.DeliveredAt,
		CancelledAt:  d.CancelledAt,
	}
}

func newTrackingDocument(event domain.OrderTrackingEvent) trackingDocument {
	return trackingDocument{
		Status:         string(event.Status),
		TrackingNumber: strings.TrimSpace(event.TrackingNumber),
		Location:       strings.TrimSpace(event.Location),
		Note:           strings.TrimSpace(event.Note),
		Actor:          strings.TrimSpace(event.Actor),
		OccurredAt:     event.OccurredAt.UTC(),
	}
}

func (d trackingDocument) toDomain(id, orderID string) domain.OrderTrackingEvent {
	return domain.OrderTrackingEvent{
		ID:             id,
		OrderID:        orderID,
		Status:         domain.OrderStatus(d.Status),
		TrackingNumber: d.TrackingNumber,
		Location:       d.Location,
		Note:           d.Note,
		Actor:          d.Actor,
		OccurredAt:     d.OccurredAt,
	}
}

// Cursors carry the last document's sort key so pages resume after it.
func encodeTimePageToken(at time.Time, id string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{at.UTC().Format(time.RFC3339Nano), id},
	})
}

func decodeTimePageToken(encoded string) (time.Time, string, bool) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return time.Time{}, "", false
	}
	raw, ok := cursor.StringAt(0)
	if !ok {
		return time.Time{}, "", false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", false
	}
	id, ok := cursor.StringAt(1)
	if !ok || id == "" {
		return time.Time{}, "", false
	}
	return at, id, true
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
