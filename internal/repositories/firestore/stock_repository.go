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
	stockLevelsCollection    = "stockLevels"
	stockMovementsCollection = "stockMovements"

	movementDirectionOut  = "out"
	movementDirectionBack = "back"
)

// StockRepository implements repositories.StockRepository on Firestore. All
// multi-SKU mutations run inside a single transaction so availability can
// never go negative through this path.
type StockRepository struct {
	provider  *pfirestore.Provider
	levels    *pfirestore.BaseRepository[stockLevelDocument]
	movements *pfirestore.BaseRepository[stockMovementDocument]
}

func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	levels := pfirestore.NewBaseRepository[stockLevelDocument](provider, stockLevelsCollection, nil, nil)
	movements := pfirestore.NewBaseRepository[stockMovementDocument](provider, stockMovementsCollection, nil, nil)
	return &StockRepository{provider: provider, levels: levels, movements: movements}, nil
}

func (r *StockRepository) GetLevels(ctx context.Context, skus []string) (map[string]domain.StockLevel, error) {
	if r == nil || r.levels == nil {
		return nil, errors.New("stock repository not initialised")
	}

	out := make(map[string]domain.StockLevel, len(skus))
	for _, sku := range skus {
		sku = strings.TrimSpace(sku)
		if sku == "" {
			continue
		}
		if _, seen := out[sku]; seen {
			continue
		}
		doc, err := r.levels.Get(ctx, sku)
		if err != nil {
			var repoErr *pfirestore.Error
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, wrapStockError("stock.getLevels", err)
		}
		out[sku] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

func (r *StockRepository) Decrement(ctx context.Context, req repositories.StockMutationRequest) error {
	return r.mutate(ctx, req, movementDirectionOut)
}

func (r *StockRepository) Restore(ctx context.Context, req repositories.StockMutationRequest) error {
	return r.mutate(ctx, req, movementDirectionBack)
}

func (r *StockRepository) mutate(ctx context.Context, req repositories.StockMutationRequest, direction string) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	orderRef := strings.TrimSpace(req.OrderRef)
	if orderRef == "" {
		return errors.New("stock mutation: order ref is required")
	}
	if len(req.Lines) == 0 {
		return errors.New("stock mutation: at least one line is required")
	}

	now := req.OccurredAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// One movement doc per (order, direction); a duplicate replay of the
		// same mutation surfaces as AlreadyExists instead of double-applying.
		movementID := orderRef + ":" + direction
		movementRef, err := r.movements.DocumentRef(ctx, movementID)
		if err != nil {
			return err
		}

		for _, line := range req.Lines {
			sku := strings.TrimSpace(line.SKU)
			if sku == "" {
				return repositories.NewStockError(repositories.StockErrorNotFound, sku, "stock mutation: sku is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, sku, fmt.Sprintf("stock mutation: quantity for %s must be > 0", sku), nil)
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

			switch direction {
			case movementDirectionOut:
				available := doc.OnHand - doc.Reserved
				if available < line.Quantity {
					return repositories.NewInsufficientStockError(sku, available, line.Quantity)
				}
				doc.OnHand -= line.Quantity
			case movementDirectionBack:
				doc.OnHand += line.Quantity
			}
			doc.SKU = sku
			doc.UpdatedAt = now
			doc.recalculate()
			if err := tx.Set(levelRef, doc); err != nil {
				return err
			}
		}

		movement := stockMovementDocument{
			OrderRef:   orderRef,
			Direction:  direction,
			Lines:      newMovementLines(req.Lines),
			OccurredAt: now,
		}
		if err := tx.Create(movementRef, movement); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewStockError(repositories.StockErrorUnknown, "", fmt.Sprintf("stock movement %s already recorded", movementID), err)
			}
			return err
		}
		return nil
	})
	return wrapStockError("stock."+direction, err)
}

func (r *StockRepository) AdjustOnHand(ctx context.Context, sku string, delta int64, now time.Time) (domain.StockLevel, error) {
	if r == nil || r.provider == nil {
		return domain.StockLevel{}, errors.New("stock repository not initialised")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorUnknown, sku, "stock adjust: sku is required", nil)
	}

	at := now.UTC()
	var updated domain.StockLevel
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		levelRef, err := r.levels.DocumentRef(ctx, sku)
		if err != nil {
			return err
		}
		var doc stockLevelDocument
		snap, err := tx.Get(levelRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			doc = stockLevelDocument{}
		} else if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock level %s: %w", sku, err)
		}
		if doc.OnHand+delta < 0 {
			return repositories.NewInsufficientStockError(sku, doc.OnHand-doc.Reserved, -delta)
		}
		doc.SKU = sku
		doc.OnHand += delta
		doc.UpdatedAt = at
		doc.recalculate()
		if err := tx.Set(levelRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(sku)
		return nil
	})
	if err != nil {
		return domain.StockLevel{}, wrapStockError("stock.adjust", err)
	}
	return updated, nil
}

func (r *StockRepository) ListLowStock(ctx context.Context, query repositories.StockLowStockQuery) (domain.CursorPage[domain.StockLevel], error) {
	if r == nil || r.levels == nil {
		return domain.CursorPage[domain.StockLevel]{}, errors.New("stock repository not initialised")
	}

	pageSize := query.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}
	threshold := query.Threshold
	if threshold <= 0 {
		threshold = 10
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockLevel]{}, wrapStockError("stock.lowStock", err)
	}

	firestoreQuery := client.Collection(stockLevelsCollection).Query.
		Where("available", "<=", threshold).
		OrderBy("available", firestore.Asc).
		OrderBy("sku", firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(query.Pagination.PageToken); token != "" {
		available, sku, err := decodeStockPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.StockLevel]{}, wrapStockError("stock.lowStock", err)
		}
		firestoreQuery = firestoreQuery.StartAfter(available, sku)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var levels []domain.StockLevel
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockLevel]{}, wrapStockError("stock.lowStock", err)
		}
		var doc stockLevelDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockLevel]{}, fmt.Errorf("decode stock level %s: %w", snap.Ref.ID, err)
		}
		levels = append(levels, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(levels) > pageSize
	if hasMore {
		levels = levels[:pageSize]
	}
	var nextToken string
	if hasMore && len(levels) > 0 {
		last := levels[len(levels)-1]
		encoded, err := encodeStockPageToken(last.Available, last.SKU)
		if err != nil {
			return domain.CursorPage[domain.StockLevel]{}, wrapStockError("stock.lowStock", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.StockLevel]{Items: levels, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type stockLevelDocument struct {
	SKU       string    `firestore:"sku"`
	OnHand    int64     `firestore:"onHand"`
	Reserved  int64     `firestore:"reserved"`
	Available int64     `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s *stockLevelDocument) recalculate() {
	s.Available = s.OnHand - s.Reserved
}

func (s stockLevelDocument) toDomain(id string) domain.StockLevel {
	return domain.StockLevel{
		SKU:       id,
		OnHand:    s.OnHand,
		Reserved:  s.Reserved,
		Available: s.Available,
		UpdatedAt: s.UpdatedAt,
	}
}

type stockMovementDocument struct {
	OrderRef   string                  `firestore:"orderRef"`
	Direction  string                  `firestore:"direction"`
	Lines      []stockMovementLineDocument `firestore:"lines"`
	OccurredAt time.Time               `firestore:"occurredAt"`
}

type stockMovementLineDocument struct {
	SKU      string `firestore:"sku"`
	Quantity int64  `firestore:"qty"`
}

func newMovementLines(lines []domain.StockLine) []stockMovementLineDocument {
	out := make([]stockMovementLineDocument, len(lines))
	for i, line := range lines {
		out[i] = stockMovementLineDocument{SKU: strings.TrimSpace(line.SKU), Quantity: line.Quantity}
	}
	return out
}

func encodeStockPageToken(available int64, sku string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{StartAfter: []any{available, sku}})
}

func decodeStockPageToken(encoded string) (int64, string, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return 0, "", err
	}
	available, ok := cursor.IntAt(0)
	if !ok {
		return 0, "", fmt.Errorf("decode stock page token: missing available cursor value")
	}
	sku, ok := cursor.StringAt(1)
	if !ok || sku == "" {
		return 0, "", fmt.Errorf("decode stock page token: missing sku cursor value")
	}
	return available, sku, nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
