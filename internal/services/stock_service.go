package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/repositories"
)

// ErrStockInvalidInput indicates the caller supplied invalid ledger input.
var ErrStockInvalidInput = errors.New("stock service: invalid input")

// ErrStockNotFound indicates the requested SKU has no ledger record.
var ErrStockNotFound = errors.New("stock service: not found")

// ErrStockUnavailable indicates the ledger backend cannot fulfil the request.
var ErrStockUnavailable = errors.New("stock service: unavailable")

// StockServiceDeps wires the ledger repository and event publishing.
type StockServiceDeps struct {
	Stock     repositories.StockRepository
	Publisher EventPublisher
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type stockService struct {
	stock     repositories.StockRepository
	publisher EventPublisher
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewStockService constructs a StockService enforcing dependency validation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock service: repository is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("stock service: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockService{
		stock:     deps.Stock,
		publisher: deps.Publisher,
		now:       func() time.Time { return deps.Clock().UTC() },
		logger:    logger,
	}, nil
}

func (s *stockService) GetLevels(ctx context.Context, skus []string) (map[string]StockLevel, error) {
	cleaned := make([]string, 0, len(skus))
	for _, sku := range skus {
		if trimmed := strings.TrimSpace(sku); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return map[string]StockLevel{}, nil
	}

	levels, err := s.stock.GetLevels(ctx, cleaned)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return levels, nil
}

// CheckAvailability reports shortages without reserving anything. A SKU with
// no ledger record counts as fully unavailable.
func (s *stockService) CheckAvailability(ctx context.Context, lines []StockLine) ([]StockShortage, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	skus := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line.SKU) == "" {
			return nil, fmt.Errorf("%w: sku is required", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for %s", ErrStockInvalidInput, line.SKU)
		}
		skus = append(skus, line.SKU)
	}

	levels, err := s.stock.GetLevels(ctx, skus)
	if err != nil {
		return nil, s.translateRepoError(err)
	}

	var shortages []StockShortage
	for _, line := range lines {
		level, ok := levels[line.SKU]
		available := int64(0)
		if ok {
			available = level.Available
		}
		if available < line.Quantity {
			shortages = append(shortages, StockShortage{
				SKU:       line.SKU,
				Available: available,
				Requested: line.Quantity,
			})
		}
	}
	return shortages, nil
}

func (s *stockService) Decrement(ctx context.Context, cmd StockMutationCommand) error {
	return s.mutate(ctx, cmd, "stock.decremented", s.stock.Decrement)
}

func (s *stockService) Restore(ctx context.Context, cmd StockMutationCommand) error {
	return s.mutate(ctx, cmd, "stock.restored", s.stock.Restore)
}

func (s *stockService) mutate(ctx context.Context, cmd StockMutationCommand, eventType string, op func(context.Context, repositories.StockMutationRequest) error) error {
	orderRef := strings.TrimSpace(cmd.OrderRef)
	if orderRef == "" {
		return fmt.Errorf("%w: order reference is required", ErrStockInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.SKU) == "" || line.Quantity <= 0 {
			return fmt.Errorf("%w: every line needs a sku and positive quantity", ErrStockInvalidInput)
		}
	}

	now := s.now()
	err := op(ctx, repositories.StockMutationRequest{
		OrderRef:   orderRef,
		Lines:      cmd.Lines,
		OccurredAt: now,
	})
	if err != nil {
		if translated, ok := translateStockError(err); ok {
			return translated
		}
		return s.translateRepoError(err)
	}

	s.publish(ctx, Event{
		Type:       eventType,
		OccurredAt: now,
		Payload: map[string]any{
			"orderRef": orderRef,
			"lines":    len(cmd.Lines),
		},
	})
	return nil
}

func (s *stockService) AdjustOnHand(ctx context.Context, cmd AdjustStockCommand) (StockLevel, error) {
	if !cmd.Actor.Elevated() {
		return StockLevel{}, ErrUnauthorized
	}
	sku := strings.TrimSpace(cmd.SKU)
	if sku == "" {
		return StockLevel{}, fmt.Errorf("%w: sku is required", ErrStockInvalidInput)
	}
	if cmd.Delta == 0 {
		return StockLevel{}, fmt.Errorf("%w: delta must be non-zero", ErrStockInvalidInput)
	}

	now := s.now()
	level, err := s.stock.AdjustOnHand(ctx, sku, cmd.Delta, now)
	if err != nil {
		if translated, ok := translateStockError(err); ok {
			return StockLevel{}, translated
		}
		return StockLevel{}, s.translateRepoError(err)
	}

	s.publish(ctx, Event{
		Type:       "stock.adjusted",
		OccurredAt: now,
		Payload: map[string]any{
			"sku":       sku,
			"delta":     cmd.Delta,
			"onHand":    level.OnHand,
			"available": level.Available,
			"actor":     cmd.Actor.ID,
		},
	})
	return level, nil
}

func (s *stockService) ListLowStock(ctx context.Context, cmd LowStockQuery) (domain.CursorPage[StockLevel], error) {
	if cmd.Threshold < 0 {
		return domain.CursorPage[StockLevel]{}, fmt.Errorf("%w: threshold must be non-negative", ErrStockInvalidInput)
	}
	page, err := s.stock.ListLowStock(ctx, repositories.StockLowStockQuery{
		Threshold:  cmd.Threshold,
		Pagination: cmd.Pagination,
	})
	if err != nil {
		return domain.CursorPage[StockLevel]{}, s.translateRepoError(err)
	}
	return page, nil
}

func (s *stockService) publish(ctx context.Context, event Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "stock.event_publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (s *stockService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorNotFound {
		return ErrStockNotFound
	}
	if isRepoNotFound(err) {
		return ErrStockNotFound
	}
	return ErrStockUnavailable
}
