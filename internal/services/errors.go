package services

import (
	"errors"
	"fmt"

	"github.com/tradewinds/api/internal/repositories"
)

// ErrUnauthorized indicates the actor may not operate on the target resource.
// This is an ownership failure, distinct from missing authentication.
var ErrUnauthorized = errors.New("services: unauthorized")

// ErrConsistencyViolation indicates stored state that should be impossible,
// e.g. a denormalised counter that would go negative. The surrounding
// transaction is aborted and the condition logged at error level.
var ErrConsistencyViolation = errors.New("services: consistency violation")

// InsufficientStockError reports an availability failure with the numbers the
// caller needs to react: how much was asked for and how much the ledger holds.
type InsufficientStockError struct {
	SKU       string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// translateStockError converts repository-level stock failures into the
// service taxonomy, preserving the available/requested detail.
func translateStockError(err error) (error, bool) {
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) {
		return nil, false
	}
	if stockErr.Code == repositories.StockErrorInsufficient {
		return &InsufficientStockError{
			SKU:       stockErr.SKU,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		}, true
	}
	return nil, false
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
