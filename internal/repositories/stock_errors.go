package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorNotFound indicates the SKU has no ledger record.
	StockErrorNotFound StockErrorCode = "stock_not_found"
)

// StockError wraps ledger failures with machine readable codes. For
// insufficient-stock failures Available and Requested carry the exact
// quantities so callers can surface them verbatim.
type StockError struct {
	Op        string
	Code      StockErrorCode
	SKU       string
	Available int64
	Requested int64
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed ledger error.
func NewStockError(code StockErrorCode, sku, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{Code: code, SKU: sku, Message: message, Err: err}
}

// NewInsufficientStockError records the exact availability shortfall for a SKU.
func NewInsufficientStockError(sku string, available, requested int64) *StockError {
	return &StockError{
		Code:      StockErrorInsufficient,
		SKU:       sku,
		Available: available,
		Requested: requested,
		Message:   fmt.Sprintf("sku %s: requested %d, available %d", sku, requested, available),
	}
}
