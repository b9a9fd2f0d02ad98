package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	domain "github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/payments"
	"github.com/tradewinds/api/internal/repositories"
)

var errStubNotImplemented = errors.New("stub: not implemented")

// stubRepoError satisfies repositories.RepositoryError for translation tests.
type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

func repoNotFound() error { return &stubRepoError{msg: "not found", notFound: true} }
func repoConflict() error { return &stubRepoError{msg: "conflict", conflict: true} }

type stubCartRepository struct {
	getFunc     func(ctx context.Context, userID string) (domain.Cart, error)
	upsertFunc  func(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	replaceFunc func(ctx context.Context, userID string, lines []domain.CartLine, expected *time.Time, now time.Time) (domain.Cart, error)
	mergeFunc   func(ctx context.Context, fromUserID, toUserID string, now time.Time) (domain.Cart, error)
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc == nil {
		return domain.Cart{}, errStubNotImplemented
	}
	return s.getFunc(ctx, userID)
}

func (s *stubCartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.upsertFunc == nil {
		return cart, nil
	}
	return s.upsertFunc(ctx, cart)
}

func (s *stubCartRepository) ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine, expected *time.Time, now time.Time) (domain.Cart, error) {
	if s.replaceFunc == nil {
		return domain.Cart{}, errStubNotImplemented
	}
	return s.replaceFunc(ctx, userID, lines, expected, now)
}

func (s *stubCartRepository) MergeCarts(ctx context.Context, fromUserID, toUserID string, now time.Time) (domain.Cart, error) {
	if s.mergeFunc == nil {
		return domain.Cart{}, errStubNotImplemented
	}
	return s.mergeFunc(ctx, fromUserID, toUserID, now)
}

type stubCatalogRepository struct {
	findProductFunc  func(ctx context.Context, productID string) (domain.Product, error)
	findVariantFunc  func(ctx context.Context, productID, variantID string) (domain.ProductVariant, error)
	findProductsFunc func(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

func (s *stubCatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if s.findProductFunc == nil {
		return domain.Product{}, errStubNotImplemented
	}
	return s.findProductFunc(ctx, productID)
}

func (s *stubCatalogRepository) FindVariant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
	if s.findVariantFunc == nil {
		return domain.ProductVariant{}, errStubNotImplemented
	}
	return s.findVariantFunc(ctx, productID, variantID)
}

func (s *stubCatalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findProductsFunc == nil {
		return map[string]domain.Product{}, nil
	}
	return s.findProductsFunc(ctx, productIDs)
}

type stubStockRepository struct {
	getLevelsFunc    func(ctx context.Context, skus []string) (map[string]domain.StockLevel, error)
	decrementFunc    func(ctx context.Context, req repositories.StockMutationRequest) error
	restoreFunc      func(ctx context.Context, req repositories.StockMutationRequest) error
	adjustFunc       func(ctx context.Context, sku string, delta int64, now time.Time) (domain.StockLevel, error)
	listLowStockFunc func(ctx context.Context, query repositories.StockLowStockQuery) (domain.CursorPage[domain.StockLevel], error)
}

func (s *stubStockRepository) GetLevels(ctx context.Context, skus []string) (map[string]domain.StockLevel, error) {
	if s.getLevelsFunc == nil {
		return map[string]domain.StockLevel{}, nil
	}
	return s.getLevelsFunc(ctx, skus)
}

func (s *stubStockRepository) Decrement(ctx context.Context, req repositories.StockMutationRequest) error {
	if s.decrementFunc == nil {
		return errStubNotImplemented
	}
	return s.decrementFunc(ctx, req)
}

func (s *stubStockRepository) Restore(ctx context.Context, req repositories.StockMutationRequest) error {
	if s.restoreFunc == nil {
		return errStubNotImplemented
	}
	return s.restoreFunc(ctx, req)
}

func (s *stubStockRepository) AdjustOnHand(ctx context.Context, sku string, delta int64, now time.Time) (domain.StockLevel, error) {
	if s.adjustFunc == nil {
		return domain.StockLevel{}, errStubNotImplemented
	}
	return s.adjustFunc(ctx, sku, delta, now)
}

func (s *stubStockRepository) ListLowStock(ctx context.Context, query repositories.StockLowStockQuery) (domain.CursorPage[domain.StockLevel], error) {
	if s.listLowStockFunc == nil {
		return domain.CursorPage[domain.StockLevel]{}, errStubNotImplemented
	}
	return s.listLowStockFunc(ctx, query)
}

type stubOrderRepository struct {
	createPlacementFunc func(ctx context.Context, req repositories.OrderPlacementRequest) (domain.Order, error)
	mutateFunc          func(ctx context.Context, orderID string, fn repositories.OrderMutationFunc) (domain.Order, error)
	findByIDFunc        func(ctx context.Context, orderID string) (domain.Order, error)
	listFunc            func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listTrackingFunc    func(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderTrackingEvent], error)
}

func (s *stubOrderRepository) CreatePlacement(ctx context.Context, req repositories.OrderPlacementRequest) (domain.Order, error) {
	if s.createPlacementFunc == nil {
		return domain.Order{}, errStubNotImplemented
	}
	return s.createPlacementFunc(ctx, req)
}

func (s *stubOrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutationFunc) (domain.Order, error) {
	if s.mutateFunc == nil {
		return domain.Order{}, errStubNotImplemented
	}
	return s.mutateFunc(ctx, orderID, fn)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFunc == nil {
		return domain.Order{}, errStubNotImplemented
	}
	return s.findByIDFunc(ctx, orderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderRepository) ListTracking(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderTrackingEvent], error) {
	if s.listTrackingFunc == nil {
		return domain.CursorPage[domain.OrderTrackingEvent]{}, errStubNotImplemented
	}
	return s.listTrackingFunc(ctx, orderID, pager)
}

type stubPaymentRepository struct {
	createFunc           func(ctx context.Context, payment domain.Payment) error
	mutateFunc           func(ctx context.Context, paymentID string, fn repositories.PaymentMutationFunc) (domain.Payment, error)
	findByIDFunc         func(ctx context.Context, paymentID string) (domain.Payment, error)
	findByOrderFunc      func(ctx context.Context, orderID string) (domain.Payment, error)
	findByProviderFunc   func(ctx context.Context, provider, providerTxnID string) (domain.Payment, error)
	listFunc             func(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error)
}

func (s *stubPaymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	if s.createFunc == nil {
		return errStubNotImplemented
	}
	return s.createFunc(ctx, payment)
}

func (s *stubPaymentRepository) Mutate(ctx context.Context, paymentID string, fn repositories.PaymentMutationFunc) (domain.Payment, error) {
	if s.mutateFunc == nil {
		return domain.Payment{}, errStubNotImplemented
	}
	return s.mutateFunc(ctx, paymentID, fn)
}

func (s *stubPaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if s.findByIDFunc == nil {
		return domain.Payment{}, errStubNotImplemented
	}
	return s.findByIDFunc(ctx, paymentID)
}

func (s *stubPaymentRepository) FindByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if s.findByOrderFunc == nil {
		return domain.Payment{}, repoNotFound()
	}
	return s.findByOrderFunc(ctx, orderID)
}

func (s *stubPaymentRepository) FindByProviderTransaction(ctx context.Context, provider, providerTxnID string) (domain.Payment, error) {
	if s.findByProviderFunc == nil {
		return domain.Payment{}, repoNotFound()
	}
	return s.findByProviderFunc(ctx, provider, providerTxnID)
}

func (s *stubPaymentRepository) List(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Payment]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

type stubCounterRepository struct {
	nextFunc func(ctx context.Context, name string) (int64, error)
}

func (s *stubCounterRepository) Next(ctx context.Context, name string) (int64, error) {
	if s.nextFunc == nil {
		return 0, errStubNotImplemented
	}
	return s.nextFunc(ctx, name)
}

func (s *stubCounterRepository) Configure(ctx context.Context, name string, cfg repositories.CounterConfig) error {
	return nil
}

type stubReviewVoteRepository struct {
	setVoteFunc  func(ctx context.Context, vote domain.ReviewHelpfulVote) (domain.ReviewStats, error)
	getVoteFunc  func(ctx context.Context, reviewID, userID string) (domain.ReviewHelpfulVote, error)
	getStatsFunc func(ctx context.Context, reviewID string) (domain.ReviewStats, error)
}

func (s *stubReviewVoteRepository) SetVote(ctx context.Context, vote domain.ReviewHelpfulVote) (domain.ReviewStats, error) {
	if s.setVoteFunc == nil {
		return domain.ReviewStats{}, errStubNotImplemented
	}
	return s.setVoteFunc(ctx, vote)
}

func (s *stubReviewVoteRepository) GetVote(ctx context.Context, reviewID, userID string) (domain.ReviewHelpfulVote, error) {
	if s.getVoteFunc == nil {
		return domain.ReviewHelpfulVote{}, repoNotFound()
	}
	return s.getVoteFunc(ctx, reviewID, userID)
}

func (s *stubReviewVoteRepository) GetStats(ctx context.Context, reviewID string) (domain.ReviewStats, error) {
	if s.getStatsFunc == nil {
		return domain.ReviewStats{}, repoNotFound()
	}
	return s.getStatsFunc(ctx, reviewID)
}

type stubHealthRepository struct {
	pingFunc func(ctx context.Context) error
}

func (s *stubHealthRepository) Ping(ctx context.Context) error {
	if s.pingFunc == nil {
		return nil
	}
	return s.pingFunc(ctx)
}

// stubPublisher collects published events in order.
type stubPublisher struct {
	events []Event
	err    error
}

func (s *stubPublisher) PublishEvent(ctx context.Context, event Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type stubArchiver struct {
	archiveFunc func(ctx context.Context, payment Payment, order Order) (string, error)
	calls       int
}

func (s *stubArchiver) ArchiveReceipt(ctx context.Context, payment Payment, order Order) (string, error) {
	s.calls++
	if s.archiveFunc == nil {
		return "receipts/" + payment.ID + ".json", nil
	}
	return s.archiveFunc(ctx, payment, order)
}

type stubDeduper struct {
	seenFunc func(ctx context.Context, key string) (bool, error)
}

func (s *stubDeduper) Seen(ctx context.Context, key string) (bool, error) {
	if s.seenFunc == nil {
		return false, nil
	}
	return s.seenFunc(ctx, key)
}

type stubPricer struct {
	quoteFunc func(ctx context.Context, cmd PricingCommand) (PricingQuote, error)
}

func (s *stubPricer) Quote(ctx context.Context, cmd PricingCommand) (PricingQuote, error) {
	if s.quoteFunc == nil {
		return PricingQuote{}, errStubNotImplemented
	}
	return s.quoteFunc(ctx, cmd)
}

type stubStockService struct {
	getLevelsFunc         func(ctx context.Context, skus []string) (map[string]StockLevel, error)
	checkAvailabilityFunc func(ctx context.Context, lines []StockLine) ([]StockShortage, error)
}

func (s *stubStockService) GetLevels(ctx context.Context, skus []string) (map[string]StockLevel, error) {
	if s.getLevelsFunc == nil {
		return map[string]StockLevel{}, nil
	}
	return s.getLevelsFunc(ctx, skus)
}

func (s *stubStockService) CheckAvailability(ctx context.Context, lines []StockLine) ([]StockShortage, error) {
	if s.checkAvailabilityFunc == nil {
		return nil, nil
	}
	return s.checkAvailabilityFunc(ctx, lines)
}

func (s *stubStockService) Decrement(ctx context.Context, cmd StockMutationCommand) error {
	return errStubNotImplemented
}

func (s *stubStockService) Restore(ctx context.Context, cmd StockMutationCommand) error {
	return errStubNotImplemented
}

func (s *stubStockService) AdjustOnHand(ctx context.Context, cmd AdjustStockCommand) (StockLevel, error) {
	return StockLevel{}, errStubNotImplemented
}

func (s *stubStockService) ListLowStock(ctx context.Context, cmd LowStockQuery) (domain.CursorPage[StockLevel], error) {
	return domain.CursorPage[StockLevel]{}, errStubNotImplemented
}

type stubRefunder struct {
	refundFunc func(ctx context.Context, cmd RefundPaymentCommand) (Payment, error)
	calls      []RefundPaymentCommand
}

func (s *stubRefunder) Refund(ctx context.Context, cmd RefundPaymentCommand) (Payment, error) {
	s.calls = append(s.calls, cmd)
	if s.refundFunc == nil {
		return Payment{}, nil
	}
	return s.refundFunc(ctx, cmd)
}

type stubProvider struct {
	name       string
	chargeFunc func(ctx context.Context, req payments.ChargeRequest) (payments.PaymentDetails, error)
	refundFunc func(ctx context.Context, req payments.RefundRequest) (payments.PaymentDetails, error)
	lookupFunc func(ctx context.Context, req payments.LookupRequest) (payments.PaymentDetails, error)
	parseFunc  func(ctx context.Context, payload []byte, headers http.Header) (payments.WebhookEvent, error)
}

func (s *stubProvider) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubProvider) Charge(ctx context.Context, req payments.ChargeRequest) (payments.PaymentDetails, error) {
	if s.chargeFunc == nil {
		return payments.PaymentDetails{}, errStubNotImplemented
	}
	return s.chargeFunc(ctx, req)
}

func (s *stubProvider) Refund(ctx context.Context, req payments.RefundRequest) (payments.PaymentDetails, error) {
	if s.refundFunc == nil {
		return payments.PaymentDetails{}, errStubNotImplemented
	}
	return s.refundFunc(ctx, req)
}

func (s *stubProvider) Lookup(ctx context.Context, req payments.LookupRequest) (payments.PaymentDetails, error) {
	if s.lookupFunc == nil {
		return payments.PaymentDetails{}, errStubNotImplemented
	}
	return s.lookupFunc(ctx, req)
}

func (s *stubProvider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (payments.WebhookEvent, error) {
	if s.parseFunc == nil {
		return payments.WebhookEvent{}, errStubNotImplemented
	}
	return s.parseFunc(ctx, payload, headers)
}

var (
	_ repositories.CartRepository       = (*stubCartRepository)(nil)
	_ repositories.CatalogRepository    = (*stubCatalogRepository)(nil)
	_ repositories.StockRepository      = (*stubStockRepository)(nil)
	_ repositories.OrderRepository      = (*stubOrderRepository)(nil)
	_ repositories.PaymentRepository    = (*stubPaymentRepository)(nil)
	_ repositories.CounterRepository    = (*stubCounterRepository)(nil)
	_ repositories.ReviewVoteRepository = (*stubReviewVoteRepository)(nil)
	_ repositories.HealthRepository     = (*stubHealthRepository)(nil)
	_ EventPublisher                    = (*stubPublisher)(nil)
	_ ReceiptArchiver                   = (*stubArchiver)(nil)
	_ WebhookDeduplicator               = (*stubDeduper)(nil)
	_ PricingEngine                     = (*stubPricer)(nil)
	_ StockService                      = (*stubStockService)(nil)
	_ PaymentRefunder                   = (*stubRefunder)(nil)
	_ payments.Provider                 = (*stubProvider)(nil)
	_ payments.WebhookParser            = (*stubProvider)(nil)
)
