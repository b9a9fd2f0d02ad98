package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const (
	maxCartLineQuantity = 999
	cartLineIDPrefix    = "crt_"
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repositories and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Catalog         repositories.CatalogRepository
	Stock           StockService
	Pricer          PricingEngine
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo     repositories.CartRepository
	catalog  repositories.CatalogRepository
	stock    StockService
	pricer   PricingEngine
	newID    func() string
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return cartLineIDPrefix + ulid.Make().String() }
	}

	service := &cartService{
		repo:     deps.Repository,
		catalog:  deps.Catalog,
		stock:    deps.Stock,
		pricer:   deps.Pricer,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}
	return service, nil
}

// Get loads the user's cart, materialising an empty cart when none exists.
func (s *cartService) Get(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.loadOrCreate(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product_id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxCartLineQuantity)
	}

	variantID := strings.TrimSpace(cmd.VariantID)
	product, variant, err := s.resolvePurchasable(ctx, productID, variantID)
	if err != nil {
		return Cart{}, err
	}

	cart, existed, err := s.loadCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	lines := cloneCartLines(cart.Lines)
	key := domain.CartLine{ProductID: productID, VariantID: variantID}.Key()

	merged := false
	targetQuantity := cmd.Quantity
	for i := range lines {
		if lines[i].Key() != key {
			continue
		}
		targetQuantity = lines[i].Quantity + cmd.Quantity
		if targetQuantity > maxCartLineQuantity {
			return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxCartLineQuantity)
		}
		lines[i].Quantity = targetQuantity
		lines[i].UpdatedAt = now
		merged = true
		break
	}

	if err := s.advisoryCheck(ctx, product, variant, targetQuantity); err != nil {
		return Cart{}, err
	}

	if !merged {
		lines = append(lines, domain.CartLine{
			ID:        s.newID(),
			ProductID: productID,
			VariantID: variantID,
			Quantity:  cmd.Quantity,
			AddedAt:   now,
			UpdatedAt: now,
		})
	}

	return s.saveLines(ctx, uid, cart, lines, existed, now)
}

func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	if uid == "" || lineID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxCartLineQuantity)
	}

	cart, existed, err := s.loadCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !existed {
		return Cart{}, ErrCartNotFound
	}

	lines := cloneCartLines(cart.Lines)
	idx := indexOfCartLine(lines, lineID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}

	variantID := lines[idx].VariantID
	if cmd.VariantID != nil {
		variantID = strings.TrimSpace(*cmd.VariantID)
	}

	product, variant, err := s.resolvePurchasable(ctx, lines[idx].ProductID, variantID)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	quantity := cmd.Quantity

	// Switching variants can land on a (product, variant) pair another line
	// already holds; fold this line into that bucket so the cart keeps one
	// line per pair.
	if variantID != lines[idx].VariantID {
		key := domain.CartLine{ProductID: lines[idx].ProductID, VariantID: variantID}.Key()
		for i := range lines {
			if i == idx || lines[i].Key() != key {
				continue
			}
			quantity += lines[i].Quantity
			if quantity > maxCartLineQuantity {
				return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxCartLineQuantity)
			}
			lines = append(lines[:i], lines[i+1:]...)
			if i < idx {
				idx--
			}
			break
		}
	}

	if err := s.advisoryCheck(ctx, product, variant, quantity); err != nil {
		return Cart{}, err
	}

	lines[idx].VariantID = variantID
	lines[idx].Quantity = quantity
	lines[idx].UpdatedAt = now

	return s.saveLines(ctx, uid, cart, lines, existed, now)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	if uid == "" || lineID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, existed, err := s.loadCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !existed {
		return Cart{}, ErrCartNotFound
	}

	lines := cloneCartLines(cart.Lines)
	idx := indexOfCartLine(lines, lineID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}
	lines = append(lines[:idx], lines[idx+1:]...)

	return s.saveLines(ctx, uid, cart, lines, existed, s.now())
}

// RemoveItems deletes every named line in one write. Unknown line ids are
// ignored so retried batch deletes stay idempotent.
func (s *cartService) RemoveItems(ctx context.Context, cmd RemoveCartItemsCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}
	targets := make(map[string]struct{}, len(cmd.LineIDs))
	for _, id := range cmd.LineIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			targets[trimmed] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return Cart{}, fmt.Errorf("%w: at least one line id is required", ErrCartInvalidInput)
	}

	cart, existed, err := s.loadCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !existed {
		return Cart{}, ErrCartNotFound
	}

	lines := make([]domain.CartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if _, drop := targets[line.ID]; !drop {
			lines = append(lines, line)
		}
	}

	return s.saveLines(ctx, uid, cart, lines, existed, s.now())
}

func (s *cartService) Clear(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, existed, err := s.loadCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !existed || len(cart.Lines) == 0 {
		return s.normaliseCart(cart, uid), nil
	}

	return s.saveLines(ctx, uid, cart, nil, existed, s.now())
}

// Merge folds the source user's cart into the target user's cart in a single
// transaction, summing quantities for matching (product, variant) pairs. The
// source cart is emptied. Typically used when an anonymous session logs in.
func (s *cartService) Merge(ctx context.Context, cmd MergeCartsCommand) (Cart, error) {
	from := strings.TrimSpace(cmd.FromUserID)
	to := strings.TrimSpace(cmd.ToUserID)
	if from == "" || to == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if from == to {
		return Cart{}, fmt.Errorf("%w: source and target carts must differ", ErrCartInvalidInput)
	}

	merged, err := s.repo.MergeCarts(ctx, from, to, s.now())
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.merged", map[string]any{
		"from":  from,
		"to":    to,
		"lines": len(merged.Lines),
	})
	return s.normaliseCart(merged, to), nil
}

// Validate reports per-line availability and catalog state without mutating
// the cart. It never fails on the lines themselves; only backend errors
// surface as errors.
func (s *cartService) Validate(ctx context.Context, userID string) (CartValidationReport, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return CartValidationReport{}, ErrCartInvalidInput
	}

	cart, _, err := s.loadCart(ctx, uid)
	if err != nil {
		return CartValidationReport{}, err
	}

	report := CartValidationReport{Valid: true, Lines: make([]CartLineReport, 0, len(cart.Lines))}
	if len(cart.Lines) == 0 {
		return report, nil
	}

	resolved, err := s.resolveCartLines(ctx, cart)
	if err != nil {
		return CartValidationReport{}, err
	}

	levels, err := s.stockLevelsFor(ctx, resolved)
	if err != nil {
		return CartValidationReport{}, err
	}

	for _, entry := range resolved {
		lineReport := CartLineReport{
			LineID:            entry.line.ID,
			ProductID:         entry.line.ProductID,
			VariantID:         entry.line.VariantID,
			Valid:             true,
			RequestedQuantity: entry.line.Quantity,
		}

		switch {
		case entry.reason != "":
			lineReport.Valid = false
			lineReport.Reason = entry.reason
		case entry.product.TrackStock:
			level, ok := levels[entry.sku]
			available := int64(0)
			if ok {
				available = level.Available
			}
			lineReport.AvailableStock = available
			if available < int64(entry.line.Quantity) {
				lineReport.Valid = false
				lineReport.Reason = fmt.Sprintf("insufficient stock: requested %d, available %d", entry.line.Quantity, available)
			}
		}

		if !lineReport.Valid {
			report.Valid = false
			report.Messages = append(report.Messages, fmt.Sprintf("line %s: %s", entry.line.ID, lineReport.Reason))
		}
		report.Lines = append(report.Lines, lineReport)
	}
	return report, nil
}

// Summary prices the cart with the pricing engine. Lines whose product or
// variant is gone are excluded from totals and surfaced as messages.
func (s *cartService) Summary(ctx context.Context, userID string) (CartSummary, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return CartSummary{}, ErrCartInvalidInput
	}

	cart, _, err := s.loadCart(ctx, uid)
	if err != nil {
		return CartSummary{}, err
	}
	cart = s.normaliseCart(cart, uid)

	summary := CartSummary{Currency: cart.Currency}
	if len(cart.Lines) == 0 {
		return summary, nil
	}

	resolved, err := s.resolveCartLines(ctx, cart)
	if err != nil {
		return CartSummary{}, err
	}
	levels, err := s.stockLevelsFor(ctx, resolved)
	if err != nil {
		return CartSummary{}, err
	}

	items := make([]PricingItem, 0, len(resolved))
	for _, entry := range resolved {
		if entry.reason != "" {
			summary.Messages = append(summary.Messages, fmt.Sprintf("line %s: %s", entry.line.ID, entry.reason))
			continue
		}
		if entry.product.TrackStock {
			level, ok := levels[entry.sku]
			available := int64(0)
			if ok {
				available = level.Available
			}
			if available < int64(entry.line.Quantity) {
				summary.HasOutOfStock = true
				summary.Messages = append(summary.Messages,
					fmt.Sprintf("line %s: insufficient stock: requested %d, available %d", entry.line.ID, entry.line.Quantity, available))
			}
		}
		items = append(items, PricingItem{
			LineID:      entry.line.ID,
			SKU:         entry.sku,
			UnitPrice:   entry.unitPrice,
			Quantity:    entry.line.Quantity,
			WeightGrams: entry.product.WeightGrams,
		})
	}

	if s.pricer == nil || len(items) == 0 {
		for _, item := range items {
			summary.Subtotal += item.UnitPrice * int64(item.Quantity)
		}
		summary.EstimatedTotal = summary.Subtotal
		return summary, nil
	}

	quote, err := s.pricer.Quote(ctx, PricingCommand{Currency: cart.Currency, Items: items})
	if err != nil {
		s.logger(ctx, "cart.pricing_failed", map[string]any{
			"userId": uid,
			"error":  err.Error(),
		})
		if errors.Is(err, ErrPricingInvalidInput) {
			return CartSummary{}, ErrCartInvalidInput
		}
		return CartSummary{}, ErrCartUnavailable
	}

	summary.Subtotal = quote.Subtotal
	summary.EstimatedShipping = quote.Shipping
	summary.EstimatedTax = quote.Tax
	summary.EstimatedTotal = quote.Total
	return summary, nil
}

// resolvedCartLine pairs a cart line with its catalog snapshot. reason is
// non-empty when the line cannot currently be purchased.
type resolvedCartLine struct {
	line      domain.CartLine
	product   domain.Product
	variant   *domain.ProductVariant
	sku       string
	unitPrice int64
	reason    string
}

func (s *cartService) resolveCartLines(ctx context.Context, cart domain.Cart) ([]resolvedCartLine, error) {
	productIDs := make([]string, 0, len(cart.Lines))
	seen := make(map[string]struct{}, len(cart.Lines))
	for _, line := range cart.Lines {
		if _, ok := seen[line.ProductID]; !ok {
			seen[line.ProductID] = struct{}{}
			productIDs = append(productIDs, line.ProductID)
		}
	}

	products, err := s.catalog.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, s.translateRepoError(err)
	}

	resolved := make([]resolvedCartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		entry := resolvedCartLine{line: line}

		product, ok := products[line.ProductID]
		switch {
		case !ok:
			entry.reason = "product no longer exists"
		case !product.Active:
			entry.product = product
			entry.reason = "product is not available"
		default:
			entry.product = product
			entry.sku = product.SKU
			entry.unitPrice = product.Price
		}

		if entry.reason == "" && line.VariantID != "" {
			variant, err := s.catalog.FindVariant(ctx, line.ProductID, line.VariantID)
			switch {
			case err != nil && isRepoNotFound(err):
				entry.reason = "variant no longer exists"
			case err != nil:
				return nil, s.translateRepoError(err)
			case !variant.Active:
				entry.reason = "variant is not available"
			default:
				entry.variant = &variant
				if variant.SKU != "" {
					entry.sku = variant.SKU
				}
				entry.unitPrice = product.Price + variant.PriceDelta
			}
		}

		resolved = append(resolved, entry)
	}
	return resolved, nil
}

func (s *cartService) stockLevelsFor(ctx context.Context, resolved []resolvedCartLine) (map[string]StockLevel, error) {
	if s.stock == nil {
		return map[string]StockLevel{}, nil
	}
	skus := make([]string, 0, len(resolved))
	for _, entry := range resolved {
		if entry.reason == "" && entry.product.TrackStock && entry.sku != "" {
			skus = append(skus, entry.sku)
		}
	}
	if len(skus) == 0 {
		return map[string]StockLevel{}, nil
	}
	levels, err := s.stock.GetLevels(ctx, skus)
	if err != nil {
		return nil, ErrCartUnavailable
	}
	return levels, nil
}

// resolvePurchasable loads and checks the product (and optional variant) a
// line mutation refers to.
func (s *cartService) resolvePurchasable(ctx context.Context, productID, variantID string) (domain.Product, *domain.ProductVariant, error) {
	product, err := s.catalog.FindProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Product{}, nil, fmt.Errorf("%w: product not found", ErrCartInvalidInput)
		}
		return domain.Product{}, nil, s.translateRepoError(err)
	}
	if !product.Active {
		return domain.Product{}, nil, fmt.Errorf("%w: product is not available", ErrCartInvalidInput)
	}

	if variantID == "" {
		return product, nil, nil
	}

	variant, err := s.catalog.FindVariant(ctx, productID, variantID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Product{}, nil, fmt.Errorf("%w: variant not found", ErrCartInvalidInput)
		}
		return domain.Product{}, nil, s.translateRepoError(err)
	}
	if !variant.Active {
		return domain.Product{}, nil, fmt.Errorf("%w: variant is not available", ErrCartInvalidInput)
	}
	return product, &variant, nil
}

// advisoryCheck rejects line mutations that exceed current availability. It
// reads without reserving, so a passing check is not a placement guarantee.
func (s *cartService) advisoryCheck(ctx context.Context, product domain.Product, variant *domain.ProductVariant, quantity int) error {
	if s.stock == nil || !product.TrackStock {
		return nil
	}
	sku := product.SKU
	if variant != nil && variant.SKU != "" {
		sku = variant.SKU
	}
	shortages, err := s.stock.CheckAvailability(ctx, []StockLine{{SKU: sku, Quantity: int64(quantity)}})
	if err != nil {
		return ErrCartUnavailable
	}
	if len(shortages) > 0 {
		shortage := shortages[0]
		return &InsufficientStockError{
			SKU:       shortage.SKU,
			Available: shortage.Available,
			Requested: shortage.Requested,
		}
	}
	return nil
}

func (s *cartService) loadCart(ctx context.Context, userID string) (domain.Cart, bool, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(userID), false, nil
		}
		return domain.Cart{}, false, s.translateRepoError(err)
	}
	return s.normaliseCart(cart, userID), true, nil
}

func (s *cartService) loadOrCreate(ctx context.Context, userID string) (domain.Cart, error) {
	cart, existed, err := s.loadCart(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	if existed {
		return cart, nil
	}
	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, userID), nil
}

func (s *cartService) saveLines(ctx context.Context, userID string, cart domain.Cart, lines []domain.CartLine, existed bool, now time.Time) (Cart, error) {
	var expected *time.Time
	if existed && !cart.UpdatedAt.IsZero() {
		ts := cart.UpdatedAt.UTC()
		expected = &ts
	}

	saved, err := s.repo.ReplaceLines(ctx, userID, lines, expected, now)
	if err != nil {
		if isRepoConflict(err) {
			return Cart{}, ErrCartConflict
		}
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, userID), nil
}

func (s *cartService) newCart(userID string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.currency,
		Lines:     []domain.CartLine{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart domain.Cart, userID string) domain.Cart {
	if cart.ID = strings.TrimSpace(cart.ID); cart.ID == "" {
		cart.ID = userID
	}
	cart.UserID = strings.TrimSpace(firstNonEmpty(cart.UserID, userID))
	cart.Currency = strings.ToUpper(strings.TrimSpace(firstNonEmpty(cart.Currency, s.currency)))
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = s.now()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return ErrCartUnavailable
}

func cloneCartLines(lines []domain.CartLine) []domain.CartLine {
	if len(lines) == 0 {
		return []domain.CartLine{}
	}
	dup := make([]domain.CartLine, len(lines))
	copy(dup, lines)
	return dup
}

func indexOfCartLine(lines []domain.CartLine, lineID string) int {
	target := strings.TrimSpace(lineID)
	if target == "" {
		return -1
	}
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line.ID), target) {
			return i
		}
	}
	return -1
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
