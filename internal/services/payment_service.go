package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/payments"
	"github.com/tradewinds/api/internal/platform/textutil"
	"github.com/tradewinds/api/internal/repositories"
)

// ErrPaymentInvalidInput indicates the caller supplied invalid input.
var ErrPaymentInvalidInput = errors.New("payment service: invalid input")

// ErrPaymentNotFound indicates the requested payment does not exist.
var ErrPaymentNotFound = errors.New("payment service: not found")

// ErrPaymentUnavailable indicates the payment backend cannot fulfil the request.
var ErrPaymentUnavailable = errors.New("payment service: unavailable")

// ErrPaymentAlreadyExists indicates the order already has a payment. The
// guarantee is storage-enforced, so concurrent attempts lose here too.
var ErrPaymentAlreadyExists = errors.New("payment service: order already has a payment")

// ErrPaymentInvalidState indicates the payment cannot accept the requested
// operation in its current status.
var ErrPaymentInvalidState = errors.New("payment service: invalid state")

// ErrPaymentInvalidAmount indicates a refund that would exceed the amount
// still refundable on the payment.
var ErrPaymentInvalidAmount = errors.New("payment service: invalid refund amount")

// ErrPaymentProviderUnavailable indicates the provider could not be reached.
// The local record is left untouched for webhooks or Validate to reconcile.
var ErrPaymentProviderUnavailable = errors.New("payment service: provider unavailable")

const (
	paymentIDPrefix      = "pay_"
	defaultChargeTimeout = 30 * time.Second
	refundReasonMaxLen   = 300
)

// providerOutcome is the normalised result of a provider interaction, shared
// by the synchronous charge path, webhooks and reconciliation so all three
// apply identical transition rules.
type providerOutcome struct {
	kind          payments.EventKind
	providerTxnID string
	failureCode   string
	failureReason string
	// refundedTotal is the provider's cumulative refunded amount; providers
	// report totals, not deltas, so out-of-order deliveries stay idempotent.
	refundedTotal int64
	// authoritative marks outcomes read directly from the provider's ledger.
	// Only those may demote a settled record; webhook deliveries cannot.
	authoritative bool
}

// transitionPayment folds a provider outcome into the payment record. It
// returns the next record, whether anything changed, and an error only for
// outcomes that are impossible rather than merely stale; stale deliveries
// come back unchanged so retried webhooks stay no-ops.
func transitionPayment(p domain.Payment, o providerOutcome, now time.Time) (domain.Payment, bool, error) {
	switch o.kind {
	case payments.EventChargeSucceeded:
		if p.Status != domain.PaymentStatusProcessing {
			return p, false, nil
		}
		p.Status = domain.PaymentStatusCompleted
		if o.providerTxnID != "" {
			p.ProviderTransactionID = o.providerTxnID
		}
		p.FailureReason = ""
		p.CompletedAt = &now
		p.UpdatedAt = now
		return p, true, nil

	case payments.EventChargeFailed:
		if p.Status != domain.PaymentStatusProcessing {
			if !o.authoritative || p.Status == domain.PaymentStatusFailed {
				return p, false, nil
			}
		}
		p.Status = domain.PaymentStatusFailed
		if o.providerTxnID != "" {
			p.ProviderTransactionID = o.providerTxnID
		}
		p.FailureReason = strings.TrimSpace(o.failureCode + " " + o.failureReason)
		p.UpdatedAt = now
		return p, true, nil

	case payments.EventRefundSucceeded:
		if !p.Refundable() {
			if p.Status == domain.PaymentStatusRefunded {
				return p, false, nil
			}
			return p, false, fmt.Errorf("%w: refund reported for %s payment", ErrPaymentInvalidState, p.Status)
		}
		if o.refundedTotal <= p.RefundedAmount {
			return p, false, nil
		}
		if o.refundedTotal > p.Amount {
			return p, false, ErrPaymentInvalidAmount
		}
		p.RefundedAmount = o.refundedTotal
		if p.RefundedAmount == p.Amount {
			p.Status = domain.PaymentStatusRefunded
		} else {
			p.Status = domain.PaymentStatusPartiallyRefunded
		}
		p.UpdatedAt = now
		return p, true, nil
	}
	return p, false, fmt.Errorf("%w: unknown outcome %q", ErrPaymentInvalidState, o.kind)
}

// PaymentServiceDeps wires persistence, the provider manager and the
// post-completion side channels.
type PaymentServiceDeps struct {
	Payments  repositories.PaymentRepository
	Orders    repositories.OrderRepository
	Manager   *payments.Manager
	Archiver  ReceiptArchiver
	Deduper   WebhookDeduplicator
	Publisher EventPublisher
	Clock     func() time.Time
	// ChargeTimeout bounds the synchronous provider call. On expiry the
	// payment stays processing and webhooks or Validate settle it.
	ChargeTimeout          time.Duration
	Logger                 func(context.Context, string, map[string]any)
	IDGenerator            func() string
	TransactionIDGenerator func() string
	EventIDGenerator       func() string
}

type paymentService struct {
	payments  repositories.PaymentRepository
	orders    repositories.OrderRepository
	manager   *payments.Manager
	archiver  ReceiptArchiver
	deduper   WebhookDeduplicator
	publisher EventPublisher
	now       func() time.Time
	timeout   time.Duration
	logger    func(context.Context, string, map[string]any)
	newID     func() string
	newTxnID  func() string
	newEvtID  func() string
}

// NewPaymentService constructs a PaymentService enforcing dependency validation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Manager == nil {
		return nil, errors.New("payment service: provider manager is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("payment service: clock is required")
	}

	timeout := deps.ChargeTimeout
	if timeout <= 0 {
		timeout = defaultChargeTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	now := func() time.Time { return deps.Clock().UTC() }
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return paymentIDPrefix + ulid.Make().String() }
	}
	newTxnID := deps.TransactionIDGenerator
	if newTxnID == nil {
		newTxnID = func() string {
			id := ulid.Make().String()
			return fmt.Sprintf("TXN-%d-%s", now().UnixMilli(), id[len(id)-8:])
		}
	}
	newEvtID := deps.EventIDGenerator
	if newEvtID == nil {
		newEvtID = func() string { return trackingIDPrefix + ulid.Make().String() }
	}

	return &paymentService{
		payments:  deps.Payments,
		orders:    deps.Orders,
		manager:   deps.Manager,
		archiver:  deps.Archiver,
		deduper:   deps.Deduper,
		publisher: deps.Publisher,
		now:       now,
		timeout:   timeout,
		logger:    logger,
		newID:     newID,
		newTxnID:  newTxnID,
		newEvtID:  newEvtID,
	}, nil
}

// Process charges the order's total through the selected provider. The
// payment record is created in processing before the provider is called; a
// decline marks it failed, a transport failure leaves it processing for the
// webhook or Validate to settle.
func (s *paymentService) Process(ctx context.Context, cmd ProcessPaymentCommand) (Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Payment{}, ErrPaymentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Payment{}, s.translateRepoError(err)
	}
	if err := requireSelfOrElevated(cmd.Actor, order.UserID); err != nil {
		return Payment{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return Payment{}, fmt.Errorf("%w: order is %s", ErrPaymentInvalidState, order.Status)
	}
	if order.Totals.Total <= 0 {
		return Payment{}, fmt.Errorf("%w: order total must be positive", ErrPaymentInvalidInput)
	}

	provider, err := s.manager.Resolve(cmd.Provider)
	if err != nil {
		return Payment{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}

	now := s.now()
	payment := domain.Payment{
		ID:            s.newID(),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Provider:      provider.Name(),
		Method:        strings.TrimSpace(cmd.Method),
		TransactionID: s.newTxnID(),
		Amount:        order.Totals.Total,
		Currency:      order.Totals.Currency,
		Status:        domain.PaymentStatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		if isRepoConflict(err) {
			return Payment{}, ErrPaymentAlreadyExists
		}
		return Payment{}, s.translateRepoError(err)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	details, err := provider.Charge(chargeCtx, payments.ChargeRequest{
		TransactionID:  payment.TransactionID,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Method:         payment.Method,
		CustomerID:     order.UserID,
		IdempotencyKey: payment.TransactionID,
	})
	if err != nil {
		s.logger(ctx, "payment.charge_unreachable", map[string]any{
			"paymentId": payment.ID,
			"provider":  payment.Provider,
			"error":     err.Error(),
		})
		return payment, nil
	}

	outcome := chargeOutcome(details)
	if outcome.kind == "" {
		// Provider still reports pending; keep processing and record the
		// provider transaction for webhook correlation.
		updated, err := s.payments.Mutate(ctx, payment.ID, func(p domain.Payment, _ domain.Order) (repositories.PaymentMutation, error) {
			if p.Status == domain.PaymentStatusProcessing && details.TransactionID != "" {
				p.ProviderTransactionID = details.TransactionID
				p.UpdatedAt = s.now()
			}
			return repositories.PaymentMutation{Payment: p}, nil
		})
		if err != nil {
			return payment, nil
		}
		return updated, nil
	}

	updated, err := s.applyOutcome(ctx, payment.ID, outcome)
	if err != nil {
		return Payment{}, err
	}
	return updated, nil
}

// Refund returns part or all of a completed payment. The cumulative refunded
// amount can never exceed the captured amount; the first breach fails before
// the provider is called.
func (s *paymentService) Refund(ctx context.Context, cmd RefundPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Payment{}, ErrPaymentInvalidInput
	}
	if cmd.Amount <= 0 {
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.translateRepoError(err)
	}
	if err := requireSelfOrElevated(cmd.Actor, payment.UserID); err != nil {
		return Payment{}, err
	}
	if !payment.Refundable() {
		return Payment{}, fmt.Errorf("%w: payment is %s", ErrPaymentInvalidState, payment.Status)
	}
	if cmd.Amount+payment.RefundedAmount > payment.Amount {
		return Payment{}, ErrPaymentInvalidAmount
	}
	if payment.ProviderTransactionID == "" {
		return Payment{}, fmt.Errorf("%w: no provider transaction recorded", ErrPaymentInvalidState)
	}

	details, err := s.manager.Refund(ctx, payment.Provider, payments.RefundRequest{
		TransactionID:  payment.ProviderTransactionID,
		Amount:         cmd.Amount,
		Reason:         textutil.SanitizeFreeText(cmd.Reason, refundReasonMaxLen),
		IdempotencyKey: fmt.Sprintf("%s:refund:%d", payment.TransactionID, payment.RefundedAmount+cmd.Amount),
	})
	if err != nil {
		var provErr *payments.ProviderError
		if errors.As(err, &provErr) && provErr.Code == "refund_amount_invalid" {
			return Payment{}, ErrPaymentInvalidAmount
		}
		s.logger(ctx, "payment.refund_failed", map[string]any{
			"paymentId": payment.ID,
			"provider":  payment.Provider,
			"error":     err.Error(),
		})
		return Payment{}, ErrPaymentProviderUnavailable
	}

	refundedTotal := details.RefundedAmount
	if refundedTotal < payment.RefundedAmount+cmd.Amount {
		refundedTotal = payment.RefundedAmount + cmd.Amount
	}
	updated, err := s.applyOutcome(ctx, payment.ID, providerOutcome{
		kind:          payments.EventRefundSucceeded,
		refundedTotal: refundedTotal,
	})
	if err != nil {
		return Payment{}, err
	}

	s.publish(ctx, Event{
		Type:       "payment.refunded",
		OccurredAt: s.now(),
		Payload: map[string]any{
			"paymentId":      updated.ID,
			"orderId":        updated.OrderID,
			"amount":         cmd.Amount,
			"refundedAmount": updated.RefundedAmount,
			"status":         string(updated.Status),
		},
	})
	return updated, nil
}

// Validate reconciles the local record against the provider's view. A
// processing payment is healed in place when the provider already knows the
// outcome, and a settled record the provider reports as failed is demoted
// through the same transition; other mismatches are reported only.
func (s *paymentService) Validate(ctx context.Context, actor Actor, paymentID string) (PaymentValidationResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return PaymentValidationResult{}, ErrPaymentInvalidInput
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return PaymentValidationResult{}, s.translateRepoError(err)
	}
	if err := requireSelfOrElevated(actor, payment.UserID); err != nil {
		return PaymentValidationResult{}, err
	}

	if payment.ProviderTransactionID == "" {
		result := PaymentValidationResult{Payment: payment, Consistent: payment.Status == domain.PaymentStatusProcessing || payment.Status == domain.PaymentStatusFailed}
		if !result.Consistent {
			result.Mismatches = append(result.Mismatches, "no provider transaction recorded for a settled payment")
		}
		return result, nil
	}

	details, err := s.manager.Lookup(ctx, payment.Provider, payments.LookupRequest{
		TransactionID: payment.ProviderTransactionID,
	})
	if err != nil {
		return PaymentValidationResult{}, ErrPaymentProviderUnavailable
	}

	result := PaymentValidationResult{Payment: payment}
	expected := expectedLocalStatus(details)
	if payment.Status != expected {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("status is %s locally but %s at the provider", payment.Status, expected))
	}
	if details.Amount != 0 && details.Amount != payment.Amount {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("amount is %d locally but %d at the provider", payment.Amount, details.Amount))
	}
	if details.RefundedAmount != payment.RefundedAmount {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("refunded amount is %d locally but %d at the provider", payment.RefundedAmount, details.RefundedAmount))
	}
	if details.Currency != "" && !strings.EqualFold(details.Currency, payment.Currency) {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("currency is %s locally but %s at the provider", payment.Currency, details.Currency))
	}
	result.Consistent = len(result.Mismatches) == 0

	if outcome, heal := reconcileOutcome(details); heal {
		demoted := outcome.kind == payments.EventChargeFailed && payment.Status != domain.PaymentStatusFailed
		if payment.Status == domain.PaymentStatusProcessing || demoted {
			healed, err := s.applyOutcome(ctx, payment.ID, outcome)
			if err == nil {
				result.Payment = healed
			}
		}
	}
	return result, nil
}

func (s *paymentService) GetPayment(ctx context.Context, actor Actor, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, ErrPaymentInvalidInput
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.translateRepoError(err)
	}
	if err := requireSelfOrElevated(actor, payment.UserID); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (s *paymentService) GetByOrder(ctx context.Context, actor Actor, orderID string) (Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Payment{}, ErrPaymentInvalidInput
	}
	payment, err := s.payments.FindByOrder(ctx, orderID)
	if err != nil {
		return Payment{}, s.translateRepoError(err)
	}
	if err := requireSelfOrElevated(actor, payment.UserID); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// ListPayments pages payments newest first. Non-elevated actors only ever
// see their own payments regardless of the requested filter.
func (s *paymentService) ListPayments(ctx context.Context, cmd ListPaymentsCommand) (domain.CursorPage[Payment], error) {
	filter := cmd.Filter
	if !cmd.Actor.Elevated() {
		filter.UserID = cmd.Actor.ID
	}
	page, err := s.payments.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Payment]{}, s.translateRepoError(err)
	}
	return page, nil
}

// HandleWebhook verifies, deduplicates and applies an asynchronous provider
// notification. Stale and unrecognised deliveries are acknowledged so the
// provider stops retrying them.
func (s *paymentService) HandleWebhook(ctx context.Context, cmd PaymentWebhookCommand) error {
	event, err := s.manager.ParseWebhook(ctx, cmd.Provider, cmd.Payload, cmd.Headers)
	if err != nil {
		if errors.Is(err, payments.ErrUnrecognisedEvent) {
			s.logger(ctx, "payment.webhook_ignored", map[string]any{"provider": cmd.Provider})
			return nil
		}
		return err
	}

	if s.deduper != nil && event.EventID != "" {
		key := event.Provider + ":" + event.EventID
		seen, err := s.deduper.Seen(ctx, key)
		if err != nil {
			s.logger(ctx, "payment.webhook_dedup_failed", map[string]any{"key": key, "error": err.Error()})
		} else if seen {
			return nil
		}
	}

	payment, err := s.payments.FindByProviderTransaction(ctx, event.Provider, event.TransactionID)
	if err != nil {
		if isRepoNotFound(err) {
			// The charge's synchronous response may not have recorded the
			// provider transaction yet. Acknowledge; Validate reconciles.
			s.logger(ctx, "payment.webhook_unmatched", map[string]any{
				"provider":      event.Provider,
				"transactionId": event.TransactionID,
			})
			return nil
		}
		return s.translateRepoError(err)
	}

	outcome := webhookOutcome(event)
	if _, err := s.applyOutcome(ctx, payment.ID, outcome); err != nil {
		if errors.Is(err, ErrPaymentInvalidState) || errors.Is(err, ErrPaymentInvalidAmount) {
			s.logger(ctx, "payment.webhook_rejected", map[string]any{
				"paymentId": payment.ID,
				"kind":      string(event.Kind),
				"error":     err.Error(),
			})
			return nil
		}
		return err
	}
	return nil
}

// applyOutcome runs the shared transition inside the payment transaction.
// Completing a charge also confirms a still-pending order and appends its
// tracking event; a cancelled order is left untouched.
func (s *paymentService) applyOutcome(ctx context.Context, paymentID string, outcome providerOutcome) (Payment, error) {
	now := s.now()
	var completedOrder *domain.Order
	updated, err := s.payments.Mutate(ctx, paymentID, func(payment domain.Payment, order domain.Order) (repositories.PaymentMutation, error) {
		next, changed, err := transitionPayment(payment, outcome, now)
		if err != nil {
			return repositories.PaymentMutation{}, err
		}
		mutation := repositories.PaymentMutation{Payment: next}
		if changed && outcome.kind == payments.EventChargeSucceeded && order.Status == domain.OrderStatusPending {
			confirmed := order
			confirmed.Status = domain.OrderStatusConfirmed
			confirmed.ConfirmedAt = &now
			confirmed.UpdatedAt = now
			mutation.Order = &confirmed
			mutation.Event = &domain.OrderTrackingEvent{
				ID:         s.newEvtID(),
				OrderID:    order.ID,
				Status:     domain.OrderStatusConfirmed,
				Note:       "payment received",
				Actor:      "system",
				OccurredAt: now,
			}
			completedOrder = &confirmed
		}
		return mutation, nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentInvalidState) || errors.Is(err, ErrPaymentInvalidAmount) {
			return Payment{}, err
		}
		return Payment{}, s.translateRepoError(err)
	}

	switch outcome.kind {
	case payments.EventChargeSucceeded:
		if updated.Status == domain.PaymentStatusCompleted {
			s.afterCompletion(ctx, updated, completedOrder)
		}
	case payments.EventChargeFailed:
		if updated.Status == domain.PaymentStatusFailed {
			s.publish(ctx, Event{
				Type:       "payment.failed",
				OccurredAt: now,
				Payload: map[string]any{
					"paymentId": updated.ID,
					"orderId":   updated.OrderID,
					"reason":    updated.FailureReason,
				},
			})
		}
	}
	return updated, nil
}

// afterCompletion runs the fire-and-forget side effects of a captured
// payment. Failures are logged and never unwind the completion.
func (s *paymentService) afterCompletion(ctx context.Context, payment domain.Payment, order *domain.Order) {
	s.publish(ctx, Event{
		Type:       "payment.completed",
		OccurredAt: s.now(),
		Payload: map[string]any{
			"paymentId": payment.ID,
			"orderId":   payment.OrderID,
			"amount":    payment.Amount,
		},
	})

	if s.archiver == nil {
		return
	}
	if order == nil {
		loaded, err := s.orders.FindByID(ctx, payment.OrderID)
		if err != nil {
			s.logger(ctx, "payment.receipt_order_missing", map[string]any{
				"paymentId": payment.ID,
				"orderId":   payment.OrderID,
			})
			return
		}
		order = &loaded
	}
	if _, err := s.archiver.ArchiveReceipt(ctx, payment, *order); err != nil {
		s.logger(ctx, "payment.receipt_archive_failed", map[string]any{
			"paymentId": payment.ID,
			"error":     err.Error(),
		})
	}
}

func (s *paymentService) publish(ctx context.Context, event Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event_publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (s *paymentService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPaymentNotFound
		case repoErr.IsConflict():
			return ErrPaymentAlreadyExists
		}
	}
	return ErrPaymentUnavailable
}

// chargeOutcome maps a synchronous charge response onto the shared
// transition input. A pending provider status yields a zero kind; the caller
// leaves the payment processing.
func chargeOutcome(details payments.PaymentDetails) providerOutcome {
	switch details.Status {
	case payments.StatusSucceeded, payments.StatusRefunded:
		return providerOutcome{
			kind:          payments.EventChargeSucceeded,
			providerTxnID: details.TransactionID,
		}
	case payments.StatusFailed:
		return providerOutcome{
			kind:          payments.EventChargeFailed,
			providerTxnID: details.TransactionID,
			failureCode:   details.FailureCode,
			failureReason: details.FailureReason,
		}
	}
	return providerOutcome{}
}

func webhookOutcome(event payments.WebhookEvent) providerOutcome {
	outcome := providerOutcome{
		kind:          event.Kind,
		providerTxnID: event.TransactionID,
		failureCode:   event.FailureCode,
		failureReason: event.FailureReason,
	}
	if event.Kind == payments.EventRefundSucceeded {
		outcome.refundedTotal = event.Amount
	}
	return outcome
}

// reconcileOutcome decides whether a provider lookup can settle the local
// record. Lookups read the provider's ledger directly, so their verdict is
// authoritative.
func reconcileOutcome(details payments.PaymentDetails) (providerOutcome, bool) {
	outcome := chargeOutcome(details)
	outcome.authoritative = true
	return outcome, outcome.kind != ""
}

// expectedLocalStatus is the record status the provider's view implies.
func expectedLocalStatus(details payments.PaymentDetails) domain.PaymentStatus {
	switch details.Status {
	case payments.StatusSucceeded:
		if details.RefundedAmount > 0 && details.RefundedAmount < details.Amount {
			return domain.PaymentStatusPartiallyRefunded
		}
		return domain.PaymentStatusCompleted
	case payments.StatusRefunded:
		return domain.PaymentStatusRefunded
	case payments.StatusFailed:
		return domain.PaymentStatusFailed
	}
	return domain.PaymentStatusProcessing
}

var _ PaymentService = (*paymentService)(nil)
var _ PaymentRefunder = (*paymentService)(nil)
