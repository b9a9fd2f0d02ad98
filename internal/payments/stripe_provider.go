package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const stripeProviderName = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	AccountID     string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Payment Intents.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

var (
	_ Provider      = (*StripeProvider)(nil)
	_ WebhookParser = (*StripeProvider)(nil)
)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}

	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name identifies the provider within the manager registry.
func (p *StripeProvider) Name() string { return stripeProviderName }

// Charge creates and confirms a Stripe Payment Intent in a single call.
func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Confirm:  stripe.Bool(true),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if method := strings.TrimSpace(req.Method); method != "" {
		params.PaymentMethod = stripe.String(method)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	params.Metadata = chargeMetadata(req)

	intent, err := p.api.intents.New(params)
	if err != nil {
		if details, ok := stripeDeclineDetails(err, req); ok {
			p.logger(ctx, "payments.stripe.charge.declined", map[string]any{
				"transactionId": req.TransactionID,
				"orderId":       req.OrderID,
				"failureCode":   details.FailureCode,
			})
			return details, nil
		}
		return PaymentDetails{}, &ProviderError{
			Provider: stripeProviderName,
			Code:     stripeErrorCode(err),
			Message:  "create payment intent",
			Err:      err,
		}
	}

	details := p.paymentDetails(intent)
	p.logger(ctx, "payments.stripe.charge.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderId":       req.OrderID,
		"status":        string(details.Status),
	})
	return details, nil
}

// Refund creates a refund against an earlier Payment Intent, then rereads the
// intent so callers observe the cumulative refunded amount.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}
	if _, err := p.api.refunds.New(params); err != nil {
		return PaymentDetails{}, &ProviderError{
			Provider: stripeProviderName,
			Code:     stripeErrorCode(err),
			Message:  "refund payment intent",
			Err:      err,
		}
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.TransactionID,
		"amount":        req.Amount,
	})
	return p.Lookup(ctx, LookupRequest{TransactionID: req.TransactionID})
}

// Lookup retrieves a Stripe Payment Intent for reconciliation.
func (p *StripeProvider) Lookup(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(req.TransactionID, params)
	if err != nil {
		return PaymentDetails{}, &ProviderError{
			Provider: stripeProviderName,
			Code:     stripeErrorCode(err),
			Message:  "lookup payment intent",
			Err:      err,
		}
	}
	return p.paymentDetails(intent), nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the event onto
// the provider-neutral notification format.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe: webhook secret is not configured")
	}

	event, err := webhook.ConstructEvent(payload, headers.Get("Stripe-Signature"), p.webhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	occurredAt := p.clock()
	if event.Created != 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}

	raw := map[string]any{}
	_ = json.Unmarshal(event.Data.Raw, &raw)

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		kind := EventChargeSucceeded
		failureCode := ""
		failureReason := ""
		if event.Type == "payment_intent.payment_failed" {
			kind = EventChargeFailed
			if intent.LastPaymentError != nil {
				failureCode = string(intent.LastPaymentError.Code)
				failureReason = intent.LastPaymentError.Msg
			}
		}
		return WebhookEvent{
			Provider:      stripeProviderName,
			EventID:       event.ID,
			Kind:          kind,
			TransactionID: intent.ID,
			Amount:        intent.Amount,
			Currency:      strings.ToUpper(string(intent.Currency)),
			FailureCode:   failureCode,
			FailureReason: failureReason,
			OccurredAt:    occurredAt,
			Raw:           raw,
		}, nil
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode charge event: %w", err)
		}
		transactionID := ""
		if charge.PaymentIntent != nil {
			transactionID = charge.PaymentIntent.ID
		}
		return WebhookEvent{
			Provider:      stripeProviderName,
			EventID:       event.ID,
			Kind:          EventRefundSucceeded,
			TransactionID: transactionID,
			Amount:        charge.AmountRefunded,
			Currency:      strings.ToUpper(string(charge.Currency)),
			OccurredAt:    occurredAt,
			Raw:           raw,
		}, nil
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrUnrecognisedEvent, event.Type)
	}
}

func (p *StripeProvider) paymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresCapture:
		status = StatusPending
	}

	var capturedAt *time.Time
	var refundedAmount int64
	failureCode := ""
	failureReason := ""

	if charge := intent.LatestCharge; charge != nil {
		if charge.Paid || charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
		}
		refundedAmount = charge.AmountRefunded
		if charge.Refunded && charge.Amount > 0 && charge.AmountRefunded >= charge.Amount {
			status = StatusRefunded
		}
		if charge.FailureCode != "" {
			failureCode = charge.FailureCode
			failureReason = charge.FailureMessage
		}
	}

	if intent.LastPaymentError != nil {
		failureCode = string(intent.LastPaymentError.Code)
		failureReason = intent.LastPaymentError.Msg
		if status == StatusPending {
			status = StatusFailed
		}
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	} else {
		raw["payment_intent"] = intent
	}

	return PaymentDetails{
		Provider:       stripeProviderName,
		TransactionID:  intent.ID,
		Status:         status,
		Amount:         intent.Amount,
		RefundedAmount: refundedAmount,
		Currency:       currency,
		FailureCode:    failureCode,
		FailureReason:  failureReason,
		CapturedAt:     capturedAt,
		Raw:            raw,
	}
}

// stripeDeclineDetails turns a card decline into a failed PaymentDetails so
// declines flow through the same path as any other terminal charge outcome.
func stripeDeclineDetails(err error, req ChargeRequest) (PaymentDetails, bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return PaymentDetails{}, false
	}
	if stripeErr.Type != stripe.ErrorTypeCard {
		return PaymentDetails{}, false
	}

	transactionID := ""
	if stripeErr.PaymentIntent != nil {
		transactionID = stripeErr.PaymentIntent.ID
	}
	return PaymentDetails{
		Provider:      stripeProviderName,
		TransactionID: transactionID,
		Status:        StatusFailed,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		FailureCode:   string(stripeErr.Code),
		FailureReason: stripeErr.Msg,
	}, true
}

func stripeErrorCode(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return string(stripeErr.Code)
	}
	return ""
}

func chargeMetadata(req ChargeRequest) map[string]string {
	metadata := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["orderId"] = req.OrderID
	}
	if req.OrderNumber != "" {
		metadata["orderNumber"] = req.OrderNumber
	}
	return metadata
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
