package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tradewinds/api/internal/payments"
	"github.com/tradewinds/api/internal/platform/config"
	"github.com/tradewinds/api/internal/repositories"
	"github.com/tradewinds/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart        services.CartService
	Orders      services.OrderService
	Payments    services.PaymentService
	ReviewVotes services.ReviewVoteService
	Stock       services.StockService
	System      services.SystemService
}

// Infrastructure carries the runtime adapters the container cannot derive
// from configuration alone. Every field is optional; nil fields leave the
// corresponding service capability disabled rather than failing construction.
type Infrastructure struct {
	// PaymentManager overrides the manager built from cfg.PSP. Tests inject
	// a manager wrapping the mock provider here.
	PaymentManager *payments.Manager
	Publisher      services.EventPublisher
	Archiver       services.ReceiptArchiver
	Deduper        services.WebhookDeduplicator
	Logger         func(context.Context, string, map[string]any)
	Clock          func() time.Time
	StartedAt      time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	startedAt := infra.StartedAt
	if startedAt.IsZero() {
		startedAt = clock().UTC()
	}

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Stock:     reg.Stock(),
		Publisher: infra.Publisher,
		Clock:     clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	pricer, err := services.NewStandardPricingEngine(services.StandardPricingEngineConfig{
		TaxBasisPoints:     cfg.Pricing.TaxBasisPoints,
		ShippingBaseMinor:  cfg.Pricing.ShippingBaseMinor,
		ShippingPerKgMinor: cfg.Pricing.ShippingPerKgMinor,
		ItemWeightGrams:    cfg.Pricing.ItemWeightGrams,
	}, infra.Logger)
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Catalog:         reg.Catalog(),
		Stock:           stockSvc,
		Pricer:          pricer,
		Clock:           clock,
		DefaultCurrency: cfg.Pricing.DefaultCurrency,
		Logger:          infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	manager := infra.PaymentManager
	if manager == nil {
		manager, err = buildPaymentManager(cfg, infra.Logger, clock)
		if err != nil {
			return Services{}, fmt.Errorf("build payment manager: %w", err)
		}
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:  reg.Payments(),
		Orders:    reg.Orders(),
		Manager:   manager,
		Archiver:  infra.Archiver,
		Deduper:   infra.Deduper,
		Publisher: infra.Publisher,
		Clock:     clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Carts:           reg.Carts(),
		Catalog:         reg.Catalog(),
		Counters:        reg.Counters(),
		Payments:        reg.Payments(),
		Refunder:        paymentSvc,
		Pricer:          pricer,
		Publisher:       infra.Publisher,
		Clock:           clock,
		DefaultCurrency: cfg.Pricing.DefaultCurrency,
		Logger:          infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	voteSvc, err := services.NewReviewVoteService(services.ReviewVoteServiceDeps{
		Votes:  reg.ReviewVotes(),
		Clock:  clock,
		Logger: infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review vote service: %w", err)
	}
	svc.ReviewVotes = voteSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		Health:      reg.Health(),
		Clock:       clock,
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// buildPaymentManager registers the adapters the deployment has credentials
// for. Stripe is the default whenever an API key is configured; the mock
// adapter joins behind its feature flag and doubles as the fallback so
// keyless environments stay chargeable.
func buildPaymentManager(cfg config.Config, logger func(context.Context, string, map[string]any), clock func() time.Time) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)
	var opts []payments.ManagerOption

	if key := strings.TrimSpace(cfg.PSP.StripeAPIKey); key != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        key,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Logger:        payments.StripeLogger(logger),
			Clock:         clock,
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = stripeProvider
	}

	if cfg.Features.EnableMockProvider {
		mock := payments.NewMockProvider(clock)
		providers["mock"] = mock
		if _, ok := providers["stripe"]; !ok {
			opts = append(opts, payments.WithDefaultProvider("mock"))
		}
	}

	if len(providers) == 0 {
		return nil, errors.New("no payment providers configured: set a stripe api key or enable the mock provider")
	}

	return payments.NewManager(providers, opts...)
}
