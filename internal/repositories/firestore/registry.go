package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/tradewinds/api/internal/platform/firestore"
	"github.com/tradewinds/api/internal/repositories"
	"google.golang.org/api/iterator"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract so the DI container can consume a single
// dependency.
type Registry struct {
	provider *pfirestore.Provider

	carts    *CartRepository
	catalog  *CatalogRepository
	stock    *StockRepository
	orders   *OrderRepository
	payments *PaymentRepository
	votes    *ReviewVoteRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	extraProbes []repositories.DependencyProbe
}

// WithDependencyProbes appends readiness probes beyond the built-in Firestore
// check, e.g. Pub/Sub or Cloud Storage reachability.
func WithDependencyProbes(probes ...repositories.DependencyProbe) RegistryOption {
	return func(o *registryOptions) {
		o.extraProbes = append(o.extraProbes, probes...)
	}
}

// NewRegistry constructs every Firestore repository from a shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}

	options := registryOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: cart repository: %w", err)
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: catalog repository: %w", err)
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: stock repository: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: order repository: %w", err)
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: payment repository: %w", err)
	}
	votes, err := NewReviewVoteRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: review vote repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: counter repository: %w", err)
	}

	probes := append([]repositories.DependencyProbe{firestoreProbe(provider)}, options.extraProbes...)
	health, err := repositories.NewDependencyHealthRepository(probes)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: health repository: %w", err)
	}

	return &Registry{
		provider: provider,
		carts:    carts,
		catalog:  catalog,
		stock:    stock,
		orders:   orders,
		payments: payments,
		votes:    votes,
		counters: counters,
		health:   health,
	}, nil
}

func (r *Registry) Carts() repositories.CartRepository            { return r.carts }
func (r *Registry) Catalog() repositories.CatalogRepository       { return r.catalog }
func (r *Registry) Stock() repositories.StockRepository           { return r.stock }
func (r *Registry) Orders() repositories.OrderRepository          { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository      { return r.payments }
func (r *Registry) ReviewVotes() repositories.ReviewVoteRepository { return r.votes }
func (r *Registry) Counters() repositories.CounterRepository      { return r.counters }
func (r *Registry) Health() repositories.HealthRepository         { return r.health }

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func firestoreProbe(provider *pfirestore.Provider) repositories.DependencyProbe {
	return repositories.DependencyProbe{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collections(ctx)
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return pfirestore.WrapError("health.ping", err)
			}
			return nil
		},
	}
}
