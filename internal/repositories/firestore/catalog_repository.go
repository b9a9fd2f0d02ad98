package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/tradewinds/api/internal/domain"
	pfirestore "github.com/tradewinds/api/internal/platform/firestore"
	"github.com/tradewinds/api/internal/repositories"
)

const (
	productCollection        = "products"
	productVariantCollection = "variants"
)

// CatalogRepository reads the externally managed product catalog. It never
// writes; catalog CRUD belongs to another service.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a read-only catalog projection.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
	}, nil
}

// FindProduct loads one product.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("catalog: product id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindVariant loads one variant of a product from its variants subcollection.
func (r *CatalogRepository) FindVariant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
	if r == nil || r.provider == nil {
		return domain.ProductVariant{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	variantID = strings.TrimSpace(variantID)
	if productID == "" || variantID == "" {
		return domain.ProductVariant{}, errors.New("catalog: product id and variant id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ProductVariant{}, pfirestore.WrapError("catalog.variant", err)
	}
	snap, err := client.Collection(productCollection).Doc(productID).
		Collection(productVariantCollection).Doc(variantID).Get(ctx)
	if err != nil {
		return domain.ProductVariant{}, pfirestore.WrapError("catalog.variant", err)
	}
	var doc variantDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ProductVariant{}, pfirestore.WrapError("catalog.variant", err)
	}
	return doc.toDomain(snap.Ref.ID, productID), nil
}

// FindProducts loads several products at once, skipping missing IDs.
func (r *CatalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		doc, err := r.products.Get(ctx, id)
		if err != nil {
			var repoErr *pfirestore.Error
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out[id] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	VendorID    string `firestore:"vendorId"`
	Name        string `firestore:"name"`
	SKU         string `firestore:"sku"`
	Price       int64  `firestore:"price"`
	Currency    string `firestore:"currency"`
	Active      bool   `firestore:"active"`
	TrackStock  bool   `firestore:"trackStock"`
	WeightGrams int64  `firestore:"weightGrams"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		VendorID:    strings.TrimSpace(d.VendorID),
		Name:        d.Name,
		SKU:         strings.TrimSpace(d.SKU),
		Price:       d.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(d.Currency)),
		Active:      d.Active,
		TrackStock:  d.TrackStock,
		WeightGrams: d.WeightGrams,
	}
}

type variantDocument struct {
	SKU        string `firestore:"sku"`
	Name       string `firestore:"name"`
	PriceDelta int64  `firestore:"priceDelta"`
	Active     bool   `firestore:"active"`
}

func (d variantDocument) toDomain(id, productID string) domain.ProductVariant {
	return domain.ProductVariant{
		ID:         id,
		ProductID:  productID,
		SKU:        strings.TrimSpace(d.SKU),
		Name:       d.Name,
		PriceDelta: d.PriceDelta,
		Active:     d.Active,
	}
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
