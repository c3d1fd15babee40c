package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/repositories"
)

// CatalogRepository keeps products in memory, keyed by SKU. Useful for local runs and tests.
type CatalogRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	clock    func() time.Time
}

// NewCatalogRepository constructs an empty in-memory catalog.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{
		products: make(map[string]domain.Product),
		clock:    time.Now,
	}
}

// FindBySKUs implements repositories.CatalogRepository.
func (r *CatalogRepository) FindBySKUs(ctx context.Context, skus []string) ([]domain.Product, error) {
	if r == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, repositories.NewStoreError("catalog.find", repositories.StoreErrorUnavailable, "", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Product, 0, len(skus))
	seen := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		if _, ok := seen[sku]; ok {
			continue
		}
		seen[sku] = struct{}{}
		if product, ok := r.products[sku]; ok {
			out = append(out, product)
		}
	}
	return out, nil
}

// UpsertProducts implements repositories.CatalogSeeder.
func (r *CatalogRepository) UpsertProducts(_ context.Context, products []domain.Product) error {
	if r == nil {
		return errors.New("catalog repository not initialised")
	}
	now := r.clock().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, product := range products {
		if product.SKU == "" {
			return repositories.NewStoreError("catalog.upsert", repositories.StoreErrorUnknown, "product sku is required", nil)
		}
		if product.ID == "" {
			product.ID = product.SKU
		}
		if product.UpdatedAt.IsZero() {
			product.UpdatedAt = now
		}
		r.products[product.SKU] = product
	}
	return nil
}

// SetQuantity overwrites the stock level of a SKU.
func (r *CatalogRepository) SetQuantity(sku string, qty int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[sku]
	if !ok {
		return false
	}
	product.Quantity = qty
	product.UpdatedAt = r.clock().UTC()
	r.products[sku] = product
	return true
}

var (
	_ repositories.CatalogRepository = (*CatalogRepository)(nil)
	_ repositories.CatalogSeeder     = (*CatalogRepository)(nil)
)
