package firestore

import (
	"context"
	"fmt"

	pfirestore "github.com/hanko-field/quickorder/internal/platform/firestore"
	"github.com/hanko-field/quickorder/internal/repositories"
)

// Registry exposes the Firestore backed repositories sharing one provider.
type Registry struct {
	provider *pfirestore.Provider
	catalog  *CatalogRepository
	carts    *CartRepository
}

// NewRegistry builds the catalog and cart repositories on the provided collections.
func NewRegistry(provider *pfirestore.Provider, productsCollection, cartsCollection string) (*Registry, error) {
	catalog, err := NewCatalogRepository(provider, productsCollection)
	if err != nil {
		return nil, fmt.Errorf("build firestore catalog repository: %w", err)
	}
	carts, err := NewCartRepository(provider, cartsCollection)
	if err != nil {
		return nil, fmt.Errorf("build firestore cart repository: %w", err)
	}
	return &Registry{provider: provider, catalog: catalog, carts: carts}, nil
}

// Provider exposes the shared client provider to stores that live beside the repositories.
func (r *Registry) Provider() *pfirestore.Provider { return r.provider }

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Ping(ctx context.Context) error { return r.provider.Ping(ctx) }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Seeder() repositories.CatalogSeeder { return r.catalog }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

var _ repositories.Registry = (*Registry)(nil)
