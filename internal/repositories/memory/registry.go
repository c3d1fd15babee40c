package memory

import (
	"context"

	"github.com/hanko-field/quickorder/internal/repositories"
)

// Registry bundles the in-memory stores.
type Registry struct {
	catalog *CatalogRepository
	carts   *CartRepository
}

// NewRegistry constructs empty in-memory stores.
func NewRegistry() *Registry {
	return &Registry{
		catalog: NewCatalogRepository(),
		carts:   NewCartRepository(),
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Ping(ctx context.Context) error { return ctx.Err() }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Seeder() repositories.CatalogSeeder { return r.catalog }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Products exposes the concrete catalog for stock adjustments in local runs.
func (r *Registry) Products() *CatalogRepository { return r.catalog }

var _ repositories.Registry = (*Registry)(nil)
