package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/hanko-field/quickorder/internal/repositories"
)

// Registry exposes the gorm backed repositories sharing one connection pool.
type Registry struct {
	db      *gorm.DB
	catalog *CatalogRepository
	carts   *CartRepository
}

// NewRegistry opens the database and wires both repositories onto it.
func NewRegistry(dialect, dsn string, opts Options) (*Registry, error) {
	db, err := Open(dialect, dsn, opts)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(db)
	if err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("build sql catalog repository: %w", err)
	}
	carts, err := NewCartRepository(db)
	if err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("build sql cart repository: %w", err)
	}
	return &Registry{db: db, catalog: catalog, carts: carts}, nil
}

func (r *Registry) Close(context.Context) error { return Close(r.db) }

func (r *Registry) Ping(ctx context.Context) error { return Ping(ctx, r.db) }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Seeder() repositories.CatalogSeeder { return r.catalog }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

var _ repositories.Registry = (*Registry)(nil)
