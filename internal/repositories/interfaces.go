package repositories

import (
	"context"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	// Ping probes the backing store for readiness checks.
	Ping(ctx context.Context) error

	Catalog() CatalogRepository
	Seeder() CatalogSeeder
	Carts() CartRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository reads product stock records.
type CatalogRepository interface {
	// FindBySKUs returns the products whose SKU is in the provided set, in no particular order.
	// Unknown SKUs are simply absent from the result.
	FindBySKUs(ctx context.Context, skus []string) ([]domain.Product, error)
}

// CatalogSeeder loads products into stores that support it (memory, SQL).
type CatalogSeeder interface {
	UpsertProducts(ctx context.Context, products []domain.Product) error
}

// CartRepository persists session carts.
type CartRepository interface {
	// GetCart loads the cart. Missing carts surface as a RepositoryError with IsNotFound.
	GetCart(ctx context.Context, cartID string) (domain.Cart, error)
	// SaveCart persists the full cart when the stored revision still matches the one the cart was read at.
	// A zero revision means the cart must not exist yet. Stale writes fail with IsConflict.
	SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
}

// HealthRepository gathers dependency health information.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
