package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/repositories"
)

// ErrStockLookupUnavailable wraps catalog failures.
var ErrStockLookupUnavailable = errors.New("stock lookup: unavailable")

// StockLookup reads availability for identifiers from the catalog. Matching is exact: "a" does not match "A"
// and surrounding whitespace is significant.
type StockLookup struct {
	catalog repositories.CatalogRepository
}

// NewStockLookup constructs a StockLookup.
func NewStockLookup(catalog repositories.CatalogRepository) (*StockLookup, error) {
	if catalog == nil {
		return nil, errors.New("stock lookup: catalog repository is required")
	}
	return &StockLookup{catalog: catalog}, nil
}

// Lookup returns the snapshot for a single identifier. Unknown identifiers yield Exists=false and no error.
func (l *StockLookup) Lookup(ctx context.Context, identifier string) (StockSnapshot, error) {
	snapshots, err := l.LookupMany(ctx, []string{identifier})
	if err != nil {
		return StockSnapshot{}, err
	}
	return snapshots[0], nil
}

// LookupMany resolves every identifier with a single catalog query. The result is aligned with identifiers.
func (l *StockLookup) LookupMany(ctx context.Context, identifiers []string) ([]StockSnapshot, error) {
	if l == nil || l.catalog == nil {
		return nil, ErrStockLookupUnavailable
	}
	out := make([]StockSnapshot, len(identifiers))
	if len(identifiers) == 0 {
		return out, nil
	}

	products, err := l.catalog.FindBySKUs(ctx, identifiers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStockLookupUnavailable, err)
	}

	bySKU := make(map[string]domain.Product, len(products))
	for _, product := range products {
		if _, seen := bySKU[product.SKU]; seen {
			continue
		}
		bySKU[product.SKU] = product
	}

	for i, identifier := range identifiers {
		product, ok := bySKU[identifier]
		if !ok {
			out[i] = StockSnapshot{Identifier: identifier}
			continue
		}
		available := product.Quantity
		if available < 0 {
			available = 0
		}
		out[i] = StockSnapshot{
			Identifier:   identifier,
			ProductID:    product.ID,
			Name:         product.Name,
			AvailableQty: available,
			Kind:         product.Kind,
			Exists:       true,
		}
	}
	return out, nil
}

var _ StockReader = (*StockLookup)(nil)
