package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/quickorder/internal/domain"
	pfirestore "github.com/hanko-field/quickorder/internal/platform/firestore"
	"github.com/hanko-field/quickorder/internal/repositories"
)

const defaultProductCollection = "products"

// CatalogRepository reads product stock from Firestore. Documents are keyed by product id and carry the SKU
// as a queryable field.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

type productDocument struct {
	SKU       string    `firestore:"sku"`
	Name      string    `firestore:"name,omitempty"`
	Kind      string    `firestore:"kind"`
	Quantity  int       `firestore:"quantity"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// NewCatalogRepository constructs a Firestore-backed catalog. An empty collection uses "products".
func NewCatalogRepository(provider *pfirestore.Provider, collection string) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultProductCollection
	}
	return &CatalogRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, collection, nil, nil),
	}, nil
}

// FindBySKUs returns every product whose sku field is one of skus.
func (r *CatalogRepository) FindBySKUs(ctx context.Context, skus []string) ([]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	values := uniqueValues(skus)
	if len(values) == 0 {
		return nil, nil
	}

	docs, err := r.base.QueryIn(ctx, "sku", values, nil)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, decodeProduct(doc))
	}
	return products, nil
}

// UpsertProducts writes each product under its id.
func (r *CatalogRepository) UpsertProducts(ctx context.Context, products []domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("catalog repository not initialised")
	}
	now := time.Now().UTC()
	for _, product := range products {
		if product.SKU == "" {
			return repositories.NewStoreError("catalog.upsert", repositories.StoreErrorUnknown, "product sku is required", nil)
		}
		id := strings.TrimSpace(product.ID)
		if id == "" {
			id = product.SKU
		}
		updatedAt := product.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		doc := productDocument{
			SKU:       product.SKU,
			Name:      product.Name,
			Kind:      string(product.Kind),
			Quantity:  product.Quantity,
			UpdatedAt: updatedAt.UTC(),
		}
		if _, err := r.base.Set(ctx, id, doc); err != nil {
			return err
		}
	}
	return nil
}

func decodeProduct(doc pfirestore.Document[productDocument]) domain.Product {
	updatedAt := doc.Data.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = doc.UpdateTime
	}
	return domain.Product{
		ID:        doc.ID,
		SKU:       doc.Data.SKU,
		Name:      doc.Data.Name,
		Kind:      domain.ProductKind(strings.ToLower(strings.TrimSpace(doc.Data.Kind))),
		Quantity:  doc.Data.Quantity,
		UpdatedAt: updatedAt,
	}
}

func uniqueValues(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

var (
	_ repositories.CatalogRepository = (*CatalogRepository)(nil)
	_ repositories.CatalogSeeder     = (*CatalogRepository)(nil)
)
