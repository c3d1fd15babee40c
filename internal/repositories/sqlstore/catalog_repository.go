package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/repositories"
)

// CatalogRepository reads product stock from the products table.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository binds the repository to an open connection.
func NewCatalogRepository(db *gorm.DB) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository requires a database")
	}
	return &CatalogRepository{db: db}, nil
}

// FindBySKUs implements repositories.CatalogRepository.
func (r *CatalogRepository) FindBySKUs(ctx context.Context, skus []string) ([]domain.Product, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	if len(skus) == 0 {
		return nil, nil
	}

	var rows []productRow
	if err := r.db.WithContext(ctx).
		Where("sku IN ?", skus).
		Find(&rows).Error; err != nil {
		return nil, wrapError("catalog.find", err)
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, domain.Product{
			ID:        row.ID,
			SKU:       row.SKU,
			Name:      row.Name,
			Kind:      domain.ProductKind(strings.ToLower(strings.TrimSpace(row.Kind))),
			Quantity:  row.Quantity,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return products, nil
}

// UpsertProducts implements repositories.CatalogSeeder. Rows are matched on id.
func (r *CatalogRepository) UpsertProducts(ctx context.Context, products []domain.Product) error {
	if r == nil || r.db == nil {
		return errors.New("catalog repository not initialised")
	}
	if len(products) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]productRow, 0, len(products))
	for _, product := range products {
		if product.SKU == "" {
			return repositories.NewStoreError("catalog.upsert", repositories.StoreErrorUnknown, "product sku is required", nil)
		}
		id := strings.TrimSpace(product.ID)
		if id == "" {
			id = product.SKU
		}
		kind := string(product.Kind)
		if kind == "" {
			kind = string(domain.ProductKindSimple)
		}
		updatedAt := product.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		rows = append(rows, productRow{
			ID:        id,
			SKU:       product.SKU,
			Name:      product.Name,
			Kind:      kind,
			Quantity:  product.Quantity,
			UpdatedAt: updatedAt.UTC(),
		})
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sku", "name", "kind", "quantity", "updated_at"}),
		}).
		Create(&rows).Error
	return wrapError("catalog.upsert", err)
}

var (
	_ repositories.CatalogRepository = (*CatalogRepository)(nil)
	_ repositories.CatalogSeeder     = (*CatalogRepository)(nil)
)
