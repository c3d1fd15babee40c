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

// CartRepository stores carts in the carts and cart_items tables. The version column guards writes.
type CartRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewCartRepository binds the repository to an open connection.
func NewCartRepository(db *gorm.DB) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository requires a database")
	}
	return &CartRepository{db: db, clock: time.Now}, nil
}

// GetCart implements repositories.CartRepository.
func (r *CartRepository) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.db == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	var header cartRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&header).Error; err != nil {
		return domain.Cart{}, wrapError("carts.get", err)
	}
	var items []cartItemRow
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", id).
		Order("position ASC").
		Find(&items).Error; err != nil {
		return domain.Cart{}, wrapError("carts.get", err)
	}
	return toDomainCart(header, items), nil
}

// SaveCart implements repositories.CartRepository with a version compare-and-swap on the header row.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.db == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cart.ID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := r.clock().UTC().Truncate(time.Microsecond)
	header := cartRow{
		ID:        id,
		Version:   cart.Version + 1,
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: now,
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = now
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cart.Version == 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&header)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return repositories.NewStoreError("carts.save", repositories.StoreErrorConflict, "cart already exists", nil)
			}
		} else {
			res := tx.Model(&cartRow{}).
				Where("id = ? AND version = ?", id, cart.Version).
				Updates(map[string]any{
					"version":    header.Version,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return repositories.NewStoreError("carts.save", repositories.StoreErrorConflict, "cart revision is stale", nil)
			}
		}

		if err := tx.Where("cart_id = ?", id).Delete(&cartItemRow{}).Error; err != nil {
			return err
		}
		rows := toItemRows(id, cart.Items)
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		var storeErr *repositories.StoreError
		if errors.As(err, &storeErr) {
			return domain.Cart{}, storeErr
		}
		return domain.Cart{}, wrapError("carts.save", err)
	}

	return toDomainCart(header, toItemRows(id, cart.Items)), nil
}

func toItemRows(cartID string, items []domain.CartItem) []cartItemRow {
	rows := make([]cartItemRow, 0, len(items))
	for i, item := range items {
		var updatedAt *time.Time
		if item.UpdatedAt != nil {
			v := item.UpdatedAt.UTC()
			updatedAt = &v
		}
		rows = append(rows, cartItemRow{
			ID:        item.ID,
			CartID:    cartID,
			Position:  i,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt.UTC(),
			UpdatedAt: updatedAt,
		})
	}
	return rows
}

func toDomainCart(header cartRow, rows []cartItemRow) domain.Cart {
	items := make([]domain.CartItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.CartItem{
			ID:        row.ID,
			ProductID: row.ProductID,
			SKU:       row.SKU,
			Quantity:  row.Quantity,
			AddedAt:   row.AddedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return domain.Cart{
		ID:        header.ID,
		Items:     items,
		Version:   header.Version,
		CreatedAt: header.CreatedAt,
		UpdatedAt: header.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
