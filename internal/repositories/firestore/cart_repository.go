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

const (
	defaultCartCollection = "carts"
	cartTxAttempts        = 3
	cartTxTimeout         = 5 * time.Second
)

// CartRepository persists carts, including their lines, as single Firestore documents.
type CartRepository struct {
	base  *pfirestore.BaseRepository[cartDocument]
	clock func() time.Time
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	Version   int64              `firestore:"version"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID        string     `firestore:"id"`
	ProductID string     `firestore:"productId"`
	SKU       string     `firestore:"sku"`
	Quantity  int        `firestore:"quantity"`
	AddedAt   time.Time  `firestore:"addedAt"`
	UpdatedAt *time.Time `firestore:"updatedAt,omitempty"`
}

// NewCartRepository constructs a Firestore-backed cart repository. An empty collection uses "carts".
func NewCartRepository(provider *pfirestore.Provider, collection string) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultCartCollection
	}
	return &CartRepository{
		base:  pfirestore.NewBaseRepository[cartDocument](provider, collection, nil, nil),
		clock: time.Now,
	}, nil
}

// GetCart loads the cart document.
func (r *CartRepository) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(id, doc.Data), nil
}

// SaveCart writes the cart when the stored version still equals cart.Version.
// Version 0 means the caller saw no cart; the write then only succeeds if none exists.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cart.ID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := r.clock().UTC().Truncate(time.Microsecond)
	doc, err := r.base.CheckAndSet(ctx, id, cart.Version, cartVersion, func(current cartDocument, exists bool) (cartDocument, error) {
		next := encodeCart(cart)
		next.Version = cart.Version + 1
		next.UpdatedAt = now
		switch {
		case exists && !current.CreatedAt.IsZero():
			next.CreatedAt = current.CreatedAt
		case next.CreatedAt.IsZero():
			next.CreatedAt = now
		}
		return next, nil
	}, pfirestore.WithTxAttempts(cartTxAttempts), pfirestore.WithTxTimeout(cartTxTimeout))
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(id, doc), nil
}

func cartVersion(doc cartDocument) int64 { return doc.Version }

func encodeCart(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ID:        item.ID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt.UTC(),
			UpdatedAt: cloneTimePtr(item.UpdatedAt),
		})
	}
	return cartDocument{
		Items:     items,
		Version:   cart.Version,
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
}

func decodeCart(id string, doc cartDocument) domain.Cart {
	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
			UpdatedAt: cloneTimePtr(item.UpdatedAt),
		})
	}
	return domain.Cart{
		ID:        id,
		Items:     items,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ repositories.CartRepository = (*CartRepository)(nil)
