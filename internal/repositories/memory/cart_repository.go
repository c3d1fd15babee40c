package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/repositories"
)

// CartRepository stores carts in memory with version based check-and-set.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
	clock func() time.Time
}

// NewCartRepository constructs an empty in-memory cart store.
func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts: make(map[string]domain.Cart),
		clock: time.Now,
	}
}

// WithClock overrides the clock used for timestamps.
func (r *CartRepository) WithClock(clock func() time.Time) *CartRepository {
	if clock != nil {
		r.clock = clock
	}
	return r
}

// GetCart implements repositories.CartRepository.
func (r *CartRepository) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, repositories.NewStoreError("carts.get", repositories.StoreErrorUnavailable, "", err)
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[id]
	if !ok {
		return domain.Cart{}, repositories.NewStoreError("carts.get", repositories.StoreErrorNotFound, "cart not found", nil)
	}
	return cloneCart(cart), nil
}

// SaveCart implements repositories.CartRepository.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, repositories.NewStoreError("carts.save", repositories.StoreErrorUnavailable, "", err)
	}
	id := strings.TrimSpace(cart.ID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	stored, exists := r.carts[id]
	switch {
	case !exists && cart.Version != 0:
		return domain.Cart{}, repositories.NewStoreError("carts.save", repositories.StoreErrorConflict, "cart was removed", nil)
	case exists && stored.Version != cart.Version:
		return domain.Cart{}, repositories.NewStoreError("carts.save", repositories.StoreErrorConflict, "cart revision is stale", nil)
	}

	saved := cloneCart(cart)
	saved.ID = id
	saved.Version = cart.Version + 1
	saved.UpdatedAt = now
	if exists {
		saved.CreatedAt = stored.CreatedAt
	} else if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	r.carts[id] = saved
	return cloneCart(saved), nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]domain.CartItem, len(cart.Items))
		copy(dup.Items, cart.Items)
	}
	return dup
}

var _ repositories.CartRepository = (*CartRepository)(nil)
