package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/repositories"
)

var (
	// ErrCartMutatorInvalidInput indicates a non-positive quantity or a snapshot without product identity.
	ErrCartMutatorInvalidInput = errors.New("cart mutator: invalid input")
	// ErrCartMutatorConflict indicates the cart changed after it was read.
	ErrCartMutatorConflict = errors.New("cart mutator: conflict")
	// ErrCartMutatorUnavailable indicates the cart store failed.
	ErrCartMutatorUnavailable = errors.New("cart mutator: unavailable")
)

// CartMutatorDeps wires the collaborators of a CartMutator.
type CartMutatorDeps struct {
	Carts       repositories.CartRepository
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// CartMutator adds quantities to cart lines and announces successful adds.
type CartMutator struct {
	carts  repositories.CartRepository
	events EventPublisher
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewCartMutator validates dependencies and applies defaults.
func NewCartMutator(deps CartMutatorDeps) (*CartMutator, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart mutator: cart repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartMutator{
		carts:  deps.Carts,
		events: deps.Events,
		now:    func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Apply adds qty of the snapshot's product to the cart read in state and persists it with one
// check-and-set write. The add_to_cart event names requestedIdentifier, the identifier as submitted.
func (m *CartMutator) Apply(ctx context.Context, state CartState, snapshot StockSnapshot, qty int, requestedIdentifier string) (Cart, error) {
	if qty <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartMutatorInvalidInput)
	}
	productID := strings.TrimSpace(snapshot.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartMutatorInvalidInput)
	}
	if strings.TrimSpace(state.Cart.ID) == "" {
		return Cart{}, fmt.Errorf("%w: cart id is required", ErrCartMutatorInvalidInput)
	}

	now := m.now()
	cart := cloneCart(state.Cart)
	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID != productID {
			continue
		}
		cart.Items[i].Quantity += qty
		updatedAt := now
		cart.Items[i].UpdatedAt = &updatedAt
		merged = true
		break
	}
	if !merged {
		cart.Items = append(cart.Items, CartItem{
			ID:        m.newID(),
			ProductID: productID,
			SKU:       snapshot.Identifier,
			Quantity:  qty,
			AddedAt:   now,
		})
	}

	saved, err := m.carts.SaveCart(ctx, cart)
	if err != nil {
		return Cart{}, m.translateRepoError(err)
	}

	m.publish(ctx, AddToCartEvent{
		Name:       domain.EventAddToCart,
		Identifier: requestedIdentifier,
		ProductID:  productID,
		CartID:     saved.ID,
		Quantity:   qty,
		OccurredAt: now,
	})
	return saved, nil
}

func (m *CartMutator) publish(ctx context.Context, event AddToCartEvent) {
	if m.events == nil {
		return
	}
	if err := m.events.PublishAddToCart(ctx, event); err != nil {
		m.logger(ctx, "add_to_cart_publish_failed", map[string]any{
			"cartId":     event.CartID,
			"identifier": event.Identifier,
			"error":      err.Error(),
		})
	}
}

func (m *CartMutator) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: %w", ErrCartMutatorConflict, err)
	}
	return fmt.Errorf("%w: %w", ErrCartMutatorUnavailable, err)
}

func cloneCart(cart Cart) Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]CartItem, len(cart.Items))
		copy(dup.Items, cart.Items)
	}
	return dup
}
