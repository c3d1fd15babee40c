package services

import (
	"context"
	"errors"
	"strings"

	"github.com/hanko-field/quickorder/internal/repositories"
)

// ErrCartStateUnavailable indicates the cart could not be read.
var ErrCartStateUnavailable = errors.New("cart state: unavailable")

// CartState is the cart as read before a mutation plus the quantity already held for one product.
type CartState struct {
	Cart      Cart
	QtyInCart int
}

// CartStateReader reads carts and sums existing quantities by product identity.
type CartStateReader struct {
	carts repositories.CartRepository
}

// NewCartStateReader constructs a CartStateReader.
func NewCartStateReader(carts repositories.CartRepository) (*CartStateReader, error) {
	if carts == nil {
		return nil, errors.New("cart state: cart repository is required")
	}
	return &CartStateReader{carts: carts}, nil
}

// Read loads cartID and returns the quantity of productID already in it. A missing cart reads as an empty
// cart at version 0.
func (r *CartStateReader) Read(ctx context.Context, cartID, productID string) (CartState, error) {
	id := strings.TrimSpace(cartID)
	if id == "" {
		return CartState{}, errors.New("cart state: cart id is required")
	}

	cart, err := r.carts.GetCart(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return CartState{Cart: Cart{ID: id}}, nil
		}
		return CartState{}, errors.Join(ErrCartStateUnavailable, err)
	}
	if cart.ID == "" {
		cart.ID = id
	}

	qty := 0
	for _, item := range cart.Items {
		if item.ProductID == productID {
			qty += item.Quantity
		}
	}
	return CartState{Cart: cart, QtyInCart: qty}, nil
}
