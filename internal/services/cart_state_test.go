package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

func TestCartStateReaderSumsByProductIdentity(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, cartID string) (domain.Cart, error) {
			if cartID != "cart-1" {
				t.Fatalf("unexpected cart id %q", cartID)
			}
			return domain.Cart{
				ID:      "cart-1",
				Version: 4,
				Items: []domain.CartItem{
					{ID: "l1", ProductID: "p-a", SKU: "A", Quantity: 2},
					{ID: "l2", ProductID: "p-b", SKU: "B", Quantity: 7},
					{ID: "l3", ProductID: "p-a", SKU: "a-alias", Quantity: 1},
				},
			}, nil
		},
	}
	reader, err := NewCartStateReader(carts)
	if err != nil {
		t.Fatalf("NewCartStateReader: %v", err)
	}

	state, err := reader.Read(context.Background(), " cart-1 ", "p-a")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if state.QtyInCart != 3 {
		t.Fatalf("expected 3 in cart, got %d", state.QtyInCart)
	}
	if state.Cart.Version != 4 {
		t.Fatalf("expected version carried through, got %d", state.Cart.Version)
	}
}

func TestCartStateReaderMissingCartIsEmpty(t *testing.T) {
	reader, _ := NewCartStateReader(&stubCartRepository{})

	state, err := reader.Read(context.Background(), "cart-new", "p-a")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if state.QtyInCart != 0 || state.Cart.ID != "cart-new" || state.Cart.Version != 0 {
		t.Fatalf("expected empty cart at version 0, got %+v", state)
	}
}

func TestCartStateReaderPropagatesStoreErrors(t *testing.T) {
	cause := &repositoryErrorStub{msg: "unavailable", unavailable: true}
	reader, _ := NewCartStateReader(&stubCartRepository{
		getFunc: func(ctx context.Context, cartID string) (domain.Cart, error) {
			return domain.Cart{}, cause
		},
	})

	_, err := reader.Read(context.Background(), "cart-1", "p-a")
	if !errors.Is(err, ErrCartStateUnavailable) {
		t.Fatalf("expected ErrCartStateUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestCartStateReaderRequiresCartID(t *testing.T) {
	reader, _ := NewCartStateReader(&stubCartRepository{})
	if _, err := reader.Read(context.Background(), "  ", "p-a"); err == nil {
		t.Fatalf("expected error for blank cart id")
	}
}
