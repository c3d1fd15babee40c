package services

import (
	"strconv"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// Reconcile decides how much of a requested quantity can be added. Checks run in a fixed order:
// quantity parse, existence, product kind, then availability against what is already in the cart.
func Reconcile(requestedText string, snapshot StockSnapshot, qtyInCart int) Outcome {
	requested, err := strconv.Atoi(requestedText)
	if err != nil || requested <= 0 {
		return domain.RejectedMalformedQty()
	}
	if !snapshot.Exists {
		return domain.RejectedNotFound(domain.ReasonProductMissing)
	}
	if !snapshot.Kind.IsSimple() {
		return domain.RejectedNotSimple()
	}

	room := snapshot.AvailableQty - qtyInCart
	switch {
	case requested <= room:
		return domain.Added(requested)
	case room > 0:
		return domain.ClampedAdded(room, requested)
	default:
		return domain.RejectedOutOfStock(room)
	}
}
