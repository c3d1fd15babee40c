package services

import (
	"testing"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

func TestReconcile(t *testing.T) {
	simple := func(available int) StockSnapshot {
		return StockSnapshot{Identifier: "A", ProductID: "p-a", Kind: domain.ProductKindSimple, AvailableQty: available, Exists: true}
	}

	cases := []struct {
		name      string
		requested string
		snapshot  StockSnapshot
		inCart    int
		want      Outcome
	}{
		{name: "fits", requested: "2", snapshot: simple(5), want: domain.Added(2)},
		{name: "exactly fills room", requested: "4", snapshot: simple(5), inCart: 1, want: domain.Added(4)},
		{name: "clamped", requested: "10", snapshot: simple(4), inCart: 1, want: domain.ClampedAdded(3, 10)},
		{name: "no room", requested: "1", snapshot: simple(3), inCart: 3, want: domain.RejectedOutOfStock(0)},
		{name: "over committed cart", requested: "1", snapshot: simple(2), inCart: 5, want: domain.RejectedOutOfStock(0)},
		{name: "zero stock", requested: "1", snapshot: simple(0), want: domain.RejectedOutOfStock(0)},
		{name: "not found", requested: "1", snapshot: StockSnapshot{Identifier: "B"}, want: domain.RejectedNotFound(domain.ReasonProductMissing)},
		{name: "composite", requested: "1", snapshot: StockSnapshot{Exists: true, Kind: domain.ProductKindComposite, AvailableQty: 0}, want: domain.RejectedNotSimple()},
		{name: "unknown kind", requested: "1", snapshot: StockSnapshot{Exists: true, Kind: "bundle", AvailableQty: 9}, want: domain.RejectedNotSimple()},
		{name: "zero quantity", requested: "0", snapshot: simple(5), want: domain.RejectedMalformedQty()},
		{name: "negative quantity", requested: "-2", snapshot: simple(5), want: domain.RejectedMalformedQty()},
		{name: "empty quantity", requested: "", snapshot: simple(5), want: domain.RejectedMalformedQty()},
		{name: "padded quantity", requested: " 2", snapshot: simple(5), want: domain.RejectedMalformedQty()},
		{name: "malformed before missing", requested: "x", snapshot: StockSnapshot{}, want: domain.RejectedMalformedQty()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Reconcile(tc.requested, tc.snapshot, tc.inCart)
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestReconcileIsRepeatable(t *testing.T) {
	snapshot := StockSnapshot{Exists: true, Kind: domain.ProductKindSimple, AvailableQty: 2}
	first := Reconcile("5", snapshot, 2)
	second := Reconcile("5", snapshot, 2)
	if first != second || first.Kind != domain.OutcomeRejectedOutOfStock {
		t.Fatalf("expected identical out of stock outcomes, got %+v and %+v", first, second)
	}
}
