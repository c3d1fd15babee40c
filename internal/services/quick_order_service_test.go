package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/repositories"
	"github.com/hanko-field/quickorder/internal/repositories/memory"
)

type quickOrderFixture struct {
	catalog *memory.CatalogRepository
	carts   *memory.CartRepository
	events  *stubEventPublisher
	metrics *recordingMetrics
	service QuickOrderService
}

type recordingMetrics struct {
	items   []domain.OutcomeKind
	batches int
	shapes  int
}

func (m *recordingMetrics) ObserveItem(kind domain.OutcomeKind, _ string) {
	m.items = append(m.items, kind)
}

func (m *recordingMetrics) ObserveBatch(_ int, shapeError bool, _ time.Duration) {
	m.batches++
	if shapeError {
		m.shapes++
	}
}

func newQuickOrderFixture(t *testing.T, products ...domain.Product) quickOrderFixture {
	t.Helper()
	catalog := memory.NewCatalogRepository()
	if err := catalog.UpsertProducts(context.Background(), products); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}
	carts := memory.NewCartRepository()
	return newQuickOrderFixtureWith(t, catalog, carts, carts)
}

func newQuickOrderFixtureWith(t *testing.T, catalog *memory.CatalogRepository, carts *memory.CartRepository, cartRepo repositories.CartRepository) quickOrderFixture {
	t.Helper()
	events := &stubEventPublisher{}
	metrics := &recordingMetrics{}

	stock, err := NewStockLookup(catalog)
	if err != nil {
		t.Fatalf("NewStockLookup: %v", err)
	}
	state, err := NewCartStateReader(cartRepo)
	if err != nil {
		t.Fatalf("NewCartStateReader: %v", err)
	}
	mutator, err := NewCartMutator(CartMutatorDeps{Carts: cartRepo, Events: events})
	if err != nil {
		t.Fatalf("NewCartMutator: %v", err)
	}
	service, err := NewQuickOrderService(QuickOrderServiceDeps{
		Stock:     stock,
		CartState: state,
		Mutator:   mutator,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("NewQuickOrderService: %v", err)
	}
	return quickOrderFixture{catalog: catalog, carts: carts, events: events, metrics: metrics, service: service}
}

func (f quickOrderFixture) quantityInCart(t *testing.T, cartID, productID string) int {
	t.Helper()
	cart, err := f.carts.GetCart(context.Background(), cartID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return 0
		}
		t.Fatalf("GetCart: %v", err)
	}
	total := 0
	for _, item := range cart.Items {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	return total
}

func simpleProduct(sku string, qty int) domain.Product {
	return domain.Product{ID: "p-" + sku, SKU: sku, Name: sku, Kind: domain.ProductKindSimple, Quantity: qty}
}

func outcomeKinds(result BatchResult) []domain.OutcomeKind {
	kinds := make([]domain.OutcomeKind, len(result.Items))
	for i, item := range result.Items {
		kinds[i] = item.Outcome.Kind
	}
	return kinds
}

func TestQuickOrderAddsFoundAndRejectsMissing(t *testing.T) {
	f := newQuickOrderFixture(t, simpleProduct("A", 5))
	sink := &MessageCollector{}
	ctx := WithMessageSink(context.Background(), sink)

	result, err := f.service.AddBatch(ctx, AddBatchCommand{CartID: "cart-1", Identifiers: "A, B", Quantities: "2, 3"})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	kinds := outcomeKinds(result)
	if len(kinds) != 2 || kinds[0] != domain.OutcomeAdded || kinds[1] != domain.OutcomeRejectedNotFound {
		t.Fatalf("unexpected outcomes %v", kinds)
	}
	if result.Items[0].Outcome.Qty != 2 {
		t.Fatalf("expected 2 added, got %d", result.Items[0].Outcome.Qty)
	}
	if got := f.quantityInCart(t, "cart-1", "p-A"); got != 2 {
		t.Fatalf("expected 2 of A in cart, got %d", got)
	}

	if len(result.Messages) != 2 || len(sink.Messages()) != 2 {
		t.Fatalf("expected two messages, got %d/%d", len(result.Messages), len(sink.Messages()))
	}
	if result.Messages[0].Kind != domain.MessageKindSuccess || result.Messages[1].Code != domain.MessageCodeProductNotFound {
		t.Fatalf("unexpected messages %+v", result.Messages)
	}

	if len(f.events.events) != 1 || f.events.events[0].Identifier != "A" || f.events.events[0].Quantity != 2 {
		t.Fatalf("expected one add_to_cart event for A, got %+v", f.events.events)
	}
	if f.metrics.batches != 1 || len(f.metrics.items) != 2 {
		t.Fatalf("unexpected metrics %+v", f.metrics)
	}
}

func TestQuickOrderClampsAgainstCartContents(t *testing.T) {
	f := newQuickOrderFixture(t, simpleProduct("A", 4))
	ctx := context.Background()

	if _, err := f.service.AddBatch(ctx, AddBatchCommand{CartID: "cart-1", Identifiers: "A", Quantities: "1"}); err != nil {
		t.Fatalf("seed AddBatch: %v", err)
	}

	result, err := f.service.AddBatch(ctx, AddBatchCommand{CartID: "cart-1", Identifiers: "A", Quantities: "10"})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	outcome := result.Items[0].Outcome
	if outcome.Kind != domain.OutcomeClampedAdded || outcome.Qty != 3 || outcome.Requested != 10 {
		t.Fatalf("expected clamped 3 of 10, got %+v", outcome)
	}
	if got := f.quantityInCart(t, "cart-1", "p-A"); got != 4 {
		t.Fatalf("expected cart to hold 4, got %d", got)
	}
	if result.Messages[0].Kind != domain.MessageKindError || result.Messages[0].Text != "only 3 could be added" {
		t.Fatalf("expected clamped add reported as error, got %+v", result.Messages[0])
	}

	again, err := f.service.AddBatch(ctx, AddBatchCommand{CartID: "cart-1", Identifiers: "A", Quantities: "1"})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if again.Items[0].Outcome.Kind != domain.OutcomeRejectedOutOfStock {
		t.Fatalf("expected out of stock, got %+v", again.Items[0].Outcome)
	}
	if got := f.quantityInCart(t, "cart-1", "p-A"); got != 4 {
		t.Fatalf("expected cart unchanged at 4, got %d", got)
	}
}

func TestQuickOrderShapeErrorsProcessNothing(t *testing.T) {
	cases := []struct {
		name        string
		identifiers string
		quantities  string
		code        string
	}{
		{name: "empty quantities", identifiers: "A", quantities: "", code: domain.MessageCodeFieldsEmpty},
		{name: "count mismatch", identifiers: "A, B", quantities: "1", code: domain.MessageCodeCountsMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newQuickOrderFixture(t, simpleProduct("A", 5), simpleProduct("B", 5))
			result, err := f.service.AddBatch(context.Background(), AddBatchCommand{CartID: "cart-1", Identifiers: tc.identifiers, Quantities: tc.quantities})
			if err != nil {
				t.Fatalf("AddBatch: %v", err)
			}
			if result.ShapeError == nil || len(result.Items) != 0 {
				t.Fatalf("expected shape error without items, got %+v", result)
			}
			if len(result.Messages) != 1 || result.Messages[0].Code != tc.code {
				t.Fatalf("expected single %s message, got %+v", tc.code, result.Messages)
			}
			if got := f.quantityInCart(t, "cart-1", "p-A"); got != 0 {
				t.Fatalf("expected empty cart, got %d", got)
			}
			if f.metrics.shapes != 1 {
				t.Fatalf("expected shape error metric, got %d", f.metrics.shapes)
			}
		})
	}
}

func TestQuickOrderTypeCheckPrecedesStock(t *testing.T) {
	f := newQuickOrderFixture(t, domain.Product{ID: "p-K", SKU: "K", Kind: domain.ProductKindComposite, Quantity: 0})

	result, err := f.service.AddBatch(context.Background(), AddBatchCommand{CartID: "cart-1", Identifiers: "K, K", Quantities: "1, x"})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	kinds := outcomeKinds(result)
	if kinds[0] != domain.OutcomeRejectedNotSimple || kinds[1] != domain.OutcomeRejectedMalformedQty {
		t.Fatalf("unexpected outcomes %v", kinds)
	}
}

type flakyCartRepository struct {
	*memory.CartRepository
	failSaves int
}

func (r *flakyCartRepository) SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r.failSaves > 0 {
		r.failSaves--
		return domain.Cart{}, repositories.NewStoreError("carts.save", repositories.StoreErrorUnavailable, "write timeout", nil)
	}
	return r.CartRepository.SaveCart(ctx, cart)
}

func TestQuickOrderPersistFailureDoesNotAbortBatch(t *testing.T) {
	catalog := memory.NewCatalogRepository()
	if err := catalog.UpsertProducts(context.Background(), []domain.Product{simpleProduct("A", 5), simpleProduct("B", 5)}); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}
	carts := memory.NewCartRepository()
	flaky := &flakyCartRepository{CartRepository: carts, failSaves: 1}
	f := newQuickOrderFixtureWith(t, catalog, carts, flaky)

	result, err := f.service.AddBatch(context.Background(), AddBatchCommand{CartID: "cart-1", Identifiers: "A, B", Quantities: "1, 2"})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	first := result.Items[0].Outcome
	if first.Kind != domain.OutcomeRejectedNotFound || first.Reason != domain.ReasonPersistFailed {
		t.Fatalf("expected persist failure, got %+v", first)
	}
	if result.Items[1].Outcome.Kind != domain.OutcomeAdded {
		t.Fatalf("expected second item added, got %+v", result.Items[1].Outcome)
	}
	if got := f.quantityInCart(t, "cart-1", "p-A"); got != 0 {
		t.Fatalf("expected A absent, got %d", got)
	}
	if got := f.quantityInCart(t, "cart-1", "p-B"); got != 2 {
		t.Fatalf("expected 2 of B, got %d", got)
	}
	if len(f.events.events) != 1 || f.events.events[0].Identifier != "B" {
		t.Fatalf("expected single event for B, got %+v", f.events.events)
	}
}

func TestQuickOrderIsolatesLookupAndCartFailures(t *testing.T) {
	lookupErr := errors.New("catalog timeout")
	stock := &stubStockReader{
		lookupFunc: func(ctx context.Context, identifier string) (StockSnapshot, error) {
			if identifier == "BROKEN" {
				return StockSnapshot{}, lookupErr
			}
			return StockSnapshot{Identifier: identifier, ProductID: "p-" + identifier, Exists: true, Kind: domain.ProductKindSimple, AvailableQty: 9}, nil
		},
	}
	state := &stubCartStateSource{
		readFunc: func(ctx context.Context, cartID, productID string) (CartState, error) {
			if productID == "p-NOCART" {
				return CartState{}, ErrCartStateUnavailable
			}
			return CartState{Cart: Cart{ID: cartID}}, nil
		},
	}
	writer := &stubCartWriter{}
	logs := &recordingLogger{}

	service, err := NewQuickOrderService(QuickOrderServiceDeps{Stock: stock, CartState: state, Mutator: writer, Logger: logs.log})
	if err != nil {
		t.Fatalf("NewQuickOrderService: %v", err)
	}

	result, err := service.AddBatch(context.Background(), AddBatchCommand{CartID: "cart-1", Identifiers: "BROKEN, NOCART, OK", Quantities: "1, 1, 1"})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if got := result.Items[0].Outcome; got.Kind != domain.OutcomeRejectedNotFound || got.Reason != domain.ReasonLookupFailed {
		t.Fatalf("expected lookup failure, got %+v", got)
	}
	if got := result.Items[1].Outcome; got.Kind != domain.OutcomeRejectedNotFound || got.Reason != domain.ReasonCartUnavailable {
		t.Fatalf("expected cart failure, got %+v", got)
	}
	if got := result.Items[2].Outcome; got.Kind != domain.OutcomeAdded {
		t.Fatalf("expected OK added, got %+v", got)
	}
	if len(writer.calls) != 1 || writer.calls[0] != "OK" {
		t.Fatalf("expected only OK to be written, got %v", writer.calls)
	}
	if !logs.has("quick_order_lookup_failed") || !logs.has("quick_order_cart_read_failed") {
		t.Fatalf("expected item failures to be logged")
	}
}

func TestQuickOrderRejectsInvalidCommands(t *testing.T) {
	f := newQuickOrderFixture(t, simpleProduct("A", 5))

	if _, err := f.service.AddBatch(context.Background(), AddBatchCommand{CartID: " ", Identifiers: "A", Quantities: "1"}); !errors.Is(err, ErrQuickOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	stock, _ := NewStockLookup(f.catalog)
	state, _ := NewCartStateReader(f.carts)
	mutator, _ := NewCartMutator(CartMutatorDeps{Carts: f.carts})
	limited, err := NewQuickOrderService(QuickOrderServiceDeps{Stock: stock, CartState: state, Mutator: mutator, MaxItems: 2})
	if err != nil {
		t.Fatalf("NewQuickOrderService: %v", err)
	}
	collector := &MessageCollector{}
	result, err := limited.AddBatch(WithMessageSink(context.Background(), collector), AddBatchCommand{CartID: "cart-1", Identifiers: "A, A, A", Quantities: "1, 1, 1"})
	if err != nil {
		t.Fatalf("expected an oversized batch to be reported, not returned as error: %v", err)
	}
	if result.ShapeError == nil || result.ShapeError.Reason != domain.ShapeMismatchTooManyItems || result.ShapeError.Limit != 2 {
		t.Fatalf("expected too many items shape error, got %+v", result.ShapeError)
	}
	if len(result.Items) != 0 {
		t.Fatalf("expected no items processed, got %+v", result.Items)
	}
	messages := collector.Messages()
	if len(messages) != 1 || messages[0].Code != domain.MessageCodeTooManyItems || messages[0].Text != "no more than 2 items can be added at once" {
		t.Fatalf("expected one batch message, got %+v", messages)
	}
	if got := f.quantityInCart(t, "cart-1", "p-A"); got != 0 {
		t.Fatalf("expected nothing added, got %d", got)
	}
}

func TestQuickOrderProcessesLargeBatchesByDefault(t *testing.T) {
	f := newQuickOrderFixture(t, simpleProduct("A", 500))

	ids := make([]string, 101)
	qtys := make([]string, 101)
	for i := range ids {
		ids[i], qtys[i] = "A", "1"
	}
	result, err := f.service.AddBatch(context.Background(), AddBatchCommand{
		CartID:      "cart-1",
		Identifiers: strings.Join(ids, BatchDelimiter),
		Quantities:  strings.Join(qtys, BatchDelimiter),
	})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if result.ShapeError != nil || len(result.Items) != 101 || len(result.Messages) != 101 {
		t.Fatalf("expected every line processed, got shape=%v items=%d messages=%d", result.ShapeError, len(result.Items), len(result.Messages))
	}
	if got := f.quantityInCart(t, "cart-1", "p-A"); got != 101 {
		t.Fatalf("expected 101 in cart, got %d", got)
	}
}

func TestNewQuickOrderServiceValidatesDeps(t *testing.T) {
	if _, err := NewQuickOrderService(QuickOrderServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}
}

type stubStockReader struct {
	lookupFunc func(ctx context.Context, identifier string) (StockSnapshot, error)
}

func (s *stubStockReader) Lookup(ctx context.Context, identifier string) (StockSnapshot, error) {
	return s.lookupFunc(ctx, identifier)
}

func (s *stubStockReader) LookupMany(ctx context.Context, identifiers []string) ([]StockSnapshot, error) {
	out := make([]StockSnapshot, 0, len(identifiers))
	for _, id := range identifiers {
		snapshot, err := s.lookupFunc(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

type stubCartStateSource struct {
	readFunc func(ctx context.Context, cartID, productID string) (CartState, error)
}

func (s *stubCartStateSource) Read(ctx context.Context, cartID, productID string) (CartState, error) {
	return s.readFunc(ctx, cartID, productID)
}

type stubCartWriter struct {
	calls []string
}

func (s *stubCartWriter) Apply(_ context.Context, state CartState, _ StockSnapshot, _ int, requested string) (Cart, error) {
	s.calls = append(s.calls, requested)
	return state.Cart, nil
}
