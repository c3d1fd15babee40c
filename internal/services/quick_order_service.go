package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// ErrQuickOrderInvalidInput indicates a missing context or cart id.
var ErrQuickOrderInvalidInput = errors.New("quick order service: invalid input")

const quickOrderTracerName = "github.com/hanko-field/quickorder/internal/services"

// QuickOrderMetrics records batch and item outcomes.
type QuickOrderMetrics interface {
	ObserveItem(kind domain.OutcomeKind, reason string)
	ObserveBatch(items int, shapeError bool, elapsed time.Duration)
}

// CartStateSource reads the cart and the quantity already held for a product.
type CartStateSource interface {
	Read(ctx context.Context, cartID, productID string) (CartState, error)
}

// CartWriter applies an accepted quantity to a cart.
type CartWriter interface {
	Apply(ctx context.Context, state CartState, snapshot StockSnapshot, qty int, requestedIdentifier string) (Cart, error)
}

// QuickOrderServiceDeps wires the collaborators of the batch engine.
type QuickOrderServiceDeps struct {
	Stock     StockReader
	CartState CartStateSource
	Mutator   CartWriter
	Reporter  *ResultReporter
	// MaxItems caps the lines per batch. Zero disables the cap; an oversized batch is a shape error.
	MaxItems  int
	Metrics   QuickOrderMetrics
	Tracer    trace.Tracer
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type quickOrderService struct {
	stock     StockReader
	cartState CartStateSource
	mutator   CartWriter
	reporter  *ResultReporter
	maxItems  int
	metrics   QuickOrderMetrics
	tracer    trace.Tracer
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewQuickOrderService constructs the engine that processes quick order batches item by item.
func NewQuickOrderService(deps QuickOrderServiceDeps) (QuickOrderService, error) {
	if deps.Stock == nil {
		return nil, errors.New("quick order service: stock reader is required")
	}
	if deps.CartState == nil {
		return nil, errors.New("quick order service: cart state reader is required")
	}
	if deps.Mutator == nil {
		return nil, errors.New("quick order service: cart mutator is required")
	}
	if deps.MaxItems < 0 {
		return nil, errors.New("quick order service: max items must not be negative")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = NewResultReporter(logger)
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(quickOrderTracerName)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &quickOrderService{
		stock:     deps.Stock,
		cartState: deps.CartState,
		mutator:   deps.Mutator,
		reporter:  reporter,
		maxItems:  deps.MaxItems,
		metrics:   deps.Metrics,
		tracer:    tracer,
		now:       clock,
		logger:    logger,
	}, nil
}

func (s *quickOrderService) AddBatch(ctx context.Context, cmd AddBatchCommand) (BatchResult, error) {
	if ctx == nil {
		return BatchResult{}, fmt.Errorf("%w: context is required", ErrQuickOrderInvalidInput)
	}
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return BatchResult{}, fmt.Errorf("%w: cart id is required", ErrQuickOrderInvalidInput)
	}

	started := s.now()
	ctx, span := s.tracer.Start(ctx, "QuickOrder.AddBatch", trace.WithAttributes(attribute.String("cart.id", cartID)))
	defer span.End()

	result := BatchResult{CartID: cartID}

	request, err := ParseBatch(cmd.Identifiers, cmd.Quantities)
	if err != nil {
		var shape *domain.ShapeMismatch
		if !errors.As(err, &shape) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return BatchResult{}, err
		}
		return s.rejectShape(ctx, span, result, shape, started), nil
	}

	if n := len(request.Items); s.maxItems > 0 && n > s.maxItems {
		shape := &domain.ShapeMismatch{
			Reason:          domain.ShapeMismatchTooManyItems,
			IdentifierCount: n,
			QuantityCount:   n,
			Limit:           s.maxItems,
		}
		return s.rejectShape(ctx, span, result, shape, started), nil
	}
	span.SetAttributes(attribute.Int("batch.items", len(request.Items)))

	result.Items = make([]ItemResult, 0, len(request.Items))
	for _, item := range request.Items {
		outcome := s.processItem(ctx, cartID, item)
		result.Items = append(result.Items, ItemResult{Item: item, Outcome: outcome})
		if s.metrics != nil {
			s.metrics.ObserveItem(outcome.Kind, outcome.Reason)
		}
	}

	result.Messages = s.reporter.Report(ctx, result, sinkFromContext(ctx))
	s.observeBatch(len(result.Items), false, started)
	return result, nil
}

// rejectShape reports a batch-level failure. No item is processed.
func (s *quickOrderService) rejectShape(ctx context.Context, span trace.Span, result BatchResult, shape *domain.ShapeMismatch, started time.Time) BatchResult {
	result.ShapeError = shape
	result.Messages = s.reporter.Report(ctx, result, sinkFromContext(ctx))
	span.SetAttributes(attribute.String("batch.shape_error", string(shape.Reason)))
	s.logger(ctx, "quick_order_shape_mismatch", map[string]any{
		"cartId":          result.CartID,
		"reason":          string(shape.Reason),
		"identifierCount": shape.IdentifierCount,
		"quantityCount":   shape.QuantityCount,
		"limit":           shape.Limit,
	})
	s.observeBatch(0, true, started)
	return result
}

// processItem runs lookup, cart read, reconcile and mutate for one line. Failures are folded into the outcome.
func (s *quickOrderService) processItem(ctx context.Context, cartID string, item domain.RawLineItem) Outcome {
	ctx, span := s.tracer.Start(ctx, "QuickOrder.Item", trace.WithAttributes(
		attribute.Int("item.position", item.Position),
		attribute.String("item.identifier", item.Identifier),
	))
	defer span.End()

	outcome := s.reconcileItem(ctx, span, cartID, item)
	span.SetAttributes(attribute.String("item.outcome", string(outcome.Kind)))
	if outcome.Reason != "" {
		span.SetAttributes(attribute.String("item.reason", outcome.Reason))
	}
	return outcome
}

func (s *quickOrderService) reconcileItem(ctx context.Context, span trace.Span, cartID string, item domain.RawLineItem) Outcome {
	snapshot, err := s.stock.Lookup(ctx, item.Identifier)
	if err != nil {
		s.itemFailed(ctx, span, "quick_order_lookup_failed", cartID, item, err)
		return domain.RejectedNotFound(domain.ReasonLookupFailed)
	}

	// Cart state only matters once the request could succeed on every other check.
	preliminary := Reconcile(item.QuantityText, snapshot, 0)
	if preliminary.Kind != domain.OutcomeAdded && preliminary.Kind != domain.OutcomeClampedAdded &&
		preliminary.Kind != domain.OutcomeRejectedOutOfStock {
		return preliminary
	}

	state, err := s.cartState.Read(ctx, cartID, snapshot.ProductID)
	if err != nil {
		s.itemFailed(ctx, span, "quick_order_cart_read_failed", cartID, item, err)
		return domain.RejectedNotFound(domain.ReasonCartUnavailable)
	}

	outcome := Reconcile(item.QuantityText, snapshot, state.QtyInCart)
	if !outcome.Accepted() {
		return outcome
	}

	if _, err := s.mutator.Apply(ctx, state, snapshot, outcome.Qty, item.Identifier); err != nil {
		s.itemFailed(ctx, span, "quick_order_persist_failed", cartID, item, err)
		return domain.RejectedNotFound(domain.ReasonPersistFailed)
	}
	return outcome
}

func (s *quickOrderService) itemFailed(ctx context.Context, span trace.Span, event, cartID string, item domain.RawLineItem, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger(ctx, event, map[string]any{
		"cartId":     cartID,
		"position":   item.Position,
		"identifier": item.Identifier,
		"error":      err.Error(),
	})
}

func (s *quickOrderService) observeBatch(items int, shapeError bool, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveBatch(items, shapeError, s.now().Sub(started))
}

type messageSinkKey struct{}

// WithMessageSink attaches the sink that receives messages produced while processing a batch.
func WithMessageSink(ctx context.Context, sink MessageSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, messageSinkKey{}, sink)
}

func sinkFromContext(ctx context.Context) MessageSink {
	if ctx == nil {
		return nil
	}
	sink, _ := ctx.Value(messageSinkKey{}).(MessageSink)
	return sink
}

var _ QuickOrderService = (*quickOrderService)(nil)
