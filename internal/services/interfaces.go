package services

import (
	"context"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	StockSnapshot      = domain.StockSnapshot
	BatchRequest       = domain.BatchRequest
	BatchResult        = domain.BatchResult
	ItemResult         = domain.ItemResult
	Outcome            = domain.Outcome
	Message            = domain.Message
	AddToCartEvent     = domain.AddToCartEvent
	SystemHealthReport = domain.SystemHealthReport
)

// QuickOrderService adds a batch of identifier/quantity pairs to a cart, item by item.
type QuickOrderService interface {
	AddBatch(ctx context.Context, cmd AddBatchCommand) (BatchResult, error)
}

// StockReader resolves identifiers to fresh stock snapshots.
type StockReader interface {
	Lookup(ctx context.Context, identifier string) (StockSnapshot, error)
	LookupMany(ctx context.Context, identifiers []string) ([]StockSnapshot, error)
}

// EventPublisher emits add_to_cart notifications to downstream consumers.
type EventPublisher interface {
	PublishAddToCart(ctx context.Context, event AddToCartEvent) error
}

// MessageSink receives user facing notices as they are produced.
type MessageSink interface {
	ReportMessage(ctx context.Context, message Message) error
}

// SystemService exposes health information for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// AddBatchCommand carries one quick order submission. Identifiers and Quantities are the raw
// delimiter separated strings exactly as submitted.
type AddBatchCommand struct {
	CartID      string
	Identifiers string
	Quantities  string
}

// MessageCollector is a MessageSink that keeps messages in memory, in order.
type MessageCollector struct {
	messages []Message
}

// ReportMessage implements MessageSink.
func (c *MessageCollector) ReportMessage(_ context.Context, message Message) error {
	c.messages = append(c.messages, message)
	return nil
}

// Messages returns the collected messages.
func (c *MessageCollector) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}
