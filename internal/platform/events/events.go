// Package events publishes add_to_cart notifications to the configured sink.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// Publisher is implemented by every sink.
type Publisher interface {
	PublishAddToCart(ctx context.Context, event domain.AddToCartEvent) error
	Close() error
}

// Pinger is implemented by sinks that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishAddToCart(context.Context, domain.AddToCartEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }

// LogPublisher writes events to the structured logger.
type LogPublisher struct {
	log func(ctx context.Context, event string, fields map[string]any)
}

// NewLogPublisher constructs a LogPublisher. A nil log function drops events.
func NewLogPublisher(log func(ctx context.Context, event string, fields map[string]any)) *LogPublisher {
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishAddToCart(ctx context.Context, event domain.AddToCartEvent) error {
	p.log(ctx, event.Name, map[string]any{
		"identifier": event.Identifier,
		"productId":  event.ProductID,
		"cartId":     event.CartID,
		"quantity":   event.Quantity,
		"occurredAt": event.OccurredAt,
	})
	return nil
}

func (p *LogPublisher) Close() error { return nil }

func encode(event domain.AddToCartEvent) ([]byte, map[string]string, error) {
	if strings.TrimSpace(event.Name) == "" {
		event.Name = domain.EventAddToCart
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s event: %w", event.Name, err)
	}
	attrs := map[string]string{"event": event.Name}
	setAttr(attrs, "cartId", event.CartID)
	setAttr(attrs, "productId", event.ProductID)
	attrs["quantity"] = strconv.Itoa(event.Quantity)
	return data, attrs, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var (
	_ Publisher = NoopPublisher{}
	_ Publisher = (*LogPublisher)(nil)
)
