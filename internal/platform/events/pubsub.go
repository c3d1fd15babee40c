package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// PubSubPublisher publishes events to a Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubPublisher opens a client for projectID and binds topicID. Pass option.WithEndpoint for emulators.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub publisher: project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: new client: %w", err)
	}
	return &PubSubPublisher{client: client, topic: client.Topic(topicID)}, nil
}

// NewPubSubTopicPublisher wraps an existing topic. The caller owns the client.
func NewPubSubTopicPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

// PublishAddToCart publishes and waits for the server ack.
func (p *PubSubPublisher) PublishAddToCart(ctx context.Context, event domain.AddToCartEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	data, attrs, err := encode(event)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", event.Name, err)
	}
	return nil
}

// Ping reports whether the topic exists.
func (p *PubSubPublisher) Ping(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("pubsub publisher: %w", err)
	}
	if !ok {
		return fmt.Errorf("pubsub publisher: topic %s not found", p.topic.ID())
	}
	return nil
}

// Close flushes pending messages and closes the owned client.
func (p *PubSubPublisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

var (
	_ Publisher = (*PubSubPublisher)(nil)
	_ Pinger    = (*PubSubPublisher)(nil)
)
