package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by cart id so one cart's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  MessageWriter
	brokers []string
}

// NewKafkaPublisher builds a writer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, batchTimeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka publisher: brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	return &KafkaPublisher{writer: writer, brokers: brokers}, nil
}

// NewKafkaWriterPublisher wraps an existing writer.
func NewKafkaWriterPublisher(writer MessageWriter) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka publisher: writer is required")
	}
	return &KafkaPublisher{writer: writer}, nil
}

func (p *KafkaPublisher) PublishAddToCart(ctx context.Context, event domain.AddToCartEvent) error {
	data, attrs, err := encode(event)
	if err != nil {
		return err
	}
	headers := make([]kafka.Header, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	msg := kafka.Message{
		Key:     []byte(event.CartID),
		Value:   data,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", attrs["event"], err)
	}
	return nil
}

// Ping dials the first broker.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return nil
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("kafka publisher: dial %s: %w", p.brokers[0], err)
	}
	return conn.Close()
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Pinger    = (*KafkaPublisher)(nil)
)
