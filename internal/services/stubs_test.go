package services

import (
	"context"
	"sync"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

type repositoryErrorStub struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string       { return e.msg }
func (e *repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e *repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e *repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

type stubCatalogRepository struct {
	findFunc func(ctx context.Context, skus []string) ([]domain.Product, error)
	calls    [][]string
}

func (s *stubCatalogRepository) FindBySKUs(ctx context.Context, skus []string) ([]domain.Product, error) {
	s.calls = append(s.calls, append([]string(nil), skus...))
	if s.findFunc == nil {
		return nil, nil
	}
	return s.findFunc(ctx, skus)
}

type stubCartRepository struct {
	getFunc  func(ctx context.Context, cartID string) (domain.Cart, error)
	saveFunc func(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	saved    []domain.Cart
}

func (s *stubCartRepository) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if s.getFunc == nil {
		return domain.Cart{}, &repositoryErrorStub{msg: "missing", notFound: true}
	}
	return s.getFunc(ctx, cartID)
}

func (s *stubCartRepository) SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	s.saved = append(s.saved, cart)
	if s.saveFunc == nil {
		cart.Version++
		return cart, nil
	}
	return s.saveFunc(ctx, cart)
}

type stubEventPublisher struct {
	mu     sync.Mutex
	events []AddToCartEvent
	err    error
}

func (s *stubEventPublisher) PublishAddToCart(_ context.Context, event AddToCartEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

type failingSink struct {
	err   error
	calls int
}

func (s *failingSink) ReportMessage(context.Context, Message) error {
	s.calls++
	return s.err
}

type logEntry struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}
