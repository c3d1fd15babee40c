package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Each attempt re-reads the document, so a lost race surfaces as ErrStaleVersion rather than a retry.
	defaultTxAttempts = 3
	defaultTxTimeout  = 5 * time.Second
)

// ErrStaleVersion reports that the stored document moved past the version the caller read.
var ErrStaleVersion = errors.New("firestore: stale version")

// TxOption customises CheckAndSet.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides how often an aborted transaction is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// VersionFunc reads the optimistic version stored on a document.
type VersionFunc[T any] func(T) int64

// BuildFunc produces the document to write from the stored one. exists is false when nothing is stored.
type BuildFunc[T any] func(current T, exists bool) (T, error)

// CheckAndSet writes build's result only if the stored version equals expected. A missing document has
// version 0, so expected 0 creates and anything else against a missing document is stale. A mismatch
// returns a conflict *Error wrapping ErrStaleVersion; contention that exhausts the retries is a conflict too.
func (r *BaseRepository[T]) CheckAndSet(ctx context.Context, id string, expected int64, version VersionFunc[T], build BuildFunc[T], opts ...TxOption) (T, error) {
	var zero T
	op := r.op("check_and_set")
	if version == nil || build == nil {
		return zero, WrapError(op, errors.New("firestore: version and build functions are required"))
	}
	ref, err := r.documentRef(ctx, id)
	if err != nil {
		return zero, err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return zero, err
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var written T
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, exists, err := r.txGet(ctx, tx, ref)
		if err != nil {
			return err
		}
		stored := int64(0)
		if exists {
			stored = version(current)
		}
		if stored != expected {
			return staleVersion(op, id, stored, expected, exists)
		}
		next, err := build(current, exists)
		if err != nil {
			return err
		}
		payload, err := r.encode(ctx, next)
		if err != nil {
			return fmt.Errorf("firestore: encode document %s: %w", id, err)
		}
		if err := tx.Set(ref, payload); err != nil {
			return err
		}
		written = next
		return nil
	}, firestore.MaxAttempts(cfg.attempts))
	if err != nil {
		return zero, WrapError(op, err)
	}
	return written, nil
}

func (r *BaseRepository[T]) txGet(ctx context.Context, tx *firestore.Transaction, ref *firestore.DocumentRef) (T, bool, error) {
	var zero T
	snapshot, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	value, err := r.decode(ctx, snapshot)
	if err != nil {
		return zero, false, fmt.Errorf("firestore: decode document %s: %w", ref.ID, err)
	}
	return value, true, nil
}

func staleVersion(op, id string, stored, expected int64, exists bool) *Error {
	err := fmt.Errorf("document %s is at version %d, expected %d: %w", id, stored, expected, ErrStaleVersion)
	if !exists {
		err = fmt.Errorf("document %s was removed, expected version %d: %w", id, expected, ErrStaleVersion)
	}
	return &Error{op: op, err: err, conflict: true}
}
