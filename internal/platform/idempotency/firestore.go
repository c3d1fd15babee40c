package idempotency

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
	defaultFirestoreCollection = "quick_order_idempotency"
	defaultFirestoreAttempts   = 3
)

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding reservations.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// FirestoreStore keeps reservations next to the carts when no Redis is configured.
// Expired documents are overwritten on the next reservation.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

// NewFirestoreStore wraps a Firestore client.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: firestore client is required")
	}
	s := &FirestoreStore{client: client, collection: defaultFirestoreCollection, maxAttempts: defaultFirestoreAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

type firestoreRecord struct {
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(hashKey(key))
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ref := s.doc(key)
	pending := Record{Fingerprint: fingerprint, Status: StatusPending, UpdatedAt: now, ExpiresAt: now.Add(normaliseTTL(ttl))}

	var result Reservation
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var stored firestoreRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if now.Before(stored.ExpiresAt) {
				if stored.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				record := stored.toRecord()
				if record.Status == StatusCompleted {
					result = Reservation{State: ReservationStateCompleted, Record: record}
				} else {
					result = Reservation{State: ReservationStatePending, Record: record}
				}
				return nil
			}
		}
		result = Reservation{State: ReservationStateNew, Record: pending}
		return tx.Set(ref, fromRecord(pending))
	}, firestore.MaxAttempts(s.maxAttempts))
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return Reservation{}, err
		}
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	record := completedRecord(fingerprint, resp, now.UTC(), normaliseTTL(ttl))
	ref := s.doc(key)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var stored firestoreRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if stored.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		return tx.Set(ref, fromRecord(record))
	}, firestore.MaxAttempts(s.maxAttempts))
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return err
		}
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

var _ Store = (*FirestoreStore)(nil)
