package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hanko-field/quickorder/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newPost(key, body, session string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/quick-order", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	if session != "" {
		req = req.WithContext(requestctx.WithSession(req.Context(), requestctx.SessionInfo{SessionID: session}))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Location", "/quick-order")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusSeeOther))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newPost("", "sku=A&qty=1", "s1"))
		if rr.Code != http.StatusSeeOther {
			t.Fatalf("expected 303, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no records without a key")
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusSeeOther))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newPost("submit-1", "sku=A&qty=1", "s1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newPost("submit-1", "sku=A&qty=1", "s1"))

	if calls != 1 {
		t.Fatalf("expected handler once, got %d", calls)
	}
	if second.Code != http.StatusSeeOther || second.Header().Get("Location") != "/quick-order" {
		t.Fatalf("unexpected replay %d %v", second.Code, second.Header())
	}
	if second.Header().Get(ReplayHeaderName) != "true" || second.Body.String() != "ok" {
		t.Fatalf("expected replay marker and body, got %v %q", second.Header(), second.Body.String())
	}
}

func TestMiddlewareScopesKeysBySession(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusSeeOther))

	handler.ServeHTTP(httptest.NewRecorder(), newPost("same", "sku=A&qty=1", "s1"))
	handler.ServeHTTP(httptest.NewRecorder(), newPost("same", "sku=A&qty=1", "s2"))

	if calls != 2 {
		t.Fatalf("expected separate sessions to run independently, got %d calls", calls)
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusSeeOther))

	handler.ServeHTTP(httptest.NewRecorder(), newPost("k", "sku=A&qty=1", "s1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPost("k", "sku=B&qty=1", "s1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusServiceUnavailable))

	handler.ServeHTTP(httptest.NewRecorder(), newPost("k", "sku=A&qty=1", "s1"))
	handler.ServeHTTP(httptest.NewRecorder(), newPost("k", "sku=A&qty=1", "s1"))

	if calls != 2 {
		t.Fatalf("expected retry after 5xx to reach handler, got %d", calls)
	}
}

func TestMiddlewareReportsPendingKey(t *testing.T) {
	store := NewMemoryStore()
	req := newPost("k", "sku=A&qty=1", "s1")
	fingerprint := fingerprintRequest(req, []byte("sku=A&qty=1"))
	if _, err := store.Reserve(context.Background(), scopeKey("k", "s1"), fingerprint, time.Now(), time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	var calls int
	rr := httptest.NewRecorder()
	Middleware(store)(countingHandler(&calls, http.StatusOK)).ServeHTTP(rr, req)
	if calls != 0 || rr.Code != http.StatusConflict {
		t.Fatalf("expected pending conflict, got %d with %d calls", rr.Code, calls)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

type failingStore struct{ err error }

func (f failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{}, f.err
}

func (f failingStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return f.err
}

func (f failingStore) Release(context.Context, string) error { return f.err }

func TestMiddlewareStoreFailureIsUnavailable(t *testing.T) {
	var logged []string
	logger := func(_ context.Context, event string, _ map[string]any) { logged = append(logged, event) }
	var calls int
	rr := httptest.NewRecorder()
	Middleware(failingStore{err: errors.New("redis down")}, WithLogger(logger))(countingHandler(&calls, http.StatusOK)).ServeHTTP(rr, newPost("k", "x", "s1"))

	if rr.Code != http.StatusServiceUnavailable || calls != 0 {
		t.Fatalf("expected 503 without handler call, got %d/%d", rr.Code, calls)
	}
	if len(logged) != 1 || logged[0] != "idempotency_reserve_failed" {
		t.Fatalf("expected reserve failure logged, got %v", logged)
	}
}

func TestMemoryStoreExpiresRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "k", "f1", fixedTime, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	res, err := store.Reserve(ctx, "k", "f2", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("expected expired record to be replaced, got %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer func() { _ = rdb.Close() }()

	store, err := NewRedisStore(rdb, "quickorder-test:idem:"+time.Now().Format("150405.000000")+":")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	ctx := context.Background()

	res, err := store.Reserve(ctx, "k", "f", time.Now(), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v %v", res.State, err)
	}
	if res, err := store.Reserve(ctx, "k", "f", time.Now(), time.Minute); err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending, got %v %v", res.State, err)
	}
	if err := store.SaveResponse(ctx, "k", "f", Response{Status: http.StatusSeeOther}, time.Now(), time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	res, err = store.Reserve(ctx, "k", "f", time.Now(), time.Minute)
	if err != nil || res.State != ReservationStateCompleted || res.Record.ResponseStatus != http.StatusSeeOther {
		t.Fatalf("expected completed record, got %+v %v", res, err)
	}
	if _, err := store.Reserve(ctx, "k", "other", time.Now(), time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}
	if err := store.Release(ctx, "k"); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func assertErrorCode(t *testing.T, body []byte, want string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != want {
		t.Fatalf("expected error %q, got %v", want, payload["error"])
	}
}
