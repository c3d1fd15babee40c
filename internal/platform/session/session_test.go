package session

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/quickorder/internal/platform/requestctx"
)

func newTestManager() *Manager {
	n := 0
	return NewManager(Options{
		Secret: []byte("test-secret"),
		Clock:  func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return "id-" + strconv.Itoa(n)
		},
		Locale: func(r *http.Request) string { return r.Header.Get("Accept-Language") },
	})
}

func capture(m *Manager, req *http.Request) (requestctx.SessionInfo, *httptest.ResponseRecorder) {
	var info requestctx.SessionInfo
	rr := httptest.NewRecorder()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Session(r.Context())
	})).ServeHTTP(rr, req)
	return info, rr
}

func TestMiddlewareIssuesSessionAndCart(t *testing.T) {
	m := newTestManager()
	req := httptest.NewRequest(http.MethodGet, "/quick-order/messages", nil)
	req.Header.Set("Accept-Language", "ja")

	info, rr := capture(m, req)
	if info.SessionID != "id-1" || info.CartID != "id-2" || info.Locale != "ja" {
		t.Fatalf("unexpected session %+v", info)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCookieName || !cookies[0].HttpOnly {
		t.Fatalf("expected one http-only session cookie, got %+v", cookies)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	m := newTestManager()
	req := httptest.NewRequest(http.MethodPost, "/quick-order", nil)
	req.AddCookie(&http.Cookie{Name: m.CookieName(), Value: m.Encode("s-9", "cart-9")})

	info, rr := capture(m, req)
	if info.SessionID != "s-9" || info.CartID != "cart-9" {
		t.Fatalf("expected session from cookie, got %+v", info)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("expected no new cookie for a valid session")
	}
}

func TestMiddlewareRejectsTamperedCookie(t *testing.T) {
	m := newTestManager()
	other := NewManager(Options{Secret: []byte("other-secret")})
	req := httptest.NewRequest(http.MethodPost, "/quick-order", nil)
	req.AddCookie(&http.Cookie{Name: m.CookieName(), Value: other.Encode("s-9", "cart-9")})

	info, rr := capture(m, req)
	if info.SessionID == "s-9" || info.CartID == "cart-9" {
		t.Fatalf("expected forged session to be replaced, got %+v", info)
	}
	if len(rr.Result().Cookies()) != 1 {
		t.Fatalf("expected a fresh cookie")
	}
}

func TestMiddlewareTagsRequestLoggerWithCart(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := newTestManager()

	var info requestctx.SessionInfo
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Session(r.Context())
		requestctx.Logger(r.Context()).Info("handled")
	}))
	req := httptest.NewRequest(http.MethodGet, "/quick-order", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(requestctx.WithLogger(req.Context(), zap.New(core))))

	entries := logs.FilterMessage("handled").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["cart_id"] != info.CartID || fields["session_id"] != info.SessionID || info.CartID == "" {
		t.Fatalf("expected session fields %+v, got %v", info, fields)
	}
}
