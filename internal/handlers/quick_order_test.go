package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/platform/flash"
	"github.com/hanko-field/quickorder/internal/platform/i18n"
	"github.com/hanko-field/quickorder/internal/platform/requestctx"
	"github.com/hanko-field/quickorder/internal/repositories/memory"
	"github.com/hanko-field/quickorder/internal/services"
)

type quickOrderEnv struct {
	carts   *memory.CartRepository
	flash   *flash.MemoryStore
	handler http.Handler
}

func newQuickOrderEnv(t *testing.T, opts ...QuickOrderOption) quickOrderEnv {
	t.Helper()
	ctx := context.Background()
	catalog := memory.NewCatalogRepository()
	if err := catalog.UpsertProducts(ctx, []domain.Product{
		{ID: "p-a", SKU: "A", Name: "A", Kind: domain.ProductKindSimple, Quantity: 5},
		{ID: "p-k", SKU: "KIT", Name: "Kit", Kind: domain.ProductKindComposite, Quantity: 9},
	}); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}
	carts := memory.NewCartRepository()

	stock, _ := services.NewStockLookup(catalog)
	state, _ := services.NewCartStateReader(carts)
	mutator, _ := services.NewCartMutator(services.CartMutatorDeps{Carts: carts})
	svc, err := services.NewQuickOrderService(services.QuickOrderServiceDeps{Stock: stock, CartState: state, Mutator: mutator, MaxItems: 3})
	if err != nil {
		t.Fatalf("NewQuickOrderService: %v", err)
	}
	bundle, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("i18n.Load: %v", err)
	}
	store := flash.NewMemoryStore(time.Minute, nil)
	h := NewQuickOrderHandlers(svc, store, bundle, opts...)

	withSession := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.WithSession(r.Context(), requestctx.SessionInfo{SessionID: "s1", CartID: "cart-1"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router := NewRouter(WithSessionMiddlewares(withSession), WithQuickOrder(h))
	return quickOrderEnv{carts: carts, flash: store, handler: router}
}

func formPost(sku, qty string) *http.Request {
	form := url.Values{"sku": {sku}, "qty": {qty}}
	req := httptest.NewRequest(http.MethodPost, "/quick-order", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestQuickOrderFormRedirectsAndFlashesMessages(t *testing.T) {
	env := newQuickOrderEnv(t)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, formPost("A, B", "2, 3"))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/quick-order" {
		t.Fatalf("expected 303 to /quick-order, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	cart, err := env.carts.GetCart(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("expected A added with qty 2, got %+v", cart.Items)
	}

	read := httptest.NewRecorder()
	env.handler.ServeHTTP(read, httptest.NewRequest(http.MethodGet, "/quick-order/messages", nil))
	var body struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(read.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected two messages, got %+v", body.Messages)
	}
	if body.Messages[0].Text != "product added to cart" || body.Messages[1].Text != "product does not exist or has no quantity" {
		t.Fatalf("unexpected messages %+v", body.Messages)
	}

	again := httptest.NewRecorder()
	env.handler.ServeHTTP(again, httptest.NewRequest(http.MethodGet, "/quick-order/messages", nil))
	if strings.Contains(again.Body.String(), "product added") {
		t.Fatalf("expected messages to be consumed, got %s", again.Body.String())
	}
}

func TestQuickOrderHTMXGetsHXRedirect(t *testing.T) {
	env := newQuickOrderEnv(t, WithRedirectPath("/cart"))
	req := formPost("A", "1")
	req.Header.Set("HX-Request", "true")

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("HX-Redirect") != "/cart" {
		t.Fatalf("expected 204 with HX-Redirect, got %d %v", rr.Code, rr.Header())
	}
}

func TestQuickOrderJSONReturnsItemsAndLocalisedMessages(t *testing.T) {
	env := newQuickOrderEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quick-order", bytes.NewBufferString(`{"sku":"A, KIT","qty":"9, 1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "ja")

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body quickOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("expected two items, got %+v", body.Items)
	}
	if body.Items[0].Outcome != string(domain.OutcomeClampedAdded) || body.Items[0].Added != 5 {
		t.Fatalf("expected A clamped to 5, got %+v", body.Items[0])
	}
	if body.Items[1].Outcome != string(domain.OutcomeRejectedNotSimple) {
		t.Fatalf("expected KIT rejected as not simple, got %+v", body.Items[1])
	}
	if body.Messages[0].Text != "5点のみカートに追加しました" {
		t.Fatalf("expected japanese clamp message, got %q", body.Messages[0].Text)
	}
	if body.Redirect != "/quick-order" {
		t.Fatalf("unexpected redirect %q", body.Redirect)
	}
}

func TestQuickOrderShapeMismatchFlashesSingleMessage(t *testing.T) {
	env := newQuickOrderEnv(t)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, formPost("A, B", "1"))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	pending, err := env.flash.Pop(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(pending) != 1 || pending[0].Code != domain.MessageCodeCountsMismatch {
		t.Fatalf("expected counts mismatch message, got %+v", pending)
	}
}

func TestQuickOrderOversizedBatchRedirectsWithMessage(t *testing.T) {
	env := newQuickOrderEnv(t)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, formPost("A, A, A, A", "1, 1, 1, 1"))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/quick-order" {
		t.Fatalf("expected 303 to /quick-order, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	pending, err := env.flash.Pop(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(pending) != 1 || pending[0].Code != domain.MessageCodeTooManyItems || pending[0].Kind != domain.MessageKindError {
		t.Fatalf("expected a single too many items message, got %+v", pending)
	}
	if pending[0].Params["max"] != 3 {
		t.Fatalf("expected limit 3 in params, got %+v", pending[0].Params)
	}
	if _, err := env.carts.GetCart(context.Background(), "cart-1"); err == nil {
		t.Fatalf("expected nothing to be added")
	}
}

func TestQuickOrderRateLimited(t *testing.T) {
	env := newQuickOrderEnv(t, WithRateLimit(1, 1, nil))

	first := httptest.NewRecorder()
	env.handler.ServeHTTP(first, formPost("A", "1"))
	second := httptest.NewRecorder()
	env.handler.ServeHTTP(second, formPost("A", "1"))

	if first.Code != http.StatusSeeOther || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 303 then 429, got %d then %d", first.Code, second.Code)
	}
	if got := second.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
}

func TestQuickOrderRequiresSession(t *testing.T) {
	h := NewQuickOrderHandlers(nil, nil, nil)
	router := NewRouter(WithQuickOrder(h))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, formPost("A", "1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without session, got %d", rr.Code)
	}
}
