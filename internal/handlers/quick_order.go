package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/platform/flash"
	"github.com/hanko-field/quickorder/internal/platform/httpx"
	"github.com/hanko-field/quickorder/internal/platform/i18n"
	"github.com/hanko-field/quickorder/internal/platform/observability"
	"github.com/hanko-field/quickorder/internal/platform/requestctx"
	"github.com/hanko-field/quickorder/internal/services"
)

const (
	defaultRedirectPath = "/quick-order"
	maxJSONBodyBytes    = 64 << 10
)

// QuickOrderHandlers exposes the batch add endpoints and the flash message read-back.
type QuickOrderHandlers struct {
	service      services.QuickOrderService
	flash        flash.Store
	bundle       *i18n.Bundle
	redirectPath string
	limiter      rateLimiter
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// QuickOrderOption customises QuickOrderHandlers.
type QuickOrderOption func(*QuickOrderHandlers)

// WithRedirectPath sets where form posts are redirected after processing.
func WithRedirectPath(path string) QuickOrderOption {
	return func(h *QuickOrderHandlers) {
		if path = strings.TrimSpace(path); strings.HasPrefix(path, "/") {
			h.redirectPath = path
		}
	}
}

// WithRateLimit limits quick order posts per client address. Zero disables limiting.
func WithRateLimit(perMinute, burst int, clock func() time.Time) QuickOrderOption {
	return func(h *QuickOrderHandlers) {
		h.limiter = newRateLimiter(perMinute, burst, clock)
	}
}

// WithQuickOrderLogger sets the logger for flash store failures.
func WithQuickOrderLogger(logger func(ctx context.Context, event string, fields map[string]any)) QuickOrderOption {
	return func(h *QuickOrderHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewQuickOrderHandlers builds the handlers. store and bundle may be nil, which disables flash messages and localisation.
func NewQuickOrderHandlers(service services.QuickOrderService, store flash.Store, bundle *i18n.Bundle, opts ...QuickOrderOption) *QuickOrderHandlers {
	h := &QuickOrderHandlers{
		service:      service,
		flash:        store,
		bundle:       bundle,
		redirectPath: defaultRedirectPath,
		logger:       func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the browser facing endpoints.
func (h *QuickOrderHandlers) Routes(r chi.Router) {
	r.Post("/quick-order", h.submitForm)
	r.Get("/quick-order/messages", h.messages)
}

// APIRoutes registers the JSON endpoint under the API prefix.
func (h *QuickOrderHandlers) APIRoutes(r chi.Router) {
	r.Post("/quick-order", h.submitJSON)
}

type quickOrderRequest struct {
	SKU string `json:"sku"`
	Qty string `json:"qty"`
}

type itemPayload struct {
	Position   int    `json:"position"`
	Identifier string `json:"identifier"`
	Quantity   string `json:"quantity"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	Added      int    `json:"added,omitempty"`
	MaxAddable *int   `json:"maxAddable,omitempty"`
}

type quickOrderResponse struct {
	Redirect string           `json:"redirect"`
	Messages []domain.Message `json:"messages"`
	Items    []itemPayload    `json:"items"`
}

func (h *QuickOrderHandlers) submitForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.admit(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_form", "unable to parse form", http.StatusBadRequest))
		return
	}

	_, messages, err := h.run(ctx, session, r.PostForm.Get("sku"), r.PostForm.Get("qty"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if h.flash != nil {
		if err := h.flash.Push(ctx, session.SessionID, messages...); err != nil {
			h.logger(ctx, "quick_order_flash_failed", map[string]any{"error": err.Error()})
		}
	}

	if strings.EqualFold(r.Header.Get("HX-Request"), "true") {
		w.Header().Set("HX-Redirect", h.redirectPath)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, h.redirectPath, http.StatusSeeOther)
}

func (h *QuickOrderHandlers) submitJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.admit(w, r)
	if !ok {
		return
	}
	var req quickOrderRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "request body must be a JSON object with sku and qty", http.StatusBadRequest))
		return
	}

	result, messages, err := h.run(ctx, session, req.SKU, req.Qty)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quickOrderResponse{
		Redirect: h.redirectPath,
		Messages: h.localize(session, r, messages),
		Items:    itemPayloads(result.Items),
	})
}

func (h *QuickOrderHandlers) messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requestctx.Session(ctx)
	if !ok || session.SessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session cookie is required", http.StatusBadRequest))
		return
	}
	var pending []domain.Message
	if h.flash != nil {
		var err error
		pending, err = h.flash.Pop(ctx, session.SessionID)
		if err != nil {
			h.logger(ctx, "quick_order_flash_failed", map[string]any{"error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("messages_unavailable", "messages are temporarily unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"messages": h.localize(session, r, pending)})
}

// admit applies the rate limit and requires a session with a cart.
func (h *QuickOrderHandlers) admit(w http.ResponseWriter, r *http.Request) (requestctx.SessionInfo, bool) {
	ctx := r.Context()
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many quick order submissions", http.StatusTooManyRequests).WithRetryAfter(time.Minute))
		return requestctx.SessionInfo{}, false
	}
	session, ok := requestctx.Session(ctx)
	if !ok || session.CartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session cookie is required", http.StatusBadRequest))
		return requestctx.SessionInfo{}, false
	}
	return session, true
}

func (h *QuickOrderHandlers) run(ctx context.Context, session requestctx.SessionInfo, skus, qtys string) (services.BatchResult, []domain.Message, error) {
	collector := &services.MessageCollector{}
	result, err := h.service.AddBatch(services.WithMessageSink(ctx, collector), services.AddBatchCommand{
		CartID:      session.CartID,
		Identifiers: skus,
		Quantities:  qtys,
	})
	if err != nil {
		return services.BatchResult{}, nil, err
	}
	observability.AnnotateBatch(ctx, result)
	return result, collector.Messages(), nil
}

func (h *QuickOrderHandlers) localize(session requestctx.SessionInfo, r *http.Request, messages []domain.Message) []domain.Message {
	if messages == nil {
		messages = []domain.Message{}
	}
	if h.bundle == nil {
		return messages
	}
	lang := session.Locale
	if lang == "" {
		lang = h.bundle.Resolve(r.Header.Get("Accept-Language"))
	}
	return h.bundle.LocalizeAll(lang, messages)
}

func itemPayloads(items []services.ItemResult) []itemPayload {
	out := make([]itemPayload, 0, len(items))
	for _, item := range items {
		payload := itemPayload{
			Position:   item.Item.Position,
			Identifier: item.Item.Identifier,
			Quantity:   item.Item.QuantityText,
			Outcome:    string(item.Outcome.Kind),
			Reason:     item.Outcome.Reason,
		}
		if item.Outcome.Accepted() {
			payload.Added = item.Outcome.Qty
		}
		if item.Outcome.Kind == domain.OutcomeRejectedOutOfStock {
			maxAddable := item.Outcome.MaxAddable
			payload.MaxAddable = &maxAddable
		}
		out = append(out, payload)
	}
	return out
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrQuickOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("quick_order_failed", "unable to process quick order", http.StatusInternalServerError))
	}
}
