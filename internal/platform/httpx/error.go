package httpx

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/quickorder/internal/platform/requestctx"
)

// Error describes a request the quick order endpoints could not take. Per-line problems are never
// errors; they travel as messages on a successful response.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
}

type errorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	CartID    string `json:"cart_id,omitempty"`
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: sanitize(code, 80), Message: sanitize(message, 512), Status: status}
}

// WithRetryAfter asks the client to wait before resubmitting.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// WriteError writes the envelope. The request id, trace id and session cart come from ctx so a support
// request can be matched to the cart it concerned.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	envelope := errorEnvelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: sanitize(middleware.GetReqID(ctx), 80),
		TraceID:   sanitize(requestctx.TraceID(ctx), 64),
	}
	if session, ok := requestctx.Session(ctx); ok {
		envelope.CartID = sanitize(session.CartID, 80)
	}
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(err.RetryAfter.Seconds()))))
	}
	WriteJSON(w, status, envelope)
}

// WriteJSON encodes payload with the given status. Responses carry per-session messages and are never cached.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func sanitize(value string, limit int) string {
	value = strings.TrimSpace(lineBreaks.Replace(value))
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	for len(value) > 0 && !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}
