package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	domain "github.com/hanko-field/quickorder/internal/domain"
	"github.com/hanko-field/quickorder/internal/platform/httpx"
	"github.com/hanko-field/quickorder/internal/platform/requestctx"
)

// InjectLoggerMiddleware stores logger on the request context.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

type requestScopeKey struct{}

// requestScope collects fields learned below the request logger: the session resolved by the cookie
// middleware and the outcome of the batch.
type requestScope struct {
	mu     sync.Mutex
	fields []zap.Field
}

func scopeFrom(ctx context.Context) *requestScope {
	scope, _ := ctx.Value(requestScopeKey{}).(*requestScope)
	return scope
}

func (s *requestScope) add(fields ...zap.Field) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.fields = append(s.fields, fields...)
	s.mu.Unlock()
}

func (s *requestScope) collected() []zap.Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]zap.Field(nil), s.fields...)
}

// AnnotateSession tags the server span, the completion log entry and the request logger with the session and
// its cart. The returned context carries the enriched logger.
func AnnotateSession(ctx context.Context, info requestctx.SessionInfo) context.Context {
	sessionID := SanitizeSessionID(info.SessionID)
	cartID := SanitizeIdentifier(info.CartID)
	trace.SpanFromContext(ctx).SetAttributes(attrSessionID.String(sessionID), attrCartID.String(cartID))

	fields := []zap.Field{zap.String("session_id", sessionID), zap.String("cart_id", cartID)}
	scopeFrom(ctx).add(fields...)
	return requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(fields...))
}

// AnnotateBatch records how many lines a submission had and how many reached the cart.
func AnnotateBatch(ctx context.Context, result domain.BatchResult) {
	added := 0
	for _, item := range result.Items {
		if item.Outcome.Accepted() {
			added++
		}
	}
	attrs := []attribute.KeyValue{attrBatchItems.Int(len(result.Items)), attrBatchAdded.Int(added)}
	fields := []zap.Field{zap.Int("batch_items", len(result.Items)), zap.Int("batch_added", added)}
	if result.ShapeError != nil {
		reason := string(result.ShapeError.Reason)
		attrs = append(attrs, attrBatchShape.String(reason))
		fields = append(fields, zap.String("batch_shape_error", reason))
	}
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
	scopeFrom(ctx).add(fields...)
}

// RequestLoggerMiddleware writes one completion entry per request, including whatever AnnotateSession and
// AnnotateBatch recorded downstream. A panicking handler is logged as a 500 before the panic continues.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)
			if traceInfo.ProjectID == "" {
				traceInfo.ProjectID = projectID
			}
			logger := requestctx.Logger(ctx).With(
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", SanitizeMethod(r.Method)),
				zap.String("trace_id", traceInfo.TraceID),
			)
			if resource := loggingTraceResource(traceInfo); resource != "" {
				logger = logger.With(zap.String("logging.googleapis.com/trace", resource))
			}
			if ip := remoteIP(r); ip != "" {
				logger = logger.With(zap.String("remote_ip", ip))
			}

			scope := &requestScope{}
			ctx = context.WithValue(requestctx.WithLogger(ctx, logger), requestScopeKey{}, scope)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			finished := false

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if !finished {
					status = http.StatusInternalServerError
				}
				route := SanitizeRoute(routePattern(r))

				span := trace.SpanFromContext(ctx)
				span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(status))
				}

				fields := append([]zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				}, scope.collected()...)
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
			finished = true
		})
	}
}

// RecoveryMiddleware turns a panic into the JSON 500 envelope. http.ErrAbortHandler is re-raised.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				trace.SpanFromContext(ctx).SetStatus(codes.Error, "panic")
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// routePattern is read after the handler ran, once chi has matched the route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return requestPath(r)
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

func loggingTraceResource(info requestctx.TraceInfo) string {
	if info.ProjectID == "" || info.TraceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)
}
