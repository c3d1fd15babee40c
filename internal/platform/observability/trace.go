package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/quickorder/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/hanko-field/quickorder/internal/platform/observability")

// Server span attributes set by AnnotateSession and AnnotateBatch.
const (
	attrSessionID  = attribute.Key("quickorder.session_id")
	attrCartID     = attribute.Key("quickorder.cart_id")
	attrBatchItems = attribute.Key("quickorder.batch.items")
	attrBatchAdded = attribute.Key("quickorder.batch.added")
	attrBatchShape = attribute.Key("quickorder.batch.shape_error")
)

// cloudTrace is the X-Cloud-Trace-Context value TRACE_ID/SPAN_ID;o=OPTIONS. The span id is decimal.
type cloudTrace struct {
	traceID trace.TraceID
	spanID  trace.SpanID
	sampled bool
}

func parseCloudTrace(header string) (cloudTrace, bool) {
	ids, options, _ := strings.Cut(strings.TrimSpace(header), ";")
	traceHex, spanText, ok := strings.Cut(ids, "/")
	if !ok {
		return cloudTrace{}, false
	}
	traceID, err := trace.TraceIDFromHex(strings.TrimSpace(traceHex))
	if err != nil {
		return cloudTrace{}, false
	}
	spanID, ok := parseSpanID(strings.TrimSpace(spanText))
	if !ok {
		return cloudTrace{}, false
	}
	return cloudTrace{traceID: traceID, spanID: spanID, sampled: strings.TrimSpace(options) == "o=1"}, true
}

// parseSpanID accepts the documented decimal form and, for callers that forward OTel ids, 16 hex digits.
func parseSpanID(value string) (trace.SpanID, bool) {
	var id trace.SpanID
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		binary.BigEndian.PutUint64(id[:], n)
		return id, id.IsValid()
	}
	if len(value) == 16 {
		if parsed, err := trace.SpanIDFromHex(value); err == nil {
			return parsed, true
		}
	}
	return trace.SpanID{}, false
}

func (c cloudTrace) spanContext() trace.SpanContext {
	var flags trace.TraceFlags
	if c.sampled {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    c.traceID,
		SpanID:     c.spanID,
		TraceFlags: flags,
		Remote:     true,
	})
}

func (c cloudTrace) String() string {
	option := 0
	if c.sampled {
		option = 1
	}
	return fmt.Sprintf("%s/%d;o=%d", c.traceID, binary.BigEndian.Uint64(c.spanID[:]), option)
}

// TraceMiddleware continues an incoming Cloud Trace context, starts the server span and exposes the ids on the
// request context for logs and error envelopes.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := parseCloudTrace(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote.spanContext())
			}
			ctx, span := tracer.Start(ctx, r.Method+" "+requestPath(r),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			sc := span.SpanContext()
			if sc.IsValid() {
				w.Header().Set(cloudTraceHeader, cloudTrace{traceID: sc.TraceID(), spanID: sc.SpanID(), sampled: sc.IsSampled()}.String())
			}
			ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestPath(r *http.Request) string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", SanitizeRoute(requestPath(r))),
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	if r.Header.Get("HX-Request") != "" {
		attrs = append(attrs, attribute.Bool("quickorder.htmx", true))
	}
	return attrs
}
