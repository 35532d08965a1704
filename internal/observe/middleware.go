package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// routeLabel collapses a request path onto the gateway's fixed route set so
// the per-route histogram keeps bounded cardinality. Anything outside the
// served surface (scanners, typos) is grouped under "unmatched".
func routeLabel(path string) string {
	switch path {
	case "/v1/chat", "/healthz", "/readyz", "/metrics", "/mcp":
		return path
	}
	return "unmatched"
}

// responseWriter records the status code written by the wrapped handler.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware wraps an HTTP handler with the gateway's request telemetry: a
// server span that carries W3C trace context in and out, an X-Correlation-ID
// response header derived from the trace ID, one
// [Metrics.HTTPRequestDuration] sample per request labelled by
// method/route/status, and a completion log line through the trace-aware
// [Logger].
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	propagator := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel(r.URL.Path)
			start := time.Now()

			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", rw.status),
				),
			)

			Logger(ctx).Info("request served",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", rw.status,
				"duration", elapsed,
			)
		})
	}
}
