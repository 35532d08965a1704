package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// wrap builds a middleware-wrapped handler around fn, backed by inspectable
// metric and span collectors.
func wrap(t *testing.T, fn http.HandlerFunc) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return Middleware(m)(fn), reader, spans
}

// requestHistogram collects metrics and returns the request duration histogram.
func requestHistogram(t *testing.T, reader *sdkmetric.ManualReader) metricdata.Histogram[float64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "toolgate.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	return hist
}

func TestRouteLabel(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/v1/chat", "/v1/chat"},
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/mcp", "/mcp"},
		{"/", "unmatched"},
		{"/v1/chat/extra", "unmatched"},
		{"/wp-admin.php", "unmatched"},
	}
	for _, tc := range cases {
		if got := routeLabel(tc.path); got != tc.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestMiddleware_RecordsRouteAndStatus(t *testing.T) {
	handler, reader, _ := wrap(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat", nil))

	hist := requestHistogram(t, reader)
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}

	var gotMethod, gotRoute string
	var gotStatus int64
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		switch string(kv.Key) {
		case "method":
			gotMethod = kv.Value.AsString()
		case "route":
			gotRoute = kv.Value.AsString()
		case "status":
			gotStatus = kv.Value.AsInt64()
		}
	}
	if gotMethod != "POST" {
		t.Errorf("method attribute = %q, want POST", gotMethod)
	}
	if gotRoute != "/v1/chat" {
		t.Errorf("route attribute = %q, want /v1/chat", gotRoute)
	}
	if gotStatus != http.StatusBadRequest {
		t.Errorf("status attribute = %d, want %d", gotStatus, http.StatusBadRequest)
	}
}

func TestMiddleware_UnknownPathsShareOneLabel(t *testing.T) {
	handler, reader, _ := wrap(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	// Scanner junk must not fan out into per-path metric series.
	for _, path := range []string{"/x", "/y/z", "/.env"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	}

	hist := requestHistogram(t, reader)
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 shared unmatched series", len(hist.DataPoints))
	}
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("sample count = %d, want 3", got)
	}
}

func TestMiddleware_SpanNameUsesRoute(t *testing.T) {
	handler, _, spans := wrap(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	got := spans.GetSpans()
	if len(got) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(got))
	}
	if got[0].Name != "GET /readyz" {
		t.Errorf("span name = %q, want %q", got[0].Name, "GET /readyz")
	}

	var statusAttr int64 = -1
	for _, a := range got[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			statusAttr = a.Value.AsInt64()
		}
	}
	if statusAttr != http.StatusOK {
		t.Errorf("span status attribute = %d, want %d", statusAttr, http.StatusOK)
	}
}

func TestMiddleware_CorrelationIDHeader(t *testing.T) {
	var inHandler string
	handler, _, _ := wrap(t, func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat", nil))

	if inHandler == "" {
		t.Fatal("no correlation ID visible inside the handler")
	}
	if len(inHandler) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(inHandler))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
		t.Errorf("X-Correlation-ID header = %q, want %q", got, inHandler)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "8f254a6be29bcb0f7a87a8c9e41d22ab"

	var inHandler string
	handler, _, _ := wrap(t, func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/v1/chat", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if inHandler != traceID {
		t.Errorf("correlation ID = %q, want incoming trace ID %q", inHandler, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID header = %q, want %q", got, traceID)
	}
}

func TestMiddleware_DefaultStatusIs200(t *testing.T) {
	// Handler writes a body without ever calling WriteHeader.
	handler, reader, _ := wrap(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	hist := requestHistogram(t, reader)
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		if string(kv.Key) == "status" && kv.Value.AsInt64() != http.StatusOK {
			t.Errorf("status attribute = %d, want %d", kv.Value.AsInt64(), http.StatusOK)
		}
	}
}
