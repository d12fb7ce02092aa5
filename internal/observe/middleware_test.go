package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented serves a small mux through Middleware with in-memory metric
// and span recording. The global tracer provider is swapped for the test.
type instrumented struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newInstrumented(t *testing.T) *instrumented {
	t.Helper()

	m, reader := newTestMetrics(t)
	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation-ID", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	return &instrumented{handler: Middleware(m)(mux), reader: reader, spans: spans}
}

func (in *instrumented) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	in.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	in := newInstrumented(t)

	rec := in.get("/healthz", nil)
	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a 32 character trace ID", cid)
	}
	if seen := rec.Header().Get("X-Seen-Correlation-ID"); seen != cid {
		t.Errorf("handler saw correlation ID %q, response has %q", seen, cid)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	in := newInstrumented(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := in.get("/healthz", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	in := newInstrumented(t)

	in.get("/readyz", nil)

	spans := in.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /readyz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /readyz")
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("span status attribute = %d, want 503", status)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	in := newInstrumented(t)

	in.get("/healthz", nil)
	in.get("/healthz", nil)
	in.get("/nope/12345", nil)

	met := findMetric(collect(t, in.reader), "lexicoach.http.request.duration")
	if met == nil {
		t.Fatal("lexicoach.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		method, _ := dp.Attributes.Value(attribute.Key("method"))
		if method.AsString() != http.MethodGet {
			t.Errorf("method = %q, want GET", method.AsString())
		}
		counts[route.AsString()] += dp.Count
	}
	if counts["GET /healthz"] != 2 {
		t.Errorf("GET /healthz count = %d, want 2", counts["GET /healthz"])
	}
	if counts[unmatchedRoute] != 1 {
		t.Errorf("%s count = %d, want 1; raw paths must not become labels", unmatchedRoute, counts[unmatchedRoute])
	}
}
