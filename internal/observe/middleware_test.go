package observe

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates metrics with a manual reader and installs an in-memory
// tracer. Tests using it must not run in parallel.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTestTracer(t)
}

// testMux mirrors the server's routing so requests carry a pattern.
func testMux(status int) *http.ServeMux {
	mux := http.NewServeMux()
	h := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }
	mux.HandleFunc("GET /healthz", h)
	mux.HandleFunc("GET /v1/detections", h)
	return mux
}

func TestMiddleware_TraceHeader(t *testing.T) {
	m, _, _ := testSetup(t)

	var seen string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/info", nil))

	if len(seen) != 32 {
		t.Fatalf("trace ID in handler = %q, want 32 hex characters", seen)
	}
	if got := rec.Header().Get(TraceHeader); got != seen {
		t.Errorf("%s = %q, want %q", TraceHeader, got, seen)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	handler := Middleware(m)(testMux(http.StatusOK))
	req := httptest.NewRequest("GET", "/v1/detections", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(TraceHeader); got != traceID {
		t.Errorf("%s = %q, want %q", TraceHeader, got, traceID)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantSpan string
		wantCode int64
	}{
		{"matched route", "/v1/detections?limit=3", "HTTP GET /v1/detections", 200},
		{"unmatched path", "/nope/12345", "HTTP GET", 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, exp := testSetup(t)
			handler := Middleware(m)(testMux(http.StatusOK))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.path, nil))

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if spans[0].Name != tt.wantSpan {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantSpan)
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != tt.wantCode {
				t.Errorf("status attribute = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	handler := Middleware(m)(testMux(http.StatusOK))

	for _, p := range []string{"/v1/detections", "/v1/detections?limit=1", "/random/a", "/random/b"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", p, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "hotword.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
	}
	if counts["GET /v1/detections"] != 2 || counts["unmatched"] != 2 || len(counts) != 2 {
		t.Errorf("per-route counts = %v, want 2 detections and 2 unmatched", counts)
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	m, _, _ := testSetup(t)
	buf := captureLogs(t)
	handler := Middleware(m)(testMux(http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/detections", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "level=DEBUG") || !strings.Contains(lines[0], "/healthz") {
		t.Errorf("probe line = %q, want debug level", lines[0])
	}
	if !strings.Contains(lines[1], "level=INFO") {
		t.Errorf("api line = %q, want info level", lines[1])
	}
}

// hijackWriter is a ResponseWriter that supports hijacking.
type hijackWriter struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func (h *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn)), nil
}

func TestMiddleware_PassesHijack(t *testing.T) {
	m, _, exp := testSetup(t)

	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	var hijackErr error
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _, hijackErr = http.NewResponseController(w).Hijack()
	}))
	handler.ServeHTTP(&hijackWriter{ResponseRecorder: httptest.NewRecorder(), conn: server},
		httptest.NewRequest("GET", "/v1/listen", nil))

	if hijackErr != nil {
		t.Fatalf("Hijack through middleware: %v", hijackErr)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() != http.StatusSwitchingProtocols {
			t.Errorf("status attribute = %d, want 101", a.Value.AsInt64())
		}
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	m, _, _ := testSetup(t)

	var hijackErr error
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _, hijackErr = w.(http.Hijacker).Hijack()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if hijackErr == nil {
		t.Error("expected error hijacking a ResponseRecorder")
	}
}
