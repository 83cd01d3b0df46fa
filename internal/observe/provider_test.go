package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitProvider(t *testing.T) {
	origTP, origMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	reg := prometheus.NewRegistry()
	exp := tracetest.NewInMemoryExporter()
	tel, err := InitProvider(context.Background(), ProviderConfig{
		Registerer:    reg,
		TraceExporter: exp,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordDetection(context.Background(), "file", "porcupine")

	ctx, span := StartSession(context.Background(), "file-1", "file")
	if TraceID(ctx) == "" {
		t.Error("session span was not sampled")
	}
	span.End()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "hotword_detections") {
			found = true
		}
	}
	if !found {
		t.Error("detections counter not exported to the Prometheus registry")
	}

	if err := tel.TracerProvider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if got := len(exp.GetSpans()); got != 1 {
		t.Errorf("exported %d spans, want 1", got)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestBuildVersion(t *testing.T) {
	t.Parallel()
	if buildVersion() == "" {
		t.Error("buildVersion() is empty")
	}
}
