package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestMoveRequestMetricsSuccess(t *testing.T) {
	exporter := setupTracing(t)
	logger, hook := test.NewNullLogger()

	metrics, ctx := newMoveRequestMetrics(context.Background(), logger)
	if ctx == nil {
		t.Fatal("expected a span context")
	}
	metrics.SetMove("42", "review")
	metrics.ObserveAuth(2 * time.Millisecond)
	metrics.ObserveValidate(time.Millisecond)
	metrics.ObserveStore(5 * time.Millisecond)
	metrics.Log(http.StatusOK, nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != moveSpanName {
		t.Fatalf("unexpected span name %q", span.Name)
	}
	attrs := make(map[string]any, len(span.Attributes))
	for _, a := range span.Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	if attrs["http.route"] != moveRoute {
		t.Fatalf("route attribute missing: %v", attrs)
	}
	if attrs["board.move.card"] != "42" || attrs["board.move.target"] != "review" {
		t.Fatalf("move attributes missing: %v", attrs)
	}
	if _, ok := attrs["board.move.error_stage"]; ok {
		t.Fatalf("success must not carry an error stage: %v", attrs)
	}

	entries := hook.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Data["event.name"] != moveEventName || entry.Data["event.domain"] != moveEventDomain {
		t.Fatalf("event identity fields wrong: %v", entry.Data)
	}
	if entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v", entry.Data)
	}
	if _, ok := entry.Data["trace_id"]; !ok {
		t.Fatalf("log entry not correlated to trace: %v", entry.Data)
	}
}

func TestMoveRequestMetricsError(t *testing.T) {
	exporter := setupTracing(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	metrics, _ := newMoveRequestMetrics(context.Background(), logger)
	metrics.SetMove("42", "done")
	metrics.SetErrorStage("constraint")
	metrics.Log(http.StatusOK, errors.New("move rejected"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	attrs := make(map[string]any, len(spans[0].Attributes))
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	if attrs["board.move.error_stage"] != "constraint" {
		t.Fatalf("error stage missing: %v", attrs)
	}
	if len(spans[0].Events) == 0 {
		t.Fatal("expected at least one span event")
	}

	entries := hook.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Data["severity_text"] != "ERROR" || entry.Data["severity_number"] != 17 {
		t.Fatalf("error severity not recorded: %v", entry.Data)
	}
	if entry.Data["error"] != "move rejected" {
		t.Fatalf("error message missing: %v", entry.Data)
	}
}

func TestMoveRequestMetricsNilSafe(t *testing.T) {
	var metrics *moveRequestMetrics
	metrics.Log(http.StatusOK, nil)
}
