package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	moveSpanName    = "board.move"
	moveEventName   = "move.request"
	moveEventDomain = "board"
	moveRoute       = "/xhr/move"
)

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer("storyboard/api")
}

// moveRequestMetrics collects stage timings for one move request and
// emits them both as a structured log event and as span attributes.
type moveRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration     time.Duration
	validateDuration time.Duration
	storeDuration    time.Duration
	cardID           string
	target           string
	errorStage       string
}

func newMoveRequestMetrics(ctx context.Context, logger *log.Logger) (*moveRequestMetrics, context.Context) {
	spanCtx, span := tracer().Start(ctx, moveSpanName)
	return &moveRequestMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *moveRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *moveRequestMetrics) ObserveValidate(d time.Duration) {
	if d > 0 {
		m.validateDuration = d
	}
}

func (m *moveRequestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *moveRequestMetrics) SetMove(cardID, target string) {
	m.cardID = cardID
	m.target = target
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log finalizes the span and writes the observability event.
func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.route", moveRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("board.move.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.cardID != "" {
		attrs = append(attrs,
			attribute.String("board.move.card", m.cardID),
			attribute.String("board.move.target", m.target),
		)
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.move.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.validateDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.move.validate_ms", durationToMillis(m.validateDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.move.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("board.move.error_stage", m.errorStage))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event")
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attrMap := make(map[string]any, len(attrs))
	for _, a := range attrs {
		attrMap[string(a.Key)] = a.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      moveEventName,
		"event.domain":    moveEventDomain,
		"attributes":      attrMap,
		"severity_text":   "INFO",
		"severity_number": 9,
	}
	if err != nil {
		fields["severity_text"] = "ERROR"
		fields["severity_number"] = 17
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
