package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// telemetryTracer wraps one otel span. Attributes and links added before
// Start() are applied when the span is created; attributes added afterwards
// are set directly on the live span.
type telemetryTracer struct {
	ctx    context.Context
	tracer trace.Tracer
	name   string

	mu      sync.Mutex
	span    trace.Span
	spanCtx context.Context
	pending *SpanAttributes
	links   []trace.Link
}

func NewTelemetryTracer(ctx context.Context, tracer trace.Tracer, spanName string) Tracer {
	return &telemetryTracer{
		ctx:    ctx,
		tracer: tracer,
		name:   spanName,
	}
}

// NewTelemetryTracerFrom rebuilds a tracer whose spans descend from a span
// context previously serialized with Export.
func NewTelemetryTracerFrom(ctx context.Context, tracer trace.Tracer, exported string) (Tracer, error) {
	carrier, err := carrierFromRaw(exported)
	if err != nil {
		return nil, err
	}
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)
	if !trace.SpanContextFromContext(parentCtx).IsValid() {
		return nil, errors.New("exported trace context is not valid")
	}
	return &telemetryTracer{
		ctx:     parentCtx,
		tracer:  tracer,
		name:    "remote parent",
		span:    trace.SpanFromContext(parentCtx),
		spanCtx: parentCtx,
	}, nil
}

func (t *telemetryTracer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.span != nil {
		return
	}

	opts := []trace.SpanStartOption{
		trace.WithAttributes(t.pending.otel()...),
	}
	for _, link := range t.links {
		opts = append(opts, trace.WithLinks(link))
	}
	t.spanCtx, t.span = t.tracer.Start(t.ctx, t.name, opts...)
	t.pending = nil
}

func (t *telemetryTracer) WithAttributes(attributes *SpanAttributes) Tracer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.span != nil {
		t.span.SetAttributes(attributes.otel()...)
		return t
	}
	if t.pending == nil {
		t.pending = EmptySpanAttributes()
	}
	t.pending.attrs = append(t.pending.attrs, attributes.otel()...)
	return t
}

func (t *telemetryTracer) AddEvent(name string, attributes EventAttributes) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.span == nil {
		return
	}
	t.span.AddEvent(name, trace.WithAttributes(attributes.otel()...))
}

func (t *telemetryTracer) SetStatus(code codes.Code, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.span == nil {
		return
	}
	t.span.SetStatus(code, message)
}

func (t *telemetryTracer) Spawn(spanName string) Tracer {
	t.mu.Lock()
	parentCtx := t.spanCtx
	t.mu.Unlock()
	if parentCtx == nil {
		parentCtx = t.ctx
	}
	return &telemetryTracer{
		ctx:    parentCtx,
		tracer: t.tracer,
		name:   spanName,
	}
}

func (t *telemetryTracer) AddLink(spanContext trace.SpanContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.span != nil {
		t.span.AddLink(trace.Link{SpanContext: spanContext})
		return
	}
	t.links = append(t.links, trace.Link{SpanContext: spanContext})
}

// Export serializes the current span context so a peer process can spawn
// child spans from it (see NewTelemetryTracerFrom).
func (t *telemetryTracer) Export() string {
	t.mu.Lock()
	spanCtx := t.spanCtx
	t.mu.Unlock()
	if spanCtx == nil {
		return ""
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	raw, err := json.Marshal(carrier)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (t *telemetryTracer) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.span == nil {
		return
	}
	t.span.End()
}

func carrierFromRaw(raw string) (propagation.MapCarrier, error) {
	if raw == "" {
		return nil, errors.New("empty trace context")
	}
	carrier := propagation.MapCarrier{}
	if err := json.Unmarshal([]byte(raw), &carrier); err != nil {
		return nil, err
	}
	return carrier, nil
}

func spanContextFromRaw(raw string) (trace.SpanContext, error) {
	carrier, err := carrierFromRaw(raw)
	if err != nil {
		return trace.SpanContext{}, err
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return trace.SpanContext{}, errors.New("trace context is not valid")
	}
	return spanCtx, nil
}
