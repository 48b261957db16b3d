package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// ActionCategory identifies the broad kind of work a span covers.
type ActionCategory string

const (
	Fuzzing     ActionCategory = "fuzzing"
	Building    ActionCategory = "building"
	Downloading ActionCategory = "downloading"
	Reporting   ActionCategory = "reporting"
)

// SpanAttributes is a builder for the attribute set attached to a span.
type SpanAttributes struct {
	attrs []attribute.KeyValue
}

func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{}
}

func NewSpanAttributes(category ActionCategory) *SpanAttributes {
	return EmptySpanAttributes().WithExtraAttribute("forgefuzz.action.category", string(category))
}

func (s *SpanAttributes) WithExtraAttribute(key string, value any) *SpanAttributes {
	switch v := value.(type) {
	case string:
		s.attrs = append(s.attrs, attribute.String(key, v))
	case bool:
		s.attrs = append(s.attrs, attribute.Bool(key, v))
	case int:
		s.attrs = append(s.attrs, attribute.Int(key, v))
	case int64:
		s.attrs = append(s.attrs, attribute.Int64(key, v))
	case float64:
		s.attrs = append(s.attrs, attribute.Float64(key, v))
	default:
		s.attrs = append(s.attrs, attribute.String(key, fmt.Sprint(v)))
	}
	return s
}

func (s *SpanAttributes) WithExtraAttributes(extra map[string]any) *SpanAttributes {
	for k, v := range extra {
		s.WithExtraAttribute(k, v)
	}
	return s
}

func (s *SpanAttributes) WithTargetID(targetID string) *SpanAttributes {
	return s.WithExtraAttribute("forgefuzz.target.id", targetID)
}

func (s *SpanAttributes) WithRunID(runID string) *SpanAttributes {
	return s.WithExtraAttribute("forgefuzz.run.id", runID)
}

func (s *SpanAttributes) otel() []attribute.KeyValue {
	if s == nil {
		return nil
	}
	return s.attrs
}

// EventAttributes holds the attributes for a span event.
type EventAttributes map[string]string

func NewEventAttributes(m map[string]string) EventAttributes {
	return EventAttributes(m)
}

func (e EventAttributes) otel() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(e))
	for k, v := range e {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
