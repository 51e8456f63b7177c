package sinks

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pixellineage/inputlat/internal/model"
)

// OTel emits one span per completed timeline, carrying the latency
// breakdown as attributes. Event timestamps are monotonic producer-side
// values, not wall-clock times, so they are exported as attributes rather
// than as span boundaries.
type OTel struct {
	tracer trace.Tracer
}

// NewOTel creates a span sink on the given tracer.
func NewOTel(tracer trace.Tracer) *OTel {
	return &OTel{tracer: tracer}
}

// Name implements Writer.
func (s *OTel) Name() string { return "otel" }

// Write implements Writer.
func (s *OTel) Write(ctx context.Context, timeline *model.InputEventTimeline) error {
	attrs := []attribute.KeyValue{
		attribute.String("input.action_type", timeline.ActionType.String()),
		attribute.Int("input.vendor_id", int(timeline.VendorID)),
		attribute.Int("input.product_id", int(timeline.ProductID)),
		attribute.Int64("input.event_time_ns", timeline.EventTime),
		attribute.Int64("input.read_latency_ns", timeline.ReadTime-timeline.EventTime),
		attribute.Int("input.connection_count", len(timeline.ConnectionTimelines)),
	}

	sources := make([]string, 0, len(timeline.Sources))
	for _, src := range timeline.Sources {
		sources = append(sources, src.String())
	}
	attrs = append(attrs, attribute.StringSlice("input.sources", sources))

	// Worst end-to-end latency across connections, when present data exists.
	worst := int64(-1)
	for _, ct := range timeline.ConnectionTimelines {
		if ct.Graphics.PresentTime == model.TimeUnset {
			continue
		}
		if lat := ct.Graphics.PresentTime - timeline.EventTime; lat > worst {
			worst = lat
		}
	}
	if worst >= 0 {
		attrs = append(attrs, attribute.Int64("input.end_to_end_latency_ns", worst))
	}

	_, span := s.tracer.Start(ctx, "input_event_timeline", trace.WithAttributes(attrs...))
	span.End()
	return nil
}

// Close implements Writer. Span flushing is owned by the exporter's
// shutdown, not the sink.
func (s *OTel) Close(context.Context) error { return nil }
