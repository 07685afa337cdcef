package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSamplerForRate(t *testing.T) {
	cases := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range cases {
		desc := samplerFor(tc.rate).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+tc.want) {
			t.Fatalf("samplerFor(%v) = %q, expected root %s", tc.rate, desc, tc.want)
		}
	}
}

func TestInitTracerDisabledIsNoop(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{ServiceName: "loadshed"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracer() error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	_, span := StartSpan(context.Background(), "test")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Fatal("disabled tracing produced a recording span")
	}
	RecordError(span, errors.New("ignored"))
	RecordError(span, nil)
}

func TestAddSpanAttributesOnRecordingSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer(TracerName).Start(context.Background(), "attrs")
	AddSpanAttributes(span, map[string]any{
		"loadshedding.area":  "city-of-cape-town-area-1",
		"loadshedding.stage": 4,
		"ignored":            struct{}{},
	})
	span.End()

	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatal("expected an SDK span")
	}
	if got := len(ro.Attributes()); got != 2 {
		t.Fatalf("attributes = %d, expected 2", got)
	}
}

func TestResourceAttributesOptionalFields(t *testing.T) {
	if got := len(resourceAttributes(TracerConfig{ServiceName: "loadshed"})); got != 2 {
		t.Fatalf("attributes = %d, expected 2", got)
	}
	full := resourceAttributes(TracerConfig{ServiceName: "loadshed", Environment: "production", Area: "city-of-cape-town-area-1"})
	if len(full) != 4 {
		t.Fatalf("attributes = %d, expected 4", len(full))
	}
}
