package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrier(t *testing.T) {
	carrier := &kafkaHeaderCarrier{headers: []kafka.Header{{Key: "cid", Value: []byte("abc")}}}

	carrier.Set("traceparent", "00-1")
	carrier.Set("cid", "xyz")

	assert.Equal(t, "xyz", carrier.Get("cid"))
	assert.Equal(t, "00-1", carrier.Get("traceparent"))
	assert.Equal(t, "", carrier.Get("missing"))
	assert.ElementsMatch(t, []string{"cid", "traceparent"}, carrier.Keys())
}

func TestTraceContextRoundTripThroughHeaders(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prop := propagation.TraceContext{}
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	carrier := &kafkaHeaderCarrier{}
	prop.Inject(ctx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))

	extracted := prop.Extract(context.Background(), carrier)
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}
