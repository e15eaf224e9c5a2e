package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := []kafka.Header{{Key: HeaderEventID, Value: []byte("e1")}}
	headers = InjectTraceHeaders(ctx, headers)
	require.NotEmpty(t, HeaderValue(headers, "traceparent"))
	assert.Equal(t, "e1", HeaderValue(headers, HeaderEventID))

	got := ExtractTraceContext(context.Background(), kafka.Message{Headers: headers})
	sc := trace.SpanContextFromContext(got)
	assert.True(t, sc.IsValid())
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
}

func TestHeaderValue_Missing(t *testing.T) {
	assert.Equal(t, "", HeaderValue(nil, HeaderError))
}
