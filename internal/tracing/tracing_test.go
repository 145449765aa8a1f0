package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanWithoutTracerIsNoop(t *testing.T) {
	SetTracer(nil)
	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.Equal(t, "", GetTraceID(ctx))
}

func TestStartSpanRecordsErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	SetTracer(provider.Tracer("test"))
	t.Cleanup(func() { SetTracer(nil) })

	ctx, span := StartSpan(context.Background(), "ingestion.Execute")
	assert.NotEmpty(t, GetTraceID(ctx))
	RecordError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	if assert.Len(t, ended, 1) {
		assert.Equal(t, "ingestion.Execute", ended[0].Name())
		assert.Len(t, ended[0].Events(), 1)
	}
}
