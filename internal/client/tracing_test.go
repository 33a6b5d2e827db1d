package client

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// setupTestTracer installs a recording tracer provider for one test.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(prevPropagator)
	})
	return sr
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTransport_PropagatesTraceContext(t *testing.T) {
	sr := setupTestTracer(t)

	var traceparent, requestID string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		requestID = r.Header.Get(RequestIDHeader)
		writeJSON(w, http.StatusOK, `{"success":true,"data":[]}`)
	})

	_, err := h.client.Get(context.Background(), "/students", map[string]string{"page": "1"})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "GET /students", span.Name())
	assert.Equal(t, trace.SpanKindClient, span.SpanKind())
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())

	status, ok := attrValue(span.Attributes(), "http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())

	id, ok := attrValue(span.Attributes(), "request.id")
	require.True(t, ok)
	assert.Equal(t, requestID, id.AsString())
}

func TestTransport_SpanRecordsConnectionFailure(t *testing.T) {
	sr := setupTestTracer(t)
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	h.server.Close()

	_, err := h.client.Get(context.Background(), "/tutors", nil)
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events())
}
