package tracing

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"signage/internal/config"
)

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestNewTracer_Disabled(t *testing.T) {
	tr, err := NewTracer(ServiceName, config.TracingConfig{Enabled: false})
	require.NoError(t, err)

	_, span := tr.StartSpan(context.Background(), "noop")
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestFiberMiddleware_RecordsRouteAndStatus(t *testing.T) {
	exp := installRecorder(t)

	app := fiber.New()
	app.Use(FiberMiddleware())
	app.Get("/api/devices/:id/sync-plan", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusServiceUnavailable)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/devices/d1/sync-plan", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /api/devices/:id/sync-plan", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestFiberMiddleware_ContinuesIncomingTrace(t *testing.T) {
	exp := installRecorder(t)
	_, err := NewTracer(ServiceName, config.TracingConfig{Enabled: false})
	require.NoError(t, err)

	app := fiber.New()
	app.Use(FiberMiddleware())
	app.Get("/x", func(c *fiber.Ctx) error { return nil })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	_, err = app.Test(req)
	require.NoError(t, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
}

func TestStartJobSpanAndSetSpanError(t *testing.T) {
	exp := installRecorder(t)

	ctx, span := StartJobSpan(context.Background(), "critical", "device:deleted", 2)
	SetSpanError(ctx, errors.New("db down"))
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "job device:deleted", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, JobTracingAttrs("critical", "device:deleted", 2)[1])
}
