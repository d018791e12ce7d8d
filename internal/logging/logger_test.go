package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("verbose", &buf)

	logger.logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.logger.Info().Msg("shown")
	assert.Equal(t, "shown", lastLine(t, &buf)["message"])
}

func TestWithContext_AddsRequestAndTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = ContextWithRequestID(ctx, "req-1")

	logger.WithContext(ctx).Info().Msg("plan served")

	entry := lastLine(t, &buf)
	assert.Equal(t, "req-1", entry["req_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestGetRequestID_Missing(t *testing.T) {
	assert.Equal(t, "", GetRequestID(context.Background()))
}

func TestLogJobProcessing(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.LogJobProcessing("critical", "device:deleted", 2, 15*time.Millisecond, false, "db down")

	entry := lastLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "critical", entry["queue"])
	assert.Equal(t, "device:deleted", entry["job_type"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "db down", entry["error"])
}

func TestFiberLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	var seen string
	app := fiber.New()
	app.Use(logger.FiberLoggerMiddleware())
	app.Get("/api/devices/:id/sync-status", func(c *fiber.Ctx) error {
		seen = GetRequestID(c.UserContext())
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/devices/d1/sync-status", nil)
	req.Header.Set(fiber.HeaderXRequestID, "abc")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "abc", seen)

	entry := lastLine(t, &buf)
	assert.Equal(t, "HTTP request processed", entry["message"])
	assert.Equal(t, "d1", entry["device_id"])
	assert.Equal(t, float64(200), entry["status"])
}
