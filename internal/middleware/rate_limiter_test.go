package middleware

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Use(RateLimiter(&RateLimiterConfig{Max: 3, Expiration: time.Minute}))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRateLimiterForOperators(t *testing.T) {
	app := fiber.New()
	app.Use(RateLimiterForOperators())
	app.Post("/notify", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/notify", nil))
	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)
}

func TestDeviceRateLimiter_PerDeviceBuckets(t *testing.T) {
	limiter := NewDeviceRateLimiter(0.001, 2)

	app := fiber.New()
	app.Post("/devices/:id/sync-progress", limiter.Handler(), func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	send := func(id string) int {
		resp, err := app.Test(httptest.NewRequest("POST", "/devices/"+id+"/sync-progress", nil))
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, 200, send("d1"))
	assert.Equal(t, 200, send("d1"))
	assert.Equal(t, 429, send("d1"))

	// another device has its own bucket
	assert.Equal(t, 200, send("d2"))

	limiter.Forget("d1")
	assert.Equal(t, 200, send("d1"))
}

func TestDeviceRateLimiter_EvictsIdleBuckets(t *testing.T) {
	limiter := NewDeviceRateLimiter(10, 1)
	clock := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	limiter.lastSweep = clock

	for i := 0; i < 50; i++ {
		limiter.limiterFor(fmt.Sprintf("unregistered-%d", i))
	}
	assert.Equal(t, 50, limiter.size())

	clock = clock.Add(5 * time.Minute)
	limiter.limiterFor("d1")
	assert.Equal(t, 51, limiter.size())

	clock = clock.Add(6 * time.Minute)
	limiter.limiterFor("d1")
	assert.Equal(t, 1, limiter.size())
}

func TestNewDeviceRateLimiter_IdleCoversRefill(t *testing.T) {
	assert.Equal(t, minBucketIdle, NewDeviceRateLimiter(10, 5).idleAfter)
	assert.Equal(t, 2000*time.Second, NewDeviceRateLimiter(0.001, 2).idleAfter)
}
