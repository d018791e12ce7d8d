package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"signage/internal/metrics"
)

// MetricsMiddleware records request count and latency per route
func MetricsMiddleware(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		// route template, not the raw path, to keep label cardinality bounded
		route := c.Route().Path
		statusStr := strconv.Itoa(status)

		m.HTTPRequestsTotal.WithLabelValues(c.Method(), route, statusStr).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Method(), route, statusStr).Observe(time.Since(start).Seconds())

		return err
	}
}
