package health

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"signage/internal/metrics"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Latency above these thresholds reports the dependency as degraded
const (
	dbDegradedAfter    = 200 * time.Millisecond
	redisDegradedAfter = 100 * time.Millisecond
)

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status string            `json:"status"`
	DB     DependencyStatus  `json:"db"`
	Redis  *DependencyStatus `json:"redis,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// DBPinger is satisfied by database.DatabaseManager
type DBPinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Checker probes the API's dependencies
type Checker struct {
	db      DBPinger
	redis   redis.UniversalClient
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewChecker creates a checker. redis and m may be nil.
func NewChecker(db DBPinger, rdb redis.UniversalClient, m *metrics.Metrics) *Checker {
	return &Checker{
		db:      db,
		redis:   rdb,
		metrics: m,
		timeout: 5 * time.Second,
	}
}

// Check runs all probes
func (h *Checker) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp := HealthResponse{DB: h.checkDB(ctx)}
	h.record("db", resp.DB)
	statuses := []string{resp.DB.Status}

	if h.redis != nil {
		redisStatus := h.checkRedis(ctx)
		h.record("redis", redisStatus)
		resp.Redis = &redisStatus
		statuses = append(statuses, redisStatus.Status)
	}

	resp.Status = StatusOK
	for _, s := range statuses {
		if s == StatusDown {
			resp.Status = StatusDown
			break
		}
		if s == StatusDegraded {
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// RegisterHealthRoutes registers the health check routes
func RegisterHealthRoutes(app *fiber.App, checker *Checker) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		resp := checker.Check(c.UserContext())

		if resp.Status == StatusOK {
			c.Status(fiber.StatusOK)
		} else {
			c.Status(fiber.StatusServiceUnavailable)
		}
		c.Set(fiber.HeaderCacheControl, "no-store")

		return c.JSON(resp)
	})
}

func (h *Checker) checkDB(ctx context.Context) DependencyStatus {
	latency, err := h.db.Ping(ctx)
	return classify(latency, err, dbDegradedAfter)
}

func (h *Checker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	return classify(time.Since(start), err, redisDegradedAfter)
}

func (h *Checker) record(dependency string, status DependencyStatus) {
	if h.metrics == nil {
		return
	}
	value := 0.0
	if status.Status != StatusDown {
		value = 1
	}
	h.metrics.HealthStatus.WithLabelValues(dependency).Set(value)
}

func classify(latency time.Duration, err error, degradedAfter time.Duration) DependencyStatus {
	status := DependencyStatus{LatencyMs: latency.Milliseconds()}
	switch {
	case err != nil:
		status.Status = StatusDown
		status.Error = err.Error()
	case latency > degradedAfter:
		status.Status = StatusDegraded
	default:
		status.Status = StatusOK
	}
	return status
}
