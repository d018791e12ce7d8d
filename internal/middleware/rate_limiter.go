package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"golang.org/x/time/rate"

	"signage/internal/utils"
)

// RateLimiterConfig configures a fixed-window limiter
type RateLimiterConfig struct {
	Max          int
	Expiration   time.Duration
	KeyGenerator func(c *fiber.Ctx) string
}

func defaultKeyGenerator(c *fiber.Ctx) string {
	return c.IP()
}

// RateLimiter creates a fiber limiter from config
func RateLimiter(config *RateLimiterConfig) fiber.Handler {
	keyGen := config.KeyGenerator
	if keyGen == nil {
		keyGen = defaultKeyGenerator
	}
	return limiter.New(limiter.Config{
		Max:          config.Max,
		Expiration:   config.Expiration,
		KeyGenerator: keyGen,
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendTooManyRequests(c, config.Expiration)
		},
	})
}

// RateLimiterForOperators limits the admin API per client IP
func RateLimiterForOperators() fiber.Handler {
	return RateLimiter(&RateLimiterConfig{
		Max:        60,
		Expiration: time.Minute,
	})
}

// minBucketIdle is the shortest time a device bucket is kept after its last use
const minBucketIdle = 10 * time.Minute

// DeviceRateLimiter applies a token bucket per device id taken from the :id
// route param. Devices report progress often; the bucket smooths bursts
// without a fixed window reset. Buckets unused for longer than it takes them
// to refill are evicted, so unknown ids cannot grow the map without bound.
type DeviceRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*deviceBucket
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type deviceBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewDeviceRateLimiter allows perSecond reports per device with the given burst
func NewDeviceRateLimiter(perSecond float64, burst int) *DeviceRateLimiter {
	idleAfter := minBucketIdle
	if perSecond > 0 {
		// an evicted bucket must already be full again
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idleAfter {
			idleAfter = refill
		}
	}

	return &DeviceRateLimiter{
		buckets:   make(map[string]*deviceBucket),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idleAfter: idleAfter,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *DeviceRateLimiter) limiterFor(deviceID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleAfter {
		l.evictIdle(now)
	}

	bucket, ok := l.buckets[deviceID]
	if !ok {
		bucket = &deviceBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[deviceID] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter
}

// evictIdle must be called with mu held
func (l *DeviceRateLimiter) evictIdle(now time.Time) {
	for id, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= l.idleAfter {
			delete(l.buckets, id)
		}
	}
	l.lastSweep = now
}

// Forget drops the bucket of a device
func (l *DeviceRateLimiter) Forget(deviceID string) {
	l.mu.Lock()
	delete(l.buckets, deviceID)
	l.mu.Unlock()
}

func (l *DeviceRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Handler returns the fiber middleware
func (l *DeviceRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		deviceID := c.Params("id")
		if deviceID == "" {
			return c.Next()
		}

		reservation := l.limiterFor(deviceID).Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			return utils.SendTooManyRequests(c, delay)
		}
		return c.Next()
	}
}
