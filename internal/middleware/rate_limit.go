package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// KeyFunc picks the subject a request is counted against.
type KeyFunc func(c *fiber.Ctx) string

// BodyField counts requests by a JSON body field, falling back to the client IP.
func BodyField(field string) KeyFunc {
	return func(c *fiber.Ctx) string {
		var body map[string]any
		_ = c.BodyParser(&body)
		if v, ok := body[field].(string); ok && strings.TrimSpace(v) != "" {
			return strings.ToLower(strings.TrimSpace(v))
		}
		return c.IP()
	}
}

// ClientIP counts requests by client IP.
func ClientIP(c *fiber.Ctx) string {
	return c.IP()
}

// RateLimit allows maxPerMin requests per key and scope within a fixed one
// minute window, using Redis if available.
func RateLimit(cache *redis.Client, scope string, maxPerMin int, keyFn KeyFunc) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	if keyFn == nil {
		keyFn = ClientIP
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		key := "rl:" + scope + ":" + keyFn(c)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err == nil && cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many "+scope+" requests, try again later")
		}
		return c.Next()
	}
}
