package service

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "auth:rl:"

// Ventana fija: el primer golpe fija la expiración. Devuelve {golpes, ms restantes}.
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

type redisRateLimiter struct {
	client  redis.UniversalClient
	window  time.Duration
	max     int
	timeout time.Duration
}

// NewRedisRateLimiter crea un limitador de ventana fija compartido entre instancias.
func NewRedisRateLimiter(client redis.UniversalClient, window time.Duration, max int) RateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisRateLimiter{
		client:  client,
		window:  window,
		max:     max,
		timeout: 500 * time.Millisecond,
	}
}

// Allow falla en abierto si redis no responde a tiempo.
func (l *redisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, l.window
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	res, err := rateLimitScript.Run(ctx, l.client, []string{rateLimitPrefix + normalized}, positiveMillis(l.window)).Int64Slice()
	if err != nil || len(res) != 2 {
		return true, 0
	}
	if int(res[0]) <= l.max {
		return true, 0
	}
	return false, time.Duration(res[1]) * time.Millisecond
}
