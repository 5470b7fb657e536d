package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// slidingWindow keeps one sorted-set member per request scored by its time
// in milliseconds, trims members older than the window and admits the
// request only while fewer than limit remain.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// Redis is a sliding-window limiter shared by every replica using the same
// Redis server.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ domain.RateLimiter = (*Redis)(nil)

// NewRedis returns a limiter storing its windows under prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	res, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + key},
		r.now().UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return res == 1, nil
}
