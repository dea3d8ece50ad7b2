package quota

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActiveSessionsKey counts live voice sessions across all API replicas.
const ActiveSessionsKey = "voice:active_sessions"

// DefaultSlotTTL bounds how long a slot survives a crashed process.
// It must exceed the longest expected call.
const DefaultSlotTTL = 2 * time.Hour

// Limiter caps concurrent live voice sessions.
type Limiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

var acquireSlotScript = redis.NewScript(`
-- KEYS[1] = session counter
-- ARGV[1] = limit
-- ARGV[2] = ttl_ms
--
-- Returns 1 if a slot was taken, 0 if the site is at capacity.
local current = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end

if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var releaseSlotScript = redis.NewScript(`
-- KEYS[1] = session counter
-- A counter that expired while a call was live must not go negative.
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// RedisLimiter is a site-wide cap shared through Redis.
//
// Acquire is atomic. The counter TTL frees slots leaked by a crashed replica.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, errors.New("quota: redis client is nil")
	}
	if limit <= 0 {
		return nil, errors.New("quota: limit must be > 0")
	}
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &RedisLimiter{rdb: rdb, key: ActiveSessionsKey, limit: limit, ttl: ttl}, nil
}

func (l *RedisLimiter) Acquire(ctx context.Context) (bool, error) {
	res, err := acquireSlotScript.Run(ctx, l.rdb, []string{l.key}, l.limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *RedisLimiter) Release(ctx context.Context) error {
	_, err := releaseSlotScript.Run(ctx, l.rdb, []string{l.key}).Result()
	return err
}

// Unlimited always grants a slot. Used when no cap is configured.
type Unlimited struct{}

func (Unlimited) Acquire(context.Context) (bool, error) { return true, nil }
func (Unlimited) Release(context.Context) error         { return nil }
