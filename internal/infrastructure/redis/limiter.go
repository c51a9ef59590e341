package redisinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/memory"
)

// allowScript returns 0 when the send is admitted, otherwise the wait in ms.
// KEYS: cooldown, window. ARGV: cooldown ms, window ms, max per window.
var allowScript = redis.NewScript(`
local cd = redis.call('PTTL', KEYS[1])
if cd > 0 then return cd end
local max = tonumber(ARGV[3])
local n = tonumber(redis.call('GET', KEYS[2]) or '0')
if max > 0 and n >= max then
  local w = redis.call('PTTL', KEYS[2])
  if w <= 0 then w = tonumber(ARGV[2]) end
  return w
end
if tonumber(ARGV[1]) > 0 then
  redis.call('SET', KEYS[1], '1', 'PX', ARGV[1])
end
n = redis.call('INCR', KEYS[2])
if n == 1 and tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 0
`)

// SendLimiter applies memory.SendPolicy across instances.
type SendLimiter struct {
	rdb    *redis.Client
	policy memory.SendPolicy
}

func NewSendLimiter(rdb *redis.Client, policy memory.SendPolicy) *SendLimiter {
	return &SendLimiter{rdb: rdb, policy: policy}
}

func (l *SendLimiter) Allow(ctx context.Context, key string) error {
	keys := []string{"trinck:send:cd:" + key, "trinck:send:win:" + key}
	wait, err := allowScript.Run(ctx, l.rdb, keys,
		l.policy.Cooldown.Milliseconds(), l.policy.Window.Milliseconds(), l.policy.MaxPerWindow).Int64()
	if err != nil {
		return fmt.Errorf("send limiter: %w", err)
	}
	if wait > 0 {
		return &domain.RateLimitError{RetryAfter: time.Duration(wait) * time.Millisecond}
	}
	return nil
}

// Prune is a no-op; Redis expires limiter keys on its own.
func (l *SendLimiter) Prune() int { return 0 }
