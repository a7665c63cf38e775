package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisBalanceCache keeps display balances in Redis hashes {v: version, b: balance}
// for a short TTL.
//
// Safety properties:
//   - Never read inside an atomic unit; debits always see the locked row.
//   - Commits write the new balance through; an older version never replaces a
//     newer one, and the TTL bounds staleness if a write-through is lost.
type RedisBalanceCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisBalanceCache(rdb redis.Cmdable, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisBalanceCache{rdb: rdb, ttl: ttl, prefix: "adledger:balance:"}
}

var putIfNewerScript = redis.NewScript(`
-- KEYS[1] = balance key
-- ARGV[1] = wallet version
-- ARGV[2] = balance
-- ARGV[3] = ttl_ms
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'b', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func (c *RedisBalanceCache) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	s, err := c.rdb.HGet(ctx, c.prefix+key, "b").Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

func (c *RedisBalanceCache) Put(ctx context.Context, key string, balance decimal.Decimal, version int64) error {
	return putIfNewerScript.Run(ctx, c.rdb, []string{c.prefix + key}, version, balance.StringFixed(2), c.ttl.Milliseconds()).Err()
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	return c.rdb.Del(ctx, full...).Err()
}
