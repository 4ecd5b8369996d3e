package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// reserveScript checks every bucket first and increments only when all are
// below their limit. KEYS are bucket keys; ARGV holds the limits followed by
// the TTLs in milliseconds. The reply is {allowed, used...}.
var reserveScript = redis.NewScript(`
local n = #KEYS
for i = 1, n do
  local used = tonumber(redis.call('GET', KEYS[i]) or '0')
  local limit = tonumber(ARGV[i])
  if limit >= 0 and used >= limit then
    local out = {0}
    for j = 1, n do
      out[j + 1] = tonumber(redis.call('GET', KEYS[j]) or '0')
    end
    return out
  end
end
local out = {1}
for i = 1, n do
  out[i + 1] = redis.call('INCR', KEYS[i])
  local ttl = tonumber(ARGV[n + i])
  if ttl > 0 then
    redis.call('PEXPIRE', KEYS[i], ttl)
  end
end
return out
`)

var releaseScript = redis.NewScript(`
for i = 1, #KEYS do
  local used = tonumber(redis.call('GET', KEYS[i]) or '0')
  if used > 0 then
    redis.call('DECR', KEYS[i])
  end
end
return 1
`)

// RedisCounter keeps buckets in Redis so every worker replica shares them.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return n, nil
}

func (c *RedisCounter) Reserve(ctx context.Context, buckets []Bucket) (bool, []int64, error) {
	if len(buckets) == 0 {
		return true, nil, nil
	}

	keys := make([]string, len(buckets))
	args := make([]interface{}, 0, 2*len(buckets))
	for i, b := range buckets {
		keys[i] = b.Key
		args = append(args, strconv.Itoa(b.Limit))
	}
	for _, b := range buckets {
		args = append(args, strconv.FormatInt(b.TTL.Milliseconds(), 10))
	}

	reply, err := reserveScript.Run(ctx, c.client, keys, args...).Int64Slice()
	if err != nil {
		return false, nil, fmt.Errorf("reserve: %w", err)
	}
	if len(reply) != len(buckets)+1 {
		return false, nil, fmt.Errorf("reserve: unexpected reply length %d", len(reply))
	}
	return reply[0] == 1, reply[1:], nil
}

func (c *RedisCounter) Increment(ctx context.Context, buckets []Bucket) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, b := range buckets {
			pipe.Incr(ctx, b.Key)
			if b.TTL > 0 {
				pipe.PExpire(ctx, b.Key, b.TTL)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment: %w", err)
	}
	return nil
}

func (c *RedisCounter) Decrement(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := releaseScript.Run(ctx, c.client, keys).Err(); err != nil {
		return fmt.Errorf("decrement: %w", err)
	}
	return nil
}

func (c *RedisCounter) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (c *RedisCounter) Sweep(ctx context.Context, keepPeriod string) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, keyPrefix+"*:month:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		period, ok := periodOf(key)
		if !ok || period == keepPeriod {
			continue
		}
		n, err := c.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("sweep %s: %w", key, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("sweep: %w", err)
	}
	return removed, nil
}
