package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"nexus-wms/internal/pkg/redis"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// AvailabilityRedisCache 实现了 port.AvailabilityCache。
// 同一仓库的 key 带相同的 hash tag，集群模式下 MGET 也落在同一个 slot。
type AvailabilityRedisCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewAvailabilityRedisCache(client *redis.Client, ttl time.Duration) *AvailabilityRedisCache {
	return &AvailabilityRedisCache{client: client.GetClient(), ttl: ttl}
}

func availabilityKey(warehouse, item int64) string {
	return fmt.Sprintf("wms:avail:{%d}:%d", warehouse, item)
}

func (c *AvailabilityRedisCache) GetMany(ctx context.Context, warehouse int64, items []int64) (map[int64]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = availabilityKey(warehouse, item)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "mget availability")
	}

	out := make(map[int64]int64, len(items))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out[items[i]] = n
	}
	return out, nil
}

func (c *AvailabilityRedisCache) SetMany(ctx context.Context, warehouse int64, values map[int64]int64) error {
	if len(values) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for item, v := range values {
		pipe.Set(ctx, availabilityKey(warehouse, item), v, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "set availability")
}

func (c *AvailabilityRedisCache) Invalidate(ctx context.Context, warehouse int64, items []int64) error {
	if len(items) == 0 {
		return nil
	}
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = availabilityKey(warehouse, item)
	}
	return errors.Wrap(c.client.Del(ctx, keys...).Err(), "invalidate availability")
}
