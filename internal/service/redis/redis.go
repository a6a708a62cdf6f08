package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb *redis.Client
		ttl time.Duration
	}
)

// NewRedis wraps rdb. Every key written through the service expires after ttl;
// zero keeps keys forever.
func NewRedis(rdb *redis.Client, ttl time.Duration) *RedisService {
	return &RedisService{
		rdb: rdb,
		ttl: ttl,
	}
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisService) Del(ctx context.Context, keys ...string) error {
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *RedisService) Set(ctx context.Context, key string, value any) error {
	return r.rdb.Set(ctx, key, value, r.ttl).Err()
}

// Get returns redis.Nil when the key does not exist.
func (r *RedisService) Get(ctx context.Context, key string) (string, error) {
	return r.rdb.Get(ctx, key).Result()
}

// HSet writes one field and refreshes the expiry of the whole hash.
func (r *RedisService) HSet(ctx context.Context, key, field string, value any) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisService) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, key).Result()
}

func (r *RedisService) HDel(ctx context.Context, key string, fields ...string) error {
	return r.rdb.HDel(ctx, key, fields...).Err()
}
