package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mpc_session/internal/model"
	redisSvc "mpc_session/internal/service/redis"
	"sort"

	"github.com/redis/go-redis/v9"
)

type (
	// RedisStore keeps each mailbox as a Redis hash keyed by message hash, so a
	// re-sent message overwrites itself instead of queueing twice.
	RedisStore struct {
		redisService *redisSvc.RedisService
	}
)

func NewRedisStore(redisService *redisSvc.RedisService) *RedisStore {
	return &RedisStore{redisService: redisService}
}

func mailboxKey(scope string) string {
	return fmt.Sprintf("message:%s", scope)
}

func (s *RedisStore) PutMessage(ctx context.Context, scope string, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.redisService.HSet(ctx, mailboxKey(scope), msg.Hash, data)
}

func (s *RedisStore) ListMessages(ctx context.Context, scope string) ([]*model.Message, error) {
	vals, err := s.redisService.HGetAll(ctx, mailboxKey(scope))
	if err != nil {
		return nil, err
	}

	res := make([]*model.Message, 0, len(vals))
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, err
		}
		res = append(res, &m)
	}

	// hash iteration order is random
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].From != res[j].From {
			return res[i].From < res[j].From
		}
		return res[i].SequenceNo < res[j].SequenceNo
	})
	return res, nil
}

func (s *RedisStore) DeleteMessage(ctx context.Context, scope, hash string) error {
	return s.redisService.HDel(ctx, mailboxKey(scope), hash)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redisService.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.redisService.Set(ctx, key, value)
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.redisService.Del(ctx, keys...)
}
