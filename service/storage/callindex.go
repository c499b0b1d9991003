package storage

import (
	"context"
	"encoding/json"
	"time"

	redisstore "DuoChat/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// call:<callId> = serialized CallEntry, TTL-bound. This is the single
// authoritative CallSession value: admission control, relay routing and
// cleanup all consult it, so the busy lock and the index cannot drift into
// two sources of truth.

type RedisCallIndexStore struct {
	ttl time.Duration
}

func NewRedisCallIndexStore(ttl time.Duration) *RedisCallIndexStore {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &RedisCallIndexStore{ttl: ttl}
}

func callKey(callID string) string { return "call:" + callID }

func (s *RedisCallIndexStore) Put(ctx context.Context, entry CallEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "call index marshal")
	}
	return errors.Wrap(
		redisstore.GetRedis().Set(ctx, callKey(entry.CallID), b, s.ttl).Err(),
		"call index put")
}

func (s *RedisCallIndexStore) Get(ctx context.Context, callID string) (*CallEntry, error) {
	b, err := redisstore.GetRedis().Get(ctx, callKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "call index get")
	}
	var entry CallEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, errors.Wrap(err, "call index unmarshal")
	}
	return &entry, nil
}

func (s *RedisCallIndexStore) Delete(ctx context.Context, callID string) error {
	return errors.Wrap(
		redisstore.GetRedis().Del(ctx, callKey(callID)).Err(),
		"call index delete")
}
