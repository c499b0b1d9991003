package storage

import (
	"context"
	"time"

	redisstore "DuoChat/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// busy:<user> = active callId, SET NX with TTL. The TTL (~100s) is a
// liveness safety net; every explicit call exit path releases eagerly.

// Compare-and-delete: frees the lock only while it still belongs to the
// given call, so a stale cleanup cannot evict a newer call's lock.
const luaBusyRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type RedisBusyLockStore struct {
	ttl        time.Duration
	luaRelease *redis.Script
}

func NewRedisBusyLockStore(ttl time.Duration) *RedisBusyLockStore {
	if ttl <= 0 {
		ttl = 100 * time.Second
	}
	return &RedisBusyLockStore{
		ttl:        ttl,
		luaRelease: redis.NewScript(luaBusyRelease),
	}
}

func busyKey(user string) string { return "busy:" + user }

func (s *RedisBusyLockStore) Acquire(ctx context.Context, userID, callID string) (bool, error) {
	ok, err := redisstore.GetRedis().SetNX(ctx, busyKey(userID), callID, s.ttl).Result()
	return ok, errors.Wrap(err, "busy lock acquire")
}

func (s *RedisBusyLockStore) Release(ctx context.Context, userID, callID string) (bool, error) {
	rc, err := s.luaRelease.Run(ctx, redisstore.GetRedis(), []string{busyKey(userID)}, callID).Int64()
	if err != nil {
		return false, errors.Wrap(err, "busy lock release")
	}
	return rc == 1, nil
}

func (s *RedisBusyLockStore) Holder(ctx context.Context, userID string) (string, error) {
	val, err := redisstore.GetRedis().Get(ctx, busyKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "busy lock holder")
	}
	return val, nil
}
