package storage

import (
	"context"
	"strconv"
	"time"

	redisstore "DuoChat/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis layout:
//
//	presence:<user>  hash {status, focused_room, last_seen}  EX presenceTTL
//	conns:<user>     set of live connection IDs              EX presenceTTL
//
// The TTL guards against connections that vanish without a clean
// disconnect; the set keeps one tab's closure from marking a multi-tab
// user offline.

// Removes the connection and, only when that removal drained the set,
// writes the offline record. Returns 1 exactly on the online->offline
// transition: a connection the set no longer holds (already removed, or
// the whole set TTL-lapsed) must not re-fire the one-shot signal.
const luaPresenceDisconnect = `
local conns = KEYS[1]
local pres  = KEYS[2]
if redis.call("SREM", conns, ARGV[1]) == 0 then
  return 0
end
if redis.call("SCARD", conns) > 0 then
  return 0
end
redis.call("DEL", conns)
redis.call("HSET", pres, "status", "offline", "focused_room", "", "last_seen", ARGV[2])
redis.call("EXPIRE", pres, ARGV[3])
return 1
`

// Reverts IN_CHAT to ONLINE only while the focus still matches the room:
// a stale leave from an earlier tab must not clobber a newer focus.
const luaPresenceLeaveRoom = `
local pres = KEYS[1]
if redis.call("HGET", pres, "focused_room") ~= ARGV[1] then
  return 0
end
redis.call("HSET", pres, "status", "online", "focused_room", "", "last_seen", ARGV[2])
redis.call("EXPIRE", pres, ARGV[3])
return 1
`

type RedisPresenceStore struct {
	ttl           time.Duration
	luaDisconnect *redis.Script
	luaLeaveRoom  *redis.Script
}

func NewRedisPresenceStore(ttl time.Duration) *RedisPresenceStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RedisPresenceStore{
		ttl:           ttl,
		luaDisconnect: redis.NewScript(luaPresenceDisconnect),
		luaLeaveRoom:  redis.NewScript(luaPresenceLeaveRoom),
	}
}

func presenceKey(user string) string { return "presence:" + user }
func connsKey(user string) string    { return "conns:" + user }

func (s *RedisPresenceStore) Connect(ctx context.Context, userID, connID string) error {
	now := time.Now().UnixMilli()
	pipe := redisstore.GetRedis().TxPipeline()
	pipe.SAdd(ctx, connsKey(userID), connID)
	pipe.Expire(ctx, connsKey(userID), s.ttl)
	pipe.HSet(ctx, presenceKey(userID),
		"status", string(StatusOnline),
		"focused_room", "",
		"last_seen", strconv.FormatInt(now, 10))
	pipe.Expire(ctx, presenceKey(userID), s.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "presence connect")
}

func (s *RedisPresenceStore) EnterRoom(ctx context.Context, userID, roomID string) error {
	now := time.Now().UnixMilli()
	pipe := redisstore.GetRedis().TxPipeline()
	pipe.HSet(ctx, presenceKey(userID),
		"status", string(StatusInChat),
		"focused_room", roomID,
		"last_seen", strconv.FormatInt(now, 10))
	pipe.Expire(ctx, presenceKey(userID), s.ttl)
	pipe.Expire(ctx, connsKey(userID), s.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "presence enter room")
}

func (s *RedisPresenceStore) LeaveRoom(ctx context.Context, userID, roomID string) error {
	now := time.Now().UnixMilli()
	err := s.luaLeaveRoom.Run(ctx, redisstore.GetRedis(),
		[]string{presenceKey(userID)},
		roomID, strconv.FormatInt(now, 10), int64(s.ttl/time.Second),
	).Err()
	return errors.Wrap(err, "presence leave room")
}

func (s *RedisPresenceStore) Heartbeat(ctx context.Context, userID string) error {
	pipe := redisstore.GetRedis().TxPipeline()
	pipe.Expire(ctx, presenceKey(userID), s.ttl)
	pipe.Expire(ctx, connsKey(userID), s.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "presence heartbeat")
}

func (s *RedisPresenceStore) Disconnect(ctx context.Context, userID, connID string) (bool, error) {
	now := time.Now().UnixMilli()
	rc, err := s.luaDisconnect.Run(ctx, redisstore.GetRedis(),
		[]string{connsKey(userID), presenceKey(userID)},
		connID, strconv.FormatInt(now, 10), int64(s.ttl/time.Second),
	).Int64()
	if err != nil {
		return false, errors.Wrap(err, "presence disconnect")
	}
	return rc == 1, nil
}

func (s *RedisPresenceStore) Read(ctx context.Context, userID string) (PresenceRecord, error) {
	vals, err := redisstore.GetRedis().HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return PresenceRecord{Status: StatusOffline}, errors.Wrap(err, "presence read")
	}
	// Expired or never-seen users read as offline, never as an error.
	if len(vals) == 0 {
		return PresenceRecord{Status: StatusOffline}, nil
	}
	rec := PresenceRecord{
		Status:      PresenceStatus(vals["status"]),
		FocusedRoom: vals["focused_room"],
	}
	if rec.Status == "" {
		rec.Status = StatusOffline
	}
	if ms, perr := strconv.ParseInt(vals["last_seen"], 10, 64); perr == nil && ms > 0 {
		rec.LastSeen = time.UnixMilli(ms)
	}
	return rec, nil
}
