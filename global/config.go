package global

import (
	"context"
	"os"
	"strconv"
	"time"

	"DuoChat/service/mgo"
	redisstore "DuoChat/service/storage/redis"
	"DuoChat/tools/ids"

	"github.com/pkg/errors"
)

// Config carries everything the process needs at boot. Values come from the
// environment; missing infrastructure endpoints are construction-time
// errors, not runtime surprises.
type Config struct {
	ListenAddr string
	NodeID     string // participates in key naming and the NATS loop guard
	SnowNode   int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string

	NatsURL string // optional; empty = single-process deployment

	JWTSecret string

	PresenceTTL time.Duration
	BusyLockTTL time.Duration
	CallIdxTTL  time.Duration
	RingTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		NodeID:        getenv("NODE_ID", "node_01"),
		SnowNode:      getenvInt64("SNOW_NODE", 1),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),
		MongoURI:      getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getenv("MONGO_DATABASE", "duochat"),
		NatsURL:       os.Getenv("NATS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		PresenceTTL:   60 * time.Second,
		BusyLockTTL:   100 * time.Second,
		CallIdxTTL:    120 * time.Second,
		RingTimeout:   30 * time.Second,
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

// Setup initializes the process-wide collaborators in dependency order.
func Setup(ctx context.Context, cfg *Config) error {
	ids.SetNodeID(cfg.SnowNode)

	if err := redisstore.Init(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		return errors.Wrap(err, "init redis")
	}

	if err := mgo.Init(ctx, mgo.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
	}); err != nil {
		return errors.Wrap(err, "init mongo")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
