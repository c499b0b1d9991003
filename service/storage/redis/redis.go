package redis

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

var rdb *redis.Client

// Init connects the process-wide client and verifies the server answers.
func Init(c Config) error {
	cli := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	rdb = cli
	return nil
}

func GetRedis() *redis.Client {
	if rdb == nil {
		panic("redis not initialized")
	}
	return rdb
}
