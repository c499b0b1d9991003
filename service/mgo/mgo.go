package mgo

import (
	"context"
	"time"

	"DuoChat/logger"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	MaxRetry    int
}

var db *mongo.Database

// Init connects with bounded retry/backoff. The realtime layer cannot serve
// without its durable store, so boot blocks until Mongo answers or the
// retry budget runs out.
func Init(ctx context.Context, cfg Config) error {
	if cfg.URI == "" {
		return errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		return errors.New("mongo database is required")
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 20
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}

	opts := options.Client().ApplyURI(cfg.URI).SetMaxPoolSize(cfg.MaxPoolSize)

	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetry; attempt++ {
		cli, err := mongo.Connect(ctx, opts)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = cli.Ping(pingCtx, readpref.Primary())
			cancel()
			if err == nil {
				db = cli.Database(cfg.Database)
				return nil
			}
			_ = cli.Disconnect(ctx)
		}
		lastErr = err
		logger.Warnf("[mgo] connect attempt %d failed: %v", attempt+1, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
	return errors.Wrap(lastErr, "mongo connect")
}

func GetDB() *mongo.Database {
	if db == nil {
		panic("mongo not initialized")
	}
	return db
}
