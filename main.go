package main

import (
	"context"
	"time"

	"DuoChat/global"
	"DuoChat/logger"
	"DuoChat/module/chat/call"
	"DuoChat/module/chat/message"
	"DuoChat/module/chat/model"
	"DuoChat/service/chat"
	"DuoChat/service/natsx"
	"DuoChat/service/storage"
	"DuoChat/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := global.Load()
	if err != nil {
		logger.Log.Fatal(err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := global.Setup(ctx, cfg); err != nil {
		logger.Log.Fatal(err.Error())
	}

	store := model.NewMongoStore()
	presence := storage.NewRedisPresenceStore(cfg.PresenceTTL)
	locks := storage.NewRedisBusyLockStore(cfg.BusyLockTTL)
	index := storage.NewRedisCallIndexStore(cfg.CallIdxTTL)

	fanout := chat.NewFanout(8, 4096)
	defer fanout.Close()
	registry := chat.NewRegistry(fanout)

	delivery := message.NewCoordinator(store, presence, registry)
	calls, err := call.NewCoordinator(call.Config{
		RingTimeout: cfg.RingTimeout,
		LockTTL:     cfg.BusyLockTTL,
	}, store, presence, locks, index, registry)
	if err != nil {
		logger.Log.Fatal(err.Error())
	}

	server := chat.NewServer(chat.Options{
		JWT: security.DefaultOptions([]byte(cfg.JWTSecret)),
	}, registry, presence, delivery, calls, store)

	if cfg.NatsURL != "" {
		bridge, err := natsx.NewBridge(cfg.NatsURL, cfg.NodeID, registry.Deliver)
		if err != nil {
			logger.Log.Fatal(err.Error())
		}
		defer bridge.Close()
		registry.SetMirror(bridge.Mirror)
		logger.Infof("cross-node fanout enabled via %s", cfg.NatsURL)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	server.Routes(r)

	logger.Infof("gateway %s listening on %s", cfg.NodeID, cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Log.Fatal(err.Error())
	}
}
