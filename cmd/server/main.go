package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/chat-platform/internal/cache"
	cfgpkg "github.com/fathima-sithara/chat-platform/internal/config"
	"github.com/fathima-sithara/chat-platform/internal/crypto"
	"github.com/fathima-sithara/chat-platform/internal/engine"
	"github.com/fathima-sithara/chat-platform/internal/events"
	"github.com/fathima-sithara/chat-platform/internal/httpclient"
	"github.com/fathima-sithara/chat-platform/internal/identity"
	"github.com/fathima-sithara/chat-platform/internal/logger"
	"github.com/fathima-sithara/chat-platform/internal/secrets"
	"github.com/fathima-sithara/chat-platform/internal/server"
	"github.com/fathima-sithara/chat-platform/internal/tenant"
	"github.com/fathima-sithara/chat-platform/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := cfgpkg.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.App.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		zlog.Fatalw("redis ping", "err", err)
	}
	cancelPing()

	valueCache := cache.NewRedis(rdb)
	keyCache := crypto.NewKeyCache(valueCache, cfg.Crypto.KeyTTL)

	httpCli := httpclient.NewClient(httpclient.ClientConfig{
		Timeout:         10 * time.Second,
		RetryMaxElapsed: 30 * time.Second,
		MaxIdleConns:    32,
		IdleConnTimeout: 90 * time.Second,
	})

	var provider secrets.Provider = secrets.NewVaultProvider(cfg.Vault.Addr, cfg.Vault.Token, httpCli)
	provider = secrets.NewCachedProvider(provider, cfg.Vault.SecretTTL)

	router := tenant.NewRouter(cfg.Mongo, cfg.Crypto.DecryptedTTL, provider, keyCache, valueCache, zlog)
	defer router.Close(context.Background())

	ids, err := identity.NewJWTResolver(cfg.Auth.Alg, cfg.Auth.Secret, cfg.Auth.PublicKeyPath, cfg.Auth.UserServiceURL, httpCli)
	if err != nil {
		zlog.Fatalw("identity resolver", "err", err)
	}

	pub := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent, zlog)
	defer func() { _ = pub.Close() }()

	hub := ws.NewHub(zlog)
	eng := engine.New(&engine.RouterStores{Router: router}, hub, ids, pub, zlog)

	app := server.New(eng, router, ids, zlog)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		if err := app.Listen(addr); err != nil {
			zlog.Fatalw("server listen", "err", err)
		}
	}()
	zlog.Infow("chat platform started", "port", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(ctx)
	zlog.Infow("chat platform stopped")
}
