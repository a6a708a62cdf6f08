// Command relay runs the session relay that parties poll during a ceremony.
//
// Usage:
//
//	go run ./cmd/relay --config=relay.yaml
//	go run ./cmd/relay --addr=:8080 --store=redis --redis-addr=localhost:6379
package main

import (
	"context"
	"flag"
	"mpc_session/internal/config"
	redisSvc "mpc_session/internal/service/redis"
	"mpc_session/internal/service/server"
	"mpc_session/internal/utils/log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		addr       = flag.String("addr", "", "HTTP listen address")
		store      = flag.String("store", "", "Message store: memory or redis")
		redisAddr  = flag.String("redis-addr", "", "Redis address")
		logLevel   = flag.String("log-level", "", "Log level")
	)
	flag.Parse()

	cfg := config.DefaultRelayConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadRelayConfig(*configPath)
		if err != nil {
			log.Fatal("load config", zap.Error(err))
		}
	}

	// Command-line flags override config file
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *store != "" {
		cfg.Store = *store
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	logger, err := log.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatal("build logger", zap.Error(err))
	}
	log.SetLogger(logger)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal("init store", zap.String("store", cfg.Store), zap.Error(err))
	}
	defer closeStore()

	c := server.NewHttpServer(st)
	log.Info("relay starting", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
	if err := c.Run(ctx, cfg.HTTPAddr); err != nil {
		log.Fatal("relay stopped", zap.Error(err))
	}
	log.Info("relay stopped")
}

func newStore(ctx context.Context, cfg *config.RelayConfig) (server.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		st, err := server.NewMemoryStore(cfg.MemoryEntries)
		return st, func() {}, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	redis := redisSvc.NewRedis(rdb, cfg.Redis.TTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redis.Ping(pingCtx); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return server.NewRedisStore(redis), func() { rdb.Close() }, nil
}
