package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sahay/backend/internal/anchor"
	"github.com/sahay/backend/internal/api"
	"github.com/sahay/backend/internal/config"
	"github.com/sahay/backend/internal/database"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Local development convenience; deployments set real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := database.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, anchoring queue disabled: %v", err)
			rdb = nil
		}
	}

	var backend anchor.Backend
	if cfg.Anchor.Enabled && rdb != nil {
		eth, err := anchor.NewEthBackend(cfg.Anchor.RPCURL, cfg.Anchor.ContractAddress,
			cfg.Anchor.PrivateKey, cfg.Anchor.ChainID)
		if err != nil {
			log.Fatalf("anchor backend: %v", err)
		}
		backend = eth
	}

	server, err := api.New(cfg, store, rdb, backend)
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		log.Println("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
