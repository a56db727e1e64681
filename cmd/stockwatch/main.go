package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/config"
	"github.com/ariefcatur/go-storefront/internal/events"
	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/ariefcatur/go-storefront/internal/stockwatch"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-stockwatch"
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", name)
	slog.SetDefault(logger)

	if err := cfg.ValidateWorker(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer: stock.depleted
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(ctx)

	svc := &stockwatch.Service{
		Catalog: catalog.NewCache(catalog.NewRepo(db), rdb, redisx.KeyCatalogSnapshot, cfg.CatalogCacheTTL, logger),
		Dedup:   stockwatch.NewRedisDedup(rdb, name),
		Events:  events.NewEmitter(prod, name),
		Logger:  logger,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StockwatchGroup, events.TopicOrderPlaced, cfg.StockwatchWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("stockwatch consumer started", "group", cfg.StockwatchGroup, "topic", events.TopicOrderPlaced, "workers", cfg.StockwatchWorkers)
		if err := cons.Start(ctx, svc.HandleOrderPlaced); err != nil {
			logger.Error("consumer exit", "err", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer...")
	cancel()
	<-done
	prod.Close()
	prod.WaitClosed()
}
