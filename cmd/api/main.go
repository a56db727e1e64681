package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront/internal/cart"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/checkout"
	"github.com/ariefcatur/go-storefront/internal/config"
	"github.com/ariefcatur/go-storefront/internal/events"
	"github.com/ariefcatur/go-storefront/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/memory"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	policy, err := orders.ParsePolicy(cfg.StatusPolicy)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores
	var (
		catalogStore catalog.Store
		lister       catalog.Lister
		orderStore   orders.Store
		txStore      checkout.Store
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		mem := memory.NewStore()
		catalogStore, lister, orderStore, txStore = mem, mem, mem.Orders(), mem
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		if cfg.RunMigrations {
			if err := postgres.RunMigrations(cfg.PostgresDSN, logger); err != nil {
				logger.Error("migrate", "err", err)
				os.Exit(1)
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("db connect", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		repo := catalog.NewRepo(db)
		catalogStore, lister = repo, repo
		orderStore = orders.NewRepo(db)
		txStore = checkout.NewPostgresStore(db, cfg.LockTimeout)
	}

	// Redis (optional)
	var (
		rdb   redis.Cmdable
		carts cart.Repository = memory.NewCartStore()
	)
	if cfg.RedisAddr != "" {
		client := redisx.New(cfg.RedisAddr)
		defer client.Close()
		if err := redisx.Ping(ctx, client); err != nil {
			logger.Error("redis ping", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
		rdb = client
		carts = cart.NewRedisStore(client, redisx.TTLCart)
	} else {
		logger.Warn("REDIS_ADDR not set; carts kept in memory and caches disabled")
	}

	// Kafka producer (optional)
	var emitter *events.Emitter
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
		prod.Start(ctx)
		emitter = events.NewEmitter(prod, cfg.ServiceName)
	} else {
		logger.Warn("KAFKA_BROKERS not set; events are not published")
	}

	cache := catalog.NewCache(lister, rdb, redisx.KeyCatalogSnapshot, cfg.CatalogCacheTTL, logger)
	placer := checkout.NewPlacer(txStore, cfg.DeliveryFee,
		checkout.WithCarts(carts),
		checkout.WithCatalogCache(cache),
		checkout.WithEvents(emitter),
		checkout.WithLogger(logger),
	)
	statusSvc := orders.NewService(orderStore, policy, emitter, rdb, logger)
	operator := httpx.RequireOperator(cfg.OperatorToken)

	router := httpx.NewRouter()
	(&httpx.CatalogHandler{Store: catalogStore, Cache: cache, Operator: operator, Logger: logger}).Register(router)
	(&httpx.CartHandler{Carts: carts, Catalog: cache, Logger: logger}).Register(router)
	(&httpx.OrdersHandler{
		Placer:   placer,
		Orders:   orderStore,
		Status:   statusSvc,
		Carts:    carts,
		Redis:    rdb,
		Operator: operator,
		Logger:   logger,
	}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr, "backend", cfg.StoreBackend, "status_policy", policy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()      // berhenti terima publish -> flush & close writer
		prod.WaitClosed() // drain
	}
	cancel()
}
