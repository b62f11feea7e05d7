package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/gavel-estates/pkg/auth"
	pkgdb "github.com/floroz/gavel-estates/pkg/database"
	"github.com/floroz/gavel-estates/pkg/keylock"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/api"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/database"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/fanout"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/gateway"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/memory"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/scheduler"
	"github.com/floroz/gavel-estates/services/bid-service/internal/config"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

// backend groups the storage ports; Postgres in production, the memory store in development.
type backend struct {
	txManager pkgdb.TransactionManager
	auctions  auctions.Repository
	bids      bids.BidRepository
	outbox    bids.OutboxRepository
	close     func()
}

func main() {
	configPath := flag.String("config", "config.yaml", "optional YAML config file")
	migrate := flag.Bool("migrate", false, "apply database migrations before serving")
	migrationsDir := flag.String("migrations", "migrations", "goose migrations directory")
	flag.Parse()

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger = logger.With("service", "bid-service", "instance_id", cfg.InstanceID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg, *migrate, *migrationsDir, logger)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.close()

	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Error("Failed to read public key", "path", cfg.Auth.PublicKeyPath, "error", err)
		os.Exit(1)
	}
	signer, err := auth.NewSignerFromPublicKey(publicKey, cfg.Auth.Issuer)
	if err != nil {
		logger.Error("Failed to create token verifier", "error", err)
		os.Exit(1)
	}

	hub := fanout.NewHub(cfg.Gateway.MailboxSize, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Unable to ping Redis", "error", err)
			os.Exit(1)
		}
		logger.Info("Redis Connected")

		bridge := fanout.NewRedisBridge(rdb, hub, cfg.Redis.ChannelPrefix, cfg.InstanceID, logger)
		g.Go(func() error { return bridge.Run(gctx) })
	}

	locks := keylock.New()
	auctionService := auctions.NewService(store.txManager, store.auctions, locks,
		cfg.Bidding.LockTimeout, cfg.Bidding.DefaultMaxExtensions)
	ledger := bids.NewLedger(store.txManager, locks, store.auctions, store.bids, store.outbox, hub,
		bids.LedgerConfig{LockTimeout: cfg.Bidding.LockTimeout, RecentBids: cfg.Bidding.RecentBids}, logger)

	sched := scheduler.New(store.auctions, ledger, cfg.Scheduler.Interval, cfg.Scheduler.TimeUpdateInterval, logger)
	g.Go(func() error { return sched.Run(gctx) })

	gw := gateway.New(ledger, store.auctions, hub, signer, gateway.Config{
		WriteWait:      cfg.Gateway.WriteWait,
		PongWait:       cfg.Gateway.PongWait,
		PingPeriod:     cfg.Gateway.PingPeriod,
		MaxMessageSize: cfg.Gateway.MaxMessageSize,
		RateLimit:      cfg.Gateway.RateLimit,
		RateBurst:      cfg.Gateway.RateBurst,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(auctionService, ledger, store.auctions, logger)
	router := api.NewRouter(handler, signer, logger, gw)

	// Use h2c for HTTP/2 without TLS (common for internal services / local dev)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g.Go(func() error {
		logger.Info("Starting Bid Service API", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down Bid Service API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Bid Service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Bid Service stopped")
}

func openBackend(ctx context.Context, cfg *config.Config, migrate bool, migrationsDir string, logger *slog.Logger) (*backend, error) {
	if cfg.Database.URL == "" {
		if cfg.Environment == "production" {
			return nil, errors.New("database url is required in production")
		}
		logger.Warn("No database configured, using the in-memory store")
		store := memory.NewStore()
		return &backend{
			txManager: store,
			auctions:  store,
			bids:      store,
			outbox:    store,
			close:     func() {},
		}, nil
	}

	dbConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		dbConfig.MaxConns = cfg.Database.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Postgres Connected")

	if migrate {
		if err := runMigrations(pool, migrationsDir); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Migrations applied", "dir", migrationsDir)
	}

	return &backend{
		txManager: pkgdb.NewPostgresTransactionManager(pool, cfg.Database.LockTimeout),
		auctions:  database.NewPostgresAuctionRepository(pool),
		bids:      database.NewPostgresBidRepository(pool),
		outbox:    database.NewPostgresOutboxRepository(pool),
		close:     pool.Close,
	}, nil
}

func runMigrations(pool *pgxpool.Pool, dir string) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
