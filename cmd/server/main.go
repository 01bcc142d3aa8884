package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/divest/share-engine/internal/api"
	"github.com/divest/share-engine/internal/catalog"
	"github.com/divest/share-engine/internal/config"
	"github.com/divest/share-engine/internal/ledger"
	"github.com/divest/share-engine/internal/limits"
	"github.com/divest/share-engine/internal/metrics"
	"github.com/divest/share-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config (defaults to $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		st = pg
		logger.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				logger.Fatal("invalid REDIS_URL", zap.Error(err))
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			logger.Info("Redis cache enabled", zap.Duration("ttl", cfg.CacheTTL))
		}

	case cfg.WALDir != "":
		ws, err := store.NewWALStore(cfg.WALDir)
		if err != nil {
			logger.Fatal("ledger WAL open failed", zap.String("dir", cfg.WALDir), zap.Error(err))
		}
		cleanup = append(cleanup, func() {
			if err := ws.Snapshot(); err != nil {
				logger.Warn("final WAL snapshot failed", zap.Error(err))
			}
			ws.Close()
		})
		st = ws
		logger.Info("using write-ahead log store", zap.String("dir", cfg.WALDir), zap.Uint64("index", ws.CurrentIndex()))

	default:
		logger.Warn("DATABASE_URL and WAL_DIR not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Catalog ---
	cat, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		logger.Fatal("catalog load failed", zap.Error(err))
	}
	if !strings.EqualFold(cat.Currency, cfg.Currency) {
		logger.Fatal("catalog currency does not match configured currency",
			zap.String("catalog", cat.Currency), zap.String("configured", cfg.Currency))
	}
	inserted, err := store.SeedCatalog(ctx, st, cat.Assets)
	if err != nil {
		logger.Fatal("catalog seed failed", zap.Error(err))
	}
	logger.Info("catalog ready", zap.Int("assets", len(cat.Assets)), zap.Int("inserted", inserted))

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(logger.Named("ws"))
	go wsHub.Run()
	defer wsHub.Stop()

	// --- Ledger engine ---
	engine, err := ledger.NewEngine(st,
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithStartingBalance(cfg.StartingBalance),
		ledger.WithValuation(cfg.Valuation.Model, cfg.Valuation.GrowthRate),
		ledger.WithLimiter(limits.NewHoldingLimiter(cfg.Limits.MaxSharesPerLimitedAsset, cfg.Limits.MaxSharesPerLocation)),
		ledger.WithNotifier(wsHub),
	)
	if err != nil {
		logger.Fatal("ledger init failed", zap.Error(err))
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"share-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The WebSocket stream must not be cut by the request timeout.
		r.Get("/ws", wsHub.HandleWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			api.NewHandler(engine, nil, api.WithCurrency(cfg.Currency)).Mount(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("share-engine listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down share-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	fmt.Println("share-engine stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}
