package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atmx/papertrader/internal/config"
	"github.com/atmx/papertrader/internal/engine"
	"github.com/atmx/papertrader/internal/ledger"
	"github.com/atmx/papertrader/internal/logging"
	"github.com/atmx/papertrader/internal/metrics"
	"github.com/atmx/papertrader/internal/ratelimit"
	"github.com/atmx/papertrader/internal/store"
	"github.com/atmx/papertrader/internal/trade"
)

type serveCmd struct {
	configPath string
	envPath    string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the paper trading HTTP server" }
func (*serveCmd) Usage() string {
	return `papertrader serve [-config <file.yaml>] [-env <file>]

  Starts the HTTP API. Settings come from the optional YAML file, then the
  .env file, then the environment (PORT, INITIAL_BALANCE, DATABASE_URL, ...).
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "Path to a YAML config file.")
	f.StringVar(&c.envPath, "env", "", "Path to a .env file (defaults to ./.env when present).")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath, c.envPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer logger.Sync()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize archive ---
	archive, cleanup, err := openArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Core ---
	eng := engine.New(ledger.New(cfg.InitialBalance()))

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub(logger, cfg.Server.CORSOrigins)
	go wsHub.Run(ctx)

	// --- Trade service ---
	tradeSvc := trade.NewService(eng, archive, wsHub, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(metrics.Middleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"papertrader"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	var apiMiddleware []func(http.Handler) http.Handler
	if cfg.RateLimit.RPS > 0 {
		limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go limiter.Run(time.Minute, ctx.Done())
		apiMiddleware = append(apiMiddleware, limiter.Middleware(trade.TooManyRequests))
	}
	tradeSvc.Register(r, apiMiddleware...)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("papertrader listening",
			zap.String("port", cfg.Server.Port),
			zap.String("initial_balance", cfg.InitialBalance().String()),
			zap.String("session", tradeSvc.Session()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Graceful shutdown.
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down papertrader...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("papertrader stopped")
	return nil
}

// openArchive picks the audit archive: PostgreSQL (optionally behind Redis)
// when a database URL is set, memory otherwise.
func openArchive(ctx context.Context, cfg config.Archive, logger *zap.Logger) (store.Archive, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory archive (data will not persist)")
		return store.NewMemoryArchive(), func() {}, nil
	}

	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresArchive(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("connected to PostgreSQL")

	var archive store.Archive = pg
	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		archive = store.NewCachedArchive(archive, rdb, cfg.CacheTTL)
		logger.Info("Redis cache enabled", zap.Duration("ttl", cfg.CacheTTL))
	}

	return archive, closeAll, nil
}
