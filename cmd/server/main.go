package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/clock"
	"github.com/stemsi/testengine/internal/config"
	"github.com/stemsi/testengine/internal/database"
	"github.com/stemsi/testengine/internal/handler"
	"github.com/stemsi/testengine/internal/logger"
	"github.com/stemsi/testengine/internal/middleware"
	"github.com/stemsi/testengine/internal/repository"
	"github.com/stemsi/testengine/internal/router"
	"github.com/stemsi/testengine/internal/service"
	"github.com/stemsi/testengine/internal/validator"
	"golang.org/x/sync/errgroup"
)

const limiterIdleTTL = 10 * time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting test engine")

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// run owns every resource of the server so their deferred cleanup completes
// before main decides the exit code.
func run(cfg *config.Config, log zerolog.Logger) error {
	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.Check{}

	// ─── Select Store ──────────────────────────────────────────────────
	var store repository.Store
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store = repository.NewPostgresStore(pool)
		checks["postgres"] = pool.Ping
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// ─── Initialize Services ──────────────────────────────────────────
	tokenService := service.NewTokenService(cfg.JWTSecret)
	gradingService := service.NewGradingService(log)
	attemptService := service.NewAttemptService(store, clock.System{}, gradingService, log)
	paperService := service.NewPaperService(store, rdb, config.NewPaperKeys(cfg.CachePrefix), cfg.PaperCacheTTL, log)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, log),
		Test:    handler.NewTestHandler(paperService, log),
		WS:      handler.NewWSHandler(attemptService, limiter, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(checks, log),
		Log:     log,
	}

	// ─── Prewarm Paper Cache ──────────────────────────────────────────
	// Stale papers from a previous deploy are dropped before reloading.
	if err := paperService.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Msg("Paper cache invalidation failed")
	}
	if err := paperService.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Paper cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(tokenService, limiter, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Cleanup(limiterIdleTTL); n > 0 {
					log.Debug().Int("evicted", n).Msg("Rate limiter cleanup")
				}
			}
		}
	})

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
