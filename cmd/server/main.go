package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unlockd/internal/server/api"
	"unlockd/internal/server/config"
	"unlockd/internal/server/contractabi"
	"unlockd/internal/server/database"
	"unlockd/internal/server/ledger"
	"unlockd/internal/server/metrics"
	"unlockd/internal/server/service"
	"unlockd/internal/server/storage"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Load config
	if err := config.LoadEnvFile(envOr("ENV_FILE", ".env")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	// Structured logging
	slog.SetDefault(newLogger(cfg))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"store", cfg.StoreDriver,
		"jwt_ttl", cfg.JWTTTL,
		"reconcile_interval", cfg.ReconcileInterval,
		"admin_enabled", cfg.AdminTokenHash != "",
	)

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open ledger store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close ledger store", "error", err)
		}
	}()

	// Initialize service
	m := metrics.New("unlockd")
	svc := service.NewLedgerService(store, service.NewReferencePayer(), service.MultiEmitter{service.LogEmitter{}, m})

	codec, err := contractabi.NewCodec(svc)
	if err != nil {
		slog.Error("failed to load contract ABI", "error", err)
		os.Exit(1)
	}

	// Start stats reconciler
	reconcileCtx, reconcileCancel := context.WithCancel(context.Background())
	reconciler := service.NewStatsReconciler(svc, cfg.ReconcileInterval)
	reconciler.Start(reconcileCtx)

	// Setup HTTP router
	auth := api.NewAuthenticator(api.AuthConfig{
		Secret:         cfg.JWTSecret,
		Issuer:         cfg.JWTIssuer,
		TTL:            cfg.JWTTTL,
		ClockSkew:      cfg.AuthClockSkew,
		AdminTokenHash: cfg.AdminTokenHash,
	})
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	handler := api.NewHandler(svc, store, auth, codec)
	e := api.SetupRouter(handler, api.RouterConfig{
		Auth:    auth,
		Limiter: limiter,
		Metrics: m,
	})

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	reconcileCancel()
	reconciler.Wait()

	slog.Info("server exited cleanly")
}

func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverLevelDB:
		store, err := storage.NewLevelDBStore(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		slog.Info("leveldb store opened", "path", cfg.LevelDBPath)
		return store, nil

	case config.DriverMemory:
		slog.Warn("using in-memory store, ledger state is lost on exit")
		return storage.NewMemoryStore(), nil

	default:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database migrations complete")
		return database.NewLedgerStore(db), nil
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	if cfg.LogFormat == "text" {
		return slog.New(tint.NewHandler(out, &tint.Options{
			Level:      cfg.LogLevel,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.LogFile != "",
		}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
