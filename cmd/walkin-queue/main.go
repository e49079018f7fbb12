package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"qms/walkin-queue/internal/cache"
	"qms/walkin-queue/internal/clock"
	"qms/walkin-queue/internal/config"
	"qms/walkin-queue/internal/httpapi"
	"qms/walkin-queue/internal/identity"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/store"
	"qms/walkin-queue/internal/store/memory"
	"qms/walkin-queue/internal/store/postgres"
	"qms/walkin-queue/internal/telemetry"
	"qms/walkin-queue/internal/worker"
	"qms/walkin-queue/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "walkin-queue"

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, policyFile, addr string
	var migrate bool

	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file merged into the environment")
	flagSet.StringVar(&policyFile, "policy", "", "lane policy YAML (overrides POLICY_FILE)")
	flagSet.BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	flagSet.StringVar(&addr, "addr", "", "listen address (overrides PORT)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnvFile(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if policyFile == "" {
		policyFile = cfg.PolicyFile
	}
	if addr == "" {
		addr = ":" + cfg.Port
	}

	logger := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownTelemetry := telemetry.Setup(serviceName, version, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	policies, err := config.LoadPolicy(policyFile)
	if err != nil {
		return err
	}
	policies.Queue.PrintEnabled = cfg.PrintEnabled

	ctx := context.Background()
	var st store.Store
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store, tickets are lost on restart")
		st = memory.NewStore()
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()
		if migrate || cfg.MigrateOnStart {
			if err := migrations.Apply(ctx, pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
		}
		st = postgres.NewStore(pool)
	}

	opts := []queue.Option{queue.WithLogger(logger)}
	if cfg.RedisEnabled {
		if rdb := config.NewRedisClient(); rdb != nil {
			defer rdb.Close()
			opts = append(opts, queue.WithSnapshotCache(cache.NewSnapshotCache(rdb, cfg.CachePrefix, cfg.SnapshotCacheTTL, logger)))
			logger.Info("snapshot cache enabled", "ttl", cfg.SnapshotCacheTTL)
		} else {
			logger.Warn("redis unavailable, snapshot cache disabled")
		}
	}
	service := queue.NewService(st, policies.Queue, opts...)

	verifier, err := identity.NewProvider(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, clock.NewSystem())
	if err != nil {
		return err
	}
	handler := httpapi.NewHandler(service, httpapi.Options{
		Access:      policies.Access,
		PrintSecret: printSecret(cfg),
		Logger:      logger,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		UserPerMinute: cfg.UserRateLimitPerMinute,
		UserBurst:     cfg.UserRateLimitBurst,
	})

	routes := httpapi.AuthMiddleware(verifier, limiter.Middleware(handler.Routes()))
	server := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, routes), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if cfg.PrintEnabled {
		reclaimer := worker.NewPrintReclaimer(service, worker.PrintReclaimConfig{
			Interval:   cfg.PrintScanInterval,
			StaleAfter: cfg.PrintStaleAfter,
		}, logger)
		go reclaimer.Run(workerCtx)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "store", cfg.Store, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	return nil
}

func printSecret(cfg config.Config) string {
	if !cfg.PrintEnabled {
		return ""
	}
	return cfg.PrintSecret
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
