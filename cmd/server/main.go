package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shehryarbajwa/inapp-messaging/internal/analytics"
	"github.com/shehryarbajwa/inapp-messaging/internal/api"
	"github.com/shehryarbajwa/inapp-messaging/internal/catalog"
	"github.com/shehryarbajwa/inapp-messaging/internal/config"
	"github.com/shehryarbajwa/inapp-messaging/internal/counter"
	"github.com/shehryarbajwa/inapp-messaging/internal/events"
	"github.com/shehryarbajwa/inapp-messaging/internal/logger"
	"github.com/shehryarbajwa/inapp-messaging/internal/ratelimit"
	"github.com/shehryarbajwa/inapp-messaging/internal/remoteconfig"
	"github.com/shehryarbajwa/inapp-messaging/internal/session"
	"github.com/shehryarbajwa/inapp-messaging/internal/stream"
	"github.com/shehryarbajwa/inapp-messaging/internal/telemetry"
	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

const limiterIdle = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	if err := run(ctx, cfg); err != nil {
		slog.ErrorContext(ctx, "server stopped with error", "error", err)
		os.Exit(1)
	}

	if tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}
}

func run(ctx context.Context, cfg config.Config) error {
	slog.InfoContext(ctx, "starting in-app messaging service", "env", cfg.Env, "counter_backend", cfg.Counter.Backend)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	counters, err := openCounterStore(ctx, cfg.Counter)
	if err != nil {
		return err
	}
	defer counters.Close()
	slog.InfoContext(ctx, "day counter store ready", "backend", cfg.Counter.Backend)

	messages := catalog.New()
	if cfg.CatalogPath != "" {
		if messages, err = catalog.Open(cfg.CatalogPath); err != nil {
			return err
		}
		slog.InfoContext(ctx, "catalog loaded", "path", cfg.CatalogPath, "messages", len(messages.List()))
	}

	provider := remoteconfig.NewProvider(cfg.RemoteConfig.URL, cfg.RemoteConfig.Timeout, cfg.PolicyDefaults(), slog.Default())
	provider.OnChange(func(c models.Config) { logger.SetDebug(c.DebugMode) })
	tracker := analytics.NewClient(cfg.Analytics.Endpoint, cfg.Analytics.Timeout, cfg.Analytics.MaxInFlight, slog.Default())
	if cfg.Analytics.Endpoint == "" {
		slog.InfoContext(ctx, "analytics disabled (no endpoint configured)")
	}

	sessionMgr := session.NewManager(session.Options{
		Counters: counters,
		Config:   provider,
		Catalog:  messages,
		Tracker:  tracker,
		Bus:      events.NewBus(slog.Default()),
		Timeout:  cfg.SessionTimeout,
		Location: loc,
		Logger:   slog.Default(),
	})
	defer sessionMgr.Close()

	sessionMgr.Initialize(ctx)
	policy := sessionMgr.Config()
	slog.InfoContext(ctx, "policy initialized",
		"enabled", policy.Enabled,
		"max_messages_per_day", policy.MaxMessagesPerSession,
		"display_interval_ms", policy.DisplayInterval)

	go provider.Run(ctx, cfg.RemoteConfig.Refresh)

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	go evictIdle(ctx, rateLimiter)

	handler := api.NewHandler(sessionMgr)
	messageHandler := api.NewMessageHandler(messages)
	streamServer := stream.NewServer(sessionMgr, slog.Default())
	router := handler.SetupRoutes(messageHandler, streamServer, rateLimiter)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(router, cfg.OTel.ServiceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	tracker.Wait()

	slog.Info("server stopped cleanly")
	return nil
}

func openCounterStore(ctx context.Context, cfg config.CounterConfig) (counter.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
		return counter.OpenSQLite(cfg.SQLitePath)
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return counter.NewRedisStore(client), nil
	default:
		return counter.NewMemoryStore(), nil
	}
}

func evictIdle(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Evict(limiterIdle); n > 0 {
				slog.Debug("evicted idle rate limiters", "count", n)
			}
		}
	}
}
