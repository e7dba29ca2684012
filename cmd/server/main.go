package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/keyrelay/internal/adapter/httpserver"
	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/adapter/redis"
	"github.com/pscheid92/keyrelay/internal/adapter/websocket"
	"github.com/pscheid92/keyrelay/internal/platform/config"
	"github.com/pscheid92/keyrelay/internal/platform/logging"
	"github.com/pscheid92/keyrelay/internal/platform/retry"
	"github.com/pscheid92/keyrelay/internal/platform/version"
	"github.com/pscheid92/keyrelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupAuthorizer returns the Redis lease authorizer when REDIS_URL is set,
// AllowAll otherwise. The returned client is nil without Redis.
func setupAuthorizer(cfg *config.Config, reg prometheus.Registerer, clock clockwork.Clock) (relay.Authorizer, *goredis.Client) {
	if !cfg.LeaseEnabled() {
		slog.Info("Master authority: last writer wins")
		return relay.AllowAll{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisMetrics := metrics.NewRedisMetrics(reg)
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	client, err := retry.Do(ctx, clock, policy, func(ctx context.Context) (*goredis.Client, error) {
		// A fresh breaker per attempt, so startup failures do not leave it open.
		return redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(redisMetrics), redis.NewCircuitBreakerHook(redisMetrics))
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	slog.Info("Master authority: redis lease", "ttl", cfg.MasterLeaseTTL)
	return redis.NewLeaseAuthorizer(client, cfg.MasterLeaseTTL), client
}

func healthChecks(engine *relay.Engine, redisClient *goredis.Client) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{{Name: "engine", Check: engine.Ping}}
	if redisClient != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}

func runGracefulShutdown(servers []*httpserver.Server, wsHandler *websocket.Handler, engine *relay.Engine) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Error("Server shutdown error", "error", err)
			}
		}
		// Hijacked WebSocket connections are not tracked by http.Server.
		wsHandler.CloseAll("server shutting down")

		engine.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "version", version.Get().String())

	reg := metrics.NewRegistry()

	authorizer, redisClient := setupAuthorizer(cfg, reg, clock)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	engine := relay.NewEngine(relay.Config{
		TickInterval:   cfg.TickInterval,
		MaxQueueLength: cfg.MaxQueueLength,
		MaxOutstanding: cfg.MaxOutstanding,
	}, authorizer, metrics.NewRelayMetrics(reg), clock)

	limits := websocket.NewLimits(websocket.LimitsConfig{
		MaxConnections: cfg.MaxWebSocketConnections,
		MaxPerIP:       cfg.MaxConnectionsPerIP,
		RatePerSecond:  cfg.ConnectionRate,
		Burst:          cfg.ConnectionBurst,
	}, clock)
	wsHandler := websocket.NewHandler(engine, limits, websocket.HandlerConfig{
		AllowedOrigins: cfg.Origins(),
		BufferSize:     cfg.ClientBufferSize,
	}, metrics.NewWebSocketMetrics(reg), clock)

	servers := []*httpserver.Server{httpserver.NewRelayServer(cfg.Port, wsHandler.Upgrade)}
	if cfg.AdminPort != "" {
		servers = append(servers, httpserver.NewAdminServer(httpserver.AdminConfig{
			Port:           cfg.AdminPort,
			MetricsHandler: metrics.Handler(reg),
			HTTPMetrics:    metrics.NewHTTPMetrics(reg),
			HealthChecks:   healthChecks(engine, redisClient),
			Clock:          clock,
		}))
	}

	done := runGracefulShutdown(servers, wsHandler, engine)

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() { errCh <- srv.Start() }()
	}

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
		<-done
	case <-done:
	}
}
