package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/af-corp/aegis-orchestrator/internal/audit"
	"github.com/af-corp/aegis-orchestrator/internal/config"
	"github.com/af-corp/aegis-orchestrator/internal/consent"
	"github.com/af-corp/aegis-orchestrator/internal/grpchealth"
	"github.com/af-corp/aegis-orchestrator/internal/httpapi"
	"github.com/af-corp/aegis-orchestrator/internal/orchestrator"
	"github.com/af-corp/aegis-orchestrator/internal/ratelimit"
	"github.com/af-corp/aegis-orchestrator/internal/router"
	"github.com/af-corp/aegis-orchestrator/internal/sanitize"
	"github.com/af-corp/aegis-orchestrator/internal/session"
	"github.com/af-corp/aegis-orchestrator/internal/telemetry"
	"github.com/af-corp/aegis-orchestrator/internal/workers"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Bootstrap logger until the configured one is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	logger = newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := loader.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Connect to PostgreSQL when a backend needs it.
	var dbPool *pgxpool.Pool
	if cfg.Consent.Backend == "postgres" || cfg.Consent.Backend == "policy" || cfg.Audit.Sink == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database not reachable (consent checks will fail closed)", "error", err)
		} else {
			logger.Info("database connected")
		}
		dbPool = pool
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (redis backends degrade)", "error", err)
		} else {
			logger.Info("redis connected")
		}
	}

	// Metrics and monitor
	reg := prometheus.DefaultRegisterer
	var metrics *telemetry.Metrics
	if cfg.Telemetry.MetricsEnabled {
		metrics = telemetry.NewMetrics(reg)
	}
	monitor := telemetry.NewMonitor(metrics)

	// Audit
	emitter := audit.NewEmitter(cfg.Audit, auditSink(cfg.Audit, dbPool, logger),
		audit.WithLogger(logger),
		audit.WithDropHook(monitor.RecordAuditDropped),
	)
	emitter.Start()

	// Consent
	oracle, consentRecorder, err := consentBackend(cfg.Consent, dbPool, rdb)
	if err != nil {
		logger.Error("failed to build consent oracle", "error", err)
		os.Exit(1)
	}
	gate := consent.NewGate(oracle, emitter, func() config.ConsentConfig { return loader.Config().Consent })

	// Rate limiting
	var backend ratelimit.Backend
	if cfg.RateLimit.Backend == "redis" && rdb != nil {
		backend = ratelimit.NewRedisBackend(rdb, cfg.RateLimit.IdleTTL)
	} else {
		mem := ratelimit.NewMemoryBackend(cfg.RateLimit.IdleTTL)
		go mem.RunJanitor(ctx, cfg.RateLimit.SweepInterval)
		backend = mem
	}
	limiter := ratelimit.NewLimiter(backend, emitter, func() config.RateLimitConfig { return loader.Config().RateLimit })

	// Workers
	registry, err := workers.BuildFromConfig(cfg.Workers.Definitions, loader.Routing().DefaultWorker)
	if err != nil {
		logger.Error("failed to build worker registry", "error", err)
		os.Exit(1)
	}
	healthTracker := workers.NewHealthTracker(cfg.Workers.CircuitBreaker.FailureThreshold, cfg.Workers.CircuitBreaker.RecoveryProbeInterval)
	cache := workers.NewCache(healthTracker, workers.WithLookupHook(monitor.RecordCacheLookup))
	go cache.RunEvictor(ctx, cfg.Workers.EvictInterval, cfg.Workers.EvictIdleAfter)
	tools, err := workers.NewToolRegistry(workers.BuiltinTools())
	if err != nil {
		logger.Error("failed to build tool registry", "error", err)
		os.Exit(1)
	}

	rt, err := router.New(router.TableFromConfig(loader.Routing()))
	if err != nil {
		logger.Error("invalid routing table", "error", err)
		os.Exit(1)
	}

	// Sessions
	var sessions session.Store
	if cfg.Orchestrator.SessionBackend == "redis" && rdb != nil {
		sessions = session.NewRedisStore(rdb, cfg.Orchestrator.SessionTTL)
	} else {
		sessions = session.NewMemoryStore(cfg.Orchestrator.SessionTTL)
	}
	usage := ratelimit.NewUsageTracker(rdb)

	orch, err := orchestrator.New(orchestrator.Deps{
		Config:   func() config.OrchestratorConfig { return loader.Config().Orchestrator },
		Scanner:  sanitize.NewScanner(func() config.SanitizerConfig { return loader.Config().Sanitizer }),
		Consent:  gate,
		Limiter:  limiter,
		Router:   rt,
		Workers:  registry,
		Cache:    cache,
		Sessions: sessions,
		Audit:    emitter,
		Monitor:  monitor,
		Usage:    usage,
		Tools:    tools,
	}, orchestrator.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	loader.OnReload(func() {
		next, err := router.New(router.TableFromConfig(loader.Routing()))
		if err != nil {
			logger.Error("reloaded routing table rejected", "error", err)
			return
		}
		orch.SetRouter(next)
		cache.RetainCircuits(registry.Types())
	})

	// gRPC health
	var grpcServer *grpc.Server
	if cfg.Server.GRPCHealthPort > 0 {
		grpcServer = grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		mirror := grpchealth.NewMirror(healthServer, cache, registry.Types)
		go mirror.Run(ctx, cfg.Workers.HealthCheckInterval)

		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCHealthPort))
		if err != nil {
			logger.Error("failed to listen for grpc health", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc health server error", "error", err)
			}
		}()
	}

	// HTTP
	var metricsHandler http.Handler
	if cfg.Telemetry.MetricsEnabled {
		metricsHandler = promhttp.Handler()
	}
	handler := httpapi.NewHandler(orch, consentRecorder, usage, version)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(metricsHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator starting", "addr", addr, "version", version, "workers", registry.Types())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Error("audit queue not drained", "error", err, "pending", emitter.Len())
	}
	logger.Info("orchestrator stopped", "audit_persisted", emitter.Persisted(), "audit_dropped", emitter.Dropped())
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func auditSink(cfg config.AuditConfig, db *pgxpool.Pool, logger *slog.Logger) audit.Sink {
	if cfg.Sink == "postgres" && db != nil {
		return audit.NewPostgresSink(db)
	}
	return audit.NewLogSink(logger)
}

// consentBackend builds the consent oracle and, where supported, the recorder
// behind POST /v1/consents.
func consentBackend(cfg config.ConsentConfig, db *pgxpool.Pool, rdb *redis.Client) (consent.Oracle, consent.Recorder, error) {
	switch cfg.Backend {
	case "postgres":
		store := consent.NewPostgresStore(db, rdb, cfg.CacheTTL)
		return store, store, nil
	case "policy":
		store := consent.NewPostgresStore(db, rdb, cfg.CacheTTL)
		oracle := consent.NewPolicyOracle(store)
		var err error
		if cfg.PolicyPath != "" {
			err = oracle.LoadDir(cfg.PolicyPath)
		} else {
			err = oracle.LoadDefault()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load consent policy: %w", err)
		}
		return oracle, store, nil
	case "static", "":
		static := consent.NewStaticOracle()
		return static, static, nil
	default:
		return nil, nil, fmt.Errorf("unknown consent backend %q", cfg.Backend)
	}
}
