// Command doorway runs the access-control API server: the four-level
// security checker, profile administration, and the object registry behind
// one HTTP listener, with health probes and metrics on a second.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/doorwayhq/doorway/pkg/api"
	"github.com/doorwayhq/doorway/pkg/async"
	"github.com/doorwayhq/doorway/pkg/audit"
	"github.com/doorwayhq/doorway/pkg/config"
	"github.com/doorwayhq/doorway/pkg/httputil"
	"github.com/doorwayhq/doorway/pkg/middleware"
	"github.com/doorwayhq/doorway/pkg/objects"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/orgs"
	"github.com/doorwayhq/doorway/pkg/plans"
	"github.com/doorwayhq/doorway/pkg/profiles"
	"github.com/doorwayhq/doorway/pkg/security"
	"github.com/doorwayhq/doorway/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "doorway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if otelProviders != nil {
		shutdown.Register("telemetry", otelProviders.Shutdown)
	}

	var metrics *observability.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	// Database: writes on the primary, the checker's point reads on replicas.
	db, err := storage.NewConnectionManager(storage.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: storage.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxOpenConns,
		IdleConns:   cfg.Database.MaxIdleConns,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if cfg.Database.MigrateOnStart {
		if err := storage.RunMigrations(ctx, db.Primary()); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	// Plan features: seeded on the primary, served through the cache.
	planWrites := plans.NewPostgresStore(db.Primary())
	if err := plans.SeedPlanFeatures(ctx, planWrites, logger); err != nil {
		return fmt.Errorf("failed to seed plan features: %w", err)
	}
	planReads := plans.NewCachedStore(
		plans.NewPostgresStore(db.Replica()),
		cfg.Plans.CacheEntries,
		cfg.Plans.CacheTTL,
		metrics,
	)

	profileWrites := profiles.NewStore(db.Primary())
	if err := profiles.SeedGlobalTemplates(ctx, profileWrites, logger); err != nil {
		return fmt.Errorf("failed to seed profile templates: %w", err)
	}
	profileReads := profiles.NewStore(db.Replica())

	// Object registry: built-ins, persisted tenant types, optional file.
	registry := objects.NewRegistry(objects.NewPostgresStore(db.Primary()), logger, metrics)
	if err := registry.LoadPersisted(ctx); err != nil {
		return err
	}
	if cfg.Objects.DefinitionsFile != "" {
		// A bad definitions file must not take the server down with it.
		if err := objects.LoadDefinitionsFile(registry, cfg.Objects.DefinitionsFile); err != nil {
			logger.WithError(err).Errorf("Failed to load object definitions file, continuing without it")
		}
		if cfg.Objects.Watch {
			watcher, err := objects.NewWatcher(registry, cfg.Objects.DefinitionsFile, logger)
			if err != nil {
				return fmt.Errorf("failed to watch object definitions file: %w", err)
			}
			shutdown.Register("definitions watcher", func(context.Context) error { return watcher.Close() })
		}
	}

	checker := security.NewChecker(
		planReads,
		profileReads,
		objects.NewResolver(db.Replica(), registry),
		logger,
		metrics,
	)

	// Audit trail: async writes, cron-driven retention, and a catch-up sweep
	// at boot in case the server was down over the scheduled window.
	var recorder audit.Recorder = audit.NopRecorder{}
	if cfg.Audit.Enabled {
		auditStore := audit.NewStore(db.Primary())
		asyncRecorder := audit.NewAsyncRecorder(ctx, auditStore, cfg.Audit.Workers, logger, metrics)
		recorder = asyncRecorder
		shutdown.Register("audit recorder", func(sctx context.Context) error {
			return asyncRecorder.Shutdown(cfg.Server.ShutdownTimeout / 2)
		})

		sweeper := audit.NewRetentionSweeper(auditStore, cfg.Audit.RetentionDays, cfg.Audit.SweepSchedule, logger, metrics)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start retention sweeper: %w", err)
		}
		shutdown.Register("retention sweeper", func(context.Context) error {
			sweeper.Stop()
			return nil
		})

		async.SafeGo(ctx, 5*time.Minute, "audit-startup-sweep", func(sctx context.Context) error {
			_, err := sweeper.Sweep(sctx)
			return err
		})
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	server := api.NewServer(api.Deps{
		Checker:   checker,
		Profiles:  profileWrites,
		Plans:     planReads,
		Registry:  registry,
		RecordsDB: db.Replica(),
		Audit:     recorder,
		Logger:    logger,
		Metrics:   metrics,
	})

	identity := middleware.NewIdentityMiddleware(orgs.NewStore(db.Replica()), logger)

	chain := []func(http.Handler) http.Handler{
		observability.PanicRecoveryMiddleware(logger),
	}
	if metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(metrics))
	}
	chain = append(chain,
		httputil.MaxBytesMiddleware(1<<20),
		httputil.ContentTypeMiddleware,
		identity.Handler,
	)
	if cfg.RateLimit.Enabled && redisClient != nil {
		limiter := middleware.NewRateLimitMiddleware(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.BurstSize,
		}, logger, metrics)
		chain = append(chain, limiter.Handler)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(httputil.Chain(chain...)(server), "doorway.api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, observability.NewHealthChecker(
		db.Primary(), redisClient, cfg.Observability.OTelServiceVersion))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(opsMux, promRegistry)
	}
	opsServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.OpsPort),
		Handler:      opsMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown.Register("ops server", opsServer.Shutdown)
	shutdown.Register("api server", apiServer.Shutdown)

	if metrics != nil {
		statsCtx, stopStats := context.WithCancel(ctx)
		shutdown.Register("db stats collector", func(context.Context) error {
			stopStats()
			return nil
		})
		go collectDBStats(statsCtx, metrics, db)
	}

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("Ops server listening on %s", opsServer.Addr)
		if err := opsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// A listener failure turns into the same signal-driven teardown path.
	go func() {
		if err := group.Wait(); err != nil {
			logger.WithError(err).Error("Server failed")
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	return shutdown.WaitForSignal()
}

// collectDBStats feeds connection pool gauges until the context is cancelled.
func collectDBStats(ctx context.Context, metrics *observability.Metrics, db *storage.ConnectionManager) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CollectDBStats(db.Primary())
		}
	}
}
