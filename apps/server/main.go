package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.temporal.io/sdk/client"
	otelcontrib "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/loomhq/loom/apps/server/internal/migrations"
	"github.com/loomhq/loom/apps/server/internal/migrations/execution"
	"github.com/loomhq/loom/apps/server/internal/migrations/handler"
	"github.com/loomhq/loom/apps/server/internal/migrations/migrator"
	"github.com/loomhq/loom/apps/server/internal/migrations/store"
	"github.com/loomhq/loom/apps/server/internal/migrations/store/pgmigrations"
	"github.com/loomhq/loom/apps/server/internal/platform/config"
	"github.com/loomhq/loom/apps/server/internal/platform/logger"
	"github.com/loomhq/loom/apps/server/internal/platform/postgres"
	"github.com/loomhq/loom/apps/server/internal/platform/telemetry"
	temporalplatform "github.com/loomhq/loom/apps/server/internal/platform/temporal"
	"github.com/loomhq/loom/apps/server/internal/platform/validation"
	"github.com/loomhq/loom/schemas"
)

func main() {
	slog := logger.New()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	// --- Observability ---

	// Default the service name before any OTel init.
	if os.Getenv("OTEL_SERVICE_NAME") == "" {
		os.Setenv("OTEL_SERVICE_NAME", "loom-server") //nolint:errcheck
	}

	ctx := context.Background()
	tel, err := telemetry.New(ctx, cfg.Telemetry.Enabled)
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// --- Platform: Temporal ---

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		slog.Error("temporal client init failed", "error", err)
		os.Exit(1)
	}
	defer tc.Close()

	engine := temporalplatform.NewEngine(tc)

	// --- Platform: Redis (migration store + optional dispatch bus) ---

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	migrationStore := store.NewRedisMigrationStore(rdb)

	// --- Platform: Postgres (step event store, optional) ---

	var events migrations.EventStore
	if cfg.Postgres.URL != "" {
		pool, err := postgres.New(ctx, cfg.Postgres.URL, pgmigrations.FS)
		if err != nil {
			slog.Error("postgres init failed", "error", err)
			os.Exit(1) //nolint:gocritic // deferred closes are best-effort at startup
		}
		defer pool.Close()
		events = store.NewPGEventStore(pool)
		slog.Info("step event store enabled")
	} else {
		slog.Info("no postgres configured, metrics endpoints return empty data")
	}

	// --- Adapters ---

	var notifier migrations.MigratorNotifier
	switch cfg.Notifier.Mode {
	case config.NotifierModeRedis:
		notifier = migrator.NewRedisBusNotifier(rdb, cfg.Notifier.ChannelPrefix)
	default:
		notifier = migrator.NewHTTPMigratorNotifier(&http.Client{Timeout: 30 * time.Second})
	}
	dryRunner := migrator.NewHTTPDryRunAdapter(&http.Client{Timeout: 60 * time.Second})

	// --- Temporal Worker ---

	activities := execution.NewActivities(notifier, migrationStore, events, slog)

	workerOpts := worker.Options{}
	if cfg.Telemetry.Enabled {
		tracingInterceptor, err := otelcontrib.NewTracingInterceptor(otelcontrib.TracerOptions{})
		if err != nil {
			slog.Error("temporal tracing interceptor init failed", "error", err)
			os.Exit(1)
		}
		workerOpts.Interceptors = []interceptor.WorkerInterceptor{tracingInterceptor}
	}

	w := worker.New(tc, temporalplatform.TaskQueue(), workerOpts)
	w.RegisterWorkflowWithOptions(execution.MigrationOrchestrator, workflow.RegisterOptions{
		Name: migrations.OrchestratorWorkflowName,
	})
	w.RegisterActivity(activities)

	go func() {
		if err := w.Run(worker.InterruptCh()); err != nil {
			log.Fatalf("temporal worker failed: %v", err)
		}
	}()
	slog.Info("temporal worker started", "taskQueue", temporalplatform.TaskQueue())

	// --- Service + HTTP ---

	svc := migrations.NewService(engine, migrationStore, dryRunner, events)

	router := gin.New()

	validator, err := validation.New(schemas.OpenAPISpec)
	if err != nil {
		slog.Error("openapi validation middleware init failed", "error", err)
		os.Exit(1)
	}

	router.Use(gin.Recovery(), otelgin.Middleware("loom-server"), validator)
	handler.RegisterRoutes(router, svc, slog)

	slog.Info("starting loom", "addr", cfg.HTTPAddr)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
