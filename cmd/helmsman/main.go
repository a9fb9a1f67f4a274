package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	hmhttp "github.com/launchflow/helmsman/internal/adapter/http"
	hmnats "github.com/launchflow/helmsman/internal/adapter/nats"
	"github.com/launchflow/helmsman/internal/adapter/natsexec"
	"github.com/launchflow/helmsman/internal/adapter/otel"
	"github.com/launchflow/helmsman/internal/adapter/postgres"
	"github.com/launchflow/helmsman/internal/adapter/ristretto"
	"github.com/launchflow/helmsman/internal/adapter/ws"
	"github.com/launchflow/helmsman/internal/config"
	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/logger"
	"github.com/launchflow/helmsman/internal/middleware"
	"github.com/launchflow/helmsman/internal/resilience"
	"github.com/launchflow/helmsman/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"auth_enabled", cfg.Auth.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := otel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := hmnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()
	slog.Info("nats connected", "url", cfg.NATS.URL)

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	dispatcher := natsexec.New(queue)

	// --- Services ---

	auditSvc := service.NewAuditService(auditStore)
	stopSvc := service.NewStopService(store, auditSvc, hub)

	policyCfg, err := service.LoadConfig(cfg.Policy.ConfigPath)
	if err != nil {
		return fmt.Errorf("policy config: %w", err)
	}
	policySvc, err := service.NewPolicyService(store, l1, cfg.Policy.CacheTTL, policyCfg)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	budgetSvc := service.NewBudgetService(store, auditSvc, cfg.Budget)
	governorSvc := service.NewGovernorService(store, auditSvc, hub, cfg.HITL)

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	coordSvc := service.NewCoordinatorService(store, auditSvc, stopSvc, policySvc, budgetSvc, governorSvc, dispatcher, breaker, hub, metrics)

	artifactSvc := service.NewArtifactService(store)
	projectSvc := service.NewProjectService(store, policySvc)
	taskSvc := service.NewTaskService(store)

	registry := service.NewDefinitionRegistry()
	if cfg.Workflow.DefinitionsDir != "" {
		if err := registry.LoadDir(cfg.Workflow.DefinitionsDir); err != nil {
			return fmt.Errorf("workflow definitions: %w", err)
		}
	}

	engine := service.NewWorkflowEngine(store, registry, coordSvc, governorSvc, artifactSvc, auditSvc, dispatcher, hub, metrics, cfg.Workflow)

	// Approval decisions resolve both parked ad-hoc tasks and escalated
	// workflow phases.
	governorSvc.SetOnDecision(func(ctx context.Context, r *hitl.Request) {
		coordSvc.HandleDecision(ctx, r)
		engine.HandleDecision(ctx, r)
	})

	cancelResults, err := engine.SubscribeResults(ctx, queue)
	if err != nil {
		return fmt.Errorf("result subscriber: %w", err)
	}
	defer cancelResults()

	if cfg.Workflow.ResumeOnStart {
		if err := engine.ResumeAll(ctx); err != nil {
			slog.Warn("resume in-flight executions", "error", err)
		}
	}

	// --- HTTP ---

	handlers := hmhttp.NewHandlers(
		projectSvc, taskSvc, coordSvc, engine, governorSvc,
		budgetSvc, stopSvc, artifactSvc, auditSvc, registry,
		store, queue, hub,
	)

	r := chi.NewRouter()
	r.Use(hmhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(hmhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Telemetry.ServiceName))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	hmhttp.MountRoutes(r, handlers, cfg.Auth)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		governorSvc.RunExpirySweeper(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
