package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/dispatch"
	"github.com/edgeplane/dispatchd/internal/observability/metrics"
	"github.com/edgeplane/dispatchd/internal/routing"
	"github.com/edgeplane/dispatchd/internal/scoring"
	"github.com/edgeplane/dispatchd/internal/service"
	"github.com/edgeplane/dispatchd/internal/slamonitor"
	"github.com/edgeplane/dispatchd/internal/worker"
)

const shutdownWaitTimeout = 15 * time.Second

// ServiceContainer holds all application services and the shared pieces the
// background runners need.
type ServiceContainer struct {
	Jobs      *service.JobService
	Telemetry *service.TelemetryService
	Pricing   *PricingHandle
	Router    core.Router
	Metrics   *metrics.Metrics

	jobRepo       core.JobRepository
	attemptRepo   core.AttemptRepository
	eventRepo     core.EventRepository
	telemetryRepo core.TelemetryRepository
}

// PricingHandle exposes the pricing service for health checks.
type PricingHandle struct {
	Svc *service.PricingService
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices builds the repositories, scoring pipeline, and services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("config and database are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	repoCfg := data.RepoConfig{Logger: logger}
	jobRepo := data.NewJobRepo(deps.DB, repoCfg)
	attemptRepo := data.NewAttemptRepo(deps.DB, repoCfg)
	eventRepo := data.NewEventRepo(deps.DB, repoCfg)
	telemetryRepo := data.NewTelemetryRepo(deps.DB, repoCfg)

	var priceCache core.PriceCacheRepository
	if deps.RedisClient != nil {
		priceCache = data.NewRedisPriceCacheRepo(deps.RedisClient)
	}

	var pricing *service.PricingService
	if cfg.Pricing.Enabled {
		pricing = service.NewPricingService(service.PricingServiceOptions{
			Config:  cfg.Pricing,
			Cache:   priceCache,
			Logger:  logger,
			Metrics: m,
		})
	}

	predictor := scoring.NewModelPredictor(scoring.ModelPredictorOptions{
		LatencyModelPath: cfg.Scoring.LatencyModelPath,
		CostModelPath:    cfg.Scoring.CostModelPath,
		Logger:           logger,
	})
	scorer := scoring.NewScorer(scoring.ScorerOptions{
		Config:    cfg.Scoring,
		Predictor: predictor,
	})
	router := routing.NewRouter(routing.RouterOptions{
		Telemetry: telemetryRepo,
		Scorer:    scorer,
		Config:    cfg.Router,
		Logger:    logger,
	})

	telemetrySvc, err := service.NewTelemetryService(service.TelemetryServiceOptions{
		Repo:    telemetryRepo,
		Pricing: pricing,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create telemetry service: %w", err)
	}

	jobSvc, err := service.NewJobService(service.JobServiceOptions{
		Jobs:     jobRepo,
		Attempts: attemptRepo,
		Events:   eventRepo,
		Router:   router,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobSvc,
		Telemetry:     telemetrySvc,
		Pricing:       &PricingHandle{Svc: pricing},
		Router:        router,
		Metrics:       m,
		jobRepo:       jobRepo,
		attemptRepo:   attemptRepo,
		eventRepo:     eventRepo,
		telemetryRepo: telemetryRepo,
	}, nil
}

// ServiceOrchestrationConfig groups everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and blocks until a
// shutdown signal arrives or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Config.IsHTTPServerEnabled() {
		server := buildHTTPServer(cfg)
		group.Go(func() error {
			logger.Info("starting HTTP server", "addr", cfg.Config.HTTP.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			logger.Info("http server stopped")
			return nil
		})
	}

	if cfg.Config.IsWorkerEnabled() {
		runner, err := buildWorker(cfg, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return runner.Run(ctx)
		})
	}

	if cfg.Config.IsSLAMonitorEnabled() {
		runner, err := buildSLAMonitor(cfg, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return runner.Run(ctx)
		})
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildWorker(cfg *ServiceOrchestrationConfig, logger *slog.Logger) (*worker.Runner, error) {
	dispatcher := dispatch.NewRegistry(dispatch.RegistryOptions{
		Worker: cfg.Config.Worker,
		Logger: logger,
	})
	runner, err := worker.NewRunner(worker.RunnerOptions{
		Config:     cfg.Config.Worker,
		Jobs:       cfg.Services.jobRepo,
		Attempts:   cfg.Services.attemptRepo,
		Events:     cfg.Services.eventRepo,
		Telemetry:  cfg.Services.telemetryRepo,
		Router:     cfg.Services.Router,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    cfg.Services.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create worker runner: %w", err)
	}
	return runner, nil
}

func buildSLAMonitor(cfg *ServiceOrchestrationConfig, logger *slog.Logger) (*slamonitor.Runner, error) {
	runner, err := slamonitor.NewRunner(slamonitor.RunnerOptions{
		Config:  cfg.Config.SLAMonitor,
		Jobs:    cfg.Services.jobRepo,
		Events:  cfg.Services.eventRepo,
		Router:  cfg.Services.Router,
		Logger:  logger,
		Metrics: cfg.Services.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create sla monitor: %w", err)
	}
	return runner, nil
}
