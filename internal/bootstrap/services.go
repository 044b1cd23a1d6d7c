package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geolens/geolens/config"
	"github.com/geolens/geolens/internal/data"
	"github.com/geolens/geolens/internal/provider"
	"github.com/geolens/geolens/internal/retry"
	"github.com/geolens/geolens/internal/runner"
	"github.com/geolens/geolens/internal/service"
)

// ServiceContainer holds the constructed application services.
type ServiceContainer struct {
	Diagnoses   *service.DiagnosisService
	DeadLetters *service.DeadLetterService
	Runner      *runner.Runner
}

// ServiceDeps groups everything needed to build the service container.
type ServiceDeps struct {
	Config *config.AppConfig
	DB     *sql.DB
	Redis  redis.UniversalClient // Optional: nil disables the status cache
	Logger *slog.Logger
}

// BuildServices constructs repositories, the provider registry, the
// runner, and the services on top of them.
func BuildServices(deps ServiceDeps) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, errors.New("app config is required")
	}
	if deps.DB == nil {
		return nil, errors.New("database connection is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	diagnosisRepo := data.NewDiagnosisRepo(deps.DB, data.DiagnosisRepoConfig{Logger: logger})
	resultRepo := data.NewResultRepo(deps.DB)
	attemptRepo := data.NewAttemptLogRepo(deps.DB)
	deadLetterRepo := data.NewDeadLetterRepo(deps.DB, data.DeadLetterRepoConfig{Logger: logger})

	var statusCache *data.StatusCache
	if deps.Redis != nil {
		statusCache = data.NewStatusCache(deps.Redis, cfg.Redis.StatusTTL)
	}

	registry, err := buildRegistry(cfg.Providers)
	if err != nil {
		return nil, err
	}

	client := provider.NewClient(provider.ClientOptions{
		HTTPClient: &http.Client{Timeout: cfg.Runner.RequestTimeout},
		Policy: retry.Policy{
			MaxRetries: cfg.Runner.MaxRetries,
			BaseDelay:  cfg.Runner.RetryBaseDelay,
			MaxDelay:   cfg.Runner.RetryMaxDelay,
			Jitter:     true,
		},
		Logger: logger,
	})

	deadLetterSvc, err := service.NewDeadLetterService(service.DeadLetterServiceOptions{
		Repo:   deadLetterRepo,
		Config: cfg.DeadLetter,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build dead letter service: %w", err)
	}

	// Every lifecycle transition lands in the database first and then
	// refreshes the cached status snapshot.
	store := &service.CachingTransitionStore{
		Repo:   diagnosisRepo,
		Logger: logger,
	}
	if statusCache != nil {
		store.Cache = statusCache
	}

	jobRunner, err := runner.New(runner.Options{
		Registry:    registry,
		Client:      client,
		Store:       store,
		Results:     resultRepo,
		Attempts:    attemptRepo,
		DeadLetters: deadLetterSvc,
		Logger:      logger,
		Mode:        runner.Mode(cfg.Runner.Mode),
		Concurrency: cfg.Runner.Concurrency,
		BatchSize:   cfg.Runner.BatchSize,
		JobTimeout:  cfg.Runner.JobTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}

	repos := service.DiagnosisRepos{
		Diagnoses: diagnosisRepo,
		Results:   resultRepo,
	}
	if statusCache != nil {
		repos.Cache = statusCache
	}
	diagnosisSvc, err := service.NewDiagnosisService(service.DiagnosisServiceOptions{
		Repos:  repos,
		Runner: jobRunner,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build diagnosis service: %w", err)
	}

	return &ServiceContainer{
		Diagnoses:   diagnosisSvc,
		DeadLetters: deadLetterSvc,
		Runner:      jobRunner,
	}, nil
}

// buildRegistry constructs adapters for every provider with credentials.
func buildRegistry(cfg config.ProvidersConfig) (*provider.Registry, error) {
	configs := make(map[string]provider.Config)
	for name, pc := range cfg.Enabled() {
		configs[name] = provider.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		}
	}
	if len(configs) == 0 {
		return nil, errors.New("no AI providers configured; set at least one provider API key")
	}
	registry, err := provider.NewRegistry(configs)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}
	return registry, nil
}

// ServiceOrchestrationConfig groups dependencies for running the
// application until shutdown.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts the HTTP server and the dead letter
// reaper, then blocks until SIGINT/SIGTERM or a fatal service error.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil || cfg.Services == nil {
		return errors.New("service orchestration config missing AppConfig or services")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	// Dead letter retention reaper
	go func() {
		if err := cfg.Services.DeadLetters.Run(serviceCtx); err != nil {
			errCh <- fmt.Errorf("dead letter reaper: %w", err)
		}
	}()

	server := StartHTTPServer(&HTTPServerConfig{
		Config:   cfg.Config,
		Services: *cfg.Services,
		Logger:   logger,
	})

	return waitForShutdown(shutdownConfig{
		ctx:     serviceCtx,
		cancel:  cancel,
		errCh:   errCh,
		server:  server,
		timeout: cfg.Config.HTTP.ShutdownTimeout,
		logger:  logger,
	})
}

type shutdownConfig struct {
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	server  *http.Server
	timeout time.Duration
	logger  *slog.Logger
}

func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return ShutdownHTTPServer(ShutdownParams{
			Server:  cfg.server,
			Timeout: cfg.timeout,
			Logger:  cfg.logger,
		})
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := ShutdownHTTPServer(ShutdownParams{
			Server:  cfg.server,
			Timeout: cfg.timeout,
			Logger:  cfg.logger,
		}); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}
