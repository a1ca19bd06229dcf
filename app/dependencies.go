package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/internal/observability"
	"github.com/upb/context-engine/middleware"
	"github.com/upb/context-engine/repositories"
	"github.com/upb/context-engine/repositories/memory"
	"github.com/upb/context-engine/repositories/postgres"
	"github.com/upb/context-engine/services/embedding"
	"github.com/upb/context-engine/services/prompt"
	"github.com/upb/context-engine/services/providers"
	"github.com/upb/context-engine/services/ranking"
	"github.com/upb/context-engine/services/refresh"
	"github.com/upb/context-engine/services/retrieval"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when DATABASE_URL is not set
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	RefreshRuns repositories.RefreshRunRepository

	// Observability
	Metrics        observability.Metrics
	MetricsHandler http.Handler // nil when metrics are disabled

	// Engine
	Embedder  *embedding.Client
	Registry  *providers.Registry
	Scheduler *refresh.Scheduler
	Retrieval *retrieval.RetrievalService

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// Option customises NewDependencies
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets the client used for embedding requests
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize providers and the query pipeline
	if err := deps.initEngine(cfg, o); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	// Initialize auth
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Int("providers", deps.Registry.Count()),
		zap.Bool("auth_enabled", deps.AuthMiddleware.Enabled()),
		zap.Bool("database", deps.DB != nil))
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}
	prom := observability.NewPrometheusMetrics()
	d.Metrics = prom
	d.MetricsHandler = prom.Handler()
}

// initDatabase opens the refresh audit database when one is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Info("no database configured, refresh runs are kept in memory")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.DB()
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	if d.RepoFactory != nil {
		repos := d.RepoFactory.NewRepositories()
		d.RefreshRuns = repos.RefreshRuns
	} else {
		d.RefreshRuns = memory.NewRefreshRunRepository(memory.DefaultCapacity)
	}

	d.Logger.Info("repositories initialized")
}

// initEngine builds the embedding client, provider registry, scheduler and
// retrieval service
func (d *Dependencies) initEngine(cfg *config.Config, o *options) error {
	embedOpts := []embedding.Option{
		embedding.WithMetrics(d.Metrics),
		embedding.WithLogger(d.Logger),
	}
	if o.httpClient != nil {
		embedOpts = append(embedOpts, embedding.WithHTTPClient(o.httpClient))
	}
	d.Embedder = embedding.NewClient(cfg.Embedding, embedOpts...)

	registry, err := NewProviderBuilder(d.Embedder, d.Logger).Build(cfg.Providers)
	if err != nil {
		return err
	}
	if registry.Count() == 0 {
		d.Logger.Warn("no context providers configured")
	}
	d.Registry = registry

	d.Scheduler = refresh.NewScheduler(registry, refresh.Options{
		Interval:    cfg.Engine.RefreshInterval,
		Timeout:     cfg.Engine.RefreshTimeout,
		Concurrency: cfg.Engine.RefreshConcurrency,
		Recorder:    d.RefreshRuns,
		Metrics:     d.Metrics,
		Logger:      d.Logger,
	})

	d.Retrieval = retrieval.NewRetrievalService(
		registry,
		d.Embedder,
		ranking.NewRanker(cfg.Engine.RefreshConcurrency, d.Logger),
		prompt.NewComposer(cfg.Engine.FragmentTimeout, d.Metrics, d.Logger),
		retrieval.Options{
			NumberOfResults: cfg.Engine.NumberOfResults,
			IncludeExamples: cfg.Engine.IncludeExamples,
		},
		d.Metrics,
		d.Logger,
	)
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	opts := middleware.AuthOptions{
		Enabled:      cfg.AuthEnabled(),
		AdminTenants: cfg.Auth.AdminTenants,
	}
	if cfg.Providers != nil {
		opts.Tokens = cfg.Providers
	}
	if cfg.Auth.JWTSecret != "" {
		opts.Validator = middleware.NewJWTValidator(cfg.Auth.JWTSecret)
	}
	if !opts.Enabled {
		d.Logger.Warn("no tenant tokens or JWT secret configured, authentication disabled")
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(opts, d.Logger)
}

func (d *Dependencies) closeDatabase() {
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
}

// Close gracefully shuts down all dependencies. The scheduler is stopped
// before the database so in-flight run records can still be written.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
