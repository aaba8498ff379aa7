package setup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robalyx/sentinel/internal/ai"
	aiClient "github.com/robalyx/sentinel/internal/ai/client"
	"github.com/robalyx/sentinel/internal/database"
	"github.com/robalyx/sentinel/internal/database/migrations"
	"github.com/robalyx/sentinel/internal/database/service"
	"github.com/robalyx/sentinel/internal/moderation"
	"github.com/robalyx/sentinel/internal/moderation/audit"
	"github.com/robalyx/sentinel/internal/moderation/behavior"
	"github.com/robalyx/sentinel/internal/moderation/fusion"
	"github.com/robalyx/sentinel/internal/moderation/pattern"
	"github.com/robalyx/sentinel/internal/redis"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/robalyx/sentinel/internal/setup/telemetry"
	"github.com/uptrace/bun/migrate"
	"github.com/uptrace/uptrace-go/uptrace"
	"go.uber.org/zap"
)

// ErrPendingMigrations is returned when the schema is behind and automatic
// migration was not requested.
var ErrPendingMigrations = errors.New("database migrations are pending")

// Options controls how the application is bootstrapped.
type Options struct {
	// Component names the log session directory.
	Component string
	// LogDir is the root directory for log sessions.
	LogDir string
	// AutoMigrate applies pending migrations instead of failing.
	AutoMigrate bool
}

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config        // Application configuration
	Logger       *zap.Logger           // Main application logger
	DBLogger     *zap.Logger           // Database-specific logger
	DB           database.Client       // Database connection pool
	AIClient     *aiClient.AIClient    // AI client, nil when AI is disabled
	RedisManager *redis.Manager        // Redis connection manager
	LogManager   *telemetry.Manager    // Log management system
	Tracker      *behavior.Tracker     // Behavior tracker with its sweep running
	Moderator    *moderation.Moderator // Moderation entry point
	tracing      bool
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(ctx context.Context, opts Options) (*App, error) {
	// Load app configuration
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Error reporting comes before logging so setup failures are captured
	reportErrors := cfg.Common.Sentry.DSN != ""
	if err := telemetry.InitSentry(cfg.Common.Sentry.DSN, cfg.Common.Sentry.Environment, config.RepositoryVersion); err != nil {
		log.Printf("Failed to initialize Sentry: %v", err)

		reportErrors = false
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(opts.Component, opts.LogDir, &cfg.Common.Debug, reportErrors)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	// Trace export is optional
	tracing := cfg.Common.Uptrace.DSN != ""
	if tracing {
		uptrace.ConfigureOpentelemetry(
			uptrace.WithDSN(cfg.Common.Uptrace.DSN),
			uptrace.WithServiceName("sentinel"),
			uptrace.WithServiceVersion(config.RepositoryVersion),
		)
	}

	// Redis manager provides connection pools for various subsystems
	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	// Initialize database with migration check
	db, err := checkAndRunMigrations(ctx, cfg, dbLogger, opts.AutoMigrate)
	if err != nil {
		redisManager.Close()
		return nil, err
	}

	// Behavior tracker with its background sweep
	tracker, err := newTracker(ctx, cfg, redisManager, logger)
	if err != nil {
		_ = db.Close()
		redisManager.Close()
		return nil, err
	}

	// Pattern matcher with built-in and custom rules
	matcher, err := newMatcher(cfg, configDir, logger)
	if err != nil {
		tracker.Stop()
		_ = db.Close()
		redisManager.Close()
		return nil, err
	}

	deps := moderation.Dependencies{
		Matcher:   matcher,
		Tracker:   tracker,
		Fusion:    fusion.NewEngine(),
		Store:     db.Service().Moderation(),
		Logger:    logger,
		AIEnabled: cfg.Moderation.AI.Enabled,
		AI: moderation.AIOptions{
			ConfidenceThreshold: cfg.Moderation.AI.ConfidenceThreshold,
			UseAIForAllMessages: cfg.Moderation.AI.UseAIForAllMessages,
		},
	}

	// Initialize AI client
	var aiCli *aiClient.AIClient

	if cfg.Moderation.AI.Enabled && cfg.Common.OpenAI.APIKey != "" {
		aiCli = aiClient.NewClient(&cfg.Common.OpenAI, &cfg.Common.CircuitBreaker, logger)
		deps.Classifier = ai.NewScamAnalyzer(aiCli.Chat(), ai.ScamAnalyzerOptions{
			Model:            cfg.Common.OpenAI.ScamModel,
			Timeout:          time.Duration(cfg.Moderation.AI.RequestTimeout) * time.Millisecond,
			StructuredOutput: cfg.Moderation.AI.StructuredOutput,
		}, logger)
	} else if cfg.Moderation.AI.Enabled {
		logger.Warn("AI detection enabled but no API key configured, continuing without classifier")
	}

	// Detection results are written in the background
	if cfg.Moderation.Audit.Enabled {
		deps.Audit = audit.NewRecorder(db.Service().Moderation(), cfg.Moderation.Audit.QueueSize, logger)
	}

	// Bundle all initialized components
	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		DB:           db,
		AIClient:     aiCli,
		RedisManager: redisManager,
		LogManager:   logManager,
		Tracker:      tracker,
		Moderator:    moderation.New(deps),
		tracing:      tracing,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	// Stop the sweep and drain pending audit entries while the database is up
	if err := s.Moderator.Close(ctx); err != nil {
		s.Logger.Error("Failed to close moderator", zap.Error(err))
	}

	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	// Close database connections
	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections last as other components might need it during cleanup
	s.RedisManager.Close()

	// Flush error reports and traces
	telemetry.FlushSentry()

	if s.tracing {
		if err := uptrace.Shutdown(ctx); err != nil {
			log.Printf("Failed to shutdown tracing: %v", err)
		}
	}
}

// newTracker creates the behavior tracker on the configured store backend
// and starts its periodic sweep.
func newTracker(
	ctx context.Context, cfg *config.Config, redisManager *redis.Manager, logger *zap.Logger,
) (*behavior.Tracker, error) {
	var store behavior.Store

	switch cfg.Moderation.Behavior.Backend {
	case config.BehaviorStoreRedis:
		client, err := redisManager.GetClient(cfg.Moderation.Behavior.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to get behavior redis client: %w", err)
		}

		store = behavior.NewRedisStore(client)
	default:
		store = behavior.NewMemoryStore()
	}

	tracker := behavior.NewTracker(store, logger)
	tracker.Start(ctx, behavior.NewTickerScheduler(
		time.Duration(cfg.Moderation.Behavior.SweepInterval)*time.Second,
	))

	logger.Info("Behavior tracker started",
		zap.String("backend", cfg.Moderation.Behavior.Backend),
		zap.Int("sweepInterval", cfg.Moderation.Behavior.SweepInterval))

	return tracker, nil
}

// newMatcher compiles the built-in rules plus any custom pattern file.
func newMatcher(cfg *config.Config, configDir string, logger *zap.Logger) (*pattern.Matcher, error) {
	defs, err := config.LoadPatterns(configDir, cfg.Moderation.PatternFile)
	if err != nil {
		return nil, err
	}

	rules := pattern.DefaultRules()
	for _, def := range defs {
		rule, err := pattern.CompileRule(def.Category, def.Name, def.Pattern, def.HasURL)
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	if len(defs) > 0 {
		logger.Info("Loaded custom threat patterns", zap.Int("count", len(defs)))
	}

	return pattern.NewMatcher(rules...), nil
}

// checkAndRunMigrations opens the database and verifies that the schema is
// current. Pending migrations are applied only when autoMigrate is set.
func checkAndRunMigrations(
	ctx context.Context, cfg *config.Config, dbLogger *zap.Logger, autoMigrate bool,
) (database.Client, error) {
	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, dbLogger, autoMigrate,
		service.WithMaxMessageLength(cfg.Moderation.Audit.MaxMessageLength))
	if err != nil {
		return nil, err
	}

	if autoMigrate {
		return db, nil
	}

	migrator := migrate.NewMigrator(db.DB(), migrations.Migrations)

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	if unapplied := ms.Unapplied(); len(unapplied) > 0 {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %d unapplied, run the migrate command", ErrPendingMigrations, len(unapplied))
	}

	return db, nil
}
