package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/robalyx/sentinel/internal/database"
	"github.com/robalyx/sentinel/internal/database/migrations"
	"github.com/robalyx/sentinel/internal/setup"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

var (
	ErrUserRequired  = errors.New("USER argument required")
	ErrTextRequired  = errors.New("TEXT argument required")
	ErrBulkBanFailed = errors.New("bans failed")
)

// CLIDependencies holds the common dependencies needed by CLI commands.
// Connections are opened on first use so that migration commands work
// against a schema the moderation stack would refuse to start on.
type CLIDependencies struct {
	LogDir string

	app      *setup.App
	db       database.Client
	migrator *migrate.Migrator
	logger   *zap.Logger
}

// App returns the fully initialized application.
func (d *CLIDependencies) App(ctx context.Context) (*setup.App, error) {
	if d.app != nil {
		return d.app, nil
	}

	app, err := setup.InitializeApp(ctx, setup.Options{
		Component: "cli",
		LogDir:    d.LogDir,
	})
	if err != nil {
		return nil, err
	}

	d.app = app

	return app, nil
}

// Migrator returns a migrator on a bare database connection.
func (d *CLIDependencies) Migrator(ctx context.Context) (*migrate.Migrator, *zap.Logger, error) {
	if d.migrator != nil {
		return d.migrator, d.logger, nil
	}

	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, logger, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d.db = db
	d.logger = logger
	d.migrator = migrate.NewMigrator(db.DB(), migrations.Migrations)

	return d.migrator, logger, nil
}

// Close releases whatever was opened.
func (d *CLIDependencies) Close(ctx context.Context) {
	if d.app != nil {
		d.app.Cleanup(ctx)
	}

	if d.db != nil {
		_ = d.db.Close()
		_ = d.logger.Sync()
	}
}
