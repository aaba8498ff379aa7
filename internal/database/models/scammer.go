package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robalyx/sentinel/internal/database/dbretry"
	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ScammerModel handles database operations for scammer reports.
type ScammerModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewScammer creates a new ScammerModel instance.
func NewScammer(db *bun.DB, logger *zap.Logger) *ScammerModel {
	return &ScammerModel{
		db:     db,
		logger: logger.Named("db_scammer"),
	}
}

// UpsertScammer creates or updates the scammer record of a user.
func (m *ScammerModel) UpsertScammer(ctx context.Context, record *types.Scammer) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(record).
			On("CONFLICT (user_id) DO UPDATE").
			Set("reason = EXCLUDED.reason").
			Set("reported_by = EXCLUDED.reported_by").
			Set("reported_at = EXCLUDED.reported_at").
			Set("evidence = EXCLUDED.evidence").
			Set("verified = EXCLUDED.verified").
			Returning("id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert scammer: %w", err)
		}

		return nil
	})
}

// GetVerifiedScammer returns the verified scammer record of a user.
// Returns nil if the user is not a verified scammer.
func (m *ScammerModel) GetVerifiedScammer(ctx context.Context, userID string) (*types.Scammer, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Scammer, error) {
		var scammer types.Scammer

		err := m.db.NewSelect().
			Model(&scammer).
			Where("user_id = ?", userID).
			Where("verified = TRUE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get scammer: %w", err)
		}

		return &scammer, nil
	})
}
