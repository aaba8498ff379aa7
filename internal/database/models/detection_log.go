package models

import (
	"context"
	"fmt"

	"github.com/robalyx/sentinel/internal/database/dbretry"
	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// DetectionLogModel handles the AI scam detection audit trail.
type DetectionLogModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewDetectionLog creates a new DetectionLogModel instance.
func NewDetectionLog(db *bun.DB, logger *zap.Logger) *DetectionLogModel {
	return &DetectionLogModel{
		db:     db,
		logger: logger.Named("db_detection_log"),
	}
}

// InsertDetectionLog appends an audit row.
func (m *DetectionLogModel) InsertDetectionLog(ctx context.Context, record *types.DetectionLog) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(record).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert detection log: %w", err)
		}

		return nil
	})
}

// GetUserDetections returns the most recent audit rows for a user.
func (m *DetectionLogModel) GetUserDetections(
	ctx context.Context, userID string, limit int,
) ([]*types.DetectionLog, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.DetectionLog, error) {
		var logs []*types.DetectionLog

		err := m.db.NewSelect().
			Model(&logs).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get detections: %w", err)
		}

		return logs, nil
	})
}
