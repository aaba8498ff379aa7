package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/sentinel/internal/database/dbretry"
	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// SuspensionModel handles database operations for chat suspensions.
type SuspensionModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSuspension creates a new SuspensionModel instance.
func NewSuspension(db *bun.DB, logger *zap.Logger) *SuspensionModel {
	return &SuspensionModel{
		db:     db,
		logger: logger.Named("db_suspension"),
	}
}

// UpdateSuspension overwrites the existing suspension for the record's user
// and chat. Returns false if no such suspension exists.
func (m *SuspensionModel) UpdateSuspension(ctx context.Context, record *types.Suspension) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := m.db.NewUpdate().
			Model(record).
			Column("reason", "suspended_by", "suspended_at", "expires_at").
			Where("user_id = ?", record.UserID).
			Where("chat_id = ?", record.ChatID).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to update suspension: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, err
		}

		return affected > 0, nil
	})
}

// InsertSuspension creates a new suspension record.
func (m *SuspensionModel) InsertSuspension(ctx context.Context, record *types.Suspension) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(record).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert suspension: %w", err)
		}

		return nil
	})
}

// InsertSuspensionRelaxed upserts the suspension with foreign key triggers
// disabled for the duration of a transaction.
func (m *SuspensionModel) InsertSuspensionRelaxed(ctx context.Context, record *types.Suspension) error {
	return dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SET LOCAL session_replication_role = replica"); err != nil {
			return fmt.Errorf("failed to relax constraints: %w", err)
		}

		_, err := tx.NewInsert().
			Model(record).
			On("CONFLICT (user_id, chat_id) DO UPDATE").
			Set("reason = EXCLUDED.reason").
			Set("suspended_by = EXCLUDED.suspended_by").
			Set("suspended_at = EXCLUDED.suspended_at").
			Set("expires_at = EXCLUDED.expires_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert suspension with relaxed constraints: %w", err)
		}

		return nil
	})
}

// UpsertSuspensionRaw writes the suspension and any missing identity rows in
// a single statement.
func (m *SuspensionModel) UpsertSuspensionRaw(ctx context.Context, record *types.Suspension) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewRaw(`
			WITH new_user AS (
				INSERT INTO users (id, placeholder, created_at) VALUES (?0, true, ?4)
				ON CONFLICT (id) DO NOTHING
			), new_chat AS (
				INSERT INTO chats (id, placeholder, created_at) VALUES (?1, true, ?4)
				ON CONFLICT (id) DO NOTHING
			)
			INSERT INTO suspensions (user_id, chat_id, reason, suspended_by, suspended_at, expires_at)
			VALUES (?0, ?1, ?2, ?3, ?4, ?5)
			ON CONFLICT (user_id, chat_id) DO UPDATE SET
				reason = EXCLUDED.reason,
				suspended_by = EXCLUDED.suspended_by,
				suspended_at = EXCLUDED.suspended_at,
				expires_at = EXCLUDED.expires_at
		`, record.UserID, record.ChatID, record.Reason, record.SuspendedBy,
			record.SuspendedAt, record.ExpiresAt).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert suspension: %w", err)
		}

		return nil
	})
}

// GetSuspension returns the suspension for a user in a chat that is active at now.
// Returns nil if there is none.
func (m *SuspensionModel) GetSuspension(
	ctx context.Context, userID, chatID string, now time.Time,
) (*types.Suspension, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Suspension, error) {
		var suspension types.Suspension

		err := m.db.NewSelect().
			Model(&suspension).
			Where("user_id = ?", userID).
			Where("chat_id = ?", chatID).
			Where("expires_at > ?", now).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get suspension: %w", err)
		}

		return &suspension, nil
	})
}

// DeleteSuspension lifts the suspension for a user in a chat.
// Returns true if a suspension was removed.
func (m *SuspensionModel) DeleteSuspension(ctx context.Context, userID, chatID string) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := m.db.NewDelete().
			Model((*types.Suspension)(nil)).
			Where("user_id = ?", userID).
			Where("chat_id = ?", chatID).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to delete suspension: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, err
		}

		return affected > 0, nil
	})
}

// DeleteExpiredSuspensions removes suspensions that ended before now.
func (m *SuspensionModel) DeleteExpiredSuspensions(ctx context.Context, now time.Time) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		result, err := m.db.NewDelete().
			Model((*types.Suspension)(nil)).
			Where("expires_at <= ?", now).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to delete expired suspensions: %w", err)
		}

		return result.RowsAffected()
	})
}
