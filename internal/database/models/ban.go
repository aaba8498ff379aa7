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

// BanModel handles database operations for chat bans.
type BanModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewBan creates a new BanModel instance.
func NewBan(db *bun.DB, logger *zap.Logger) *BanModel {
	return &BanModel{
		db:     db,
		logger: logger.Named("db_ban"),
	}
}

// UpdateBan overwrites the existing ban for the record's user and chat.
// Returns false if no such ban exists.
func (m *BanModel) UpdateBan(ctx context.Context, record *types.Ban) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := m.db.NewUpdate().
			Model(record).
			Column("reason", "banned_by", "banned_at", "expires_at", "propagate", "updated_at").
			Where("user_id = ?", record.UserID).
			Where("chat_id = ?", record.ChatID).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to update ban: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, err
		}

		return affected > 0, nil
	})
}

// InsertBan creates a new ban record.
func (m *BanModel) InsertBan(ctx context.Context, record *types.Ban) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(record).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert ban: %w", err)
		}

		return nil
	})
}

// InsertBanRelaxed upserts the ban with foreign key triggers disabled for
// the duration of a transaction.
func (m *BanModel) InsertBanRelaxed(ctx context.Context, record *types.Ban) error {
	return dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SET LOCAL session_replication_role = replica"); err != nil {
			return fmt.Errorf("failed to relax constraints: %w", err)
		}

		_, err := banUpsert(tx.NewInsert().Model(record)).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert ban with relaxed constraints: %w", err)
		}

		return nil
	})
}

// UpsertBanRaw writes the ban and any missing identity rows in a single
// statement.
func (m *BanModel) UpsertBanRaw(ctx context.Context, record *types.Ban) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewRaw(`
			WITH new_user AS (
				INSERT INTO users (id, placeholder, created_at) VALUES (?0, true, ?7)
				ON CONFLICT (id) DO NOTHING
			), new_chat AS (
				INSERT INTO chats (id, placeholder, created_at) VALUES (?1, true, ?7)
				ON CONFLICT (id) DO NOTHING
			)
			INSERT INTO bans (user_id, chat_id, reason, banned_by, banned_at, expires_at, propagate, updated_at)
			VALUES (?0, ?1, ?2, ?3, ?4, ?5, ?6, ?7)
			ON CONFLICT (user_id, chat_id) DO UPDATE SET
				reason = EXCLUDED.reason,
				banned_by = EXCLUDED.banned_by,
				banned_at = EXCLUDED.banned_at,
				expires_at = EXCLUDED.expires_at,
				propagate = EXCLUDED.propagate,
				updated_at = EXCLUDED.updated_at
		`, record.UserID, record.ChatID, record.Reason, record.BannedBy,
			record.BannedAt, record.ExpiresAt, record.Propagate, record.UpdatedAt).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert ban: %w", err)
		}

		return nil
	})
}

// GetBan returns the ban for a user in a chat that is active at now, resolved through the
// identity tables. Returns nil if there is none.
func (m *BanModel) GetBan(ctx context.Context, userID, chatID string, now time.Time) (*types.Ban, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Ban, error) {
		var ban types.Ban

		err := m.db.NewSelect().
			Model(&ban).
			Join("JOIN users AS u ON u.id = ban.user_id").
			Join("JOIN chats AS c ON c.id = ban.chat_id").
			Where("u.id = ?", userID).
			Where("c.id = ?", chatID).
			Apply(active(now)).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get ban: %w", err)
		}

		return &ban, nil
	})
}

// GetPropagatedBan returns the newest active propagated ban for a user in
// any chat. Returns nil if there is none.
func (m *BanModel) GetPropagatedBan(ctx context.Context, userID string, now time.Time) (*types.Ban, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Ban, error) {
		var ban types.Ban

		err := m.db.NewSelect().
			Model(&ban).
			Join("JOIN users AS u ON u.id = ban.user_id").
			Where("u.id = ?", userID).
			Where("ban.propagate = TRUE").
			Apply(active(now)).
			Order("ban.banned_at DESC").
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get propagated ban: %w", err)
		}

		return &ban, nil
	})
}

// GetBanDirect looks up a ban by raw identifiers without touching the
// identity tables. An exact chat match is preferred over a propagated ban.
func (m *BanModel) GetBanDirect(ctx context.Context, userID, chatID string, now time.Time) (*types.Ban, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Ban, error) {
		var ban types.Ban

		err := m.db.NewSelect().
			Model(&ban).
			Where("ban.user_id = ?", userID).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("ban.chat_id = ?", chatID).WhereOr("ban.propagate = TRUE")
			}).
			Apply(active(now)).
			OrderExpr("(ban.chat_id = ?) DESC", chatID).
			Order("ban.banned_at DESC").
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get ban directly: %w", err)
		}

		return &ban, nil
	})
}

// DeleteBan removes the ban for a user in a chat.
// Returns true if a ban was removed.
func (m *BanModel) DeleteBan(ctx context.Context, userID, chatID string) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := m.db.NewDelete().
			Model((*types.Ban)(nil)).
			Where("user_id = ?", userID).
			Where("chat_id = ?", chatID).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to delete ban: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, err
		}

		return affected > 0, nil
	})
}

// GetChatBans returns the active bans of a chat, newest first.
func (m *BanModel) GetChatBans(ctx context.Context, chatID string, now time.Time) ([]*types.Ban, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Ban, error) {
		var bans []*types.Ban

		err := m.db.NewSelect().
			Model(&bans).
			Where("ban.chat_id = ?", chatID).
			Apply(active(now)).
			Order("ban.banned_at DESC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chat bans: %w", err)
		}

		return bans, nil
	})
}

// GetPropagatedBans returns every active propagated ban, newest first.
func (m *BanModel) GetPropagatedBans(ctx context.Context, now time.Time) ([]*types.Ban, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Ban, error) {
		var bans []*types.Ban

		err := m.db.NewSelect().
			Model(&bans).
			Where("ban.propagate = TRUE").
			Apply(active(now)).
			Order("ban.banned_at DESC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get propagated bans: %w", err)
		}

		return bans, nil
	})
}

// DeleteExpiredBans removes bans that expired before now.
func (m *BanModel) DeleteExpiredBans(ctx context.Context, now time.Time) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		result, err := m.db.NewDelete().
			Model((*types.Ban)(nil)).
			Where("expires_at IS NOT NULL").
			Where("expires_at <= ?", now).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to delete expired bans: %w", err)
		}

		return result.RowsAffected()
	})
}

// banUpsert adds the conflict clause shared by ban upserts.
func banUpsert(q *bun.InsertQuery) *bun.InsertQuery {
	return q.
		On("CONFLICT (user_id, chat_id) DO UPDATE").
		Set("reason = EXCLUDED.reason").
		Set("banned_by = EXCLUDED.banned_by").
		Set("banned_at = EXCLUDED.banned_at").
		Set("expires_at = EXCLUDED.expires_at").
		Set("propagate = EXCLUDED.propagate").
		Set("updated_at = EXCLUDED.updated_at")
}

// active filters out bans that have expired.
func active(now time.Time) func(*bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("ban.expires_at IS NULL").WhereOr("ban.expires_at > ?", now)
		})
	}
}
