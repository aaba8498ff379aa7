package models

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/sentinel/internal/database/dbretry"
	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// IdentityModel handles the user and chat rows that moderation records reference.
type IdentityModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewIdentity creates a new IdentityModel instance.
func NewIdentity(db *bun.DB, logger *zap.Logger) *IdentityModel {
	return &IdentityModel{
		db:     db,
		logger: logger.Named("db_identity"),
	}
}

// EnsurePlaceholders creates placeholder rows for the user and chat if they
// do not exist yet. An empty chat ID only ensures the user.
func (m *IdentityModel) EnsurePlaceholders(ctx context.Context, userID, chatID string) error {
	return dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()

		_, err := tx.NewInsert().
			Model(&types.User{ID: userID, Placeholder: true, CreatedAt: now}).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to ensure user %s: %w", userID, err)
		}

		if chatID == "" {
			return nil
		}

		_, err = tx.NewInsert().
			Model(&types.Chat{ID: chatID, Placeholder: true, CreatedAt: now}).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to ensure chat %s: %w", chatID, err)
		}

		return nil
	})
}

// SaveUser stores a resolved user profile, replacing any placeholder.
func (m *IdentityModel) SaveUser(ctx context.Context, user *types.User) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(user).
			On("CONFLICT (id) DO UPDATE").
			Set("username = EXCLUDED.username").
			Set("placeholder = EXCLUDED.placeholder").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}

		return nil
	})
}

// SaveChat stores a resolved chat, replacing any placeholder.
func (m *IdentityModel) SaveChat(ctx context.Context, chat *types.Chat) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(chat).
			On("CONFLICT (id) DO UPDATE").
			Set("title = EXCLUDED.title").
			Set("placeholder = EXCLUDED.placeholder").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save chat: %w", err)
		}

		return nil
	})
}
