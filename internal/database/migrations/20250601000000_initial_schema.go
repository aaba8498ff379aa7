package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		// Identity tables first so moderation tables can reference them
		tables := []struct {
			model       any
			name        string
			foreignKeys []string
		}{
			{(*types.User)(nil), "users", nil},
			{(*types.Chat)(nil), "chats", nil},
			{(*types.Ban)(nil), "bans", []string{
				`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
				`("chat_id") REFERENCES "chats" ("id") ON DELETE CASCADE`,
			}},
			{(*types.Scammer)(nil), "scammers", []string{
				`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
			}},
			{(*types.Suspension)(nil), "suspensions", []string{
				`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
				`("chat_id") REFERENCES "chats" ("id") ON DELETE CASCADE`,
			}},
			{(*types.DetectionLog)(nil), "ai_scam_detection_logs", nil},
		}

		for _, table := range tables {
			q := db.NewCreateTable().
				Model(table.model).
				IfNotExists()

			for _, fk := range table.foreignKeys {
				q = q.ForeignKey(fk)
			}

			if _, err := q.Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table %s: %w", table.name, err)
			}
		}

		_, err := db.NewRaw(`
			CREATE INDEX IF NOT EXISTS idx_bans_chat_banned_at ON bans (chat_id, banned_at DESC);
			CREATE INDEX IF NOT EXISTS idx_bans_propagated ON bans (user_id, banned_at DESC) WHERE propagate;
			CREATE INDEX IF NOT EXISTS idx_bans_expires_at ON bans (expires_at) WHERE expires_at IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_scammers_verified ON scammers (user_id) WHERE verified;
			CREATE INDEX IF NOT EXISTS idx_suspensions_expires_at ON suspensions (expires_at);
			CREATE INDEX IF NOT EXISTS idx_detection_logs_user_created ON ai_scam_detection_logs (user_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_detection_logs_chat_created ON ai_scam_detection_logs (chat_id, created_at DESC);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		// Reverse order so dependents are dropped before their parents
		models := []any{
			(*types.DetectionLog)(nil),
			(*types.Suspension)(nil),
			(*types.Scammer)(nil),
			(*types.Ban)(nil),
			(*types.Chat)(nil),
			(*types.User)(nil),
		}

		for _, model := range models {
			_, err := db.NewDropTable().
				Model(model).
				IfExists().
				Cascade().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to drop table: %w", err)
			}
		}

		return nil
	})
}
