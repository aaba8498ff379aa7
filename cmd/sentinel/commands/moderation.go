package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/sentinel/internal/ai"
	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/robalyx/sentinel/internal/moderation"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// ModerationCommands returns all moderation-related commands.
func ModerationCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:      "analyze",
			Usage:     "Analyze a message, or one message per stdin line when TEXT is -",
			ArgsUsage: "TEXT",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Sender user ID", Required: true},
				&cli.StringFlag{Name: "chat", Aliases: []string{"c"}, Usage: "Chat ID", Required: true},
				&cli.StringFlag{Name: "chat-title", Usage: "Chat title passed to the classifier"},
				&cli.StringFlag{Name: "username", Usage: "Sender username passed to the classifier"},
			},
			Action: handleAnalyze(deps),
		},
		{
			Name:      "ban",
			Usage:     "Ban one or more users from a chat",
			ArgsUsage: "USER...",
			Flags: append(moderatorFlags(),
				&cli.DurationFlag{Name: "expires", Usage: "Ban duration, permanent when unset"},
				&cli.BoolFlag{Name: "propagate", Aliases: []string{"p"}, Usage: "Apply the ban to every chat"},
			),
			Action: handleBan(deps),
		},
		{
			Name:      "unban",
			Usage:     "Lift a user's ban in a chat",
			ArgsUsage: "USER",
			Flags:     moderatorFlags(),
			Action:    handleUnban(deps),
		},
		{
			Name:      "check",
			Usage:     "Show the ban and suspension state of a user",
			ArgsUsage: "USER",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "chat", Aliases: []string{"c"}, Usage: "Chat ID, global bans only when unset"},
				&cli.IntFlag{Name: "history", Usage: "Number of recent AI detections to include"},
			},
			Action: handleCheck(deps),
		},
		{
			Name:      "scammer",
			Usage:     "Report a user as a scammer",
			ArgsUsage: "USER",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Usage: "Report reason"},
				&cli.StringFlag{Name: "by", Usage: "Reporter ID", Value: "cli"},
				&cli.StringFlag{Name: "evidence", Usage: "Evidence for the report"},
				&cli.BoolFlag{Name: "verified", Usage: "Mark the report as verified"},
			},
			Action: handleScammer(deps),
		},
		{
			Name:  "bans",
			Usage: "List the active bans of a chat, or propagated bans when no chat is given",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "chat", Aliases: []string{"c"}, Usage: "Chat ID"},
			},
			Action: handleBans(deps),
		},
		{
			Name:      "suspend",
			Usage:     "Suspend a user in a chat",
			ArgsUsage: "USER",
			Flags: append(moderatorFlags(),
				&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "Suspension length", Value: time.Hour},
			),
			Action: handleSuspend(deps),
		},
		{
			Name:      "unsuspend",
			Usage:     "Lift a user's suspension in a chat",
			ArgsUsage: "USER",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "chat", Aliases: []string{"c"}, Usage: "Chat ID", Required: true},
			},
			Action: handleUnsuspend(deps),
		},
		{
			Name:   "purge",
			Usage:  "Delete expired bans and suspensions",
			Action: handlePurge(deps),
		},
	}
}

func moderatorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "chat", Aliases: []string{"c"}, Usage: "Chat ID", Required: true},
		&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Usage: "Reason"},
		&cli.StringFlag{Name: "by", Usage: "Moderator ID", Value: "cli"},
	}
}

// handleAnalyze handles the 'analyze' command.
func handleAnalyze(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		text := strings.Join(c.Args().Slice(), " ")
		if strings.TrimSpace(text) == "" {
			return ErrTextRequired
		}

		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		analyze := func(text string, recent []string) error {
			result, err := app.Moderator.ProcessMessage(ctx, moderation.Message{
				UserID:    c.String("user"),
				ChatID:    c.String("chat"),
				Text:      text,
				Timestamp: time.Now(),
				Context: &ai.MessageContext{
					ChatTitle:      c.String("chat-title"),
					Username:       c.String("username"),
					RecentMessages: recent,
				},
			})
			if err != nil {
				return err
			}

			return printJSON(c.Root().Writer, result)
		}

		if text != "-" {
			return analyze(text, nil)
		}

		// Lines are fed in order so behavior tracking sees a conversation
		var recent []string

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}

			if err := analyze(line, recent); err != nil {
				return err
			}

			recent = append(recent, line)
		}

		return scanner.Err()
	}
}

// handleBan handles the 'ban' command.
func handleBan(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		userIDs := c.Args().Slice()
		if len(userIDs) == 0 {
			return ErrUserRequired
		}

		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		opts := types.BanOptions{
			Reason:    c.String("reason"),
			BannedBy:  c.String("by"),
			Propagate: c.Bool("propagate"),
		}

		if d := c.Duration("expires"); d > 0 {
			expiresAt := time.Now().Add(d)
			opts.ExpiresAt = &expiresAt
		}

		chatID := c.String("chat")

		if len(userIDs) == 1 {
			view, err := app.Moderator.AddBan(ctx, userIDs[0], chatID, opts)
			if err != nil {
				return err
			}

			return printJSON(c.Root().Writer, view)
		}

		failed := app.DB.Service().Moderation().AddBans(ctx, userIDs, chatID, opts)
		for userID, err := range failed {
			app.Logger.Error("Failed to ban user",
				zap.String("userID", userID),
				zap.String("chatID", chatID),
				zap.Error(err))
		}

		app.Logger.Info("Bulk ban finished",
			zap.Int("requested", len(userIDs)),
			zap.Int("failed", len(failed)))

		if len(failed) > 0 {
			return fmt.Errorf("%w: %d of %d", ErrBulkBanFailed, len(failed), len(userIDs))
		}

		return nil
	}
}

// handleUnban handles the 'unban' command.
func handleUnban(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrUserRequired
		}

		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		removed, err := app.Moderator.RemoveBan(ctx, c.Args().First(), c.String("chat"), types.RemoveOptions{
			RemovedBy: c.String("by"),
			Reason:    c.String("reason"),
		})
		if err != nil {
			return err
		}

		return printJSON(c.Root().Writer, map[string]bool{"removed": removed})
	}
}

// checkOutput is the report printed by the 'check' command.
type checkOutput struct {
	Ban        *types.BanView        `json:"ban"`
	Suspension *types.Suspension     `json:"suspension,omitempty"`
	Detections []*types.DetectionLog `json:"detections,omitempty"`
}

// handleCheck handles the 'check' command.
func handleCheck(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrUserRequired
		}

		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		userID := c.Args().First()
		chatID := c.String("chat")

		var out checkOutput

		out.Ban, err = app.Moderator.CheckBan(ctx, userID, chatID)
		if err != nil {
			return err
		}

		if chatID != "" {
			out.Suspension, err = app.Moderator.CheckSuspension(ctx, userID, chatID)
			if err != nil {
				return err
			}
		}

		if limit := int(c.Int("history")); limit > 0 {
			out.Detections, err = app.DB.Service().Moderation().GetUserDetections(ctx, userID, limit)
			if err != nil {
				return err
			}
		}

		return printJSON(c.Root().Writer, out)
	}
}

// handleScammer handles the 'scammer' command.
func handleScammer(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrUserRequired
		}

		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		scammer, err := app.Moderator.MarkAsScammer(ctx, c.Args().First(), types.ScammerOptions{
			Reason:     c.String("reason"),
			ReportedBy: c.String("by"),
			Evidence:   c.String("evidence"),
			Verified:   c.Bool("verified"),
		})
		if err != nil {
			return err
		}

		return printJSON(c.Root().Writer, scammer)
	}
}

// handleBans handles the 'bans' command.
func handleBans(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		var bans []*types.Ban
		if chatID := c.String("chat"); chatID != "" {
			bans, err = app.Moderator.GetChatBans(ctx, chatID)
		} else {
			bans, err = app.Moderator.GetPropagatedBans(ctx)
		}

		if err != nil {
			return err
		}

		return printJSON(c.Root().Writer, bans)
	}
}

// handleSuspend handles the 'suspend' command.
func handleSuspend(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrUserRequired
		}

		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		suspension, err := app.Moderator.Suspend(ctx, c.Args().First(), c.String("chat"), types.SuspendOptions{
			Reason:      c.String("reason"),
			SuspendedBy: c.String("by"),
			ExpiresAt:   time.Now().Add(c.Duration("duration")),
		})
		if err != nil {
			return err
		}

		return printJSON(c.Root().Writer, suspension)
	}
}

// handleUnsuspend handles the 'unsuspend' command.
func handleUnsuspend(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrUserRequired
		}

		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		removed, err := app.DB.Service().Moderation().RemoveSuspension(ctx, c.Args().First(), c.String("chat"))
		if err != nil {
			return err
		}

		return printJSON(c.Root().Writer, map[string]bool{"removed": removed})
	}
}

// handlePurge handles the 'purge' command.
func handlePurge(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		app, err := deps.App(ctx)
		if err != nil {
			return err
		}

		result, err := app.DB.Service().Moderation().PurgeExpired(ctx)
		if err != nil {
			return err
		}

		app.Logger.Info("Purged expired records",
			zap.Int64("bans", result.Bans),
			zap.Int64("suspensions", result.Suspensions))

		return printJSON(c.Root().Writer, result)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}
