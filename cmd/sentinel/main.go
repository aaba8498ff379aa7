package main

import (
	"context"
	"log"
	"os"

	"github.com/robalyx/sentinel/cmd/sentinel/commands"
	"github.com/urfave/cli/v3"
)

// DefaultLogDir specifies where CLI log sessions are stored.
const DefaultLogDir = "logs/cli_logs"

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	deps := &commands.CLIDependencies{LogDir: DefaultLogDir}

	app := &cli.Command{
		Name:  "sentinel",
		Usage: "Chat moderation engine",
		Commands: []*cli.Command{
			{
				Name:     "db",
				Usage:    "Database management",
				Commands: commands.MigrationCommands(deps),
			},
		},
	}
	app.Commands = append(app.Commands, commands.ModerationCommands(deps)...)

	ctx := context.Background()
	defer deps.Close(ctx)

	return app.Run(ctx, os.Args)
}
