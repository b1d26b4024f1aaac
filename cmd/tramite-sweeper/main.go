package main

import (
	"context"
	"os"

	"github.com/dailos/tramite/pkg/cmd"
	"github.com/dailos/tramite/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("sweeper")

	command := &cli.Command{
		Name:                  "tramite-sweeper",
		Usage:                 "Retry pending events and surface due validation reminders",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Republish transport for processed events (kafka, gochannel, none)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the cross-process run locker (empty for in-process)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "events-cron",
				Usage:   "Cron expression for the pending event sweep",
				Value:   "* * * * *",
				Sources: cli.EnvVars("EVENTS_CRON"),
			},
			&cli.StringFlag{
				Name:    "reminders-cron",
				Usage:   "Cron expression for the validation reminder sweep",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("REMINDERS_CRON"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Tramite sweeper")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), persistence, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locker, err := cmd.NewRunLocker(ctx, logger, command.String("redis-url"))
			if err != nil {
				return err
			}

			sweeper := NewSweeper(logger, persistence, eventBus, locker)

			return sweeper.Run(ctx, command.String("events-cron"), command.String("reminders-cron"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
