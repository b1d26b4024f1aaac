package main

import (
	"context"
	"os"

	"github.com/dailos/tramite/pkg/cmd"
	"github.com/dailos/tramite/pkg/log"
	"github.com/dailos/tramite/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "tramite-api",
		Usage:                 "Manage process graphs and drive their runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
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
				Name:    "org-chart",
				Usage:   "Path to a JSON user-to-manager mapping for approver resolution",
				Sources: cli.EnvVars("ORG_CHART"),
			},
			&cli.BoolFlag{
				Name:    "cancel-siblings-on-reject",
				Usage:   "Clear sibling branch pointers when a validation is rejected",
				Sources: cli.EnvVars("CANCEL_SIBLINGS_ON_REJECT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export engine spans via OTLP (configure the exporter with OTEL_* env vars)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
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

			logger.InfoContext(ctx, "Initializing Tramite API")

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

			config := Config{
				OrgChartPath:           command.String("org-chart"),
				CancelSiblingsOnReject: command.Bool("cancel-siblings-on-reject"),
			}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "tramite-api")
				if err != nil {
					return err
				}

				config.Tracer = tracer
			}

			api, err := NewAPI(logger, persistence, eventBus, locker, config)
			if err != nil {
				return err
			}

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
