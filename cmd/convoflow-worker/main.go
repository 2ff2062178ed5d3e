// Package main runs the convoflow worker: it applies inbound events to executions and fires due timers.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dukex/convoflow/pkg/channels/kafka"
	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/config"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/scheduler"
	"github.com/dukex/convoflow/pkg/telegram"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "convoflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Run conversation flows for incoming chat events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file path, postgres:// or redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "tenants-file",
				Usage:    "YAML file with the projects and their bot credentials",
				Required: true,
				Sources:  cli.EnvVars("TENANTS_FILE"),
			},
			&cli.StringFlag{
				Name:    "telegram-server-url",
				Usage:   "Override the Telegram Bot API server",
				Sources: cli.EnvVars("TELEGRAM_SERVER_URL"),
			},
			&cli.IntFlag{
				Name:    "max-steps",
				Usage:   "Maximum steps one event may drive an execution",
				Value:   engine.DefaultMaxStepsPerEvent,
				Sources: cli.EnvVars("MAX_STEPS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often due timers are collected",
				Value:   scheduler.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("convoflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing convoflow worker")

			tenants, err := config.LoadTenants(command.String("tenants-file"))
			if err != nil {
				return err
			}

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

			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				kafka.ParseBrokers(command.String("kafka-brokers")),
				"convoflow-worker",
				logger,
			)
			if err != nil {
				return err
			}
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var senderOpts []telegram.Option
			if url := command.String("telegram-server-url"); url != "" {
				senderOpts = append(senderOpts, telegram.WithServerURL(url))
			}

			registry := cmd.NewRegistry(
				logger,
				telegram.NewSender(logger, senderOpts...),
				cmd.NewOperations(logger),
				scheduler.NewScheduler(persistence.TimerRepository(), logger),
			)

			engineOpts := []engine.Option{
				engine.WithConfig(engine.Config{MaxStepsPerEvent: command.Int("max-steps")}),
			}

			if command.Bool("tracing") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "convoflow-worker")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()

					if err := shutdown(shutdownCtx); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				engineOpts = append(engineOpts, engine.WithTracer(tracer))
			}

			eng := engine.New(engine.Dependencies{
				Registry:   registry,
				Flows:      persistence.FlowRepository(),
				Executions: persistence.ExecutionRepository(),
				Logs:       persistence.LogRepository(),
				Tenants:    tenants,
				Publisher:  eventBus,
			}, logger, engineOpts...)

			poller := scheduler.NewPoller(persistence.TimerRepository(), eventBus, logger,
				scheduler.WithInterval(command.Duration("poll-interval")))

			schedules := scheduler.NewSchedules(persistence.FlowRepository(), eventBus, logger)

			worker := NewWorkerManager(workerID, eng, eventBus, logger, poller, schedules)

			logger.InfoContext(ctx, "Worker configured", "projects", tenants.Len())

			return worker.Start(ctx)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
