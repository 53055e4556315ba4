package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/pkg/mcp"
	"github.com/reputul/drip/pkg/schema"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the poller, watchdog and retention sweeper",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "mcp", Usage: "Also serve MCP tools on stdio", Sources: cli.EnvVars("DRIP_MCP")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				r, err := a.runner()
				if err != nil {
					return err
				}
				if err := r.Start(ctx); err != nil {
					return err
				}
				defer r.Stop()

				a.logger.Info("drip serving",
					slog.String("db_driver", a.cfg.DBDriver),
					slog.Int("pool_size", a.cfg.PoolSize),
					slog.Bool("mcp", a.cfg.MCP))

				if a.cfg.MCP {
					srv := mcp.NewDripServer(mcp.DripServerDeps{
						Scheduler: a.service,
						Catalog:   a.catalog,
						Hub:       a.hub,
						Logger:    a.logger,
					})
					if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				}
				<-ctx.Done()
				a.logger.Info("shutting down")
				return nil
			})
		},
	}
}

func newMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// newApp migrates on open.
			return withApp(ctx, cmd, func(_ context.Context, a *app) error {
				a.logger.Info("migrations applied", slog.String("db_driver", a.cfg.DBDriver))
				return nil
			})
		},
	}
}

func newScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Schedule a workflow for a target entity",
		ArgsUsage: "<workflow-id> <target-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "trigger-event", Usage: "Triggering event name (default: the workflow's trigger type)"},
			&cli.TimestampFlag{Name: "at", Usage: "Run at this time", Config: cli.TimestampConfig{Layouts: []string{time.RFC3339}}},
			&cli.IntFlag{Name: "delay-days", Usage: "Run this many days from now"},
			&cli.IntFlag{Name: "delay-hours", Usage: "Run this many hours from now"},
			&cli.BoolFlag{Name: "use-config", Usage: "Apply the workflow's own delay settings"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("expected <workflow-id> <target-id>")
			}
			workflowID, targetID := cmd.Args().Get(0), cmd.Args().Get(1)

			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				wf, err := a.catalog.GetWorkflow(ctx, workflowID)
				if err != nil {
					return err
				}
				trigger := cmd.String("trigger-event")
				if trigger == "" {
					trigger = string(wf.TriggerType)
				}

				var exec *schema.Execution
				switch {
				case cmd.IsSet("at"):
					at := cmd.Timestamp("at")
					exec, err = a.service.ScheduleExecution(ctx, wf, targetID, trigger, &at, nil)
				case cmd.IsSet("delay-days") || cmd.IsSet("delay-hours"):
					exec, err = a.service.ScheduleDelayed(ctx, wf, targetID, trigger,
						int(cmd.Int("delay-days")), int(cmd.Int("delay-hours")), nil)
				case cmd.Bool("use-config"):
					exec, err = a.service.ScheduleFromConfig(ctx, wf, targetID, trigger, nil)
				default:
					exec, err = a.service.ScheduleExecution(ctx, wf, targetID, trigger, nil, nil)
				}
				if err != nil {
					return err
				}
				if exec == nil {
					fmt.Println("conditions not met, nothing scheduled")
					return nil
				}
				// An immediate execution runs in the pool; let it finish first.
				a.Drain()
				if latest, err := a.service.GetExecution(ctx, exec.ID); err == nil {
					exec = latest
				}
				return printJSON(exec)
			})
		},
	}
}

func newCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a pending execution",
		ArgsUsage: "<execution-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Why the execution is cancelled"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("execution id is required")
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				ok, err := a.service.CancelExecution(ctx, id, cmd.String("reason"))
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"execution_id": id, "cancelled": ok})
			})
		},
	}
}

func newStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show one execution",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("execution id is required")
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				exec, err := a.service.GetExecution(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(exec)
			})
		},
	}
}

func newStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count executions by status",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Usage: "Restrict counts to one tenant"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				stats, err := a.service.GetExecutionStats(ctx, cmd.String("tenant"))
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}
}

func newMarkCommand() *cli.Command {
	return &cli.Command{
		Name:      "mark",
		Usage:     "Force an execution to a terminal status",
		ArgsUsage: "<execution-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "outcome", Value: "completed", Usage: "completed or failed"},
			&cli.StringFlag{Name: "message", Usage: "Result message or failure reason"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("execution id is required")
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				var (
					exec *schema.Execution
					err  error
				)
				switch strings.ToLower(cmd.String("outcome")) {
				case "completed":
					exec, err = a.service.MarkCompleted(ctx, id, cmd.String("message"))
				case "failed":
					msg := cmd.String("message")
					if msg == "" {
						msg = "marked failed"
					}
					exec, err = a.service.MarkFailed(ctx, id, msg)
				default:
					return fmt.Errorf("outcome must be completed or failed, got %q", cmd.String("outcome"))
				}
				if err != nil {
					return err
				}
				return printJSON(exec)
			})
		},
	}
}

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List executions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Usage: "Filter by tenant"},
			&cli.StringFlag{Name: "workflow", Usage: "Filter by workflow"},
			&cli.StringFlag{Name: "target", Usage: "Filter by target entity"},
			&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, running, completed, failed, cancelled)"},
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum rows"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			filter := store.ExecutionFilter{
				TenantID:   cmd.String("tenant"),
				WorkflowID: cmd.String("workflow"),
				TargetID:   cmd.String("target"),
				Limit:      int(cmd.Int("limit")),
			}
			if s := cmd.String("status"); s != "" {
				status := schema.ExecutionStatus(strings.ToLower(s))
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Status = &status
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				execs, err := a.service.ListExecutions(ctx, filter)
				if err != nil {
					return err
				}
				if execs == nil {
					execs = []*schema.Execution{}
				}
				return printJSON(execs)
			})
		},
	}
}
