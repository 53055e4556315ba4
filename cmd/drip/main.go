package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/reputul/drip/internal/logging"
)

func main() {
	if err := loadDotEnv(dotEnvPath()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "drip",
		Usage:                 "Schedule and run automated follow-up workflows",
		Version:               version,
		EnableShellCompletion: true,
		Flags:                 configFlags(),
		Commands: []*cli.Command{
			newServeCommand(),
			newMigrateCommand(),
			newScheduleCommand(),
			newCancelCommand(),
			newStatusCommand(),
			newStatsCommand(),
			newMarkCommand(),
			newListCommand(),
		},
	}
}

// withApp resolves the config, wires the engine and hands it to fn.
func withApp(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.Drain()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
