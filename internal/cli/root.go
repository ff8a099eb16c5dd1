// Package cli builds the webtrack command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/kon-rad/webtrack/internal/app"
	"github.com/kon-rad/webtrack/internal/config"
	"github.com/kon-rad/webtrack/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Version  string
	LogLevel string

	// Lookuper overrides the process environment (for testing).
	Lookuper envconfig.Lookuper
}

func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&RootOptions{Version: version, Lookuper: envconfig.OsLookuper()})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webtrack",
		Short: "Attribution tracking client",
		Long: `Run the webtrack client: serve the tracking API and deliver every call to
the attribution collector in order, retrying until it is accepted.

Configuration is read from WT_* environment variables; see "webtrack env".`,
		Version:       opts.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override WT_LOG_LEVEL (debug|info|warn|error)")

	cmd.AddCommand(newQueueCommand(opts))
	cmd.AddCommand(newFlushCommand(opts))
	cmd.AddCommand(newEnvCommand(opts))
	return cmd
}

func newQueueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Print the persisted delivery queue without sending it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return app.New(cfg, logger, opts.Version).PrintQueue(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newFlushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send the persisted queue once, discarding calls that fail, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return app.New(cfg, logger, opts.Version).Flush(cmd.Context())
		},
	}
}

func newEnvCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables webtrack reads",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			config.WriteHelp(cmd.OutOrStdout(), opts.Version)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	logger.Info("Starting webtrack", "version", opts.Version, "endpoint", cfg.Endpoint)
	return app.New(cfg, logger, opts.Version).Run(ctx)
}

func setup(ctx context.Context, opts *RootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadWith(ctx, opts.Lookuper)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.Setup(level)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	return cfg, logger, nil
}
