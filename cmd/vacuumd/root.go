package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dray-io/vacuum/internal/config"
	"github.com/dray-io/vacuum/internal/logging"
)

// Exit codes.
const (
	ExitFailure     = 1
	ExitScopeFailed = 2
)

// ExitError carries a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the vacuumd command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "vacuumd",
		Short:         "Reconcile the search index with the object store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewScopesCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// load reads the configuration and sets up the global logger.
func (o *RootOptions) load() (*config.Config, *logging.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.LoadFromPath(o.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Observability.LogLevel = o.LogLevel
	}
	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	return cfg, logger, nil
}

// NewVersionCommand prints build information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vacuumd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		},
	}
}
