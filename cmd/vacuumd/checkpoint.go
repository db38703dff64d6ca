package main

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dray-io/vacuum/internal/checkpoint"
)

// NewCheckpointCommand groups the checkpoint subcommands.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset scope checkpoints",
		Long: `Inspect or reset the commit sequence a scope resumes from.

Resetting a checkpoint makes the next ordered pass scan the scope from the
beginning. Checkpoints of the memory backend only live inside a running
vacuumd, so these commands are useful with the oxia and redis backends.`,
	}
	cmd.AddCommand(newCheckpointGetCommand(rootOpts))
	cmd.AddCommand(newCheckpointResetCommand(rootOpts))
	return cmd
}

func newCheckpointGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <scope>",
		Short: "Print the checkpoint of a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			b, err := openBackends(cmd.Context(), cfg, logger, prometheus.NewRegistry(), need{})
			if err != nil {
				return err
			}
			defer b.Close()

			cp, ok, err := b.checkpoints.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}
			return printCheckpoint(cmd.OutOrStdout(), args[0], cp, ok)
		},
	}
}

func newCheckpointResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <scope>",
		Short: "Forget the checkpoint of a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			b, err := openBackends(cmd.Context(), cfg, logger, prometheus.NewRegistry(), need{})
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.checkpoints.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to reset checkpoint: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint of scope %s reset\n", args[0])
			return nil
		},
	}
}

func printCheckpoint(w io.Writer, scopeID string, cp checkpoint.Checkpoint, ok bool) error {
	if !ok {
		_, err := fmt.Fprintf(w, "scope %s has no checkpoint\n", scopeID)
		return err
	}
	_, err := fmt.Fprintf(w, "scope %s: last commit seq %d (updated %s)\n",
		scopeID, cp.LastCommitSeq, cp.UpdatedAt.Format(time.RFC3339))
	return err
}
