package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// ScopesOptions holds flags for the scopes command.
type ScopesOptions struct {
	*RootOptions
	JSON bool
}

type scopeRow struct {
	ScopeID       string `json:"scope_id"`
	LastCommitSeq int64  `json:"last_commit_seq"`
	Checkpointed  bool   `json:"checkpointed"`
}

// NewScopesCommand lists the scopes and their checkpoints.
func NewScopesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScopesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scopes",
		Short: "List scopes and their checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			b, err := openBackends(cmd.Context(), cfg, logger, prometheus.NewRegistry(), need{store: true})
			if err != nil {
				return err
			}
			defer b.Close()

			scopes, err := scopeList(cmd.Context(), b.store)
			if err != nil {
				return fmt.Errorf("failed to list scopes: %w", err)
			}
			rows := make([]scopeRow, 0, len(scopes))
			for _, id := range scopes {
				cp, ok, err := b.checkpoints.Load(cmd.Context(), id)
				if err != nil {
					return err
				}
				rows = append(rows, scopeRow{ScopeID: id, LastCommitSeq: cp.LastCommitSeq, Checkpointed: ok})
			}
			return printScopes(cmd.OutOrStdout(), rows, opts.JSON)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON")
	return cmd
}

func printScopes(w io.Writer, rows []scopeRow, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no scopes")
		return err
	}
	for _, r := range rows {
		seq := "-"
		if r.Checkpointed {
			seq = fmt.Sprint(r.LastCommitSeq)
		}
		if _, err := fmt.Fprintf(w, "%-24s %s\n", r.ScopeID, seq); err != nil {
			return err
		}
	}
	return nil
}
