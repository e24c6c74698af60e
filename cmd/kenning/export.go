package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/knowledge"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the knowledge graph as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(e *engine.Engine, _ *zap.Logger) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(e.Knowledge().Export())
			})
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import [FILE]",
		Short: "Merge an exported knowledge graph",
		Long:  `Add every node of an exported graph (FILE, or stdin) that is not already known.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return opts.withEngine(cmd, func(e *engine.Engine, _ *zap.Logger) error {
				data, err := readInput(cmd, path, e.Persist())
				if err != nil {
					return err
				}
				var g knowledge.Graph
				if err := json.Unmarshal(data, &g); err != nil {
					return fmt.Errorf("parsing graph: %w", err)
				}

				var added int
				err = e.Write(cmd.Context(), "import", func(ctx context.Context) error {
					n, err := e.Knowledge().Import(ctx, &g)
					added = n
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d nodes\n", added, len(g.Nodes))
				return nil
			})
		},
	}
}
