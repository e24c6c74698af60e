package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/watch"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest TASK-ID [FILE]",
		Short: "Ingest the handoff of a finished task",
		Long: `Ingest the handoff block found in FILE (or stdin when FILE is "-" or
omitted). An invalid handoff is rejected whole and nothing is stored.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 2 {
				path = args[1]
			}
			return opts.withEngine(cmd, func(e *engine.Engine, _ *zap.Logger) error {
				data, err := readInput(cmd, path, e.Persist())
				if err != nil {
					return err
				}
				res, err := e.IngestHandoff(cmd.Context(), args[0], string(data))
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func printResult(w io.Writer, res *handoff.Result) {
	fmt.Fprintf(w, "%s: accepted (%s), %d knowledge nodes\n", res.TaskID, res.Outcome, len(res.NodesCreated))
	if len(res.BlockerIDs) > 0 {
		fmt.Fprintf(w, "  blockers: %s\n", strings.Join(res.BlockerIDs, ", "))
	}
	for _, d := range res.DependenciesForNext {
		fmt.Fprintf(w, "  next: %s %s\n", d.File, d.Reason)
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest handoff files dropped in the inbox",
		Long: `Watch the inbox directory for <TASK-ID>` + watch.HandoffSuffix + ` files and ingest
them. Accepted files move to ` + watch.AcceptedDir + `/ and completed tasks get a .done
marker; a rejected file gets a ` + watch.ErrorSuffix + ` file next to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(e *engine.Engine, log *zap.Logger) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				out := cmd.OutOrStdout()
				w := watch.New(e.Config().InboxDir, e, e.Tracker(),
					watch.WithLogger(log),
					watch.WithPersist(e.Persist()),
					watch.OnResult(func(r watch.Result) {
						if r.Err != nil {
							fmt.Fprintf(out, "%s: rejected: %v\n", r.TaskID, r.Err)
							return
						}
						printResult(out, r.Result)
					}),
				)
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()

				fmt.Fprintf(out, "watching %s\n", w.Dir())
				<-ctx.Done()
				return nil
			})
		},
	}
}
