package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/retrieval"
	"github.com/HendryAvila/kenning/internal/strategy"
)

func newFeedbackCmd(opts *rootOptions) *cobra.Command {
	var (
		outcome    string
		signals    []string
		skills     []string
		complexity string
		model      string
		notes      string
	)
	cmd := &cobra.Command{
		Use:   "feedback TASK-ID",
		Short: "Record how a task execution went",
		Long: `Record the outcome of a task and any signals. Signals: skill_mismatch,
missing_skill, wrong_approach, context_insufficient, model_inadequate,
beneficial_pairing. Prints the strategy rules that changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := strategy.Event{
				TaskID:     strings.ToUpper(args[0]),
				Outcome:    handoff.Outcome(strings.ToLower(outcome)),
				Skills:     skills,
				Complexity: retrieval.Complexity(strings.ToLower(complexity)),
				Model:      model,
				Notes:      notes,
			}
			for _, s := range signals {
				ev.Signals = append(ev.Signals, strategy.Signal(strings.ToLower(s)))
			}
			return opts.withEngine(cmd, func(e *engine.Engine, _ *zap.Logger) error {
				out, err := e.RecordFeedback(cmd.Context(), ev)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "event %s recorded\n", out.EventID)
				printRules(w, "created", out.Created)
				printRules(w, "updated", out.Updated)
				printRules(w, "decayed", out.Decayed)
				printRules(w, "needs review", out.NeedsReview)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&outcome, "outcome", "", "completed, partial, failed or blocked")
	f.StringSliceVar(&signals, "signal", nil, "feedback signal (repeatable)")
	f.StringSliceVar(&skills, "skill", nil, "skill the agent ran with (repeatable)")
	f.StringVar(&complexity, "complexity", "", "complexity tier of the task")
	f.StringVar(&model, "model", "", "model the agent ran on")
	f.StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func printRules(w io.Writer, label string, rules []strategy.Rule) {
	for _, r := range rules {
		fmt.Fprintf(w, "%s: [%s] %s: %s -> %s (%s)\n", label, r.ID, r.Kind, r.Condition, r.Effect, r.Confidence)
	}
}

func newRulesCmd(opts *rootOptions) *cobra.Command {
	var apply string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the learned strategy rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(e *engine.Engine, _ *zap.Logger) error {
				if apply != "" {
					if err := e.ApplyRule(cmd.Context(), apply); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rule %s applied\n", apply)
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), e.Strategy().RulesTable())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&apply, "apply", "", "mark the rule with this ID as applied")
	return cmd
}

func newConsolidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Move session discoveries into long-term memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(e *engine.Engine, _ *zap.Logger) error {
				res, err := e.Consolidate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "nodes created: %d\nalready known: %d\nmemory entries added: %d\n",
					len(res.NodesCreated), res.NodesExisting, res.ColdAppended)
				return nil
			})
		},
	}
}
