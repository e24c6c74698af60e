package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/prompt"
	"github.com/HendryAvila/kenning/internal/retrieval"
)

// taskFlags describe a task on the command line. Unset fields fall back to
// the task queue entry.
type taskFlags struct {
	objective  string
	acceptance []string
	deps       []string
	complexity string
	detail     string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.objective, "objective", "", "task objective (required unless the task is in the queue)")
	fs.StringArrayVar(&f.acceptance, "accept", nil, "acceptance criterion (repeatable)")
	fs.StringSliceVar(&f.deps, "deps", nil, "IDs of tasks this one depends on")
	fs.StringVar(&f.complexity, "complexity", "", "complexity tier: easy, normal or complex")
	fs.StringVar(&f.detail, "detail", retrieval.DetailStandard, "detail level: summary, standard or full")
}

// task builds the task for id from the queue and the flags.
func (f *taskFlags) task(ctx context.Context, e *engine.Engine, id string) (retrieval.Task, error) {
	t, err := e.Task(ctx, id)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return t, err
	}
	t.ID = strings.ToUpper(id)
	if f.objective != "" {
		t.Objective = f.objective
	}
	if len(f.acceptance) > 0 {
		t.AcceptanceCriteria = f.acceptance
	}
	if len(f.deps) > 0 {
		t.Dependencies = make([]string, len(f.deps))
		for i, d := range f.deps {
			t.Dependencies[i] = strings.ToUpper(strings.TrimSpace(d))
		}
	}
	if f.complexity != "" {
		c, err := retrieval.ParseComplexity(f.complexity)
		if err != nil {
			return t, err
		}
		t.Complexity = c
	}
	if t.Objective == "" {
		return t, fmt.Errorf("task %s is not in the queue: pass --objective", t.ID)
	}
	return t, nil
}

func newContextCmd(opts *rootOptions) *cobra.Command {
	var tf taskFlags
	cmd := &cobra.Command{
		Use:   "context TASK-ID",
		Short: "Print the computed context for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(e *engine.Engine, _ *zap.Logger) error {
				t, err := tf.task(cmd.Context(), e, args[0])
				if err != nil {
					return err
				}
				cc, err := e.ComputeContext(cmd.Context(), t)
				if err != nil {
					return err
				}
				text := cc.Render(tf.detail)
				fmt.Fprintln(cmd.OutOrStdout(), text+retrieval.TokenFooter(retrieval.EstimateTokens(text)))
				return nil
			})
		},
	}
	tf.register(cmd)
	return cmd
}

func newPromptCmd(opts *rootOptions) *cobra.Command {
	var (
		tf           taskFlags
		skillPaths   []string
		metadataOnly bool
	)
	cmd := &cobra.Command{
		Use:   "prompt TASK-ID",
		Short: "Assemble the cache-friendly prompt for a task",
		Long: `Assemble the prompt for a task. Each --skill is a file whose name (without
extension) is the skill id and whose content is the skill text. The prompt
prefix depends only on the set of skills and is identified by its cache key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(e *engine.Engine, _ *zap.Logger) error {
				ctx := cmd.Context()
				skills, err := readSkills(ctx, skillPaths, e.Persist())
				if err != nil {
					return err
				}
				t, err := tf.task(ctx, e, args[0])
				if err != nil {
					return err
				}
				cc, err := e.ComputeContext(ctx, t)
				if err != nil {
					return err
				}
				p := e.AssemblePrompt(skills, cc, t, prompt.WithDetail(tf.detail))

				out := cmd.OutOrStdout()
				if metadataOnly {
					fmt.Fprintf(out, "cache_key: %s\nskills: %s\nprefix_tokens: %d\nsuffix_tokens: %d\n",
						p.CacheKey, strings.Join(p.SkillIDs, ", "), p.PrefixTokens, p.SuffixTokens)
					return nil
				}
				fmt.Fprint(out, p.Text())
				return nil
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().StringArrayVar(&skillPaths, "skill", nil, "skill file (repeatable)")
	cmd.Flags().BoolVar(&metadataOnly, "metadata-only", false, "print only the cache key and token estimates")
	return cmd
}

func readSkills(ctx context.Context, paths []string, o persist.Options) ([]prompt.Skill, error) {
	skills := make([]prompt.Skill, 0, len(paths))
	for _, p := range paths {
		data, err := persist.ReadFile(ctx, p, o)
		if err != nil {
			return nil, fmt.Errorf("reading skill %s: %w", p, err)
		}
		base := filepath.Base(p)
		skills = append(skills, prompt.Skill{
			ID:      strings.TrimSuffix(base, filepath.Ext(base)),
			Content: string(data),
		})
	}
	return skills, nil
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(cmd *cobra.Command, path string, o persist.Options) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	return persist.ReadFile(cmd.Context(), path, o)
}
