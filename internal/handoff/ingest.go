package handoff

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/logging"
	"github.com/HendryAvila/kenning/internal/state"
)

// KnowledgeWriter is the part of the knowledge store ingestion writes to.
type KnowledgeWriter interface {
	Update(ctx context.Context, fn func(tx *knowledge.Tx) error) error
	UpdateNode(ctx context.Context, id string, p knowledge.NodePatch) error
	DeleteNodes(ctx context.Context, ids []string) error
}

// BlockerSink receives blockers reported by a handoff.
type BlockerSink interface {
	AddBlockers(ctx context.Context, bs []state.Blocker) ([]string, error)
}

// Ingester accepts validated handoffs into the engine.
type Ingester struct {
	knowledge KnowledgeWriter
	blockers  BlockerSink
	archive   *Archive
	log       *zap.Logger
}

// NewIngester wires an ingester. log may be nil.
func NewIngester(k KnowledgeWriter, b BlockerSink, a *Archive, log *zap.Logger) *Ingester {
	return &Ingester{knowledge: k, blockers: b, archive: a, log: logging.OrNop(log)}
}

// Archive returns the archive accepted records are written to.
func (in *Ingester) Archive() *Archive { return in.archive }

// IngestText parses text and ingests the handoff it contains.
func (in *Ingester) IngestText(ctx context.Context, taskID, text string, taskTags []string) (*Result, error) {
	r, err := Parse(text)
	if err != nil {
		return nil, fmt.Errorf("task %s: handoff rejected: %w", taskID, err)
	}
	return in.Ingest(ctx, taskID, r, taskTags)
}

// Ingest validates r and, only if it is valid, applies it: the record is
// archived, its discoveries become knowledge nodes and its blockers are
// forwarded to the state manager. If any step fails the earlier steps are
// undone so nothing of the record remains.
func (in *Ingester) Ingest(ctx context.Context, taskID string, r *Record, taskTags []string) (*Result, error) {
	if taskID == "" && r != nil {
		taskID = r.TaskID
	}
	if err := CheckTaskID(taskID); err != nil {
		return nil, fmt.Errorf("task %s: handoff rejected: %w", taskID, err)
	}
	if err := Validate(r); err != nil {
		return nil, fmt.Errorf("task %s: handoff rejected: %w", taskID, err)
	}
	r.TaskID = taskID

	prev, err := in.archive.raw(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: read previous handoff: %w", taskID, err)
	}
	if err := in.archive.Save(ctx, taskID, r); err != nil {
		return nil, err
	}
	undoArchive := func() {
		if err := in.archive.restore(context.WithoutCancel(ctx), taskID, prev); err != nil {
			in.log.Error("restoring handoff archive failed", zap.String("task", taskID), zap.Error(err))
		}
	}

	nodes := BuildNodes(in.archive, taskID, r, taskTags)
	var (
		created  []string
		replaced *knowledge.Node
	)
	err = in.knowledge.Update(ctx, func(tx *knowledge.Tx) error {
		created, replaced = nil, nil
		for _, n := range nodes {
			if old, ok := tx.Get(n.ID); ok {
				// The task node describes the latest handoff; discoveries keep
				// their first sighting.
				if n.Type != knowledge.TypeTask {
					continue
				}
				if err := tx.Update(n.ID, knowledge.NodePatch{
					Tags:      n.Tags,
					Summary:   &n.Summary,
					DetailRef: &n.DetailRef,
				}); err != nil {
					return err
				}
				replaced = &old
				continue
			}
			conns := n.Connections
			n.Connections = nil
			if err := tx.Add(n); err != nil {
				return err
			}
			n.Connections = conns
			created = append(created, n.ID)
		}
		for _, n := range nodes {
			for _, to := range n.Connections {
				if err := tx.Connect(n.ID, to); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		undoArchive()
		return nil, fmt.Errorf("task %s: store knowledge: %w", taskID, err)
	}

	var blockerIDs []string
	if len(r.Blockers) > 0 && in.blockers != nil {
		bs := make([]state.Blocker, 0, len(r.Blockers))
		for _, b := range r.Blockers {
			bs = append(bs, state.Blocker{
				Description:   b.Description,
				Resolution:    b.Resolution,
				AffectedTasks: b.AffectedTasks,
				TaskID:        taskID,
			})
		}
		blockerIDs, err = in.blockers.AddBlockers(ctx, bs)
		if err != nil {
			in.compensate(ctx, taskID, created)
			in.restoreTask(ctx, replaced)
			undoArchive()
			return nil, fmt.Errorf("task %s: record blockers: %w", taskID, err)
		}
	}

	in.log.Info("handoff accepted",
		zap.String("task", taskID),
		zap.String("outcome", string(r.Outcome)),
		zap.Int("nodes_created", len(created)),
		zap.Int("blockers", len(blockerIDs)),
	)
	return &Result{
		TaskID:              taskID,
		Outcome:             r.Outcome,
		NodesCreated:        created,
		BlockerIDs:          blockerIDs,
		DependenciesForNext: r.DependenciesForNext,
		SuggestedNextSteps:  r.SuggestedNextSteps,
	}, nil
}

func (in *Ingester) compensate(ctx context.Context, taskID string, created []string) {
	if len(created) == 0 {
		return
	}
	if err := in.knowledge.DeleteNodes(context.WithoutCancel(ctx), created); err != nil {
		in.log.Error("rolling back handoff nodes failed",
			zap.String("task", taskID), zap.Strings("nodes", created), zap.Error(err))
	}
}

// restoreTask puts back the task node a failed ingestion overwrote.
func (in *Ingester) restoreTask(ctx context.Context, old *knowledge.Node) {
	if old == nil {
		return
	}
	err := in.knowledge.UpdateNode(context.WithoutCancel(ctx), old.ID, knowledge.NodePatch{
		Tags:      old.Tags,
		Summary:   &old.Summary,
		DetailRef: &old.DetailRef,
	})
	if err != nil {
		in.log.Error("restoring task node failed", zap.String("node", old.ID), zap.Error(err))
	}
}

// TaskNodeID is the id of the task node a handoff creates.
func TaskNodeID(taskID string) string {
	return "task-" + strings.ToLower(taskID)
}

// BuildNodes derives the knowledge nodes for r: one node per discovered
// pattern and gotcha, plus a task node connected to each of them. Node ids
// are derived from content so re-ingesting a record creates nothing new.
func BuildNodes(a *Archive, taskID string, r *Record, taskTags []string) []knowledge.Node {
	now := timeNow().UTC()
	base := append([]string{strings.ToLower(taskID)}, r.Tags...)
	base = append(base, taskTags...)

	var nodes []knowledge.Node
	var children []string
	all := []string{}

	for i, p := range r.PatternsDiscovered {
		ref := p.Location
		if ref == "" {
			ref = a.Ref(taskID, fmt.Sprintf("patterns_discovered[%d]", i))
		}
		summary := knowledge.Truncate(strings.TrimSpace(p.Pattern), knowledge.MaxSummaryLen)
		tags := append(append([]string{"pattern"}, base...), AppliesToTags(p.AppliesTo)...)
		n := knowledge.Node{
			ID:        knowledge.DeriveID(knowledge.TypePattern, summary, ref),
			Type:      knowledge.TypePattern,
			Tags:      tags,
			Summary:   summary,
			DetailRef: ref,
			CreatedAt: now,
		}
		nodes = append(nodes, n)
		children = append(children, n.ID)
		all = append(all, AppliesToTags(p.AppliesTo)...)
	}

	for i, g := range r.Gotchas {
		ref := a.Ref(taskID, fmt.Sprintf("gotchas[%d]", i))
		summary := knowledge.Truncate(strings.TrimSpace(g.Issue), knowledge.MaxSummaryLen)
		tags := append(append([]string{"gotcha", "severity-" + string(g.Severity)}, base...), AppliesToTags(g.AppliesTo)...)
		n := knowledge.Node{
			ID:        knowledge.DeriveID(knowledge.TypeGotcha, summary, ref),
			Type:      knowledge.TypeGotcha,
			Tags:      tags,
			Summary:   summary,
			DetailRef: ref,
			CreatedAt: now,
		}
		nodes = append(nodes, n)
		children = append(children, n.ID)
		all = append(all, AppliesToTags(g.AppliesTo)...)
	}

	summary := r.Summary
	if summary == "" {
		summary = fmt.Sprintf("%s %s", taskID, r.Outcome)
	}
	for _, f := range append(append([]FileChange{}, r.FilesCreated...), r.FilesModified...) {
		all = append(all, PathTags(f.Path)...)
	}
	task := knowledge.Node{
		ID:          TaskNodeID(taskID),
		Type:        knowledge.TypeTask,
		Tags:        append(append([]string{"task", "outcome-" + string(r.Outcome)}, base...), all...),
		Summary:     knowledge.Truncate(summary, knowledge.MaxSummaryLen),
		DetailRef:   a.Ref(taskID, ""),
		CreatedAt:   now,
		Connections: children,
	}
	return append([]knowledge.Node{task}, nodes...)
}

// AppliesToTags splits free-form applies_to entries into tags.
func AppliesToTags(appliesTo []string) []string {
	var out []string
	for _, a := range appliesTo {
		out = append(out, strings.FieldsFunc(strings.ToLower(a), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
		})...)
	}
	return out
}

// PathTags derives tags from a file path: its directory names and its base
// name without extension.
func PathTags(path string) []string {
	path = strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if i := strings.LastIndex(seg, "."); i > 0 {
			seg = seg[:i]
		}
		if seg == "" || seg == "." || seg == ".." || len(seg) < 3 {
			continue
		}
		out = append(out, seg)
	}
	return out
}
