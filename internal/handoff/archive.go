package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/persist"
)

// ArchiveDir is the directory under the data dir holding accepted records.
const ArchiveDir = "handoffs"

// timeNow is a package-level variable for testability.
var timeNow = time.Now

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Archived is an accepted record as stored on disk.
type Archived struct {
	TaskID     string    `yaml:"task_id" json:"task_id"`
	AcceptedAt time.Time `yaml:"accepted_at" json:"accepted_at"`
	Record     Record    `yaml:"record" json:"record"`
}

// Archive stores accepted handoffs as one YAML file per task.
type Archive struct {
	dir  string
	opts persist.Options
}

// NewArchive creates a filesystem-backed archive rooted at dir.
func NewArchive(dir string, opts persist.Options) *Archive {
	return &Archive{dir: dir, opts: opts}
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

// Path returns the file that holds taskID's record.
func (a *Archive) Path(taskID string) string {
	return filepath.Join(a.dir, taskID+".yaml")
}

// Ref returns the detail reference of an entry inside taskID's record,
// e.g. "handoffs/TASK-001.yaml#gotchas[0]".
func (a *Archive) Ref(taskID, field string) string {
	ref := ArchiveDir + "/" + taskID + ".yaml"
	if field != "" {
		ref += "#" + field
	}
	return ref
}

// CheckTaskID rejects ids that cannot be used as a file name.
func CheckTaskID(taskID string) error {
	if !taskIDPattern.MatchString(taskID) {
		return errs.Invalid("", "task_id", fmt.Sprintf("invalid task id %q", taskID))
	}
	return nil
}

// Save stores r as taskID's accepted record, replacing any earlier one.
func (a *Archive) Save(ctx context.Context, taskID string, r *Record) error {
	if err := CheckTaskID(taskID); err != nil {
		return err
	}
	data, err := yaml.Marshal(Archived{TaskID: taskID, AcceptedAt: timeNow().UTC(), Record: *r})
	if err != nil {
		return fmt.Errorf("handoff: marshal archive: %w", err)
	}
	if err := persist.WriteFile(ctx, a.Path(taskID), data, a.opts); err != nil {
		return fmt.Errorf("handoff: archive %s: %w", taskID, err)
	}
	return nil
}

// raw returns the stored bytes for taskID, or nil when absent.
func (a *Archive) raw(ctx context.Context, taskID string) ([]byte, error) {
	data, err := persist.ReadFile(ctx, a.Path(taskID), a.opts)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// restore puts back bytes captured by raw. nil removes the file.
func (a *Archive) restore(ctx context.Context, taskID string, prev []byte) error {
	if prev == nil {
		err := os.Remove(a.Path(taskID))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return persist.WriteFile(ctx, a.Path(taskID), prev, a.opts)
}

// Load reads taskID's accepted record.
func (a *Archive) Load(ctx context.Context, taskID string) (*Archived, error) {
	if err := CheckTaskID(taskID); err != nil {
		return nil, err
	}
	data, err := persist.ReadFile(ctx, a.Path(taskID), a.opts)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.NotFound("handoff", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("handoff: read archive: %w", err)
	}
	var arch Archived
	if err := yaml.Unmarshal(data, &arch); err != nil {
		return nil, errs.Corrupt(a.Path(taskID), err)
	}
	return &arch, nil
}

// List returns every archived record ordered by task id. Unreadable files
// are skipped.
func (a *Archive) List(ctx context.Context) ([]Archived, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handoff: list archive: %w", err)
	}

	var out []Archived
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		arch, err := a.Load(ctx, strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			continue // skip unreadable records
		}
		out = append(out, *arch)
	}
	slices.SortFunc(out, func(x, y Archived) int { return strings.Compare(x.TaskID, y.TaskID) })
	return out, nil
}

// Completed reports whether taskID has an archived record with outcome
// completed.
func (a *Archive) Completed(ctx context.Context, taskID string) bool {
	arch, err := a.Load(ctx, taskID)
	return err == nil && arch.Record.Outcome == OutcomeCompleted
}
