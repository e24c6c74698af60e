package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/persist"
)

// MarkerExt is the extension of completion markers.
const MarkerExt = ".done"

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Tracker decides whether tasks are complete. A task is complete when its
// archived handoff has outcome completed or a <TASK-ID>.done marker exists.
type Tracker struct {
	dir     string
	archive *handoff.Archive
	opts    persist.Options
}

// NewTracker creates a tracker over the marker directory and archive.
// archive may be nil.
func NewTracker(markerDir string, archive *handoff.Archive, opts persist.Options) *Tracker {
	return &Tracker{dir: markerDir, archive: archive, opts: opts}
}

// MarkerPath returns the marker file of taskID.
func (t *Tracker) MarkerPath(taskID string) string {
	return filepath.Join(t.dir, taskID+MarkerExt)
}

// Done reports whether taskID has a completion marker.
func (t *Tracker) Done(taskID string) bool {
	if handoff.CheckTaskID(taskID) != nil {
		return false
	}
	_, err := os.Stat(t.MarkerPath(taskID))
	return err == nil
}

// Completed implements retrieval.CompletionChecker.
func (t *Tracker) Completed(ctx context.Context, taskID string) bool {
	if t.Done(taskID) {
		return true
	}
	return t.archive != nil && t.archive.Completed(ctx, taskID)
}

// MarkDone writes taskID's completion marker.
func (t *Tracker) MarkDone(ctx context.Context, taskID string) error {
	if err := handoff.CheckTaskID(taskID); err != nil {
		return err
	}
	body := fmt.Sprintf("%s completed at %s\n", taskID, timeNow().UTC().Format(time.RFC3339))
	if err := persist.WriteFile(ctx, t.MarkerPath(taskID), []byte(body), t.opts); err != nil {
		return fmt.Errorf("tasks: mark %s done: %w", taskID, err)
	}
	return nil
}
