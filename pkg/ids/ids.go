// Package ids generates the identifiers shared between the manager, the
// store, and worker children. Run ids are epoch-based so that sorting by id
// roughly matches creation order; sub-task ids are deterministic per
// (parent run, index) so that re-allocation is idempotent.
package ids

import (
	"fmt"
	"time"
)

// NewRunID returns a fresh task run id of the form "task_<epoch-seconds>".
// The exists predicate lets the caller bump past collisions when two tasks
// are created within the same second.
func NewRunID(exists func(string) bool) string {
	epoch := time.Now().Unix()
	for {
		id := fmt.Sprintf("task_%d", epoch)
		if exists == nil || !exists(id) {
			return id
		}
		epoch++
	}
}

// SubtaskID returns the deterministic id for one planner sub-task.
func SubtaskID(epoch int64, index int) string {
	return fmt.Sprintf("pm_subtask_%d_%d", epoch, index)
}

// BranchName returns the auto-generated branch for an agent kind when the
// submitter did not pick one.
func BranchName(kind string) string {
	return fmt.Sprintf("%s-%d", kind, time.Now().Unix())
}
