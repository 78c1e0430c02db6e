package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cairnhq/cairn/internal/store"
)

// delegateTaskTool lets a Manager hand a concrete engineering task to an
// Engineer agent run inline within this process. The child gets its own
// task row and progress log; its run id is recorded on the parent so the
// UI can follow the chain.
func (tb *Toolbox) delegateTaskTool() *Definition {
	return &Definition{
		Name: "delegate_task",
		Description: "Delegate a concrete engineering task to an Engineer agent working on the " +
			"current repository and branch. Returns the Engineer's structured output.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_description": map[string]any{"type": "string"},
			},
			"required": []any{"task_description"},
		},
		Handler: func(ctx context.Context, input map[string]any) *Result {
			description := inputString(input, "task_description")
			childRunID := "swe_" + uuid.NewString()
			repo, branch := tb.Repo(), tb.Branch()

			payload := store.NewWorkerPayload(
				store.KindEngineer, description, tb.cfg.Owner, repo, branch,
				"", "")
			payload[store.KeyStatus] = store.StatusRunning
			payload[store.KeyParentFullstackID] = tb.cfg.RunID

			if err := tb.cfg.Store.AddActiveTask(childRunID, payload); err != nil {
				return ErrorResult(fmt.Sprintf("create delegated task: %v", err)).WithError(err)
			}
			if err := tb.cfg.Store.AddRunIDToTask(childRunID, childRunID); err != nil {
				slog.Warn("could not register delegated run id", "run_id", childRunID, "error", err)
			}
			if tb.cfg.RecordChildRun != nil {
				tb.cfg.RecordChildRun(childRunID)
			}

			output, err := tb.cfg.Delegate(ctx, childRunID, description, repo, branch)
			if err != nil {
				slog.Error("delegated engineer failed", "run_id", childRunID, "error", err)
				tb.finishChild(childRunID, store.StatusFailed, nil, err)
				return tb.engineerErrorResult(err)
			}

			// The delegated output is an intermediate result for the
			// Manager, never a terminal signal for the parent loop.
			delete(output, FieldEndTask)
			tb.finishChild(childRunID, store.StatusCompleted, output, nil)

			data, encErr := json.Marshal(output)
			if encErr != nil {
				return ErrorResult(fmt.Sprintf("encode delegated output: %v", encErr)).WithError(encErr)
			}
			return NewResult(string(data))
		},
	}
}

// finishChild writes the delegated task's terminal status.
func (tb *Toolbox) finishChild(childRunID, status string, output map[string]any, runErr error) {
	payload, err := tb.cfg.Store.GetActiveTask(childRunID)
	if err != nil {
		slog.Warn("could not load delegated task for finish", "run_id", childRunID, "error", err)
		return
	}
	payload[store.KeyStatus] = status
	payload[store.KeyUpdatedAt] = store.Now()
	if output != nil {
		payload[store.KeyAgentOutput] = output
	}
	if runErr != nil {
		payload[store.KeyError] = runErr.Error()
	}
	if err := tb.cfg.Store.UpdateActiveTask(childRunID, payload); err != nil {
		slog.Warn("could not finish delegated task", "run_id", childRunID, "error", err)
	}
}

// engineerErrorResult shapes a delegation failure like an Engineer output
// so the Manager's loop can reason about it uniformly.
func (tb *Toolbox) engineerErrorResult(err error) *Result {
	out := map[string]any{
		"summary_of_changes":  "",
		"files_modified":      []any{},
		"verification_status": false,
		"error_messages":      []any{err.Error()},
		"additional_notes":    "the delegated engineer task failed before producing output",
		FieldEndTask:          false,
	}
	data, _ := json.Marshal(out)
	res := ErrorResult(string(data))
	res.Err = err
	return res
}
