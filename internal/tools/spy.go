package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

const spyPageSize = 20

// spyOnAgentTool reads another run's progress log, paginated so a long
// conversation does not blow the context window.
func (tb *Toolbox) spyOnAgentTool() *Definition {
	return &Definition{
		Name: "spy_on_agent",
		Description: "Read the progress log of another agent run, newest page first. " +
			"Use the page parameter to walk further back.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"run_id": map[string]any{"type": "string"},
				"page":   map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []any{"run_id"},
		},
		Handler: func(_ context.Context, input map[string]any) *Result {
			runID := inputString(input, "run_id")
			page := inputInt(input, "page", 1)

			logs, err := tb.cfg.Store.LogsForRun(runID)
			if err != nil {
				return ErrorResult(fmt.Sprintf("read logs for %s: %v", runID, err)).WithError(err)
			}
			if len(logs) == 0 {
				return NewResult(fmt.Sprintf("no progress recorded yet for run %s", runID))
			}

			var progress []any
			for _, l := range logs {
				if entries, ok := l.LogData["progress"].([]any); ok {
					progress = append(progress, entries...)
				}
			}
			total := len(progress)
			totalPages := (total + spyPageSize - 1) / spyPageSize
			if totalPages == 0 {
				totalPages = 1
			}
			if page > totalPages {
				return NewResult(fmt.Sprintf("run %s has only %d pages of progress", runID, totalPages))
			}

			// Page 1 is the newest entries.
			end := total - (page-1)*spyPageSize
			start := end - spyPageSize
			if start < 0 {
				start = 0
			}

			data, err := json.Marshal(map[string]any{
				"run_id":      runID,
				"page":        page,
				"total_pages": totalPages,
				"entries":     progress[start:end],
			})
			if err != nil {
				return ErrorResult(fmt.Sprintf("encode progress: %v", err)).WithError(err)
			}
			return NewResult(string(data))
		},
	}
}
