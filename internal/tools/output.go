package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cairnhq/cairn/internal/store"
)

// Output field names shared with the persisted agent_output payloads.
const (
	FieldEndTask = "end_task"
	FieldPRURL   = "pr_url"
)

// generateOutputTool is the terminal tool for every role: it validates the
// structured final output, performs the role's closing side effect (PR for
// Manager, branch URL for Engineer), and signals end_task.
func (tb *Toolbox) generateOutputTool(kind string) *Definition {
	return &Definition{
		Name:        "generate_output",
		Description: "Produce the final structured output for this task. Calling this tool ends the run.",
		InputSchema: outputSchemaFor(kind),
		Handler: func(ctx context.Context, input map[string]any) *Result {
			out := make(map[string]any, len(input)+2)
			for k, v := range input {
				out[k] = v
			}

			switch kind {
			case store.KindEngineer:
				if branch := tb.Branch(); branch != "" {
					out["branch_url"] = tb.cfg.Host.BranchURL(tb.cfg.Owner, tb.Repo(), branch)
				}

			case store.KindManager:
				tb.openPullRequest(ctx, out)

			case store.KindPlanner:
				if err := validatePlannerOutput(out); err != nil {
					return ErrorResult(err.Error())
				}
			}

			out[FieldEndTask] = true
			tb.setLastOutput(out)

			data, err := json.Marshal(out)
			if err != nil {
				return ErrorResult(fmt.Sprintf("encode output: %v", err)).WithError(err)
			}
			res := NewResult(string(data))
			res.EndTask = true
			return res
		},
	}
}

// openPullRequest opens the Manager's PR from pull_request_message. The
// title is the first line truncated to 100 characters. A PR failure is
// recorded in issues_encountered; it does not fail the task.
func (tb *Toolbox) openPullRequest(ctx context.Context, out map[string]any) {
	msg, _ := out["pull_request_message"].(string)
	branch := tb.Branch()
	if msg == "" || branch == "" {
		return
	}

	title := msg
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > 100 {
		title = title[:100]
	}

	pr, err := tb.cfg.Host.OpenPullRequest(ctx, tb.cfg.Owner, tb.Repo(), title, msg, branch, "")
	if err != nil {
		slog.Warn("pull request failed", "repo", tb.Repo(), "branch", branch, "error", err)
		issues, _ := out["issues_encountered"].([]any)
		out["issues_encountered"] = append(issues, fmt.Sprintf("pull request creation failed: %v", err))
		return
	}
	out[FieldPRURL] = pr.URL
}

func validatePlannerOutput(out map[string]any) error {
	subtasks, _ := out["list_of_subtasks"].([]any)
	titles, _ := out["list_of_subtask_titles"].([]any)
	repos, _ := out["list_of_subtask_repos"].([]any)
	if len(titles) != len(subtasks) || len(repos) != len(subtasks) {
		return fmt.Errorf("subtask lists must align: %d subtasks, %d titles, %d repos",
			len(subtasks), len(titles), len(repos))
	}
	return nil
}

func outputSchemaFor(kind string) map[string]any {
	switch kind {
	case store.KindEngineer:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary_of_changes":  map[string]any{"type": "string"},
				"files_modified":      stringArraySchema(),
				"verification_status": map[string]any{"type": "boolean"},
				"error_messages":      stringArraySchema(),
				"additional_notes":    map[string]any{"type": "string"},
			},
			"required": []any{"summary_of_changes", "files_modified", "verification_status"},
		}

	case store.KindManager:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recommendations":      stringArraySchema(),
				"issues_encountered":   stringArraySchema(),
				"pull_request_message": map[string]any{"type": "string"},
			},
			"required": []any{"pull_request_message"},
		}

	default: // Planner
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary_of_the_problem":           map[string]any{"type": "string"},
				"response_to_the_question":         map[string]any{"type": "string"},
				"most_relevant_code_file_paths":    stringArraySchema(),
				"list_of_subtasks":                 stringArraySchema(),
				"list_of_subtask_titles":           stringArraySchema(),
				"list_of_subtask_repos":            stringArraySchema(),
				"assessment_of_difficulty":         map[string]any{"type": "string"},
				"assessment_of_subtask_difficulty": stringArraySchema(),
				"assessment_of_subtask_assignment": stringArraySchema(),
				"recommended_approach":             map[string]any{"type": "string"},
			},
			"required": []any{"summary_of_the_problem", "list_of_subtasks", "list_of_subtask_titles", "list_of_subtask_repos"},
		}
	}
}

func stringArraySchema() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
}
