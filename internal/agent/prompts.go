package agent

import (
	"fmt"
	"strings"

	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/internal/tools"
)

// systemPrompt renders the role prompt for the current turn. It is
// regenerated before every LLM call so settings edits and repo memory
// updates land mid-run.
func systemPrompt(kind string, tb *tools.Toolbox, repos []string) string {
	var b strings.Builder

	switch kind {
	case store.KindPlanner:
		b.WriteString("You are a senior software planner. Your job is to analyze a task that may span " +
			"several repositories, understand the relevant code, and decompose the task into a list of " +
			"independent sub-tasks, each scoped to exactly one repository. You never edit files yourself. " +
			"Explore the code with your tools before deciding. When your plan is ready, call " +
			"generate_output with the sub-task list; each sub-task description must be self-contained " +
			"enough for another agent to execute without seeing this conversation.")

	case store.KindManager:
		b.WriteString("You are an engineering manager agent. You own one sub-task against a single " +
			"repository. Understand the task, inspect the code, then delegate the concrete code changes " +
			"to an engineer with delegate_task. Review the engineer's result; you may delegate again with " +
			"refined instructions. When the work is done, call generate_output with a pull request " +
			"message summarizing the change; a pull request is opened from the working branch " +
			"automatically.")

	case store.KindEngineer:
		b.WriteString("You are a software engineer agent. You implement one concrete code change in a " +
			"single repository on a dedicated working branch. Read the relevant files before editing. " +
			"Use edit_file_descriptively for targeted changes and edit_file for whole-file rewrites. When " +
			"the change is complete, call generate_output describing what you modified and whether you " +
			"could verify it.")
	}

	fmt.Fprintf(&b, "\n\nConnected repositories: %s. Currently focused on: %s.",
		strings.Join(repos, ", "), tb.Repo())
	if branch := tb.Branch(); branch != "" {
		fmt.Fprintf(&b, " Working branch: %s.", branch)
	}

	b.WriteString("\n\nBefore each action, reason inside an <analysis> tag. " +
		"Prefer batch_tool when several independent lookups are needed at once.")

	if other := tb.OtherAgents(); other != "" {
		b.WriteString("\n\nOther agents working on sibling sub-tasks:\n")
		b.WriteString(other)
		b.WriteString("\nUse spy_on_agent with a run id to inspect their progress.")
	}

	if settings := tb.FormatSettings(); settings != "" {
		b.WriteString("\n\n")
		b.WriteString(settings)
	}
	if memory := tb.FormatRepoMemory(); memory != "" {
		b.WriteString("\n\n")
		b.WriteString(memory)
	}

	return b.String()
}
