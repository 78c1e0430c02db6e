package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cairnhq/cairn/internal/githost"
)

func inputString(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func inputInt(input map[string]any, key string, fallback int) int {
	if v, ok := input[key].(float64); ok {
		return int(v)
	}
	if v, ok := input[key].(int); ok {
		return v
	}
	return fallback
}

// refBranch returns the branch tools read from: the target branch when
// set, otherwise the repo's default branch.
func (tb *Toolbox) refBranch(ctx context.Context, repo string) (string, error) {
	if b := tb.Branch(); b != "" {
		return b, nil
	}
	return tb.cfg.Host.DefaultBranch(ctx, tb.cfg.Owner, repo)
}

func (tb *Toolbox) readFileTool() *Definition {
	return &Definition{
		Name:        "read_file",
		Description: "Read the full content of one file in the current repository.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string", "description": "Path of the file to read, relative to the repository root."},
			},
			"required": []any{"file_path"},
		},
		Handler: func(ctx context.Context, input map[string]any) *Result {
			repo := tb.Repo()
			branch, err := tb.refBranch(ctx, repo)
			if err != nil {
				return ErrorResult(fmt.Sprintf("resolve branch: %v", err)).WithError(err)
			}
			content, err := tb.cfg.Host.ReadFile(ctx, tb.cfg.Owner, repo, branch, inputString(input, "file_path"))
			if err != nil {
				return ErrorResult(fmt.Sprintf("read file: %v", err)).WithError(err)
			}
			return NewResult(content)
		},
	}
}

func (tb *Toolbox) listFilesTool() *Definition {
	return &Definition{
		Name:        "list_files",
		Description: "List the files and directories under one directory of the current repository.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"directory": map[string]any{"type": "string", "description": "Directory to list; empty for the repository root."},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) *Result {
			repo := tb.Repo()
			branch, err := tb.refBranch(ctx, repo)
			if err != nil {
				return ErrorResult(fmt.Sprintf("resolve branch: %v", err)).WithError(err)
			}
			entries, err := tb.cfg.Host.ListFiles(ctx, tb.cfg.Owner, repo, branch, inputString(input, "directory"))
			if err != nil {
				return ErrorResult(fmt.Sprintf("list files: %v", err)).WithError(err)
			}
			var b strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&b, "%s/\n", e.Path)
				} else {
					fmt.Fprintf(&b, "%s (%d bytes)\n", e.Path, e.Size)
				}
			}
			if b.Len() == 0 {
				return NewResult("(empty directory)")
			}
			return NewResult(b.String())
		},
	}
}

func (tb *Toolbox) repoStructureTool() *Definition {
	return &Definition{
		Name:        "view_repository_structure",
		Description: "View the full file tree of the current repository.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, _ map[string]any) *Result {
			repo := tb.Repo()
			branch, err := tb.refBranch(ctx, repo)
			if err != nil {
				return ErrorResult(fmt.Sprintf("resolve branch: %v", err)).WithError(err)
			}
			paths, err := tb.cfg.Host.Tree(ctx, tb.cfg.Owner, repo, branch)
			if err != nil {
				return ErrorResult(fmt.Sprintf("view repository structure: %v", err)).WithError(err)
			}
			return NewResult(strings.Join(paths, "\n"))
		},
	}
}

func (tb *Toolbox) searchFilesByNameTool() *Definition {
	return &Definition{
		Name:        "search_files_by_name",
		Description: "Find files whose name contains the given pattern (case-insensitive).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
			},
			"required": []any{"pattern"},
		},
		Handler: func(ctx context.Context, input map[string]any) *Result {
			repo := tb.Repo()
			branch, err := tb.refBranch(ctx, repo)
			if err != nil {
				return ErrorResult(fmt.Sprintf("resolve branch: %v", err)).WithError(err)
			}
			hits, err := tb.cfg.Host.SearchFilesByName(ctx, tb.cfg.Owner, repo, branch, inputString(input, "pattern"))
			if err != nil {
				return ErrorResult(fmt.Sprintf("search files: %v", err)).WithError(err)
			}
			if len(hits) == 0 {
				return NewResult("no files matched")
			}
			return NewResult(strings.Join(hits, "\n"))
		},
	}
}

func (tb *Toolbox) substringSearchTool() *Definition {
	return &Definition{
		Name:        "substring_search",
		Description: "Search file contents for an exact substring, returning matching lines.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"substring": map[string]any{"type": "string"},
			},
			"required": []any{"substring"},
		},
		Handler: func(ctx context.Context, input map[string]any) *Result {
			repo := tb.Repo()
			branch, err := tb.refBranch(ctx, repo)
			if err != nil {
				return ErrorResult(fmt.Sprintf("resolve branch: %v", err)).WithError(err)
			}
			matches, err := tb.cfg.Host.SearchContent(ctx, tb.cfg.Owner, repo, branch, inputString(input, "substring"))
			if err != nil {
				return ErrorResult(fmt.Sprintf("substring search: %v", err)).WithError(err)
			}
			if len(matches) == 0 {
				return NewResult("no matches")
			}
			var b strings.Builder
			for _, m := range matches {
				fmt.Fprintf(&b, "%s:%d: %s\n", m.Path, m.Line, m.Content)
			}
			return NewResult(b.String())
		},
	}
}

func (tb *Toolbox) editFileTool() *Definition {
	return &Definition{
		Name:        "edit_file",
		Description: "Replace the full content of one file on the working branch, creating it if absent.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path":      map[string]any{"type": "string"},
				"new_content":    map[string]any{"type": "string"},
				"commit_message": map[string]any{"type": "string"},
			},
			"required": []any{"file_path", "new_content"},
		},
		Handler: func(ctx context.Context, input map[string]any) *Result {
			return tb.commitEdits(ctx, inputString(input, "commit_message"), []githost.Edit{{
				Kind:    githost.EditReplace,
				Path:    inputString(input, "file_path"),
				Content: inputString(input, "new_content"),
			}})
		},
	}
}

func (tb *Toolbox) editFileDescriptivelyTool() *Definition {
	return &Definition{
		Name: "edit_file_descriptively",
		Description: "Apply targeted edits to files on the working branch. Each edit is a unified diff, " +
			"a line-range rewrite, or a deletion; prefer this over edit_file for small changes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"edits": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"kind":       map[string]any{"type": "string", "enum": []any{"unified_diff", "line_range", "delete"}},
							"file_path":  map[string]any{"type": "string"},
							"content":    map[string]any{"type": "string"},
							"start_line": map[string]any{"type": "integer"},
							"end_line":   map[string]any{"type": "integer"},
						},
						"required": []any{"kind", "file_path"},
					},
				},
				"commit_message": map[string]any{"type": "string"},
			},
			"required": []any{"edits"},
		},
		Handler: func(ctx context.Context, input map[string]any) *Result {
			rawEdits, _ := input["edits"].([]any)
			if len(rawEdits) == 0 {
				return ErrorResult("edits list is empty")
			}
			edits := make([]githost.Edit, 0, len(rawEdits))
			for _, raw := range rawEdits {
				m, ok := raw.(map[string]any)
				if !ok {
					return ErrorResult("each edit must be an object")
				}
				edits = append(edits, githost.Edit{
					Kind:      githost.EditKind(inputString(m, "kind")),
					Path:      inputString(m, "file_path"),
					Content:   inputString(m, "content"),
					StartLine: inputInt(m, "start_line", 0),
					EndLine:   inputInt(m, "end_line", 0),
				})
			}
			return tb.commitEdits(ctx, inputString(input, "commit_message"), edits)
		},
	}
}

// commitEdits ensures the working branch exists, then applies the batch.
func (tb *Toolbox) commitEdits(ctx context.Context, message string, edits []githost.Edit) *Result {
	repo := tb.Repo()
	branch := tb.Branch()
	if branch == "" {
		return ErrorResult("no working branch set; edits require a branch")
	}
	if err := tb.Authenticate(ctx); err != nil {
		return ErrorResult(fmt.Sprintf("branch setup: %v", err)).WithError(err)
	}
	if message == "" {
		message = fmt.Sprintf("cairn: automated edit (%s)", tb.cfg.RunID)
	}

	done, err := tb.cfg.Host.CommitEdits(ctx, tb.cfg.Owner, repo, branch, message, edits)
	if err != nil {
		return ErrorResult(fmt.Sprintf("edits failed after %d of %d files: %v", len(done), len(edits), err)).WithError(err)
	}

	payload, _ := json.Marshal(map[string]any{
		"modified_files": done,
		"branch":         branch,
	})
	return NewResult(string(payload))
}

func (tb *Toolbox) switchRepoTool() *Definition {
	return &Definition{
		Name:        "switch_repo",
		Description: "Switch the working focus to another connected repository.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo": map[string]any{"type": "string"},
			},
			"required": []any{"repo"},
		},
		Handler: func(_ context.Context, input map[string]any) *Result {
			repo := inputString(input, "repo")
			if err := tb.SwitchRepo(repo); err != nil {
				return ErrorResult(err.Error()).WithError(err)
			}
			return NewResult(fmt.Sprintf("now focused on repository %s", repo))
		},
	}
}
