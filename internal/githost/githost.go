// Package githost is the repository-host capability set consumed by the
// toolbox: branches, file IO, search, batch edits, and pull requests.
package githost

import (
	"context"
	"errors"
)

// ErrNotFound is returned for missing branches, files, or repos.
var ErrNotFound = errors.New("githost: not found")

// Entry is one item of a directory listing.
type Entry struct {
	Path  string `json:"path"`
	Type  string `json:"type"` // "file" or "dir"
	Size  int64  `json:"size,omitempty"`
	IsDir bool   `json:"is_dir"`
}

// Match is one substring-search hit.
type Match struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// EditKind selects how one file modification is described.
type EditKind string

const (
	// EditReplace swaps the whole file content.
	EditReplace EditKind = "replace"
	// EditUnifiedDiff applies a unified diff with fuzzy recovery.
	EditUnifiedDiff EditKind = "unified_diff"
	// EditLineRange rewrites lines [StartLine, EndLine] (1-based, inclusive).
	EditLineRange EditKind = "line_range"
	// EditDelete removes the file.
	EditDelete EditKind = "delete"
)

// Edit is one file modification in a batch commit. The batch is atomic at
// file granularity, not across files.
type Edit struct {
	Kind      EditKind `json:"kind"`
	Path      string   `json:"path"`
	Content   string   `json:"content,omitempty"` // new content, diff text, or range replacement
	StartLine int      `json:"start_line,omitempty"`
	EndLine   int      `json:"end_line,omitempty"`
}

// PullRequest describes an opened PR.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Client is the host-side surface. Implementations must make EnsureBranch
// idempotent: creating an existing branch is a tolerated no-op.
type Client interface {
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	EnsureBranch(ctx context.Context, owner, repo, branch string) error
	BranchURL(owner, repo, branch string) string

	ReadFile(ctx context.Context, owner, repo, branch, path string) (string, error)
	ListFiles(ctx context.Context, owner, repo, branch, dir string) ([]Entry, error)
	Tree(ctx context.Context, owner, repo, branch string) ([]string, error)
	SearchFilesByName(ctx context.Context, owner, repo, branch, pattern string) ([]string, error)
	SearchContent(ctx context.Context, owner, repo, branch, needle string) ([]Match, error)

	CommitEdits(ctx context.Context, owner, repo, branch, message string, edits []Edit) ([]string, error)
	OpenPullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error)
}
