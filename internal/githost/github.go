package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

const githubAPIBase = "https://api.github.com"

// GitHubClient implements Client against the GitHub REST API.
type GitHubClient struct {
	token   string
	baseURL string
	client  *http.Client

	// webBase is used for branch and PR URLs shown to users.
	webBase string
}

type GitHubOption func(*GitHubClient)

func WithBaseURL(u string) GitHubOption {
	return func(c *GitHubClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func NewGitHubClient(token string, opts ...GitHubOption) *GitHubClient {
	c := &GitHubClient{
		token:   token,
		baseURL: githubAPIBase,
		webBase: "https://github.com",
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *GitHubClient) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", owner, repo), &out); err != nil {
		return "", err
	}
	if out.DefaultBranch == "" {
		out.DefaultBranch = "main"
	}
	return out.DefaultBranch, nil
}

// EnsureBranch creates branch from the default branch when it does not
// exist. Creating an existing branch is a no-op, including the 422 GitHub
// returns when the ref was created by a concurrent worker.
func (c *GitHubClient) EnsureBranch(ctx context.Context, owner, repo, branch string) error {
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, branch), &struct{}{})
	if err == nil {
		return nil
	}
	var he *apiError
	if !asAPIError(err, &he) || he.Status != http.StatusNotFound {
		return err
	}

	def, err := c.DefaultBranch(ctx, owner, repo)
	if err != nil {
		return fmt.Errorf("resolve default branch: %w", err)
	}
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", owner, repo, def), &ref); err != nil {
		return fmt.Errorf("read default branch ref: %w", err)
	}

	body := map[string]any{
		"ref": "refs/heads/" + branch,
		"sha": ref.Object.SHA,
	}
	err = c.send(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo), body, nil)
	if asAPIError(err, &he) && he.Status == http.StatusUnprocessableEntity {
		return nil
	}
	return err
}

func (c *GitHubClient) BranchURL(owner, repo, branch string) string {
	return fmt.Sprintf("%s/%s/%s/tree/%s", c.webBase, owner, repo, branch)
}

func (c *GitHubClient) ReadFile(ctx context.Context, owner, repo, branch, filePath string) (string, error) {
	var out struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	p := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, filePath, branch)
	if err := c.get(ctx, p, &out); err != nil {
		return "", err
	}
	if out.Type != "file" {
		return "", fmt.Errorf("%s is not a file", filePath)
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", filePath, err)
	}
	return string(data), nil
}

func (c *GitHubClient) ListFiles(ctx context.Context, owner, repo, branch, dir string) ([]Entry, error) {
	var out []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		Size int64  `json:"size"`
	}
	p := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, dir, branch)
	if err := c.get(ctx, p, &out); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(out))
	for _, e := range out {
		entries = append(entries, Entry{
			Path:  e.Path,
			Type:  e.Type,
			Size:  e.Size,
			IsDir: e.Type == "dir",
		})
	}
	return entries, nil
}

func (c *GitHubClient) Tree(ctx context.Context, owner, repo, branch string) ([]string, error) {
	var out struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	p := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, repo, branch)
	if err := c.get(ctx, p, &out); err != nil {
		return nil, err
	}
	var paths []string
	for _, t := range out.Tree {
		if t.Type == "blob" {
			paths = append(paths, t.Path)
		}
	}
	return paths, nil
}

func (c *GitHubClient) SearchFilesByName(ctx context.Context, owner, repo, branch, pattern string) ([]string, error) {
	paths, err := c.Tree(ctx, owner, repo, branch)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(pattern)
	var hits []string
	for _, p := range paths {
		if strings.Contains(strings.ToLower(path.Base(p)), needle) {
			hits = append(hits, p)
		}
	}
	return hits, nil
}

// searchScanLimit bounds how many files a substring search will fetch.
const searchScanLimit = 200

func (c *GitHubClient) SearchContent(ctx context.Context, owner, repo, branch, needle string) ([]Match, error) {
	paths, err := c.Tree(ctx, owner, repo, branch)
	if err != nil {
		return nil, err
	}
	if len(paths) > searchScanLimit {
		paths = paths[:searchScanLimit]
	}

	var matches []Match
	for _, p := range paths {
		content, err := c.ReadFile(ctx, owner, repo, branch, p)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(line, needle) {
				matches = append(matches, Match{Path: p, Line: i + 1, Content: strings.TrimSpace(line)})
			}
		}
	}
	return matches, nil
}

// CommitEdits applies each edit as its own contents-API commit on branch.
// Atomic per file; an error aborts the remainder and returns the paths
// already committed alongside the error.
func (c *GitHubClient) CommitEdits(ctx context.Context, owner, repo, branch, message string, edits []Edit) ([]string, error) {
	var done []string
	for _, edit := range edits {
		if err := c.commitOne(ctx, owner, repo, branch, message, edit); err != nil {
			return done, fmt.Errorf("edit %s: %w", edit.Path, err)
		}
		done = append(done, edit.Path)
	}
	return done, nil
}

func (c *GitHubClient) commitOne(ctx context.Context, owner, repo, branch, message string, edit Edit) error {
	sha, current, err := c.fileSHA(ctx, owner, repo, branch, edit.Path)
	if err != nil && edit.Kind != EditReplace {
		return err
	}

	if edit.Kind == EditDelete {
		body := map[string]any{"message": message, "sha": sha, "branch": branch}
		return c.send(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, edit.Path), body, nil)
	}

	updated, err := ApplyEdit(current, edit)
	if err != nil {
		return err
	}
	body := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(updated)),
		"branch":  branch,
	}
	if sha != "" {
		body["sha"] = sha
	}
	return c.send(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, edit.Path), body, nil)
}

// fileSHA returns the blob sha and decoded content, or empty values when
// the file does not exist yet.
func (c *GitHubClient) fileSHA(ctx context.Context, owner, repo, branch, filePath string) (string, string, error) {
	var out struct {
		SHA     string `json:"sha"`
		Content string `json:"content"`
	}
	p := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, filePath, branch)
	err := c.get(ctx, p, &out)
	var he *apiError
	if asAPIError(err, &he) && he.Status == http.StatusNotFound {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", filePath, err)
	}
	return out.SHA, string(data), nil
}

func (c *GitHubClient) OpenPullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error) {
	if base == "" {
		def, err := c.DefaultBranch(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
		base = def
	}
	req := map[string]any{"title": title, "body": body, "head": head, "base": base}
	var out struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", owner, repo), req, &out); err != nil {
		return nil, err
	}
	return &PullRequest{Number: out.Number, URL: out.HTMLURL}, nil
}

// --- transport ---

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string { return fmt.Sprintf("github: http %d: %s", e.Status, e.Body) }

func asAPIError(err error, target **apiError) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*apiError); ok {
		*target = ae
		return true
	}
	return false
}

func (c *GitHubClient) get(ctx context.Context, path string, out any) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

func (c *GitHubClient) send(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("github: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("github: decode response: %w", err)
		}
	}
	return nil
}
