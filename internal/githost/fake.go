package githost

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// FakeClient is an in-memory Client for tests. Branches map to path→content
// file sets; a new branch copies the default branch's files.
type FakeClient struct {
	mu       sync.Mutex
	branches map[string]map[string]string // branch → path → content
	def      string

	PullRequests    []PullRequest
	prTitles        []string
	nextPR          int
	CreatedBranches []string
}

func NewFakeClient(defaultBranch string, files map[string]string) *FakeClient {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	base := make(map[string]string, len(files))
	for k, v := range files {
		base[k] = v
	}
	return &FakeClient{
		branches: map[string]map[string]string{defaultBranch: base},
		def:      defaultBranch,
		nextPR:   1,
	}
}

func (c *FakeClient) DefaultBranch(_ context.Context, _, _ string) (string, error) {
	return c.def, nil
}

func (c *FakeClient) EnsureBranch(_ context.Context, _, _, branch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.branches[branch]; ok {
		return nil
	}
	cp := make(map[string]string)
	for k, v := range c.branches[c.def] {
		cp[k] = v
	}
	c.branches[branch] = cp
	c.CreatedBranches = append(c.CreatedBranches, branch)
	return nil
}

func (c *FakeClient) BranchURL(owner, repo, branch string) string {
	return fmt.Sprintf("https://example.test/%s/%s/tree/%s", owner, repo, branch)
}

func (c *FakeClient) files(branch string) (map[string]string, error) {
	fs, ok := c.branches[branch]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", branch, ErrNotFound)
	}
	return fs, nil
}

func (c *FakeClient) ReadFile(_ context.Context, _, _, branch, filePath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, err := c.files(branch)
	if err != nil {
		return "", err
	}
	content, ok := fs[filePath]
	if !ok {
		return "", fmt.Errorf("file %s: %w", filePath, ErrNotFound)
	}
	return content, nil
}

func (c *FakeClient) ListFiles(_ context.Context, _, _, branch, dir string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, err := c.files(branch)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]Entry)
	for p := range fs {
		if dir != "" && !strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/") {
			continue
		}
		rel := p
		if dir != "" {
			rel = strings.TrimPrefix(p, strings.TrimSuffix(dir, "/")+"/")
		}
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			d := path.Join(dir, rel[:i])
			seen[d] = Entry{Path: d, Type: "dir", IsDir: true}
		} else {
			seen[p] = Entry{Path: p, Type: "file", Size: int64(len(fs[p]))}
		}
	}
	out := make([]Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (c *FakeClient) Tree(_ context.Context, _, _, branch string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, err := c.files(branch)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(fs))
	for p := range fs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (c *FakeClient) SearchFilesByName(ctx context.Context, owner, repo, branch, pattern string) ([]string, error) {
	paths, err := c.Tree(ctx, owner, repo, branch)
	if err != nil {
		return nil, err
	}
	var hits []string
	for _, p := range paths {
		if strings.Contains(strings.ToLower(path.Base(p)), strings.ToLower(pattern)) {
			hits = append(hits, p)
		}
	}
	return hits, nil
}

func (c *FakeClient) SearchContent(_ context.Context, _, _, branch, needle string) ([]Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, err := c.files(branch)
	if err != nil {
		return nil, err
	}
	var paths []string
	for p := range fs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var matches []Match
	for _, p := range paths {
		for i, line := range strings.Split(fs[p], "\n") {
			if strings.Contains(line, needle) {
				matches = append(matches, Match{Path: p, Line: i + 1, Content: strings.TrimSpace(line)})
			}
		}
	}
	return matches, nil
}

func (c *FakeClient) CommitEdits(_ context.Context, _, _, branch, _ string, edits []Edit) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, err := c.files(branch)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, edit := range edits {
		if edit.Kind == EditDelete {
			delete(fs, edit.Path)
			done = append(done, edit.Path)
			continue
		}
		updated, err := ApplyEdit(fs[edit.Path], edit)
		if err != nil {
			return done, fmt.Errorf("edit %s: %w", edit.Path, err)
		}
		fs[edit.Path] = updated
		done = append(done, edit.Path)
	}
	return done, nil
}

func (c *FakeClient) OpenPullRequest(_ context.Context, owner, repo, title, _, head, _ string) (*PullRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr := PullRequest{
		Number: c.nextPR,
		URL:    fmt.Sprintf("https://example.test/%s/%s/pull/%d", owner, repo, c.nextPR),
	}
	c.nextPR++
	c.PullRequests = append(c.PullRequests, pr)
	c.prTitles = append(c.prTitles, title)
	_ = head
	return &pr, nil
}

// PRTitles returns the titles of opened PRs in order.
func (c *FakeClient) PRTitles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prTitles...)
}
