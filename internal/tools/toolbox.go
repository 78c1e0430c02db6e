package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cairnhq/cairn/internal/githost"
	"github.com/cairnhq/cairn/internal/store"
)

// DelegateFunc runs a delegated Engineer task inline and returns its final
// output. Injected by the worker wrapper so the toolbox stays decoupled
// from the executor.
type DelegateFunc func(ctx context.Context, childRunID, description, repo, branch string) (map[string]any, error)

// Config assembles a Toolbox for one run.
type Config struct {
	Kind   string // store.KindPlanner, KindManager, or KindEngineer
	Owner  string
	Repos  []string // focus starts on Repos[0]
	Branch string

	RunID  string
	TaskID string

	Host     githost.Client
	Store    *store.Store
	Settings *SettingsStore
	Memory   *MemoryStore

	// Delegate is required for Manager toolboxes.
	Delegate DelegateFunc

	// RecordChildRun lets the owning worker note a delegated child's run
	// id on its own task payload.
	RecordChildRun func(childRunID string)

	// OtherAgents describes sibling sub-task agents for prompt injection.
	OtherAgents string
}

// Toolbox holds the role-scoped tool registry plus the repo focus, host
// client, and prompt-injection state for one run.
type Toolbox struct {
	registry *Registry
	cfg      Config

	mu          sync.Mutex
	repo        string
	branch      string
	branchReady map[string]bool
	lastOutput  map[string]any
}

// New builds the toolbox and registers the tool set for cfg.Kind.
func New(cfg Config) (*Toolbox, error) {
	if len(cfg.Repos) == 0 {
		return nil, errors.New("toolbox: at least one repo required")
	}
	if cfg.Kind == store.KindManager && cfg.Delegate == nil {
		return nil, errors.New("toolbox: manager requires a delegate func")
	}

	tb := &Toolbox{
		registry:    NewRegistry(),
		cfg:         cfg,
		repo:        cfg.Repos[0],
		branch:      cfg.Branch,
		branchReady: make(map[string]bool),
	}

	if err := tb.registerFor(cfg.Kind); err != nil {
		return nil, err
	}
	return tb, nil
}

// registerFor installs the role tool set. The batch tool is always last.
func (tb *Toolbox) registerFor(kind string) error {
	readSet := []*Definition{
		tb.readFileTool(),
		tb.listFilesTool(),
		tb.repoStructureTool(),
		tb.searchFilesByNameTool(),
		tb.substringSearchTool(),
		tb.spyOnAgentTool(),
	}

	var defs []*Definition
	switch kind {
	case store.KindEngineer:
		defs = append(defs, tb.editFileTool(), tb.editFileDescriptivelyTool())
		defs = append(defs, readSet...)
		defs = append(defs, tb.generateOutputTool(kind))

	case store.KindManager:
		defs = append(defs, readSet...)
		defs = append(defs, tb.delegateTaskTool(), tb.generateOutputTool(kind))

	case store.KindPlanner:
		defs = append(defs, readSet...)
		if len(tb.cfg.Repos) > 1 {
			defs = append(defs, tb.switchRepoTool())
		}
		defs = append(defs, tb.generateOutputTool(kind))

	default:
		return fmt.Errorf("toolbox: unknown agent kind %q", kind)
	}
	defs = append(defs, tb.batchTool())

	for _, def := range defs {
		if err := tb.registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying registry for the executor.
func (tb *Toolbox) Registry() *Registry { return tb.registry }

// Dispatch routes one tool call through the registry.
func (tb *Toolbox) Dispatch(ctx context.Context, name string, input map[string]any) *Result {
	return tb.registry.Dispatch(ctx, name, input)
}

// Repo returns the current repo focus.
func (tb *Toolbox) Repo() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.repo
}

// Branch returns the current target branch.
func (tb *Toolbox) Branch() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.branch
}

// LastOutput returns the most recent generate_output payload, or nil.
func (tb *Toolbox) LastOutput() map[string]any {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastOutput
}

// Authenticate verifies host access and, when a target branch is set,
// makes sure it exists — a missing branch is created from the default
// branch. Creation is idempotent; unrelated host errors are logged and
// tolerated so a transient host hiccup does not kill the run before it
// starts.
func (tb *Toolbox) Authenticate(ctx context.Context) error {
	tb.mu.Lock()
	repo, branch := tb.repo, tb.branch
	ready := tb.branchReady[repo]
	tb.mu.Unlock()

	if branch == "" || ready {
		return nil
	}

	err := tb.cfg.Host.EnsureBranch(ctx, tb.cfg.Owner, repo, branch)
	if err != nil {
		slog.Warn("branch setup failed, continuing", "repo", repo, "branch", branch, "error", err)
		return nil
	}

	tb.mu.Lock()
	tb.branchReady[repo] = true
	tb.mu.Unlock()
	return nil
}

// SwitchRepo refocuses the toolbox on another connected repo.
func (tb *Toolbox) SwitchRepo(repo string) error {
	for _, r := range tb.cfg.Repos {
		if r == repo {
			tb.mu.Lock()
			tb.repo = repo
			tb.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("repo %s is not connected (have %v)", repo, tb.cfg.Repos)
}

// UpdateRepoMemory persists a new memory note for the focused repo.
func (tb *Toolbox) UpdateRepoMemory(memory string) error {
	if tb.cfg.Memory == nil {
		return nil
	}
	return tb.cfg.Memory.Update(tb.Repo(), memory)
}

// FormatSettings renders the operator rules section of the system prompt.
func (tb *Toolbox) FormatSettings() string {
	if tb.cfg.Settings == nil {
		return ""
	}
	return tb.cfg.Settings.FormatForPrompt(tb.Repo())
}

// FormatRepoMemory renders the repo memory section of the system prompt.
func (tb *Toolbox) FormatRepoMemory() string {
	if tb.cfg.Memory == nil {
		return ""
	}
	return tb.cfg.Memory.FormatForPrompt(tb.Repo())
}

// OtherAgents returns the sibling-agent description for prompt injection.
func (tb *Toolbox) OtherAgents() string { return tb.cfg.OtherAgents }

// ServerTools declares provider-executed tools offered alongside the
// client set. Only Anthropic-shaped providers act on these; others ignore
// them.
func (tb *Toolbox) ServerTools() []map[string]any {
	return []map[string]any{
		{
			"type":     "web_search_20250305",
			"name":     "web_search",
			"max_uses": 5,
		},
	}
}

func (tb *Toolbox) setLastOutput(out map[string]any) {
	tb.mu.Lock()
	tb.lastOutput = out
	tb.mu.Unlock()
}
