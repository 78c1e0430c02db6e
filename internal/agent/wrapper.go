package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cairnhq/cairn/internal/config"
	"github.com/cairnhq/cairn/internal/githost"
	"github.com/cairnhq/cairn/internal/providers"
	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/internal/tools"
	"github.com/cairnhq/cairn/pkg/ids"
)

// Runtime bundles everything a worker process needs to execute runs:
// config, store, host client, and the shared settings and repo-memory
// stores. One Runtime serves one worker process.
type Runtime struct {
	cfg      *config.Config
	st       *store.Store
	host     githost.Client
	settings *tools.SettingsStore
	memory   *tools.MemoryStore
}

// NewRuntime wires a Runtime from config. The host client is real GitHub
// unless a test substitutes one through WithHost.
func NewRuntime(cfg *config.Config, st *store.Store, opts ...RuntimeOption) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, st: st}
	for _, opt := range opts {
		opt(rt)
	}

	if rt.host == nil {
		var hostOpts []githost.GitHubOption
		if cfg.GitHost.BaseURL != "" {
			hostOpts = append(hostOpts, githost.WithBaseURL(cfg.GitHost.BaseURL))
		}
		rt.host = githost.NewGitHubClient(cfg.GitHost.Token, hostOpts...)
	}

	repos := cfg.RepoNames()
	if rt.settings == nil && cfg.Agents.SettingsDir != "" {
		settings, err := tools.OpenSettings(cfg.Agents.SettingsDir, repos)
		if err != nil {
			return nil, fmt.Errorf("open settings: %w", err)
		}
		rt.settings = settings
	}
	if rt.memory == nil && cfg.Agents.SettingsDir != "" {
		memory, err := tools.OpenMemory(cfg.Agents.SettingsDir, repos)
		if err != nil {
			return nil, fmt.Errorf("open repo memory: %w", err)
		}
		rt.memory = memory
	}
	return rt, nil
}

// RuntimeOption overrides a Runtime collaborator, used by tests.
type RuntimeOption func(*Runtime)

func WithHost(h githost.Client) RuntimeOption {
	return func(rt *Runtime) { rt.host = h }
}

func WithSettings(s *tools.SettingsStore) RuntimeOption {
	return func(rt *Runtime) { rt.settings = s }
}

func WithMemory(m *tools.MemoryStore) RuntimeOption {
	return func(rt *Runtime) { rt.memory = m }
}

// Close releases the settings watcher.
func (rt *Runtime) Close() error {
	if rt.settings != nil {
		return rt.settings.Close()
	}
	return nil
}

// RunWorker executes the agent run identified by runID: load the task
// payload, mark it Running, drive the role executor to completion, and
// record the terminal status. A missing task row aborts before any state
// change.
func (rt *Runtime) RunWorker(ctx context.Context, runID string) error {
	payload, err := rt.st.GetActiveTask(runID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", runID, err)
	}

	kind := store.PayloadString(payload, store.KeyAgentKind)
	switch kind {
	case store.KindPlanner, store.KindManager, store.KindEngineer:
	default:
		return rt.fail(runID, payload, fmt.Errorf("unknown agent kind %q", kind))
	}

	payload[store.KeyStatus] = store.StatusRunning
	payload[store.KeyUpdatedAt] = store.Now()
	if err := rt.st.UpdateActiveTask(runID, payload); err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}

	result, runErr := rt.execute(ctx, runID, kind, payload)
	if runErr != nil {
		return rt.fail(runID, payload, runErr)
	}
	return rt.finish(runID, kind, payload, result)
}

// execute builds the toolbox and executor for the run and drives it.
func (rt *Runtime) execute(ctx context.Context, runID, kind string, payload map[string]any) (*RunResult, error) {
	repos := store.PayloadStrings(payload, store.KeyRepos)
	if len(repos) == 0 {
		repos = rt.cfg.RepoNames()
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("run %s: no repositories configured", runID)
	}

	branch := store.PayloadString(payload, store.KeyBranch)
	if branch == "" && kind != store.KindPlanner {
		// Managers and Engineers write to the repo; they always get a
		// dedicated branch before the first tool call.
		branch = ids.BranchName(kind)
		payload[store.KeyBranch] = branch
		payload[store.KeyUpdatedAt] = store.Now()
		if err := rt.st.UpdateActiveTask(runID, payload); err != nil {
			return nil, fmt.Errorf("record generated branch: %w", err)
		}
		slog.Info("generated working branch", "run_id", runID, "branch", branch)
	}

	logger, err := NewLogger(rt.st, runID, runID, kind)
	if err != nil {
		return nil, err
	}
	defer logger.Close()

	tbCfg := tools.Config{
		Kind:        kind,
		Owner:       rt.owner(payload),
		Repos:       repos,
		Branch:      branch,
		RunID:       runID,
		TaskID:      runID,
		Host:        rt.host,
		Store:       rt.st,
		Settings:    rt.settings,
		Memory:      rt.memory,
		OtherAgents: rt.describeSiblings(runID, payload),
	}
	if kind == store.KindManager {
		tbCfg.Delegate = rt.delegateFunc(payload)
		tbCfg.RecordChildRun = func(childRunID string) {
			rt.recordChildRun(runID, childRunID)
		}
	}

	tb, err := tools.New(tbCfg)
	if err != nil {
		return nil, err
	}

	provider, model, err := rt.resolveProvider(payload)
	if err != nil {
		return nil, err
	}

	exec := NewExecutor(ExecutorConfig{
		Kind:          kind,
		RunID:         runID,
		Provider:      provider,
		Toolbox:       tb,
		Logger:        logger,
		Repos:         repos,
		Model:         model,
		MaxTokens:     rt.cfg.Agents.MaxTokens,
		Temperature:   rt.temperature(),
		MaxIterations: rt.cfg.Agents.MaxIterations,
		MaxCallStack:  rt.cfg.Agents.MaxCallStack,
	})

	description := store.PayloadString(payload, store.KeyDescription)
	return exec.Run(ctx, description)
}

// finish records the terminal state for a successful run. Every kind lands
// in Completed; a Planner additionally gets its sub-task ids pre-allocated
// so later fan-out is idempotent.
func (rt *Runtime) finish(runID, kind string, payload map[string]any, result *RunResult) error {
	output := map[string]any{}
	for k, v := range result.FinalOutput {
		if k == tools.FieldEndTask {
			continue
		}
		output[k] = v
	}

	payload[store.KeyAgentOutput] = output
	payload[store.KeyUpdatedAt] = store.Now()

	if kind == store.KindPlanner {
		subtasks, _ := output["list_of_subtasks"].([]any)
		subIDs, err := rt.st.PreGenerateSubtaskIDs(runID, len(subtasks))
		if err != nil {
			return rt.fail(runID, payload, fmt.Errorf("allocate sub-task ids: %w", err))
		}
		payload[store.KeySubtaskIDs] = toAny(subIDs)
	}
	payload[store.KeyStatus] = store.StatusCompleted

	if err := rt.st.UpdateActiveTask(runID, payload); err != nil {
		return fmt.Errorf("record task completion: %w", err)
	}
	slog.Info("run finished", "run_id", runID, "kind", kind, "status", payload[store.KeyStatus])
	return nil
}

// fail records the terminal Failed state and returns the original error.
func (rt *Runtime) fail(runID string, payload map[string]any, runErr error) error {
	payload[store.KeyStatus] = store.StatusFailed
	payload[store.KeyError] = runErr.Error()
	payload[store.KeyUpdatedAt] = store.Now()
	if err := rt.st.UpdateActiveTask(runID, payload); err != nil {
		slog.Error("could not record task failure", "run_id", runID, "error", err)
	}
	slog.Error("run failed", "run_id", runID, "error", runErr)
	return runErr
}

// delegateFunc runs a delegated Engineer inline, inheriting the parent's
// provider selection.
func (rt *Runtime) delegateFunc(parentPayload map[string]any) tools.DelegateFunc {
	return func(ctx context.Context, childRunID, description, repo, branch string) (map[string]any, error) {
		logger, err := NewLogger(rt.st, childRunID, childRunID, store.KindEngineer)
		if err != nil {
			return nil, err
		}
		defer logger.Close()

		tb, err := tools.New(tools.Config{
			Kind:     store.KindEngineer,
			Owner:    rt.owner(parentPayload),
			Repos:    []string{repo},
			Branch:   branch,
			RunID:    childRunID,
			TaskID:   childRunID,
			Host:     rt.host,
			Store:    rt.st,
			Settings: rt.settings,
			Memory:   rt.memory,
		})
		if err != nil {
			return nil, err
		}

		provider, model, err := rt.resolveProvider(parentPayload)
		if err != nil {
			return nil, err
		}

		exec := NewExecutor(ExecutorConfig{
			Kind:          store.KindEngineer,
			RunID:         childRunID,
			Provider:      provider,
			Toolbox:       tb,
			Logger:        logger,
			Repos:         []string{repo},
			Model:         model,
			MaxTokens:     rt.cfg.Agents.MaxTokens,
			Temperature:   rt.temperature(),
			MaxIterations: rt.cfg.Agents.MaxIterations,
			MaxCallStack:  rt.cfg.Agents.MaxCallStack,
		})

		result, err := exec.Run(ctx, description)
		if err != nil {
			return nil, err
		}
		return result.FinalOutput, nil
	}
}

// recordChildRun appends a delegated child's run id to the parent payload.
func (rt *Runtime) recordChildRun(runID, childRunID string) {
	payload, err := rt.st.GetActiveTask(runID)
	if err != nil {
		slog.Warn("could not load parent for child run record", "run_id", runID, "error", err)
		return
	}
	children := payload[store.KeyChildRunIDs]
	list, _ := children.([]any)
	payload[store.KeyChildRunIDs] = append(list, childRunID)
	payload[store.KeyUpdatedAt] = store.Now()
	if err := rt.st.UpdateActiveTask(runID, payload); err != nil {
		slog.Warn("could not record child run id", "run_id", runID, "error", err)
	}
}

// describeSiblings renders the sibling sub-task agents for prompt
// injection. Siblings come from the parent planner's pre-allocated ids,
// carried on this payload at spawn time.
func (rt *Runtime) describeSiblings(runID string, payload map[string]any) string {
	siblings := store.PayloadStrings(payload, store.KeySiblingSubtaskIDs)
	if len(siblings) == 0 {
		return ""
	}

	var b strings.Builder
	for _, id := range siblings {
		if id == runID {
			continue
		}
		sp, err := rt.st.GetActiveTask(id)
		if err != nil {
			fmt.Fprintf(&b, "- %s (not yet started)\n", id)
			continue
		}
		fmt.Fprintf(&b, "- %s [%s, %s]: %s\n",
			id,
			store.PayloadString(sp, store.KeyAgentKind),
			store.PayloadString(sp, store.KeyStatus),
			firstLine(store.PayloadString(sp, store.KeyDescription)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// resolveProvider picks the provider and model for a payload, falling back
// to configured defaults.
func (rt *Runtime) resolveProvider(payload map[string]any) (providers.Provider, string, error) {
	name := store.PayloadString(payload, store.KeyModelProvider)
	if name == "" {
		name = rt.cfg.Agents.DefaultProvider
	}
	model := store.PayloadString(payload, store.KeyModelName)
	if model == "" {
		model = rt.cfg.Agents.DefaultModel
	}

	provider, err := providers.Resolve(rt.cfg, name, model)
	if err != nil {
		return nil, "", err
	}
	if model == "" {
		model = provider.DefaultModel()
	}
	return provider, model, nil
}

func (rt *Runtime) owner(payload map[string]any) string {
	if owner := store.PayloadString(payload, store.KeyOwner); owner != "" {
		return owner
	}
	if pairs := rt.cfg.ConnectedRepos(); len(pairs) > 0 {
		return pairs[0][0]
	}
	return ""
}

func (rt *Runtime) temperature() *float64 {
	t := rt.cfg.Agents.Temperature
	if t <= 0 {
		return nil
	}
	return &t
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
