package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cairnhq/cairn/internal/githost"
	"github.com/cairnhq/cairn/internal/providers"
	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/internal/tools"
)

type executorFixture struct {
	st       *store.Store
	host     *githost.FakeClient
	provider *providers.FakeProvider
	exec     *Executor
}

func newExecutorFixture(t *testing.T, kind string, files map[string]string) *executorFixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runID := "task_100"
	payload := store.NewWorkerPayload(kind, "do the thing", "acme", "demo", "feat-1", "", "")
	if err := st.AddActiveTask(runID, payload); err != nil {
		t.Fatalf("add task: %v", err)
	}

	host := githost.NewFakeClient("main", files)

	tbCfg := tools.Config{
		Kind:   kind,
		Owner:  "acme",
		Repos:  []string{"demo"},
		Branch: "feat-1",
		RunID:  runID,
		TaskID: runID,
		Host:   host,
		Store:  st,
	}
	if kind == store.KindManager {
		tbCfg.Delegate = func(_ context.Context, _, _, _, _ string) (map[string]any, error) {
			return map[string]any{
				"summary_of_changes":  "delegated work done",
				"files_modified":      []any{"main.go"},
				"verification_status": true,
			}, nil
		}
	}
	tb, err := tools.New(tbCfg)
	if err != nil {
		t.Fatalf("toolbox: %v", err)
	}

	logger, err := NewLogger(st, runID, runID, kind)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	provider := providers.NewFakeProvider("")
	exec := NewExecutor(ExecutorConfig{
		Kind:     kind,
		RunID:    runID,
		Provider: provider,
		Toolbox:  tb,
		Logger:   logger,
		Repos:    []string{"demo"},
		Model:    provider.DefaultModel(),
	})
	return &executorFixture{st: st, host: host, provider: provider, exec: exec}
}

func TestExecutorReadThenFinish(t *testing.T) {
	fx := newExecutorFixture(t, store.KindEngineer, map[string]string{"README.md": "hello world"})

	fx.provider.PushToolCall("read_file", map[string]any{"file_path": "README.md"})
	fx.provider.PushToolCall("generate_output", map[string]any{
		"summary_of_changes":  "read only, nothing to change",
		"files_modified":      []any{},
		"verification_status": true,
	})

	result, err := fx.exec.Run(context.Background(), "inspect the readme")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.FinalOutput == nil {
		t.Fatal("no final output")
	}
	if result.FinalOutput["summary_of_changes"] != "read only, nothing to change" {
		t.Fatalf("final output = %v", result.FinalOutput)
	}
	if result.FinalOutput[tools.FieldEndTask] != true {
		t.Fatal("end_task not set on final output")
	}

	// Two tool executions, both recorded.
	if len(result.ToolOutputs) != 2 {
		t.Fatalf("tool outputs = %d, want 2", len(result.ToolOutputs))
	}
	if result.ToolOutputs[0].ToolName != "read_file" || result.ToolOutputs[0].IsError {
		t.Fatalf("first tool output: %+v", result.ToolOutputs[0])
	}
	if !strings.Contains(result.ToolOutputs[0].Output, "hello world") {
		t.Fatalf("read_file output = %q", result.ToolOutputs[0].Output)
	}

	if fx.provider.Remaining() != 0 {
		t.Fatalf("unconsumed provider responses: %d", fx.provider.Remaining())
	}

	// Engineer branch is ensured on authentication.
	found := false
	for _, b := range fx.host.CreatedBranches {
		if b == "feat-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("branch not created: %v", fx.host.CreatedBranches)
	}
}

func TestExecutorToolErrorContinues(t *testing.T) {
	fx := newExecutorFixture(t, store.KindEngineer, map[string]string{"README.md": "hello"})

	fx.provider.PushToolCall("read_file", map[string]any{"file_path": "missing.go"})
	fx.provider.PushToolCall("generate_output", map[string]any{
		"summary_of_changes":  "file was missing",
		"files_modified":      []any{},
		"verification_status": false,
	})

	result, err := fx.exec.Run(context.Background(), "read a missing file")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.ToolOutputs) != 2 {
		t.Fatalf("tool outputs = %d, want 2", len(result.ToolOutputs))
	}
	if !result.ToolOutputs[0].IsError {
		t.Fatal("missing file read should be an error tool result")
	}
}

func TestExecutorUnknownToolIsError(t *testing.T) {
	fx := newExecutorFixture(t, store.KindEngineer, nil)

	fx.provider.PushToolCall("no_such_tool", map[string]any{})
	fx.provider.PushToolCall("generate_output", map[string]any{
		"summary_of_changes":  "done",
		"files_modified":      []any{},
		"verification_status": true,
	})

	result, err := fx.exec.Run(context.Background(), "call an unknown tool")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.ToolOutputs[0].IsError {
		t.Fatal("unknown tool should produce an error result")
	}
}

func TestExecutorIterationExhaustion(t *testing.T) {
	fx := newExecutorFixture(t, store.KindEngineer, nil)
	fx.exec.maxIterations = 3
	for i := 0; i < 3; i++ {
		fx.provider.PushText("still thinking")
	}

	_, err := fx.exec.Run(context.Background(), "never finishes")
	if err == nil || !strings.Contains(err.Error(), "no terminal output") {
		t.Fatalf("err = %v, want iteration exhaustion", err)
	}
}

func TestExecutorRepoMemoryTag(t *testing.T) {
	dir := t.TempDir()
	memory, err := tools.OpenMemory(dir, []string{"demo"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}

	fx := newExecutorFixture(t, store.KindEngineer, nil)
	fx.exec.toolbox = rebuildWithMemory(t, fx, memory)

	fx.provider.PushResponse(&providers.Response{
		Text: "<analysis>noting things</analysis><repo_memory>uses make for builds</repo_memory>",
		ToolCalls: []providers.ToolCall{{
			ID: providers.NewToolUseID(), Name: "generate_output",
			Input: map[string]any{
				"summary_of_changes":  "noted",
				"files_modified":      []any{},
				"verification_status": true,
			},
		}},
	})

	if _, err := fx.exec.Run(context.Background(), "remember something"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := memory.Get("demo"); got != "uses make for builds" {
		t.Fatalf("repo memory = %q", got)
	}
}

func rebuildWithMemory(t *testing.T, fx *executorFixture, memory *tools.MemoryStore) *tools.Toolbox {
	t.Helper()
	tb, err := tools.New(tools.Config{
		Kind:   store.KindEngineer,
		Owner:  "acme",
		Repos:  []string{"demo"},
		Branch: "feat-1",
		RunID:  "task_100",
		TaskID: "task_100",
		Host:   fx.host,
		Store:  fx.st,
		Memory: memory,
	})
	if err != nil {
		t.Fatalf("toolbox: %v", err)
	}
	return tb
}

func TestExecutorManagerDelegatesAndOpensPR(t *testing.T) {
	fx := newExecutorFixture(t, store.KindManager, map[string]string{"main.go": "package main"})

	fx.provider.PushToolCall("delegate_task", map[string]any{
		"task_description": "rename the helper",
	})
	fx.provider.PushToolCall("generate_output", map[string]any{
		"pull_request_message": "Rename helper for clarity\n\nThe helper now matches its behavior.",
		"recommendations":      []any{},
		"issues_encountered":   []any{},
	})

	result, err := fx.exec.Run(context.Background(), "get the helper renamed")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(result.ToolOutputs[0].Output, "delegated work done") {
		t.Fatalf("delegate output = %q", result.ToolOutputs[0].Output)
	}
	titles := fx.host.PRTitles()
	if len(titles) != 1 || titles[0] != "Rename helper for clarity" {
		t.Fatalf("PR titles = %v", titles)
	}
	if _, ok := result.FinalOutput[tools.FieldPRURL]; !ok {
		t.Fatal("pr_url missing from final output")
	}

	// The delegated child task row is terminal.
	rows, err := fx.st.ListActiveTasks()
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	childSeen := false
	for _, row := range rows {
		if strings.HasPrefix(row.TaskID, "swe_") {
			childSeen = true
			if got := store.PayloadString(row.Payload, store.KeyStatus); got != store.StatusCompleted {
				t.Fatalf("child status = %q, want Completed", got)
			}
		}
	}
	if !childSeen {
		t.Fatal("no delegated child task row")
	}
}

func TestExecutorServerToolResultLookup(t *testing.T) {
	fx := newExecutorFixture(t, store.KindEngineer, nil)

	searchID := providers.NewToolUseID()
	fx.provider.PushResponse(&providers.Response{
		Text: "searching",
		ToolCalls: []providers.ToolCall{{
			ID: searchID, Name: "web_search",
			Input:          map[string]any{"query": "golang sqlite wal"},
			ServerExecuted: true,
		}},
		ToolResults: map[string]providers.ToolResult{
			searchID: {ToolUseID: searchID, Content: "three results about WAL mode"},
		},
	})
	fx.provider.PushToolCall("generate_output", map[string]any{
		"summary_of_changes":  "research complete",
		"files_modified":      []any{},
		"verification_status": true,
	})

	result, err := fx.exec.Run(context.Background(), "research WAL mode")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ToolOutputs[0].Output != "three results about WAL mode" {
		t.Fatalf("server tool output = %q", result.ToolOutputs[0].Output)
	}
	if result.ToolOutputs[0].IsError {
		t.Fatal("server tool result marked as error")
	}
}

func TestExecutorMissingServerResultIsError(t *testing.T) {
	fx := newExecutorFixture(t, store.KindEngineer, nil)

	fx.provider.PushResponse(&providers.Response{
		ToolCalls: []providers.ToolCall{{
			ID: providers.NewToolUseID(), Name: "web_search",
			Input:          map[string]any{"query": "anything"},
			ServerExecuted: true,
		}},
	})
	fx.provider.PushToolCall("generate_output", map[string]any{
		"summary_of_changes":  "gave up on search",
		"files_modified":      []any{},
		"verification_status": false,
	})

	result, err := fx.exec.Run(context.Background(), "search")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.ToolOutputs[0].IsError {
		t.Fatal("missing server result should be an error")
	}
}

func TestExecutorProgressLogPersisted(t *testing.T) {
	fx := newExecutorFixture(t, store.KindEngineer, nil)

	fx.provider.PushToolCall("generate_output", map[string]any{
		"summary_of_changes":  "quick finish",
		"files_modified":      []any{},
		"verification_status": true,
	})
	if _, err := fx.exec.Run(context.Background(), "finish fast"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	logData, err := fx.st.LoadLog("task_100", store.KindEngineer)
	if err != nil {
		t.Fatalf("LoadLog: %v", err)
	}
	progress, _ := logData["progress"].([]any)
	// system, user, assistant, tool results: at least 4 entries.
	if len(progress) < 4 {
		t.Fatalf("progress entries = %d, want >= 4", len(progress))
	}
}
