package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cairnhq/cairn/internal/providers"
	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/internal/tools"
	"github.com/cairnhq/cairn/internal/tracing"
)

// State is the executor's position in its two-state loop.
type State string

const (
	StatePlanning       State = "planning"
	StateExecutingTools State = "executing_tools"
	StateDone           State = "done"
)

// terminationWindow is how many trailing messages the end_task scan
// inspects.
const terminationWindow = 5

// defaultMaxIterations bounds the loop when the config does not.
const defaultMaxIterations = 40

// ToolOutput records one executed tool call.
type ToolOutput struct {
	ToolName  string         `json:"tool_name"`
	ToolID    string         `json:"tool_id"`
	Input     map[string]any `json:"tool_input"`
	Output    string         `json:"tool_output"`
	IsError   bool           `json:"is_error"`
	Timestamp string         `json:"timestamp"`
}

// Executor drives the bounded planner/executor loop for one run: build
// messages, call the LLM, dispatch tool calls, aggregate results, detect
// end-of-task. Single-threaded; suspension happens only at LLM calls and
// tool handlers.
type Executor struct {
	kind     string
	runID    string
	provider providers.Provider
	toolbox  *tools.Toolbox
	logger   *Logger
	repos    []string

	model         string
	maxTokens     int
	temperature   *float64
	maxIterations int
	maxCallStack  int
	retry         providers.RetryPolicy

	messages          []providers.Message
	pendingToolCalls  []providers.ToolCall
	serverToolResults map[string]providers.ToolResult
	toolOutputs       []ToolOutput
}

// ExecutorConfig assembles an Executor.
type ExecutorConfig struct {
	Kind     string
	RunID    string
	Provider providers.Provider
	Toolbox  *tools.Toolbox
	Logger   *Logger
	Repos    []string

	Model         string
	MaxTokens     int
	Temperature   *float64
	MaxIterations int
	MaxCallStack  int
	Retry         providers.RetryPolicy
}

// RunResult is what a finished loop hands back to the wrapper.
type RunResult struct {
	Messages    []providers.Message
	ToolOutputs []ToolOutput
	FinalOutput map[string]any
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxCallStack <= 0 {
		cfg.MaxCallStack = defaultMaxCallStack
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = providers.DefaultRetryPolicy()
	}
	return &Executor{
		kind:              cfg.Kind,
		runID:             cfg.RunID,
		provider:          cfg.Provider,
		toolbox:           cfg.Toolbox,
		logger:            cfg.Logger,
		repos:             cfg.Repos,
		model:             cfg.Model,
		maxTokens:         cfg.MaxTokens,
		temperature:       cfg.Temperature,
		maxIterations:     cfg.MaxIterations,
		maxCallStack:      cfg.MaxCallStack,
		retry:             cfg.Retry,
		serverToolResults: make(map[string]providers.ToolResult),
	}
}

// Run executes the loop until termination, iteration exhaustion, or a
// fatal provider error.
func (e *Executor) Run(ctx context.Context, userInput string) (*RunResult, error) {
	e.messages = []providers.Message{
		{Role: providers.RoleSystem, Content: systemPrompt(e.kind, e.toolbox, e.repos)},
		{Role: providers.RoleUser, Content: userInput},
	}
	e.logger.LogMessage(providers.RoleSystem, e.messages[0].Content)
	e.logger.LogMessage(providers.RoleUser, userInput)

	if err := e.toolbox.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("toolbox auth: %w", err)
	}

	state := StatePlanning
	for iteration := 0; iteration < e.maxIterations && state != StateDone; iteration++ {
		var err error
		switch state {
		case StatePlanning:
			state, err = e.planStep(ctx, iteration)
		case StateExecutingTools:
			state, err = e.toolStep(ctx, iteration)
		}
		if err != nil {
			return nil, err
		}
	}

	if state != StateDone {
		return nil, fmt.Errorf("run %s: no terminal output after %d iterations", e.runID, e.maxIterations)
	}

	if err := e.logger.Flush(); err != nil {
		slog.Warn("final log flush failed", "run_id", e.runID, "error", err)
	}
	return &RunResult{
		Messages:    e.messages,
		ToolOutputs: e.toolOutputs,
		FinalOutput: e.toolbox.LastOutput(),
	}, nil
}

// planStep makes one LLM call and folds the response into the history.
func (e *Executor) planStep(ctx context.Context, iteration int) (State, error) {
	// Regenerate the system prompt so settings edits, repo switches, and
	// fresh repo memory land on this turn.
	e.messages[0] = providers.Message{
		Role:    providers.RoleSystem,
		Content: systemPrompt(e.kind, e.toolbox, e.repos),
	}

	req := providers.Request{
		Model:       e.model,
		Messages:    truncateForLLM(e.messages, e.maxCallStack),
		Tools:       e.toolbox.Registry().Definitions(),
		ServerTools: e.toolbox.ServerTools(),
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	}

	ctx, span := tracing.Tracer().Start(ctx, "agent.llm_call")
	span.SetAttributes(
		attribute.String("run_id", e.runID),
		attribute.Int("iteration", iteration),
		attribute.String("provider", e.provider.Name()),
	)
	resp, err := providers.InvokeWithRetry(ctx, e.provider, req, e.retry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		span.End()
		return StateDone, fmt.Errorf("llm call (iteration %d): %w", iteration, err)
	}
	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("tokens.total", resp.Usage.TotalTokens))
	}
	span.End()

	e.handleResponseText(resp.Text)

	assistant := providers.Message{
		Role:      providers.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	}
	e.messages = append(e.messages, assistant)
	e.logger.LogMessage(providers.RoleAssistant, assistantLogContent(assistant))

	for id, tr := range resp.ToolResults {
		e.serverToolResults[id] = tr
	}

	if resp.HasToolCalls() {
		e.pendingToolCalls = resp.ToolCalls
		return StateExecutingTools, nil
	}
	if e.taskComplete() {
		return StateDone, nil
	}
	return StatePlanning, nil
}

// handleResponseText extracts <analysis> and <repo_memory> regions from
// the assistant text.
func (e *Executor) handleResponseText(text string) {
	if thought, ok := ExtractTag(text, "analysis"); ok {
		slog.Debug("agent thought", "run_id", e.runID, "thought", thought)
	}
	if memory, ok := ExtractTag(text, "repo_memory"); ok {
		if err := e.toolbox.UpdateRepoMemory(memory); err != nil {
			slog.Warn("repo memory update failed", "run_id", e.runID, "error", err)
		}
	}
}

// toolStep executes the pending tool calls in order of appearance and
// appends one aggregated tool-result user message.
func (e *Executor) toolStep(ctx context.Context, iteration int) (State, error) {
	results := make([]providers.ToolResult, 0, len(e.pendingToolCalls))

	for _, call := range e.pendingToolCalls {
		var result providers.ToolResult

		if call.ServerExecuted {
			if tr, ok := e.serverToolResults[call.ID]; ok {
				result = tr
			} else {
				result = providers.ToolResult{
					ToolUseID: call.ID,
					Content:   fmt.Sprintf("no server-side result recorded for tool %s", call.Name),
					IsError:   true,
				}
			}
		} else {
			result = e.dispatchOne(ctx, iteration, call)
		}

		results = append(results, result)
		e.toolOutputs = append(e.toolOutputs, ToolOutput{
			ToolName:  call.Name,
			ToolID:    call.ID,
			Input:     call.Input,
			Output:    result.Content,
			IsError:   result.IsError,
			Timestamp: store.Now(),
		})
	}

	msg := providers.Message{Role: providers.RoleUser, ToolResults: results}
	e.messages = append(e.messages, msg)
	e.logger.LogMessage(providers.RoleUser, toolResultsLogContent(results))
	e.pendingToolCalls = nil

	if e.taskComplete() {
		return StateDone, nil
	}
	return StatePlanning, nil
}

// dispatchOne runs one client tool. Errors become error tool_results; the
// loop always continues.
func (e *Executor) dispatchOne(ctx context.Context, iteration int, call providers.ToolCall) providers.ToolResult {
	ctx, span := tracing.Tracer().Start(ctx, "agent.tool_call")
	span.SetAttributes(
		attribute.String("run_id", e.runID),
		attribute.Int("iteration", iteration),
		attribute.String("tool", call.Name),
	)
	defer span.End()

	res := e.toolbox.Dispatch(ctx, call.Name, call.Input)
	if res.IsError {
		span.SetStatus(codes.Error, "tool error")
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		slog.Warn("tool returned error", "run_id", e.runID, "tool", call.Name, "result", res.ForLLM)
	}
	return providers.ToolResult{
		ToolUseID: call.ID,
		Content:   res.ForLLM,
		IsError:   res.IsError,
	}
}

// taskComplete scans the trailing messages for a tool result whose JSON
// payload carries end_task=true.
func (e *Executor) taskComplete() bool {
	start := len(e.messages) - terminationWindow
	if start < 0 {
		start = 0
	}
	for i := len(e.messages) - 1; i >= start; i-- {
		msg := e.messages[i]
		if msg.Role != providers.RoleUser {
			continue
		}
		for _, tr := range msg.ToolResults {
			var payload map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &payload); err != nil {
				continue
			}
			if end, ok := payload[tools.FieldEndTask].(bool); ok && end {
				return true
			}
		}
	}
	return false
}

// assistantLogContent shapes an assistant message for the progress log.
func assistantLogContent(msg providers.Message) any {
	if len(msg.ToolCalls) == 0 {
		return msg.Content
	}
	blocks := []any{}
	if msg.Content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		blockType := "tool_use"
		if tc.ServerExecuted {
			blockType = "server_tool_use"
		}
		blocks = append(blocks, map[string]any{
			"type":  blockType,
			"id":    tc.ID,
			"name":  tc.Name,
			"input": tc.Input,
		})
	}
	return blocks
}

// toolResultsLogContent shapes an aggregated tool-result message for the
// progress log.
func toolResultsLogContent(results []providers.ToolResult) any {
	blocks := make([]any, 0, len(results))
	for _, tr := range results {
		block := map[string]any{
			"type":        "tool_result",
			"tool_use_id": tr.ToolUseID,
			"content":     tr.Content,
		}
		if tr.IsError {
			block["is_error"] = true
		}
		blocks = append(blocks, block)
	}
	return blocks
}
