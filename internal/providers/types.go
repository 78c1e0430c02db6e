// Package providers normalizes LLM provider wire formats into one common
// request/response surface. The agent executor never branches on provider.
package providers

import "context"

// Provider is the common adapter interface. Invoke sends one conversation
// turn and returns the normalized response.
type Provider interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	Name() string
	DefaultModel() string
}

// Message is one conversation entry. Assistant messages may carry tool
// calls; user messages may instead carry tool results (the aggregated
// outputs of the previous assistant turn's calls). The first message of a
// run is always role "system".
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is one tool invocation requested by the model. ServerExecuted
// marks tools the provider ran itself; their results arrive in the same
// response rather than from the local dispatcher.
type ToolCall struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Input          map[string]any `json:"input"`
	ServerExecuted bool           `json:"server_executed,omitempty"`
}

// ToolResult is the outcome of one tool call, addressed by the id of the
// call it answers.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ToolDefinition describes one client tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is the provider-independent call payload. The system prompt
// travels as a leading role=system message; each adapter moves it to
// wherever its wire format wants it.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	ServerTools []map[string]any // provider-executed tool declarations, passed through verbatim
	ToolChoice  map[string]any
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	TopK        *int
}

// Response is the normalized provider response: flattened text, the tool
// calls to dispatch, and any server-executed tool results keyed by the id
// of the call they answer.
type Response struct {
	Text        string
	ToolCalls   []ToolCall
	ToolResults map[string]ToolResult
	StatusCode  int
	Usage       *Usage
}

// HasToolCalls reports whether the model requested any tool execution.
func (r *Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

const defaultMaxTokens = 4096
