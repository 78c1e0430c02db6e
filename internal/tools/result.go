package tools

// Result is the unified return type from tool execution. ForLLM is the
// content encoded into the tool_result block; IsError marks a failure the
// model is expected to adapt to rather than a fatal condition.
type Result struct {
	ForLLM  string `json:"for_llm"`
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"` // internal error (not serialized)

	// EndTask marks a terminal generate_output result; the executor halts
	// once it sees this in a recent tool result.
	EndTask bool `json:"end_task,omitempty"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
