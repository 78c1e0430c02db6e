package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

type batchDepthKey struct{}

// maxBatchDepth stops batch-in-batch recursion: a batch may invoke other
// tools through the same dispatcher, but a nested batch may not contain
// another batch.
const maxBatchDepth = 1

func batchDepth(ctx context.Context) int {
	d, _ := ctx.Value(batchDepthKey{}).(int)
	return d
}

// batchTool invokes several tools in sequence through the dispatcher.
// Per-child errors are captured in that child's result entry; the batch
// itself only fails on malformed input or excessive nesting.
func (tb *Toolbox) batchTool() *Definition {
	return &Definition{
		Name: "batch_tool",
		Description: "Invoke several tools in one call. Each entry names a tool and its arguments; " +
			"results are returned in the same order.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tool_calls": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name": map[string]any{"type": "string"},
							"args": map[string]any{"type": "object"},
						},
						"required": []any{"name"},
					},
				},
			},
			"required": []any{"tool_calls"},
		},
		Handler: func(ctx context.Context, input map[string]any) *Result {
			rawCalls, _ := input["tool_calls"].([]any)
			if len(rawCalls) == 0 {
				return ErrorResult("tool_calls list is empty")
			}

			depth := batchDepth(ctx)
			if depth >= maxBatchDepth {
				return ErrorResult("batch_tool may not be nested inside another batch_tool")
			}
			ctx = context.WithValue(ctx, batchDepthKey{}, depth+1)

			results := make([]map[string]any, 0, len(rawCalls))
			for i, raw := range rawCalls {
				call, ok := raw.(map[string]any)
				if !ok {
					results = append(results, map[string]any{
						"tool_name": fmt.Sprintf("entry %d", i),
						"result":    "malformed batch entry",
						"is_error":  true,
					})
					continue
				}
				name := inputString(call, "name")
				args, _ := call["args"].(map[string]any)

				res := tb.registry.Dispatch(ctx, name, args)
				results = append(results, map[string]any{
					"tool_name": name,
					"tool_args": args,
					"result":    res.ForLLM,
					"is_error":  res.IsError,
				})
			}

			data, err := json.Marshal(results)
			if err != nil {
				return ErrorResult(fmt.Sprintf("encode batch results: %v", err)).WithError(err)
			}
			return NewResult(string(data))
		},
	}
}
