package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cairnhq/cairn/internal/providers"
)

// Handler executes one tool call with its validated input.
type Handler func(ctx context.Context, input map[string]any) *Result

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler

	compiled *jsonschema.Schema
}

// Registry is an ordered, name-keyed tool set. Order matters: the list is
// presented to the model as given, and the batch tool is conventionally
// registered last.
type Registry struct {
	order  []string
	byName map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Definition)}
}

// Register adds a tool, compiling its input schema. Registering a
// duplicate name or an invalid schema is a programming error.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("register tool %s: already registered", def.Name)
	}

	if def.InputSchema != nil {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", def.InputSchema); err != nil {
			return fmt.Errorf("tool %s: add schema: %w", def.Name, err)
		}
		schema, err := compiler.Compile("schema.json")
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", def.Name, err)
		}
		def.compiled = schema
	}

	r.order = append(r.order, def.Name)
	r.byName[def.Name] = def
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (*Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns provider-facing descriptors in registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	out := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		def := r.byName[name]
		out = append(out, providers.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return out
}

// Dispatch validates input against the tool's schema and runs the handler.
// Schema violations and handler panics become error results the model can
// adapt to; they never abort the loop.
func (r *Registry) Dispatch(ctx context.Context, name string, input map[string]any) (res *Result) {
	def, ok := r.byName[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if def.compiled != nil {
		if err := def.compiled.Validate(normalizeForValidation(input)); err != nil {
			return ErrorResult(fmt.Sprintf("invalid input for %s: %v", name, err))
		}
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool panicked", "tool", name, "panic", p)
			res = ErrorResult(fmt.Sprintf("tool %s failed: %v", name, p))
		}
	}()
	return def.Handler(ctx, input)
}

// normalizeForValidation converts the input to the plain-interface shape
// the schema validator expects. Inputs decoded from JSON already are; this
// keeps hand-built test inputs working too.
func normalizeForValidation(input map[string]any) any {
	if input == nil {
		return map[string]any{}
	}
	return input
}
