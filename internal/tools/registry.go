// Package tools implements the request-scoped local tool registry.
//
// Local tools are callables a module hands to the model for the duration of
// one request. Their names carry a reserved prefix so they can never collide
// with tools the client forwarded, and dispatch can tell local execution
// apart from pass-through.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
)

// LocalPrefix marks tool names owned by the registry.
const LocalPrefix = "__tool_"

// Func is a local tool callable. Arguments arrive as the decoded JSON object
// from the model's tool call.
type Func func(ctx context.Context, args map[string]any) (string, error)

// Tool is one registered local tool.
type Tool struct {
	// Name is the resolved, prefixed name used on the wire.
	Name        string
	Description string

	// Parameters is the derived JSON Schema of the arguments object.
	Parameters map[string]any

	fn       Func
	compiled *santhosh.Schema
}

// Registry holds the local tools of a single request. It is created with the
// session and never shared across requests.
type Registry struct {
	mu    sync.Mutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]*Tool{}}
}

// ResolveName applies the reserved prefix unless it is already present.
func ResolveName(name string) string {
	if strings.HasPrefix(name, LocalPrefix) {
		return name
	}
	return LocalPrefix + name
}

// Set registers a callable under the reserved-prefix form of name.
// The args value is a struct prototype the parameter schema is derived from;
// nil registers a tool without arguments. Registering a duplicate name is a
// programmer error and fails.
func (r *Registry) Set(name, description string, args any, fn Func) error {
	resolved := ResolveName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[resolved]; exists {
		return fmt.Errorf("local tool %q already exists", name)
	}

	tool := &Tool{
		Name:        resolved,
		Description: description,
		fn:          fn,
	}
	if args != nil {
		params, compiled, err := deriveSchema(resolved, args)
		if err != nil {
			return fmt.Errorf("derive schema for %q: %w", name, err)
		}
		tool.Parameters = params
		tool.compiled = compiled
	} else {
		tool.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	r.tools[resolved] = tool
	return nil
}

// IsLocal tells whether a tool name belongs to this registry.
func (r *Registry) IsLocal(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[ResolveName(name)]
	return ok
}

// Call invokes a local tool with the given arguments. Unknown names fail;
// arguments are validated against the derived schema first so the model can
// observe a precise error instead of a panic deep in the callable.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.Lock()
	tool, ok := r.tools[ResolveName(name)]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("local tool %q not found", name)
	}

	if tool.compiled != nil {
		if err := tool.compiled.Validate(normalizeForValidation(args)); err != nil {
			return "", fmt.Errorf("invalid arguments for %q: %w", name, err)
		}
	}
	return tool.fn(ctx, args)
}

// Definitions derives OpenAI-compatible tool descriptions for every
// registered callable.
func (r *Registry) Definitions() []openai.Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	// Stable order keeps upstream bodies reproducible.
	sort.Strings(names)

	defs := make([]openai.Tool, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tools)
}

// SchemaFor reflects a struct prototype into an inline JSON Schema object,
// the shape upstream APIs accept for tool parameters and response formats.
func SchemaFor(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)
	schema.Version = "" // upstream APIs reject $schema in tool parameters

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// deriveSchema reflects the argument struct into an inline JSON Schema and
// compiles it for validation.
func deriveSchema(name string, args any) (map[string]any, *santhosh.Schema, error) {
	params, err := SchemaFor(args)
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := santhosh.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, nil, err
	}
	return params, compiled, nil
}

// normalizeForValidation round-trips the args through JSON so numeric types
// match what the validator expects.
func normalizeForValidation(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return args
	}
	return v
}
