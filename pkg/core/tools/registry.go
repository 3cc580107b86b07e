// Package tools declares the functions the model may call and dispatches
// those calls to Go handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"google.golang.org/genai"
)

// Handler runs one tool call. args is the raw JSON object sent by the model.
type Handler func(ctx context.Context, args json.RawMessage) (map[string]any, error)

// Tool is a callable function exposed to the model. Params is a struct value
// whose fields describe the arguments; nil means no arguments.
type Tool struct {
	Name        string
	Description string
	Params      any
	Handler     Handler
}

// Bind adapts a typed handler. Arguments are decoded into T before fn runs.
func Bind[T any](fn func(ctx context.Context, args T) (map[string]any, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		var args T
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
		}
		return fn(ctx, args)
	}
}

type Registry struct {
	byName map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	registry := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" || tool.Handler == nil {
			continue
		}
		tool.Name = name
		registry.byName[name] = tool
	}
	return registry
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the function declarations in name order.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	if r == nil {
		return nil
	}
	out := make([]*genai.FunctionDeclaration, 0, len(r.byName))
	for _, name := range r.Names() {
		tool := r.byName[name]
		out = append(out, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: ParamsSchema(tool.Params),
		})
	}
	return out
}

// GenaiTools wraps the declarations for a model config.
func (r *Registry) GenaiTools() []*genai.Tool {
	decls := r.Declarations()
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// ParamsSchema reflects params into an inline JSON schema object.
func ParamsSchema(params any) any {
	if params == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(params)
	schema.Version = ""
	schema.ID = ""
	return schema
}

// Call runs the named tool. The returned payload is always safe to send back
// to the model; the error reports what went wrong, if anything.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (payload map[string]any, err error) {
	name = strings.TrimSpace(name)
	if r == nil {
		return errorPayload("tool registry is not configured"), fmt.Errorf("tool %q: registry not configured", name)
	}
	tool, ok := r.byName[name]
	if !ok {
		return errorPayload(fmt.Sprintf("unknown tool %q", name)), fmt.Errorf("unknown tool %q", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			payload = errorPayload("tool failed unexpectedly")
			err = fmt.Errorf("tool %q panicked: %v", name, rec)
		}
	}()

	out, err := tool.Handler(ctx, args)
	if err != nil {
		return errorPayload(err.Error()), fmt.Errorf("tool %q: %w", name, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func errorPayload(message string) map[string]any {
	return map[string]any{"error": message}
}
