// Package tools provides the tool framework and the workspace inspection
// tools the model may invoke mid-turn.
package tools

import (
	"context"
	"fmt"

	"github.com/unrcom/llamune-chat/internal/provider"
)

// Tool is the interface all tools must implement. Tools are read-only and
// usable only when the conversation carries a workspace root.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the model.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool against the given workspace root.
	// Failures are returned as "Error: ..." result strings, not Go errors:
	// they are recoverable context for the model, not turn failures.
	Execute(ctx context.Context, root string, params map[string]any) string
}

// Registry manages tool registration and execution.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry with the default workspace tools.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.Register(&ListFilesTool{})
	r.Register(&ListDirTool{})
	r.Register(&ReadFileTool{})
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	if _, ok := r.tools[tool.Name()]; !ok {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns the tool schemas in the wire format the stream client
// passes alongside the message list. Order is registration order so the
// declaration sent to the backend is stable.
func (r *Registry) Definitions() []provider.ToolDefinition {
	result := make([]provider.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		result = append(result, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return result
}

// Execute runs a tool by name against a workspace root. Unknown tools
// produce a textual error result like any other tool failure.
func (r *Registry) Execute(ctx context.Context, root, name string, params map[string]any) string {
	tool, ok := r.tools[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool: %s", name)
	}
	return tool.Execute(ctx, root, params)
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}
